// Package persona provides the system prompt prepended to every completion
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

//go:embed default.txt
var defaultPrompt string

// ErrEmptyPrompt is returned when a persona file contains only whitespace
var ErrEmptyPrompt = errors.New("persona prompt is empty")

// Default returns the built-in persona prompt
func Default() string {
	return defaultPrompt
}

// Load reads the persona prompt from path on fs.
// An empty path selects the built-in prompt.
func Load(fs afero.Fs, path string) (string, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", fmt.Errorf("reading persona file: %w", err)
	}

	prompt := string(data)
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyPrompt)
	}
	return prompt, nil
}
