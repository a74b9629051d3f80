// Package main is the entry point for the personachat CLI
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloud-shuttle/personachat/internal/config"
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "personachat",
		Short: "Persona chat assistant backed by a hosted language model",
		Long: `personachat serves a small chat API that answers questions in the voice of a
configured persona. Each conversation keeps its recent turns in memory and sends
them as context with every new message.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		askCmd(),
		personaCmd(),
		transcriptCmd(),
	)
	return rootCmd
}
