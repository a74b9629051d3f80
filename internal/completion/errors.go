package completion

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoChoices is returned when the API answers without any candidate
var ErrNoChoices = errors.New("completion returned no choices")

// Kind classifies a failed completion call
type Kind int

const (
	// KindUpstream is the catch-all for provider and transport failures
	KindUpstream Kind = iota
	// KindQuotaExceeded means the account ran out of quota or was throttled
	KindQuotaExceeded
	// KindInvalidCredential means the provider rejected the API key
	KindInvalidCredential
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInvalidCredential:
		return "invalid_credential"
	default:
		return "upstream_error"
	}
}

// Error is a classified completion failure
type Error struct {
	Kind       Kind
	Provider   ProviderType
	StatusCode int
	Code       string
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion failed (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion failed (%s): %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the provider error
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, KindUpstream when unclassified
func KindOf(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindUpstream
}

// kindFromStatus maps an HTTP status reported by a provider
func kindFromStatus(status int) Kind {
	switch status {
	case http.StatusTooManyRequests:
		return KindQuotaExceeded
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindInvalidCredential
	default:
		return KindUpstream
	}
}
