package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloud-shuttle/personachat/internal/chat"
	"github.com/cloud-shuttle/personachat/internal/completion"
	"github.com/cloud-shuttle/personachat/pkg/types"
)

const (
	msgMessageRequired = "Message is required"
	msgInvalidBody     = "Invalid JSON body"
	msgRateLimited     = "Too many requests. Please try again later."
	msgInternal        = "An error occurred while processing your request."
)

// statusFor maps an exchange error to the HTTP status and the message shown
// to the client. Provider details never reach the client.
func statusFor(err error, provider completion.ProviderType) (int, string) {
	name := provider.DisplayName()

	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, msgMessageRequired
	case errors.Is(err, chat.ErrNotConfigured):
		return http.StatusInternalServerError, fmt.Sprintf("%s API key not configured", name)
	}

	switch completion.KindOf(err) {
	case completion.KindQuotaExceeded:
		return http.StatusTooManyRequests, fmt.Sprintf("%s API quota exceeded. Please try again later.", name)
	case completion.KindInvalidCredential:
		return http.StatusUnauthorized, fmt.Sprintf("Invalid %s API key configured.", name)
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeJSON sends v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: message})
}
