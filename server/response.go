package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/iedon/reviewhost/change"
)

// xssiPrefix keeps REST JSON from being evaluated as a script.
const xssiPrefix = ")]}'\n"

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// writeREST encodes a REST API response body.
func writeREST(w http.ResponseWriter, status int, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xssiPrefix))
	_, _ = w.Write(raw)
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, message string) {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// restStatus maps change errors onto HTTP status codes.
func restStatus(err error) int {
	switch {
	case errors.Is(err, change.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, change.ErrAuth):
		return http.StatusForbidden
	case errors.Is(err, change.ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, change.ErrLockFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// restMessage exposes only client facing messages; internal failures are
// reported by status text.
func restMessage(err error, status int) string {
	var ce *change.Error
	if errors.As(err, &ce) && status != http.StatusInternalServerError {
		return ce.Message
	}
	return http.StatusText(status)
}
