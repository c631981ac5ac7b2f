// Package respond writes JSON responses.
package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes err with status. Server-side failures are logged and only the
// status text is sent. When details are given they replace err's message.
func Error(w http.ResponseWriter, logger *slog.Logger, status int, err error, details ...string) {
	body := ErrorBody{Error: http.StatusText(status)}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.Int("status", status), slog.Any("error", err))
		JSON(w, status, body)
		return
	}

	if len(details) == 0 {
		details = []string{err.Error()}
	}
	body.Details = details
	JSON(w, status, body)
}
