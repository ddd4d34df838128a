package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jimmy353/event-ticket-mobile-sub000/internal/apiclient"
)

// ErrorResponse is the body of errors the gateway produces itself, as opposed
// to backend errors, which pass through untouched. RequestID is the
// X-Request-Id the backend saw (or would have seen) for the same call.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// respond writes data as a JSON response. Gateway-generated answers are never cached.
func respond(w http.ResponseWriter, r *http.Request, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode gateway response", "path", r.URL.Path, "error", err)
	}
}

// respondError writes an ErrorResponse tagged with the request's ID.
func respondError(w http.ResponseWriter, r *http.Request, message string, status int) {
	respond(w, r, ErrorResponse{
		Error:     message,
		RequestID: r.Header.Get(apiclient.RequestIDHeader),
	}, status)
}
