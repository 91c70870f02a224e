package middleware

import (
	"encoding/json"
	"net/http"
	"time"
)

// Problem is the error body every relay endpoint answers with.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Details   any    `json:"details,omitempty"`
}

// WriteProblem writes {"error": Problem} with the given status.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	p := Problem{
		Code:      code,
		Message:   message,
		RequestID: RequestIDFrom(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Details:   details,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]Problem{"error": p})
}
