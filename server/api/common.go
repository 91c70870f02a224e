package api

import (
	"encoding/json"
	"net/http"

	"github.com/compose-network/identity-relay/server/api/middleware"
)

// WriteError answers with a problem body carrying the request id.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	middleware.WriteProblem(w, r, status, code, message, details)
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
