package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// Recover turns a handler panic into a 500 problem response.
func Recover(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				evt := log.Error().
					Interface("panic", rec).
					Str("request_id", RequestIDFrom(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path)
				if caller, ok := CallerFrom(r.Context()); ok {
					evt = evt.Str("caller", caller.Hex())
				}
				evt.Bytes("stack", debug.Stack()).Msg("Handler panicked")

				WriteProblem(w, r, http.StatusInternalServerError, "internal", "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
