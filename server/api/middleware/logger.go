package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const accessKey contextKey = "access-note"

// statusRecorder captures the status and size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// accessNote is filled in by middleware running inside the router, where
// the matched route and the authenticated caller are known.
type accessNote struct {
	route  string
	caller *common.Address
}

func noteAccess(r *http.Request, caller *common.Address) {
	note, ok := r.Context().Value(accessKey).(*accessNote)
	if !ok {
		return
	}
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			note.route = tpl
		}
	}
	if caller != nil {
		note.caller = caller
	}
}

// Logger writes one access log line per request. Successful requests to a
// path with one of the quiet prefixes (health checks, scrapes) are logged at debug.
func Logger(log zerolog.Logger, quiet ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			note := &accessNote{}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), accessKey, note)))

			var evt *zerolog.Event
			switch {
			case rec.status >= 500:
				evt = log.Error()
			case rec.status >= 400:
				evt = log.Warn()
			case hasPrefix(r.URL.Path, quiet):
				evt = log.Debug()
			default:
				evt = log.Info()
			}

			if note.route != "" {
				evt = evt.Str("route", note.route)
			}
			if note.caller != nil {
				evt = evt.Str("caller", note.caller.Hex())
			}

			evt.
				Str("request_id", RequestIDFrom(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", rec.status).
				Int64("bytes", rec.bytes).
				Dur("latency", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
