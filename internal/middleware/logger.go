package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pandarank/pandarank-api/internal/pkg/logger"
)

// Logger writes one line per request. Health probes go to debug.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		l := logger.FromContext(r.Context())
		var event *zerolog.Event
		switch {
		case rec.status >= http.StatusInternalServerError:
			event = l.Error()
		case rec.status >= http.StatusBadRequest:
			event = l.Warn()
		case isHealthPath(r.URL.Path):
			event = l.Debug()
		default:
			event = l.Info()
		}

		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Str("ip", r.RemoteAddr).
			Msg("HTTP Request")
	})
}

func isHealthPath(path string) bool {
	return path == "/health" || path == "/api/v1/health"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
