package api

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/mux"
)

// LoggingMiddleware logs method, path, status and
// duration of every request at debug level.
func LoggingMiddleware(logger log.Logger) mux.MiddlewareFunc {

	return func(next http.Handler) http.Handler {

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			m := httpsnoop.CaptureMetrics(next, w, r)

			level.Debug(logger).Log(
				"method", r.Method,
				"path", r.URL.Path,
				"status", m.Code,
				"bytes", m.Written,
				"duration", m.Duration,
			)
		})
	}
}
