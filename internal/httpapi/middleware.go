package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// accessLog writes one structured line per request.
func accessLog(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"remote":     r.RemoteAddr,
				"request_id": middleware.GetReqID(r.Context()),
				"dur":        time.Since(start).String(),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request")
				return
			}
			entry.Debug("request")
		})
	}
}
