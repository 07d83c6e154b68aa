package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger logs one structured line per request on the ops router.
func RequestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				attrs := []any{
					slog.Group("request",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", middleware.GetReqID(r.Context())),
					),
					slog.Group("response",
						slog.Int("status", status),
						slog.Int("bytes", ww.BytesWritten()),
						slog.Duration("latency", time.Since(start)),
					),
				}
				if status >= http.StatusInternalServerError {
					logger.Error("request failed", attrs...)
					return
				}
				logger.Debug("request completed", attrs...)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
