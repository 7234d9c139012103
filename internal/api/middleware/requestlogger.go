package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/harkaudio/hark/internal/logger"
	"github.com/harkaudio/hark/internal/metrics"
)

// RequestLogger logs every request and records HTTP metrics
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(status), elapsed.Seconds())

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("elapsed", elapsed).
				Str("remote_addr", r.RemoteAddr).
				Msg("request")
		})
	}
}
