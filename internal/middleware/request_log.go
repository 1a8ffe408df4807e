package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chatclient/internal/logger"
)

// RequestLog пишет method, path, статус и длительность каждого запроса inspector.
// Ответы 5xx логируются как ошибки, остальные на уровне debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start).Milliseconds()
		if status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s status=%d bytes=%d duration_ms=%d", r.Method, r.URL.Path, status, ww.BytesWritten(), elapsed)
			return
		}
		logger.Debugf("http %s %s status=%d bytes=%d duration_ms=%d", r.Method, r.URL.Path, status, ww.BytesWritten(), elapsed)
	})
}
