package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/chatclient/internal/logger"
)

// RecoverJSON перехватывает панику в handler: логирует стек и отдаёт JSON 500,
// если заголовки ещё не отправлены. http.ErrAbortHandler пробрасывается дальше.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Errorf("panic in %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
			if ww.Status() != 0 {
				return
			}
			ww.Header().Set("Content-Type", "application/json; charset=utf-8")
			ww.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(ww).Encode(map[string]string{"error": "internal error"})
		}()
		next.ServeHTTP(ww, r)
	})
}
