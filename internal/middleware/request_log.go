package middleware

import (
	"net/http"
	"time"

	"github.com/chatcore/internal/logger"
)

// RequestLog логирует method, path, статус и время выполнения. Медленные
// запросы идут в info, остальные только при LOG_LEVEL=debug.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := wrap(w)
		start := time.Now()
		next.ServeHTTP(rw, r)
		logger.LogDuration("http "+r.Method+" "+r.URL.Path, start)
		if rw.status >= http.StatusInternalServerError {
			logger.Warnf("http %s %s -> %d", r.Method, r.URL.Path, rw.status)
		}
	})
}
