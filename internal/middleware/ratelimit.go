package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chatcore/internal/apperr"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// keyedLimiter держит token bucket на ключ и забывает простаивающие ключи.
type keyedLimiter struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newKeyedLimiter(rps float64, burst int) *keyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &keyedLimiter{rps: rate.Limit(rps), burst: burst, entries: make(map[string]*limiterEntry)}
}

func (k *keyedLimiter) allow(key string) bool {
	now := time.Now()
	k.mu.Lock()
	if now.Sub(k.lastSweep) > limiterIdleTTL {
		for key, e := range k.entries {
			if now.Sub(e.seen) > limiterIdleTTL {
				delete(k.entries, key)
			}
		}
		k.lastSweep = now
	}
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(k.rps, k.burst)}
		k.entries[key] = e
	}
	e.seen = now
	k.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

// RateLimit ограничивает запросы token bucket'ом по IP и, если он уже в
// контексте, по user_id. rps <= 0 отключает ограничение.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	byIP := newKeyedLimiter(rps, burst)
	byUser := newKeyedLimiter(rps, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				writeAppError(w, apperr.RateLimited())
				return
			}
			if userID := GetUserID(r.Context()); userID != "" && !byUser.allow(userID) {
				writeAppError(w, apperr.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if x := r.Header.Get("X-Real-Ip"); x != "" {
		return x
	}
	if x := r.Header.Get("X-Forwarded-For"); x != "" {
		if i := strings.Index(x, ","); i > 0 {
			return strings.TrimSpace(x[:i])
		}
		return x
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
