package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter applies a token-bucket limit per client address. Wallet
// operations all cost the same; the facilitator and RPC carry the real
// rate-sensitive load, so the bucket only needs to keep one misbehaving
// client from monopolising the service.
type RateLimiter struct {
	perMinute float64
	burst     int
	log       *slog.Logger

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewRateLimiter constructs a limiter allowing perMinute requests per client
// with the given burst. A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute float64, burst int, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		burst:     burst,
		log:       log,
		visitors:  make(map[string]*rate.Limiter),
	}
}

// Middleware enforces the limit.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !rl.limiterFor(clientKey(r)).Allow() {
				rl.log.Debug("request rate limited", "client", clientKey(r), "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.visitors[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(rl.perMinute/60.0), rl.burst)
		rl.visitors[key] = limiter
	}
	return limiter
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
