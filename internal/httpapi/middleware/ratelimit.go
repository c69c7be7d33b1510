package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const clientTTL = 10 * time.Minute

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// clients keeps one token bucket per remote IP and forgets idle ones.
type clients struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	m     map[string]*client
	swept time.Time
}

func (c *clients) allow(ip string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.swept) > clientTTL {
		for k, v := range c.m {
			if now.Sub(v.seen) > clientTTL {
				delete(c.m, k)
			}
		}
		c.swept = now
	}
	cl := c.m[ip]
	if cl == nil {
		cl = &client{lim: rate.NewLimiter(c.limit, c.burst)}
		c.m[ip] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}

// RateLimit limits each client IP to reqPerMin requests per minute with the
// given burst. reqPerMin <= 0 disables the limit.
// Example: RateLimit(120, 60) => 120 req/min with burst 60
func RateLimit(reqPerMin, burst int) func(http.Handler) http.Handler {
	if reqPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	c := &clients{
		limit: rate.Limit(float64(reqPerMin) / 60.0),
		burst: burst,
		m:     make(map[string]*client),
		swept: time.Now(),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !c.allow(clientIP(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				deny(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP honors X-Forwarded-For when behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
