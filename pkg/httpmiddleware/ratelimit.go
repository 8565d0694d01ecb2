package httpmiddleware

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the token bucket rate limiter.
type RateLimitConfig struct {
	// Max is the bucket size and the number of requests refilled per Window.
	Max int
	// Window is the refill period of a full bucket.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. Defaults to
	// TokenOrIPKey.
	KeyFunc func(*http.Request) string
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

type rateLimiter struct {
	cfg   RateLimitConfig
	limit rate.Limit

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = TokenOrIPKey
	}
	return &rateLimiter{
		cfg:     cfg,
		limit:   rate.Every(cfg.Window / time.Duration(cfg.Max)),
		buckets: make(map[string]*bucket),
	}
}

// idle is how long an untouched bucket is kept. After one Window a bucket
// is full again, so dropping it changes nothing.
func (rl *rateLimiter) idle() time.Duration {
	return rl.cfg.Window
}

func (rl *rateLimiter) get(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > rl.idle() {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) > rl.idle() {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.cfg.Max)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// allow takes one token for key. It returns the tokens left and, when the
// request is rejected, how long until a token is available.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, retry time.Duration, ok bool) {
	lim := rl.get(key, now)
	tokens := lim.TokensAt(now)
	if !lim.AllowN(now, 1) {
		wait := (1 - tokens) / float64(rl.limit)
		return 0, time.Duration(wait * float64(time.Second)), false
	}
	return max(int(tokens-1), 0), 0, true
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimit limits requests per key. Every response carries
// X-RateLimit-Limit and X-RateLimit-Remaining; rejected requests get 429
// with Retry-After. A non-positive Max or Window disables limiting.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(cfg)
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			remaining, retry, ok := rl.allow(rl.cfg.KeyFunc(r), time.Now())
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Round(time.Millisecond).Seconds()))))
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TokenOrIPKey keys requests by a hash of their bearer token, falling back
// to the client IP for anonymous requests.
func TokenOrIPKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		if tok := strings.TrimSpace(auth[7:]); tok != "" {
			sum := sha256.Sum256([]byte(tok))
			return "tok:" + hex.EncodeToString(sum[:12])
		}
	}
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For address or the remote host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
