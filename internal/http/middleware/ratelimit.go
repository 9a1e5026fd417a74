package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tgbot",
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Admin HTTP requests rejected with 429.",
})

func init() {
	prometheus.MustRegister(rateLimited)
}

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(*gin.Context) string

// KeyByTokenOrIP buckets by a short hash of the bearer token, falling back
// to the client IP. The token itself never becomes a map key.
func KeyByTokenOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if tok := bearerToken(c.GetHeader("Authorization")); tok != "" {
			sum := sha256.Sum256([]byte(tok))
			return "token:" + hex.EncodeToString(sum[:6])
		}
		return "ip:" + c.ClientIP()
	}
}

func bearerToken(h string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a keyed token bucket. Idle buckets are evicted every
// sweepEvery calls.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	key   KeyFunc
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
}

const sweepEvery = 1024

// NewRateLimiter builds a limiter allowing rps per key with the given burst
// (at least 1).
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	return &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   max(burst, 1),
		key:     key,
		idle:    10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) limiter(k string) *rate.Limiter {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.calls++; rl.calls >= sweepEvery {
		rl.calls = 0
		rl.evict(now)
	}
	b, ok := rl.buckets[k]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[k] = b
	}
	b.lastSeen = now
	return b.lim
}

// evict drops buckets idle longer than rl.idle. Callers hold rl.mu.
func (rl *RateLimiter) evict(now time.Time) {
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) >= rl.idle {
			delete(rl.buckets, k)
		}
	}
}

// Len reports how many buckets are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// IsRateBypass reports whether IdempotencyValidator exempted the request.
func IsRateBypass(c *gin.Context) bool { return c.GetBool(ctxKeyRateBypass) }

// Handler rejects over-limit requests with 429 and a Retry-After in whole
// seconds. Idempotent replays are never limited.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		r := rl.limiter(rl.key(c)).Reserve()
		if r.OK() && r.Delay() == 0 {
			c.Next()
			return
		}
		wait := time.Second
		if r.OK() {
			wait = r.Delay()
			r.Cancel()
		}
		rateLimited.Inc()
		c.Header("Retry-After", strconv.Itoa(int((wait+time.Second-1)/time.Second)))
		abortJSON(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
	}
}
