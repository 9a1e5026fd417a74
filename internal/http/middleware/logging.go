// Package middleware holds the Gin middleware of the admin HTTP server:
// correlation IDs, access logging with redaction, panic recovery, metrics,
// bearer auth, idempotency keys, rate limiting and security headers.
//
// The router installs them in this order: RequestID, RedactingLogger,
// Recovery, Metrics, IdempotencyValidator, rate limiter, CORS,
// SecurityHeaders, then BearerAuth on the API group.
package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey      = "requestID"
	requestIDHeader   = "X-Request-ID"
	loggerKey         = "logger"
	maxQueryLogLength = 2048
)

// Client-supplied IDs end up in logs; anything else is replaced.
var requestIDRE = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,64}$`)

var panicsRecovered = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "tgbot",
	Subsystem: "http",
	Name:      "panics_recovered_total",
	Help:      "Admin API handler panics turned into 500 responses.",
})

func init() {
	prometheus.MustRegister(panicsRecovered)
}

// RequestID reuses a well-formed X-Request-ID or mints a UUID, stores it in
// the context and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !requestIDRE.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the correlation ID RequestID assigned, or "".
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(requestIDKey)
	return asString(v)
}

// Recovery converts a panic into a JSON 500 carrying the request ID. When the
// handler already wrote a response only the status is forced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			panicsRecovered.Inc()
			LoggerFrom(c).Error().
				Str("panic", fmt.Sprint(rec)).
				Bytes("stack", debug.Stack()).
				Msg("admin api handler panicked")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			abortJSON(c, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger RedactingLogger attached, or
// the global logger when it did not run.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// abortJSON stops the chain with the error body every middleware shares.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to at most max bytes on a rune boundary and appends an
// ellipsis. max <= 0 disables truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
