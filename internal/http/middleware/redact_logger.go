package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions adds headers whose values are never logged. Authorization,
// Cookie and Set-Cookie are always masked.
type RedactOptions struct {
	MaskHeaders []string
}

// Bot tokens first: their digits would otherwise match as a phone number.
var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\b\d{6,12}:[A-Za-z0-9_\-]{30,}`), "[REDACTED:bot_token]"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`), "[REDACTED:id]"},
	{regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`), "[REDACTED:email]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`), "[REDACTED:phone]"},
}

func redact(s string) string {
	for _, r := range redactions {
		if s == "" {
			break
		}
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

// RedactingLogger attaches a request-scoped logger (request_id, method,
// path) for handlers and writes one access line per request once it
// completes. The query string and header values are scrubbed of bot tokens,
// UUIDs, emails and phone numbers; masked headers are dropped to
// "[REDACTED]". Level follows the status: 5xx error, 4xx warn, else info.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{"authorization": {}, "cookie": {}, "set-cookie": {}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := Scope(c)

		lg := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &lg)

		c.Next()

		status := c.Writer.Status()
		lvl := zerolog.InfoLevel
		switch {
		case status >= 500:
			lvl = zerolog.ErrorLevel
		case status >= 400:
			lvl = zerolog.WarnLevel
		}
		log.WithLevel(lvl).
			Str("request_id", accessRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", truncate(redact(c.Request.URL.RawQuery), maxQueryLogLength)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Dict("headers", headerDict(c.Request.Header, masked)).
			Msg("admin_http_request")
	}
}

// accessRequestID prefers the echoed response header, then the context, then
// whatever the client sent.
func accessRequestID(c *gin.Context) string {
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	if rid := RequestIDFrom(c); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}

func headerDict(h map[string][]string, masked map[string]struct{}) *zerolog.Event {
	d := zerolog.Dict()
	for k, vv := range h {
		if _, ok := masked[strings.ToLower(k)]; ok {
			d.Str(k, "[REDACTED]")
			continue
		}
		d.Str(k, redact(strings.Join(vv, ", ")))
	}
	return d
}
