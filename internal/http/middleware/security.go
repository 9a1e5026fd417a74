package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions tunes SecurityHeaders.
type SecurityOptions struct {
	EnableHSTS bool          // only when TLS terminates in front of us
	HSTSMaxAge time.Duration // default 180 days
	// NoStore marks responses under NoStorePrefix uncacheable and locks
	// them down with a deny-all CSP. Swagger UI lives outside the prefix.
	NoStore       bool
	NoStorePrefix string
	EnablePolicy  bool // Permissions-Policy and cross-domain policy
}

// apiCSP suits JSON-only responses.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders sets response hardening headers before the handler runs.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	if opt.HSTSMaxAge <= 0 {
		opt.HSTSMaxAge = 180 * 24 * time.Hour
	}
	hsts := "max-age=" + strconv.Itoa(int(opt.HSTSMaxAge/time.Second)) + "; includeSubDomains; preload"

	static := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	if opt.EnablePolicy {
		static = append(static,
			[2]string{"Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()"},
			[2]string{"X-Permitted-Cross-Domain-Policies", "none"},
		)
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range static {
			h.Set(kv[0], kv[1])
		}
		if opt.NoStore && strings.HasPrefix(c.Request.URL.Path, opt.NoStorePrefix) {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Content-Security-Policy", apiCSP)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		exposeRequestID(h)
		c.Next()
	}
}

// exposeRequestID lets browser clients read X-Request-ID for bug reports.
func exposeRequestID(h http.Header) {
	if h.Get(requestIDHeader) == "" {
		return
	}
	const hdr = "Access-Control-Expose-Headers"
	switch cur := h.Get(hdr); {
	case cur == "":
		h.Set(hdr, requestIDHeader)
	case !strings.Contains(strings.ToLower(cur), strings.ToLower(requestIDHeader)):
		h.Set(hdr, cur+", "+requestIDHeader)
	}
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
