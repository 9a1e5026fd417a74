package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func serveSecurity(t *testing.T, opt SecurityOptions, req *http.Request, pre gin.HandlerFunc) http.Header {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(SecurityHeaders(opt))
	r.GET("/*any", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestSecurityHeaders_Baseline(t *testing.T) {
	h := serveSecurity(t, SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/health", nil), nil)

	if h.Get("X-Content-Type-Options") != "nosniff" ||
		h.Get("X-Frame-Options") != "DENY" ||
		h.Get("Referrer-Policy") != "no-referrer" {
		t.Fatalf("baseline headers missing: %#v", h)
	}
	for _, k := range []string{"Permissions-Policy", "Cache-Control", "Content-Security-Policy", "Strict-Transport-Security", "Access-Control-Expose-Headers"} {
		if h.Get(k) != "" {
			t.Fatalf("unexpected %s: %q", k, h.Get(k))
		}
	}
}

func TestSecurityHeaders_ExposeRequestID(t *testing.T) {
	setRID := func(c *gin.Context) { c.Header(requestIDHeader, "rid-1"); c.Next() }
	h := serveSecurity(t, SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/", nil), setRID)
	if got := h.Get("Access-Control-Expose-Headers"); got != requestIDHeader {
		t.Fatalf("expose = %q", got)
	}

	withExisting := func(c *gin.Context) {
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		setRID(c)
	}
	h = serveSecurity(t, SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/", nil), withExisting)
	if got := h.Get("Access-Control-Expose-Headers"); got != "Content-Length, X-Request-ID" {
		t.Fatalf("expose = %q", got)
	}

	already := func(c *gin.Context) {
		c.Header("Access-Control-Expose-Headers", "x-request-id")
		setRID(c)
	}
	h = serveSecurity(t, SecurityOptions{}, httptest.NewRequest(http.MethodGet, "/", nil), already)
	if got := h.Get("Access-Control-Expose-Headers"); got != "x-request-id" {
		t.Fatalf("expose duplicated: %q", got)
	}
}

func TestSecurityHeaders_NoStorePrefix(t *testing.T) {
	opt := SecurityOptions{NoStore: true, NoStorePrefix: "/api/v1", EnablePolicy: true}

	api := serveSecurity(t, opt, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil), nil)
	if api.Get("Cache-Control") != "no-store" || api.Get("Pragma") != "no-cache" || api.Get("Content-Security-Policy") != apiCSP {
		t.Fatalf("api headers: %#v", api)
	}
	if api.Get("Permissions-Policy") == "" || api.Get("X-Permitted-Cross-Domain-Policies") != "none" {
		t.Fatalf("policy headers missing: %#v", api)
	}

	ui := serveSecurity(t, opt, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil), nil)
	if ui.Get("Cache-Control") != "" || ui.Get("Content-Security-Policy") != "" {
		t.Fatalf("swagger must stay cacheable and scriptable: %#v", ui)
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	opt := SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}

	plain := serveSecurity(t, opt, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	if plain.Get("Strict-Transport-Security") != "" {
		t.Fatalf("HSTS on plain HTTP")
	}

	tlsReq := httptest.NewRequest(http.MethodGet, "/", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	if got := serveSecurity(t, opt, tlsReq, nil).Get("Strict-Transport-Security"); got != "max-age=3600; includeSubDomains; preload" {
		t.Fatalf("HSTS = %q", got)
	}

	proxied := httptest.NewRequest(http.MethodGet, "/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	def := serveSecurity(t, SecurityOptions{EnableHSTS: true}, proxied, nil)
	if got := def.Get("Strict-Transport-Security"); got != "max-age=15552000; includeSubDomains; preload" {
		t.Fatalf("default HSTS = %q", got)
	}
}
