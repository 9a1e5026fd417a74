package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct{ scope, key string }

// idemRouter records what the handler saw and which lookups ran.
func idemRouter(opts IdempotencyOptions, lookup IdempotencyLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), IdempotencyValidator(opts, lookup))
	h := func(c *gin.Context) {
		key, ok := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": key, "has": ok, "replay": IsReplay(c), "bypass": IsRateBypass(c)})
	}
	r.POST("/api/v1/broadcasts", h)
	r.GET("/api/v1/users", h)
	return r
}

func doIdem(t *testing.T, r *gin.Engine, method, path, key string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	r.ServeHTTP(w, req)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
	return w.Code, body
}

func TestIdempotencyValidator_Keys(t *testing.T) {
	var calls []lookupCall
	lookup := func(_ context.Context, scope, key string, _ time.Time) (bool, error) {
		calls = append(calls, lookupCall{scope, key})
		return key == "seen", nil
	}
	r := idemRouter(IdempotencyOptions{MaxLen: 16}, lookup)

	cases := []struct {
		name, method, path, key string
		status                  int
		has, replay             bool
	}{
		{"no header", http.MethodPost, "/api/v1/broadcasts", "", 200, false, false},
		{"fresh key", http.MethodPost, "/api/v1/broadcasts", "k-1", 200, true, false},
		{"stored key", http.MethodPost, "/api/v1/broadcasts", "seen", 200, true, true},
		{"too long", http.MethodPost, "/api/v1/broadcasts", strings.Repeat("x", 17), 400, false, false},
		{"bad chars", http.MethodPost, "/api/v1/broadcasts", "a b", 400, false, false},
		{"ignored on GET", http.MethodGet, "/api/v1/users", "seen", 200, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := doIdem(t, r, tc.method, tc.path, tc.key)
			if code != tc.status {
				t.Fatalf("status = %d, want %d (%v)", code, tc.status, body)
			}
			if code == http.StatusBadRequest {
				if body["code"] != "bad_idempotency_key" || body["request_id"] == "" {
					t.Fatalf("bad error body: %v", body)
				}
				return
			}
			if body["has"] != tc.has || body["replay"] != tc.replay || body["bypass"] != tc.replay {
				t.Fatalf("unexpected flags: %v", body)
			}
		})
	}

	// lookups only ran for the two valid POST keys, scoped by route template
	want := []lookupCall{{"/api/v1/broadcasts", "k-1"}, {"/api/v1/broadcasts", "seen"}}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("lookups = %v, want %v", calls, want)
	}
}

func TestIdempotencyValidator_CustomPatternAndLookupError(t *testing.T) {
	lookup := func(context.Context, string, string, time.Time) (bool, error) {
		return true, errors.New("db down")
	}
	r := idemRouter(IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, lookup)

	if code, _ := doIdem(t, r, http.MethodPost, "/api/v1/broadcasts", "abc"); code != http.StatusBadRequest {
		t.Fatalf("custom pattern not applied: %d", code)
	}
	code, body := doIdem(t, r, http.MethodPost, "/api/v1/broadcasts", "123")
	if code != http.StatusOK || body["replay"] != false || body["has"] != true {
		t.Fatalf("lookup error must count as miss: %d %v", code, body)
	}
}

func TestScope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got string
	r.POST("/items/:id", func(c *gin.Context) { got = Scope(c) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/items/42", nil))
	if got != "/items/:id" {
		t.Fatalf("Scope = %q, want route template", got)
	}

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/unknown", nil)
	if got := Scope(c); got != "/api/v1/unknown" {
		t.Fatalf("Scope fallback = %q", got)
	}
	if k, ok := GetIdempotencyKey(c); ok || k != "" || IsReplay(c) {
		t.Fatalf("empty context should carry no key")
	}
}
