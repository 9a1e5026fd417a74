// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements BearerAuth, the gate in front of the admin API. The
// API has a single principal identified by a static token (ADMIN_API_TOKEN);
// an empty token disables the API entirely.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// ActorKey is the Gin context key holding the authenticated principal.
const ActorKey = "actor"

// APIActor names the admin API principal in idempotency records and logs.
const APIActor = "admin-api"

var authFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admin_api_auth_failures_total",
		Help: "Rejected admin API requests by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(authFailures)
}

// BearerAuth rejects requests whose "Authorization: Bearer <token>" does not
// match token. Comparison is constant-time. On success the actor is stored
// under ActorKey.
func BearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			authFailures.WithLabelValues("disabled").Inc()
			abortJSON(c, http.StatusServiceUnavailable, "unavailable", "admin API is disabled")
			return
		}
		got := bearerToken(c.GetHeader("Authorization"))
		if got == "" {
			authFailures.WithLabelValues("missing").Inc()
			c.Header("WWW-Authenticate", `Bearer realm="admin"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			authFailures.WithLabelValues("invalid").Inc()
			c.Header("WWW-Authenticate", `Bearer realm="admin", error="invalid_token"`)
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}
		c.Set(ActorKey, APIActor)
		LoggerFrom(c).Debug().Str("actor", APIActor).Msg("admin api authenticated")
		c.Next()
	}
}

// Actor returns the authenticated principal, or "" before BearerAuth ran.
func Actor(c *gin.Context) string {
	v, _ := c.Get(ActorKey)
	return asString(v)
}
