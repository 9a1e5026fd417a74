package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Route labels use the registered template (c.FullPath()), so user IDs in
// paths never become label values.
var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tgbot",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Admin HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tgbot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Admin HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route"})

	httpInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tgbot",
		Subsystem: "http",
		Name:      "requests_inflight",
		Help:      "Admin HTTP requests being served.",
	})

	httpResponseSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tgbot",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "Admin HTTP response body sizes.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
	}, []string{"method", "route"})
)

// unmatchedRoute labels requests that matched no route.
const unmatchedRoute = "unmatched"

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, httpInflight, httpResponseSize)
}

// Metrics instruments every request except those whose route is listed in
// skip (typically the scrape endpoint itself).
func Metrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if _, ok := skipped[route]; ok && route != "" {
			c.Next()
			return
		}
		if route == "" {
			route = unmatchedRoute
		}

		start := time.Now()
		httpInflight.Inc()
		c.Next()
		httpInflight.Dec()

		method := c.Request.Method
		httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpResponseSize.WithLabelValues(method, route).Observe(float64(size))
		}
	}
}
