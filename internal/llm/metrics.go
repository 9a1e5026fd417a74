package llm

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	modeBlocking = "blocking"
	modeStream   = "stream"
)

var (
	llmReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Completion API calls by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	llmLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Completion API latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(llmReqs, llmLat)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsRateLimited(err):
		return "rate_limited"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}

func observe(mode string, err error, d time.Duration) {
	llmReqs.WithLabelValues(mode, outcome(err)).Inc()
	llmLat.WithLabelValues(mode).Observe(d.Seconds())
}
