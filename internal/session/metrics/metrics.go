package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the session layer.
type Metrics struct {
	// Refresh attempts by outcome ("success", "rejected", "transport_error")
	Refreshes *prometheus.CounterVec

	// Dispatches that came back with the auth-rejection status
	TokenRejections prometheus.Counter

	// Outbound dispatch latency by method
	DispatchLatency *prometheus.HistogramVec
}

// New creates a Metrics instance with all session metrics registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		Refreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sso_console_session_refreshes_total",
			Help: "Total silent token refresh attempts by outcome",
		}, []string{"outcome"}),

		TokenRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sso_console_session_token_rejections_total",
			Help: "Total backend responses that rejected the held access token",
		}),

		DispatchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sso_console_session_dispatch_duration_seconds",
			Help:    "Duration of authenticated dispatches to the backend",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method"}),
	}
}

// IncrementRefresh records a refresh attempt outcome.
func (m *Metrics) IncrementRefresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

// IncrementTokenRejection records an auth-rejected dispatch.
func (m *Metrics) IncrementTokenRejection() {
	if m != nil {
		m.TokenRejections.Inc()
	}
}

// ObserveDispatch records the duration of one outbound dispatch.
func (m *Metrics) ObserveDispatch(method string, d time.Duration) {
	if m != nil {
		m.DispatchLatency.WithLabelValues(method).Observe(d.Seconds())
	}
}
