// Package metrics provides Prometheus instrumentation for the login coordinator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks login outcomes, token endpoint retries and the active session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoginAttempts  *prometheus.CounterVec
	LoginDuration  prometheus.Histogram
	Logouts        prometheus.Counter
	TokenRetries   *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec
	SessionActive  prometheus.Gauge
}

// New registers all metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		LoginAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquila_auth_login_attempts_total",
			Help: "Login attempts by terminal outcome (succeeded or a failure reason)",
		}, []string{"outcome"}),
		LoginDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aquila_auth_login_duration_seconds",
			Help:    "Time from StartLogin to the terminal notification",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		Logouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "aquila_auth_logouts_total",
			Help: "Sessions ended by logout or invalidation",
		}),
		TokenRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquila_auth_token_retries_total",
			Help: "Token endpoint retries after transient failures",
		}, []string{"operation"}),
		TokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aquila_auth_token_refreshes_total",
			Help: "Access token refreshes by result",
		}, []string{"result"}),
		SessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aquila_auth_session_active",
			Help: "1 while a session is held, 0 otherwise",
		}),
	}
}

// ObserveLogin records the outcome of a login attempt started at start.
func (m *Metrics) ObserveLogin(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(outcome).Inc()
	if !start.IsZero() {
		m.LoginDuration.Observe(time.Since(start).Seconds())
	}
}

// IncrementLogout records a session ending.
func (m *Metrics) IncrementLogout() {
	if m == nil {
		return
	}
	m.Logouts.Inc()
}

// IncrementTokenRetry records one retry of operation ("exchange" or "refresh").
func (m *Metrics) IncrementTokenRetry(operation string) {
	if m == nil {
		return
	}
	m.TokenRetries.WithLabelValues(operation).Inc()
}

// ObserveRefresh records a refresh result ("ok" or a failure reason).
func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(result).Inc()
}

// SetSessionActive reports whether a session is currently held.
func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
		return
	}
	m.SessionActive.Set(0)
}
