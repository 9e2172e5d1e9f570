package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func counterWithLabel(mf *dto.MetricFamily, value string) float64 {
	if mf == nil {
		return 0
	}
	for _, metric := range mf.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetValue() == value {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLogin("succeeded", time.Now().Add(-time.Second))
	m.ObserveLogin("timeout", time.Time{})
	m.IncrementLogout()
	m.IncrementTokenRetry("exchange")
	m.IncrementTokenRetry("exchange")
	m.ObserveRefresh("ok")
	m.SetSessionActive(true)

	families := gather(t, reg)
	if got := counterWithLabel(families["aquila_auth_login_attempts_total"], "succeeded"); got != 1 {
		t.Fatalf("succeeded = %v", got)
	}
	if got := counterWithLabel(families["aquila_auth_token_retries_total"], "exchange"); got != 2 {
		t.Fatalf("exchange retries = %v", got)
	}
	if got := families["aquila_auth_session_active"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("session active = %v", got)
	}
	if got := families["aquila_auth_login_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Fatalf("duration samples = %d", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveLogin("succeeded", time.Now())
	m.IncrementLogout()
	m.IncrementTokenRetry("refresh")
	m.ObserveRefresh("ok")
	m.SetSessionActive(false)
}
