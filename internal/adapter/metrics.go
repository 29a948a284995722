package adapter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"jobrelay/internal/data"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	jobs      *prometheus.CounterVec
	upstream  *prometheus.HistogramVec
	readiness *prometheus.CounterVec
}

// NewMetrics creates the adapter collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobrelay",
			Name:      "jobs_total",
			Help:      "Jobs handled, by action and outcome.",
		}, []string{"action", "outcome"}),
		upstream: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobrelay",
			Name:      "upstream_request_duration_seconds",
			Help:      "Latency of calls to the upstream application.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "outcome"}),
		readiness: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobrelay",
			Name:      "readiness_probes_total",
			Help:      "Readiness probe runs, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.jobs, m.upstream, m.readiness)
	return m
}

func (m *Metrics) observeJob(action, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) observeUpstream(endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.upstream.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeReadiness(ok bool) {
	if m == nil {
		return
	}
	result := "ready"
	if !ok {
		result = "failed"
	}
	m.readiness.WithLabelValues(result).Inc()
}

// metricAction keeps caller-supplied action names out of label values.
func metricAction(action string) string {
	switch action {
	case data.ActionHealthCheck, data.ActionStatus, data.ActionChat:
		return action
	default:
		return "unknown"
	}
}

func outcome(result data.Result) string {
	switch r := result.(type) {
	case data.HealthResult:
		if r.Healthy() {
			return "ok"
		}
	case data.StatusResult:
		if r.Status == "running" {
			return "ok"
		}
	case data.ChatResult:
		if r.Success {
			return "ok"
		}
	case data.ErrorResult:
		return "rejected"
	}
	return "error"
}
