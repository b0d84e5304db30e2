// Package observability holds the Prometheus collectors and the ops HTTP
// server (/metrics, /healthz, /debug/pprof).
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups every collector the bot exports. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	Registry *prometheus.Registry

	dispatch       *prometheus.CounterVec
	backfillDates  *prometheus.CounterVec
	augment        *prometheus.CounterVec
	augmentPending prometheus.Gauge
	llmLatency     *prometheus.HistogramVec
	sourceRequests *prometheus.CounterVec
	tickDuration   prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lcdaily", Name: "dispatch_total",
			Help: "Guild dispatch outcomes per tick.",
		}, []string{"result"}),
		backfillDates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lcdaily", Name: "backfill_dates_total",
			Help: "Backfill per-date outcomes.",
		}, []string{"site", "outcome"}),
		augment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lcdaily", Name: "augment_requests_total",
			Help: "Augmentation requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		augmentPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lcdaily", Name: "augment_inflight",
			Help: "Augmentations currently waiting on the LLM.",
		}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lcdaily", Name: "llm_request_seconds",
			Help:    "LLM call latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"provider", "result"}),
		sourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lcdaily", Name: "source_requests_total",
			Help: "Problem source requests by operation and result.",
		}, []string{"op", "result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lcdaily", Name: "dispatch_tick_seconds",
			Help:    "Duration of a full dispatch tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.dispatch, m.backfillDates, m.augment, m.augmentPending,
		m.llmLatency, m.sourceRequests, m.tickDuration,
	)
	return m
}

func (m *Metrics) Dispatch(result string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(result).Inc()
}

func (m *Metrics) DispatchTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) BackfillDate(site, outcome string) {
	if m == nil {
		return
	}
	m.backfillDates.WithLabelValues(site, outcome).Inc()
}

func (m *Metrics) Augment(kind, outcome string) {
	if m == nil {
		return
	}
	m.augment.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) AugmentInflight(delta float64) {
	if m == nil {
		return
	}
	m.augmentPending.Add(delta)
}

func (m *Metrics) LLMCall(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(provider, result).Observe(d.Seconds())
}

func (m *Metrics) SourceRequest(op, result string) {
	if m == nil {
		return
	}
	m.sourceRequests.WithLabelValues(op, result).Inc()
}
