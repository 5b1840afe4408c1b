package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects encode/delta/evict timing histograms and a counter of
// accepted client updates, exposed by the caller on an optional
// /metrics endpoint. A nil *Metrics is valid and simply discards
// observations, so tests and the bench CLI can opt in independently.
type Metrics struct {
	encodeSeconds prometheus.Histogram
	deltaSeconds  prometheus.Histogram
	evictSeconds  prometheus.Histogram
	updatesTotal  prometheus.Counter
}

// NewMetrics registers the pipeline's instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		encodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stripeupdate",
			Subsystem: "pipeline",
			Name:      "encode_stripe_seconds",
			Help:      "Latency of full encode_stripe calls issued by the update pipeline.",
		}),
		deltaSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stripeupdate",
			Subsystem: "pipeline",
			Name:      "delta_update_seconds",
			Help:      "Latency of delta_update calls issued by the update pipeline.",
		}),
		evictSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stripeupdate",
			Subsystem: "pipeline",
			Name:      "evict_resolve_seconds",
			Help:      "Latency of resolving one slice-buffer eviction end to end.",
		}),
		updatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stripeupdate",
			Subsystem: "pipeline",
			Name:      "updates_total",
			Help:      "Total client updates accepted by the pipeline.",
		}),
	}
	reg.MustRegister(m.encodeSeconds, m.deltaSeconds, m.evictSeconds, m.updatesTotal)
	return m
}

type timer struct {
	h     prometheus.Histogram
	start time.Time
}

func (t timer) observe() {
	if t.h == nil {
		return
	}
	t.h.Observe(time.Since(t.start).Seconds())
}

func (m *Metrics) startEncode() timer { return m.startHist(m.safe(func() prometheus.Histogram { return m.encodeSeconds })) }
func (m *Metrics) startDelta() timer  { return m.startHist(m.safe(func() prometheus.Histogram { return m.deltaSeconds })) }
func (m *Metrics) startEvict() timer  { return m.startHist(m.safe(func() prometheus.Histogram { return m.evictSeconds })) }

// safe returns f() unless m itself is nil, in which case every instrument
// is nil and every timer becomes a no-op.
func (m *Metrics) safe(f func() prometheus.Histogram) prometheus.Histogram {
	if m == nil {
		return nil
	}
	return f()
}

func (m *Metrics) startHist(h prometheus.Histogram) timer {
	return timer{h: h, start: time.Now()}
}

// IncUpdates counts one accepted client update.
func (m *Metrics) IncUpdates() {
	if m == nil {
		return
	}
	m.updatesTotal.Inc()
}
