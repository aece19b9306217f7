// Package metrics exposes Prometheus counters for the assistant.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply sources.
const (
	SourceSelector = "selector"
	SourceRemote   = "remote"
	SourceApology  = "apology"
)

// Metrics holds the assistant's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissions  *prometheus.CounterVec
	replies      *prometheus.CounterVec
	ruleHits     *prometheus.CounterVec
	feedback     *prometheus.CounterVec
	pending      prometheus.Gauge
	replyLatency prometheus.Histogram
}

// New registers the assistant collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csa",
			Name:      "submissions_total",
			Help:      "User submissions by result.",
		}, []string{"result"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csa",
			Name:      "replies_total",
			Help:      "Assistant replies by source.",
		}, []string{"source"}),
		ruleHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csa",
			Name:      "selector_rule_hits_total",
			Help:      "Selector matches by rule.",
		}, []string{"kind", "rule"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "csa",
			Name:      "feedback_total",
			Help:      "Reply ratings.",
		}, []string{"helpful"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "csa",
			Name:      "pending_replies",
			Help:      "Replies currently being prepared.",
		}),
		replyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "csa",
			Name:      "reply_seconds",
			Help:      "Time from submission to reply.",
			Buckets:   []float64{0.5, 1, 1.5, 2, 3, 5, 10},
		}),
	}
	m.registry.MustRegister(
		m.submissions,
		m.replies,
		m.ruleHits,
		m.feedback,
		m.pending,
		m.replyLatency,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Submission(result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Reply(source string, seconds float64) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(source).Inc()
	if seconds > 0 {
		m.replyLatency.Observe(seconds)
	}
}

func (m *Metrics) RuleHit(kind, rule string) {
	if m == nil {
		return
	}
	m.ruleHits.WithLabelValues(kind, rule).Inc()
}

func (m *Metrics) Feedback(helpful bool) {
	if m == nil {
		return
	}
	label := "false"
	if helpful {
		label = "true"
	}
	m.feedback.WithLabelValues(label).Inc()
}

func (m *Metrics) PendingInc() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) PendingDec() {
	if m == nil {
		return
	}
	m.pending.Dec()
}
