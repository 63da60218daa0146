// Package metrics exports admission decisions and corridor observations to
// Prometheus and OpenTelemetry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
)

// Namespace prefixes every exported metric.
const Namespace = "mutation_gate"

// Prometheus is a corridor sink and decision observer backed by client_golang
// collectors registered on a caller-supplied registry.
type Prometheus struct {
	// decisions counts every Admit result.
	// Labels: outcome, layer, domain
	decisions *prometheus.CounterVec

	// denials counts denial reasons. One decision may add several.
	// Labels: code
	denials *prometheus.CounterVec

	// breaches counts corridor envelope breaches.
	// Labels: corridor, group
	breaches *prometheus.CounterVec

	// breachMagnitude records the offending value of each breach.
	// Labels: corridor, group
	breachMagnitude *prometheus.HistogramVec

	// distance tracks kernel distance per evaluation.
	// Labels: corridor
	distance *prometheus.HistogramVec

	// knowledge holds the most recent knowledge factor.
	// Labels: corridor
	knowledge *prometheus.GaugeVec

	// commits counts ledger state changes.
	// Labels: action
	commits *prometheus.CounterVec

	// auditFailures counts proof artifacts that could not be written.
	auditFailures prometheus.Counter
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome and deciding layer",
		}, []string{"outcome", "layer", "domain"}),
		denials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "denial_reasons_total",
			Help:      "Denial reasons by code",
		}, []string{"code"}),
		breaches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "corridor",
			Name:      "breaches_total",
			Help:      "Corridor envelope breaches by group",
		}, []string{"corridor", "group"}),
		breachMagnitude: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "corridor",
			Name:      "breach_value",
			Help:      "Offending value of corridor breaches",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"corridor", "group"}),
		distance: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "corridor",
			Name:      "kernel_distance",
			Help:      "Kernel distance per corridor evaluation",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 5},
		}, []string{"corridor"}),
		knowledge: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "corridor",
			Name:      "knowledge_factor",
			Help:      "Most recent knowledge factor in [0,1]",
		}, []string{"corridor"}),
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ledger",
			Name:      "commits_total",
			Help:      "Ledger state changes by action",
		}, []string{"action"}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "audit",
			Name:      "emit_failures_total",
			Help:      "Proof artifacts that could not be written",
		}),
	}
}

// IncCorridorBreach implements corridor.MetricsSink.
func (p *Prometheus) IncCorridorBreach(id string, g corridor.Group, value float64) {
	p.breaches.WithLabelValues(id, string(g)).Inc()
	p.breachMagnitude.WithLabelValues(id, string(g)).Observe(value)
}

// ObserveKernelDistance implements corridor.MetricsSink.
func (p *Prometheus) ObserveKernelDistance(id string, d float64) {
	p.distance.WithLabelValues(id).Observe(d)
}

// ObserveKnowledgeFactor implements corridor.MetricsSink.
func (p *Prometheus) ObserveKnowledgeFactor(id string, kf float64) {
	p.knowledge.WithLabelValues(id).Set(kf)
}

// ObserveDecision implements admission.Observer.
func (p *Prometheus) ObserveDecision(d admission.Decision) {
	p.decisions.WithLabelValues(string(d.Outcome), string(d.Layer), string(d.Domain)).Inc()
	for _, c := range d.Codes() {
		p.denials.WithLabelValues(string(c)).Inc()
	}
}

// ObserveCommit counts a ledger state change.
func (p *Prometheus) ObserveCommit(rec ledger.CommitRecord) {
	p.commits.WithLabelValues(string(rec.Action)).Inc()
}

// IncAuditFailure counts a failed proof artifact emission.
func (p *Prometheus) IncAuditFailure() {
	p.auditFailures.Inc()
}

// Descriptors lists the exported metric names and labels for schema checks.
func (p *Prometheus) Descriptors() []Descriptor {
	return []Descriptor{
		{Name: Namespace + "_decisions_total", Labels: []string{"outcome", "layer", "domain"}},
		{Name: Namespace + "_denial_reasons_total", Labels: []string{"code"}},
		{Name: Namespace + "_corridor_breaches_total", Labels: []string{"corridor", "group"}},
		{Name: Namespace + "_corridor_breach_value", Labels: []string{"corridor", "group"}},
		{Name: Namespace + "_corridor_kernel_distance", Labels: []string{"corridor"}},
		{Name: Namespace + "_corridor_knowledge_factor", Labels: []string{"corridor"}},
		{Name: Namespace + "_ledger_commits_total", Labels: []string{"action"}},
		{Name: Namespace + "_audit_emit_failures_total"},
	}
}
