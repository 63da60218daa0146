package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
)

// MeterName is the instrumentation scope of the OTel sink.
const MeterName = "mutation-gate"

// OTel is a corridor sink and decision observer backed by an OpenTelemetry
// meter. Export is the meter provider's concern.
type OTel struct {
	decisions metric.Int64Counter
	breaches  metric.Int64Counter
	distance  metric.Float64Histogram
	knowledge metric.Float64Histogram
}

// NewOTel creates the instruments on meter. A nil meter uses the global
// provider.
func NewOTel(meter metric.Meter) (*OTel, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	var (
		o   OTel
		err error
	)

	o.decisions, err = meter.Int64Counter("gate.decisions",
		metric.WithDescription("Admission decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("decisions counter: %w", err)
	}

	o.breaches, err = meter.Int64Counter("gate.corridor.breaches",
		metric.WithDescription("Corridor envelope breaches"),
		metric.WithUnit("{breach}"),
	)
	if err != nil {
		return nil, fmt.Errorf("breaches counter: %w", err)
	}

	o.distance, err = meter.Float64Histogram("gate.corridor.kernel_distance",
		metric.WithDescription("Kernel distance per corridor evaluation"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("distance histogram: %w", err)
	}

	o.knowledge, err = meter.Float64Histogram("gate.corridor.knowledge_factor",
		metric.WithDescription("Knowledge factor per corridor evaluation"),
		metric.WithExplicitBucketBoundaries(0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge histogram: %w", err)
	}
	return &o, nil
}

// IncCorridorBreach implements corridor.MetricsSink.
func (o *OTel) IncCorridorBreach(id string, g corridor.Group, _ float64) {
	o.breaches.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("corridor", id),
		attribute.String("group", string(g)),
	))
}

// ObserveKernelDistance implements corridor.MetricsSink.
func (o *OTel) ObserveKernelDistance(id string, d float64) {
	o.distance.Record(context.Background(), d, metric.WithAttributes(attribute.String("corridor", id)))
}

// ObserveKnowledgeFactor implements corridor.MetricsSink.
func (o *OTel) ObserveKnowledgeFactor(id string, kf float64) {
	o.knowledge.Record(context.Background(), kf, metric.WithAttributes(attribute.String("corridor", id)))
}

// ObserveDecision implements admission.Observer.
func (o *OTel) ObserveDecision(d admission.Decision) {
	o.decisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", string(d.Outcome)),
		attribute.String("layer", string(d.Layer)),
		attribute.String("domain", string(d.Domain)),
	))
}
