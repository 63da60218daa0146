package metrics

import (
	"log/slog"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
)

// Sink is both halves of the metrics surface.
type Sink interface {
	corridor.MetricsSink
	admission.Observer
}

// Fanout forwards to every sink. A panicking sink is logged and skipped;
// the others still receive the observation.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout combines sinks. Nil entries are dropped.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default().With("component", "metrics")
	}
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) each(op string, fn func(Sink)) {
	for _, s := range f.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Warn("metrics sink panicked", "op", op, "panic", r)
				}
			}()
			fn(s)
		}()
	}
}

func (f *Fanout) IncCorridorBreach(id string, g corridor.Group, v float64) {
	f.each("breach", func(s Sink) { s.IncCorridorBreach(id, g, v) })
}

func (f *Fanout) ObserveKernelDistance(id string, d float64) {
	f.each("distance", func(s Sink) { s.ObserveKernelDistance(id, d) })
}

func (f *Fanout) ObserveKnowledgeFactor(id string, kf float64) {
	f.each("knowledge", func(s Sink) { s.ObserveKnowledgeFactor(id, kf) })
}

func (f *Fanout) ObserveDecision(d admission.Decision) {
	f.each("decision", func(s Sink) { s.ObserveDecision(d) })
}
