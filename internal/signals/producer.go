// Package signals derives the neuromorphic context and risk inputs from band
// history, interface quality and physiological readings.
package signals

import (
	"math"

	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/damping"
	"github.com/danielpatrickdp/mutation-gate/internal/risk"
)

// #region builder

// Builder computes admission inputs from raw readings.
type Builder struct {
	config BuilderConfig
}

// NewBuilder creates a Builder.
func NewBuilder(config BuilderConfig) *Builder {
	return &Builder{config: config}
}

// #endregion builder

// #region neuromorph

// Neuromorph builds the eligibility context from the band series and the
// interface snapshot.
func (b *Builder) Neuromorph(series band.Series, iface InterfaceSnapshot) damping.Context {
	return damping.Context{
		Discomfort:  b.Discomfort(series, iface.Pain),
		Overload:    clamp(series.OverloadRatio()),
		Instability: b.Instability(iface.Clarity, iface.Dropout),
		ScaleUsage:  clamp(iface.ScaleUsage),
	}
}

// Discomfort maps the last band to a comfort level and adds weighted pain.
// An empty series counts as HardStop.
func (b *Builder) Discomfort(series band.Series, pain float32) float32 {
	base := b.config.ComfortHardStop
	if last, ok := series.Last(); ok {
		switch last.Band {
		case band.Safe:
			base = b.config.ComfortSafe
		case band.SoftWarn:
			base = b.config.ComfortSoftWarn
		}
	}
	return clamp(base + b.config.PainWeight*clamp(pain))
}

// Instability combines interface clarity and dropout.
func (b *Builder) Instability(clarity, dropout float32) float32 {
	return clamp(b.config.ClarityWeight*(1-clamp(clarity)) + b.config.DropoutWeight*clamp(dropout))
}

// #endregion neuromorph

// #region risk

// RiskInputs normalizes a physiological reading and interface snapshot into
// risk model inputs.
func (b *Builder) RiskInputs(p Physio, iface InterfaceSnapshot) risk.Inputs {
	thermal := float32(1)
	if b.config.ThermalMaxC > 0 {
		thermal = clamp(p.ThermalDeltaC / b.config.ThermalMaxC)
	}
	return risk.Inputs{
		Fatigue:       clamp(p.Fatigue),
		Tension:       clamp(p.Tension),
		Pain:          clamp(p.Pain),
		CognitiveLoad: clamp(p.CognitiveLoad),
		Thermal:       thermal,
		Instability:   b.Instability(iface.Clarity, iface.Dropout),
	}
}

// #endregion risk

// #region helpers

// clamp restricts v to [0, 1]. NaN becomes 1 so unknown readings count as
// worst case.
func clamp(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return 1
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
