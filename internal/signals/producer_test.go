package signals

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/danielpatrickdp/mutation-gate/internal/band"
)

// #region helpers

var t0 = time.Date(2026, 1, 28, 8, 0, 0, 0, time.UTC)

func series(bands ...band.Safety) band.Series {
	out := make(band.Series, len(bands))
	for i, b := range bands {
		out[i] = band.Sample{At: t0.Add(time.Duration(i) * time.Second), Band: b, Lifeforce: 0.6}
	}
	return out
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

// #endregion helpers

// #region discomfort-tests

func TestDiscomfort_BandLevels(t *testing.T) {
	b := NewBuilder(DefaultBuilderConfig())
	cases := []struct {
		name string
		s    band.Series
		want float32
	}{
		{"safe", series(band.Safe), 0.1},
		{"soft warn", series(band.Safe, band.SoftWarn), 0.5},
		{"hard stop", series(band.HardStop), 0.9},
		{"empty counts as hard stop", nil, 0.9},
	}
	for _, c := range cases {
		if got := b.Discomfort(c.s, 0); !approx(got, c.want) {
			t.Errorf("%s: expected %f, got %f", c.name, c.want, got)
		}
	}
}

func TestDiscomfort_PainAddsAndClamps(t *testing.T) {
	b := NewBuilder(DefaultBuilderConfig())
	if got := b.Discomfort(series(band.Safe), 0.5); !approx(got, 0.4) {
		t.Errorf("expected 0.1 + 0.6*0.5 = 0.4, got %f", got)
	}
	if got := b.Discomfort(series(band.SoftWarn), 1); got != 1 {
		t.Errorf("expected clamp to 1, got %f", got)
	}
}

// #endregion discomfort-tests

// #region instability-tests

func TestInstability(t *testing.T) {
	b := NewBuilder(DefaultBuilderConfig())
	if got := b.Instability(1, 0); got != 0 {
		t.Errorf("clear interface: expected 0, got %f", got)
	}
	if got := b.Instability(0.5, 0.25); !approx(got, 0.5) {
		t.Errorf("expected 0.7*0.5 + 0.6*0.25 = 0.5, got %f", got)
	}
	if got := b.Instability(0, 1); got != 1 {
		t.Errorf("expected clamp to 1, got %f", got)
	}
}

func TestNeuromorph_UsesOverloadRatio(t *testing.T) {
	b := NewBuilder(DefaultBuilderConfig())
	ctx := b.Neuromorph(series(band.Safe, band.SoftWarn, band.HardStop, band.Safe), InterfaceSnapshot{Clarity: 1, ScaleUsage: 0.3})
	if !approx(ctx.Overload, 0.5) {
		t.Errorf("expected overload 0.5, got %f", ctx.Overload)
	}
	if !approx(ctx.Discomfort, 0.1) {
		t.Errorf("expected discomfort 0.1, got %f", ctx.Discomfort)
	}
	if !approx(ctx.ScaleUsage, 0.3) {
		t.Errorf("expected scale usage 0.3, got %f", ctx.ScaleUsage)
	}
}

// #endregion instability-tests

// #region risk-input-tests

func TestRiskInputs_NormalizesThermal(t *testing.T) {
	cfg := DefaultBuilderConfig()
	cfg.ThermalMaxC = 0.8
	b := NewBuilder(cfg)
	in := b.RiskInputs(Physio{Fatigue: 0.2, Tension: 1.4, ThermalDeltaC: 0.4}, InterfaceSnapshot{Clarity: 1})
	if !approx(in.Thermal, 0.5) {
		t.Errorf("expected thermal 0.5, got %f", in.Thermal)
	}
	if in.Tension != 1 {
		t.Errorf("expected tension clamped to 1, got %f", in.Tension)
	}
	if in.Instability != 0 {
		t.Errorf("expected instability 0, got %f", in.Instability)
	}
}

func TestRiskInputs_NaNIsWorstCase(t *testing.T) {
	b := NewBuilder(DefaultBuilderConfig())
	in := b.RiskInputs(Physio{Pain: float32(math.NaN())}, InterfaceSnapshot{Clarity: 1})
	if in.Pain != 1 {
		t.Errorf("expected NaN pain to read as 1, got %f", in.Pain)
	}
}

// #endregion risk-input-tests

// #region properties

func TestContextStaysInUnitRange(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)
	b := NewBuilder(DefaultBuilderConfig())

	properties.Property("every context field is in [0,1]", prop.ForAll(
		func(pain, clarity, dropout, scale float32, last int) bool {
			s := series(band.Safety(last))
			c := b.Neuromorph(s, InterfaceSnapshot{Clarity: clarity, Dropout: dropout, Pain: pain, ScaleUsage: scale})
			for _, v := range []float32{c.Discomfort, c.Overload, c.Instability, c.ScaleUsage} {
				if v < 0 || v > 1 {
					return false
				}
			}
			return true
		},
		gen.Float32Range(-2, 2),
		gen.Float32Range(-2, 2),
		gen.Float32Range(-2, 2),
		gen.Float32Range(-2, 2),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

// #endregion properties
