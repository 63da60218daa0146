// Package risk computes risk-of-harm scores and classifies proposals against
// the strict and elevated ceilings.
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// AbsoluteCeiling bounds the elevated ceiling of any model.
const AbsoluteCeiling = 0.45

// #region model
// Model is a weighted risk model with its two ceilings.
type Model struct {
	ID              string  `json:"id" yaml:"id" validate:"required"`
	Weights         Weights `json:"weights" yaml:"weights"`
	StrictCeiling   float32 `json:"strict_ceiling" yaml:"strict_ceiling" validate:"gte=0,lte=1"`
	ElevatedCeiling float32 `json:"elevated_ceiling" yaml:"elevated_ceiling" validate:"gte=0,lte=1"`
	RequiredScope   string  `json:"required_scope,omitempty" yaml:"required_scope,omitempty"`
}

// DefaultModel is the reference configuration.
func DefaultModel() Model {
	return Model{
		ID: "roh.v1",
		Weights: Weights{
			Fatigue:       0.25,
			Tension:       0.20,
			Pain:          0.20,
			CognitiveLoad: 0.15,
			Thermal:       0.10,
			Instability:   0.10,
		},
		StrictCeiling:   0.30,
		ElevatedCeiling: 0.40,
		RequiredScope:   consent.ScopeElevatedResearch,
	}
}

// Validate checks the load-time invariants: strict ≤ elevated ≤ AbsoluteCeiling
// and weights that sum to at most 1 so scores stay in [0,1].
func (m Model) Validate() error {
	var errs []error
	if m.ElevatedCeiling < m.StrictCeiling {
		errs = append(errs, fmt.Errorf("risk model %s: elevated ceiling %.3f < strict ceiling %.3f", m.ID, m.ElevatedCeiling, m.StrictCeiling))
	}
	if m.ElevatedCeiling > AbsoluteCeiling {
		errs = append(errs, fmt.Errorf("risk model %s: elevated ceiling %.3f > %.2f", m.ID, m.ElevatedCeiling, AbsoluteCeiling))
	}
	if m.StrictCeiling < 0 {
		errs = append(errs, fmt.Errorf("risk model %s: negative strict ceiling", m.ID))
	}
	w := m.Weights
	for _, v := range []float32{w.Fatigue, w.Tension, w.Pain, w.CognitiveLoad, w.Thermal, w.Instability} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("risk model %s: negative weight", m.ID))
			break
		}
	}
	if s := w.Sum(); s > 1.0001 || s <= 0 {
		errs = append(errs, fmt.Errorf("risk model %s: weight sum %.4f outside (0,1]", m.ID, s))
	}
	return errors.Join(errs...)
}

// Compute returns the risk score for in, clamped to [0,1].
func (m Model) Compute(in Inputs) float32 {
	w := m.Weights
	s := w.Fatigue*unit(in.Fatigue) +
		w.Tension*unit(in.Tension) +
		w.Pain*unit(in.Pain) +
		w.CognitiveLoad*unit(in.CognitiveLoad) +
		w.Thermal*unit(in.Thermal) +
		w.Instability*unit(in.Instability)
	return unit(s)
}

func unit(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return 1
	}
	return min(max(v, 0), 1)
}

// #endregion model

// #region evaluator
// Evaluator applies a validated Model. It is immutable and safe for concurrent use.
type Evaluator struct {
	model Model
}

// NewEvaluator validates m and returns an Evaluator over it.
func NewEvaluator(m Model) (*Evaluator, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.RequiredScope == "" {
		m.RequiredScope = consent.ScopeElevatedResearch
	}
	return &Evaluator{model: m}, nil
}

// Model returns the evaluator's model.
func (e *Evaluator) Model() Model { return e.model }

// Evaluate scores before and after and applies the selected band. Strict
// requires a non-increasing score under the strict ceiling. Elevated is only
// reachable through the full token gate and drops the non-increase rule.
func (e *Evaluator) Evaluate(req EvalRequest) (Result, error) {
	res := Result{
		Band:   req.Band,
		Before: e.model.Compute(req.Before),
		After:  e.model.Compute(req.After),
	}
	if math.IsNaN(float64(req.Effect)) || math.IsInf(float64(req.Effect), 0) {
		return res, reason.Deny(reason.EffectSizeExceeded, "effect %v is not finite", req.Effect)
	}

	switch req.Band {
	case Strict:
		if res.After > res.Before {
			return res, reason.Deny(reason.StrictCeilingViolation, "risk rises %.4f -> %.4f", res.Before, res.After)
		}
		if res.After > e.model.StrictCeiling {
			return res, reason.Deny(reason.StrictCeilingViolation, "risk %.4f > strict ceiling %.4f", res.After, e.model.StrictCeiling)
		}
		return res, nil

	case Elevated:
		if err := consent.VerifyToken(req.Token, req.Subject, req.Kind, e.model.RequiredScope, req.Now); err != nil {
			return res, err
		}
		if !(req.Effect <= req.Token.MaxEffect) {
			return res, reason.Deny(reason.EffectSizeExceeded, "effect %.4f > token max %.4f", req.Effect, req.Token.MaxEffect)
		}
		if res.After > e.model.ElevatedCeiling {
			return res, reason.Deny(reason.ElevatedCeilingViolation, "risk %.4f > elevated ceiling %.4f", res.After, e.model.ElevatedCeiling)
		}
		if err := CheckGuard(req.Token.Guard, req.Bio); err != nil {
			return res, err
		}
		return res, nil
	}
	return res, reason.Deny(reason.StrictCeilingViolation, "unknown risk band %d", int(req.Band))
}

// CheckGuard applies a token's physiological guard to bio. A NaN reading
// violates the guard.
func CheckGuard(g consent.PhysioGuard, bio BioState) error {
	switch {
	case !(bio.HRV >= g.MinHRV):
		return reason.Deny(reason.PhysioGuardViolation, "hrv %.3f < min %.3f", bio.HRV, g.MinHRV)
	case !(bio.Tension <= g.MaxTension):
		return reason.Deny(reason.PhysioGuardViolation, "tension %.3f > max %.3f", bio.Tension, g.MaxTension)
	case !(bio.Fatigue <= g.MaxFatigue):
		return reason.Deny(reason.PhysioGuardViolation, "fatigue %.3f > max %.3f", bio.Fatigue, g.MaxFatigue)
	case !(bio.Pain <= g.MaxPain):
		return reason.Deny(reason.PhysioGuardViolation, "pain %.3f > max %.3f", bio.Pain, g.MaxPain)
	}
	return nil
}

// #endregion evaluator
