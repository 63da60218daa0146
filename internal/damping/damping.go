// Package damping holds the monotone-only damping clamp and the neuromorphic
// eligibility weight that feeds it.
package damping

import (
	"errors"
	"fmt"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// #region clamp
// Clamp validates a raw damping multiplier. Values above 1.0 would amplify
// downstream magnitudes and are rejected; negatives clamp to 0.0.
func Clamp(raw float32) (float32, error) {
	if raw > 1.0 {
		return 0, reason.Deny(reason.AmplificationForbidden, "damping %.6f > 1.0", raw)
	}
	if raw < 0 || raw != raw {
		return 0, nil
	}
	return raw, nil
}

// #endregion clamp

// #region lifeforce-errors
var (
	ErrBloodDepletion  = errors.New("blood at or below host minimum")
	ErrOxygenDepletion = errors.New("oxygen at or below host minimum")
	ErrSmartOverMax    = errors.New("smart above smart_max or brain")
)

// #endregion lifeforce-errors

// #region neuromorph-eligibility
// CheckEligibility decides whether a neuromorphic upgrade may be proposed and
// with what damping weight. It is pure. Blood, oxygen and SMART violations are
// errors; every other refusal is an Eligibility with Allowed=false and a tag.
// A NaN reading fails whichever check it reaches first.
func CheckEligibility(d domain.ID, lf Lifeforce, env HostEnvelope, ctx Context) (Eligibility, error) {
	if !d.Neuromorphic() {
		return Eligibility{}, fmt.Errorf("domain %s is not neuromorphic", d)
	}

	if !(lf.Brain >= env.BrainMin) {
		return denied(d, "brain_below_min"), nil
	}
	if !(lf.Blood > env.BloodMin) {
		return Eligibility{}, ErrBloodDepletion
	}
	if !(lf.Oxygen > env.OxygenMin) {
		return Eligibility{}, ErrOxygenDepletion
	}

	// SMART stays under both smart_max and BRAIN.
	if !(lf.Smart <= env.SmartMax) || !(lf.Smart <= lf.Brain) {
		return Eligibility{}, fmt.Errorf("%w: smart=%.4f smart_max=%.4f brain=%.4f", ErrSmartOverMax, lf.Smart, env.SmartMax, lf.Brain)
	}

	var smartFrac float64
	if lf.Brain > 0 {
		smartFrac = max(lf.Smart/lf.Brain, 0)
	}
	if !(smartFrac >= SmartHardFloor) {
		return denied(d, "smart_too_low_for_neuromorph"), nil
	}
	auto := smartFrac >= SmartAutoThreshold

	discomfort := unit(ctx.Discomfort)
	overload := unit(ctx.Overload)
	instability := unit(ctx.Instability)
	scaleUse := unit(ctx.ScaleUsage)

	if !(discomfort <= DiscomfortHardStop) {
		return denied(d, "discomfort_hard_stop"), nil
	}
	if !(overload <= OverloadHardStop) {
		return denied(d, "overload_hard_stop"), nil
	}

	weight := float32(1.0)
	weight -= discomfortCoeff * discomfort
	weight -= overloadCoeff * overload
	weight -= instabilityCoeff * instability
	weight -= scaleUsageCoeff * scaleUse

	switch d {
	case domain.ReflexSafety:
		weight = max(weight, 0.25)
	case domain.SensoryClarity:
		weight = min(max(weight+0.1, 0.2), 0.9)
	case domain.AttentionRouting:
		weight = min(max(weight, 0.2), 0.7)
	}

	if !(weight > 0) {
		return denied(d, "decay_weight_zero"), nil
	}

	mode := "manual_only"
	if auto {
		mode = "auto_micro"
	}
	return Eligibility{
		Domain:      d,
		Allowed:     true,
		Weight:      unit(weight),
		AutoAllowed: auto,
		Tag:         fmt.Sprintf("allowed_%s_%s", d, mode),
	}, nil
}

func unit(v float32) float32 {
	return min(max(v, 0), 1)
}

// #endregion neuromorph-eligibility
