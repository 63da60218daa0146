// Package ceiling compares per-epoch domain usage against policy ceilings and
// keeps the usage accumulator that feeds that comparison.
package ceiling

import (
	"math"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// #region check
// Check fails CapacityExceeded when either budget is strictly above its
// ceiling or is NaN. Usage equal to a ceiling passes. Check never mutates
// usage.
func Check(p domain.Policy, u domain.EpochUsage) error {
	if !(u.ScaleUsed <= p.ScaleLimitPerEpoch) {
		return reason.Deny(reason.CapacityExceeded, "%s scale %.5f > limit %.5f in epoch %s",
			p.ID, u.ScaleUsed, p.ScaleLimitPerEpoch, u.EpochID)
	}
	if !(u.EcoCostUsed <= p.EcoCeilingPerEpoch) {
		return reason.Deny(reason.CapacityExceeded, "%s eco %.3f > ceiling %.3f in epoch %s",
			p.ID, u.EcoCostUsed, p.EcoCeilingPerEpoch, u.EpochID)
	}
	return nil
}

// CheckCharge fails CapacityExceeded when a proposal's costs are negative or
// not finite; such a charge would corrupt the accumulator.
func CheckCharge(scale float32, eco float64) error {
	if !(scale >= 0) || math.IsInf(float64(scale), 1) {
		return reason.Deny(reason.CapacityExceeded, "scale cost %v is not a finite non-negative value", scale)
	}
	if !(eco >= 0) || math.IsInf(eco, 1) {
		return reason.Deny(reason.CapacityExceeded, "eco cost %v is not a finite non-negative value", eco)
	}
	return nil
}

// Headroom returns the remaining budget on each axis, floored at zero.
func Headroom(p domain.Policy, u domain.EpochUsage) (scale float32, eco float64) {
	scale = p.ScaleLimitPerEpoch - u.ScaleUsed
	if scale < 0 {
		scale = 0
	}
	eco = p.EcoCeilingPerEpoch - u.EcoCostUsed
	if eco < 0 {
		eco = 0
	}
	return scale, eco
}

// #endregion check
