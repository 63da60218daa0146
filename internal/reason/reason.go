// Package reason holds the closed set of denial codes shared by every
// admission layer.
package reason

import (
	"errors"
	"fmt"
)

// #region code
// Code is a stable, machine-readable denial reason.
type Code string

const (
	HardStop                 Code = "hard_stop"
	NoSamples                Code = "no_samples"
	BelowFloor               Code = "below_floor"
	NoValidConsent           Code = "no_valid_consent"
	TokenMissing             Code = "token_missing"
	TokenExpired             Code = "token_expired"
	ScopeMissing             Code = "scope_missing"
	SubjectMismatch          Code = "subject_mismatch"
	WrongBand                Code = "wrong_band"
	KindNotPermitted         Code = "kind_not_permitted"
	EnvironmentUnsafe        Code = "environment_unsafe"
	UnrecognizedDomain       Code = "unrecognized_domain"
	CapacityExceeded         Code = "capacity_exceeded"
	AmplificationForbidden   Code = "amplification_forbidden"
	StrictCeilingViolation   Code = "strict_ceiling_violation"
	ElevatedCeilingViolation Code = "elevated_ceiling_violation"
	EffectSizeExceeded       Code = "effect_size_exceeded"
	PhysioGuardViolation     Code = "physio_guard_violation"
	CorridorBreach           Code = "corridor_breach"
	WrongCardinality         Code = "wrong_cardinality"
	MissingRequiredTags      Code = "missing_required_tags"
	MissingUnitTest          Code = "missing_unit_test"
	MissingFormalHarness     Code = "missing_formal_harness"
	StructuralBanAttempted   Code = "structural_ban_attempted"
)

// All lists every code in declaration order.
var All = []Code{
	HardStop, NoSamples, BelowFloor, NoValidConsent,
	TokenMissing, TokenExpired, ScopeMissing, SubjectMismatch, WrongBand, KindNotPermitted,
	EnvironmentUnsafe, UnrecognizedDomain, CapacityExceeded, AmplificationForbidden,
	StrictCeilingViolation, ElevatedCeilingViolation, EffectSizeExceeded, PhysioGuardViolation,
	CorridorBreach, WrongCardinality, MissingRequiredTags, MissingUnitTest, MissingFormalHarness,
	StructuralBanAttempted,
}

// Known reports whether c belongs to the closed set.
func Known(c Code) bool {
	for _, k := range All {
		if k == c {
			return true
		}
	}
	return false
}

// #endregion code

// #region denial
// Denial is a single reason a proposal was refused. It implements error so
// layers can return it through ordinary error paths.
type Denial struct {
	Code      Code   `json:"code"`
	Dimension string `json:"dimension,omitempty"` // corridor group, only for CorridorBreach
	Detail    string `json:"detail,omitempty"`
}

// Deny builds a Denial with a formatted detail message.
func Deny(code Code, format string, args ...any) *Denial {
	return &Denial{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Breach builds a CorridorBreach denial for one corridor dimension group.
func Breach(dimension, detail string) *Denial {
	return &Denial{Code: CorridorBreach, Dimension: dimension, Detail: detail}
}

func (d *Denial) Error() string {
	label := string(d.Code)
	if d.Dimension != "" {
		label = fmt.Sprintf("%s{%s}", d.Code, d.Dimension)
	}
	if d.Detail == "" {
		return label
	}
	return label + ": " + d.Detail
}

// Is matches another *Denial by code and dimension so errors.Is works against
// a bare template such as &Denial{Code: HardStop}.
func (d *Denial) Is(target error) bool {
	t, ok := target.(*Denial)
	if !ok {
		return false
	}
	if t.Code != d.Code {
		return false
	}
	return t.Dimension == "" || t.Dimension == d.Dimension
}

// #endregion denial

// #region helpers
// CodeOf extracts the denial code from err, or "" when err is nil or not a Denial.
func CodeOf(err error) Code {
	var d *Denial
	if errors.As(err, &d) {
		return d.Code
	}
	return ""
}

// Codes flattens a denial list into its codes, preserving order.
func Codes(ds []Denial) []Code {
	out := make([]Code, len(ds))
	for i, d := range ds {
		out[i] = d.Code
	}
	return out
}

// #endregion helpers
