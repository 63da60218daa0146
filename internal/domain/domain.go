// Package domain defines the finite set of mutation domains, their immutable
// policies and per-epoch usage accumulators.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// #region id
// ID is a recognised mutation domain.
type ID string

const (
	Unrecognized     ID = ""
	DefensiveMicro   ID = "defensive_micro"
	ReflexSafety     ID = "reflex_safety"
	SensoryClarity   ID = "sensory_clarity"
	AttentionRouting ID = "attention_routing"
	EvolutionUpgrade ID = "evolution_upgrade"
	WaveLoad         ID = "wave_load"
	SmartAutonomy    ID = "smart_autonomy"
)

// Known lists every recognised domain.
var Known = []ID{DefensiveMicro, ReflexSafety, SensoryClarity, AttentionRouting, EvolutionUpgrade, WaveLoad, SmartAutonomy}

// aliases is the single string-to-variant table used at the boundary.
var aliases = map[string]ID{
	"defensive_micro":   DefensiveMicro,
	"defensive-micro":   DefensiveMicro,
	"bio.defense.trait": DefensiveMicro,

	"reflex_safety":               ReflexSafety,
	"neuromorph-reflex-micro":     ReflexSafety,
	"evo.reflex.safety":           ReflexSafety,
	"evolution.neuromorph.reflex": ReflexSafety,

	"sensory_clarity":            SensoryClarity,
	"neuromorph-sense-micro":     SensoryClarity,
	"evo.sense.clarity":          SensoryClarity,
	"evolution.neuromorph.sense": SensoryClarity,

	"attention_routing":              AttentionRouting,
	"neuromorph-attention-micro":     AttentionRouting,
	"evo.attention.routing":          AttentionRouting,
	"evolution.neuromorph.attention": AttentionRouting,

	"evolution_upgrade": EvolutionUpgrade,
	"wave_load":         WaveLoad,
	"smart_autonomy":    SmartAutonomy,
}

// Parse maps a free-form domain label to its ID. Unknown labels return
// Unrecognized and an UnrecognizedDomain denial; there is no default domain.
func Parse(s string) (ID, error) {
	if id, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return id, nil
	}
	return Unrecognized, reason.Deny(reason.UnrecognizedDomain, "domain %q", s)
}

// Neuromorphic reports whether the domain is one of the software-only
// neuromorphic micro-evolution domains.
func (id ID) Neuromorphic() bool {
	return id == ReflexSafety || id == SensoryClarity || id == AttentionRouting
}

func (id ID) String() string {
	if id == Unrecognized {
		return "unrecognized"
	}
	return string(id)
}

// #endregion id

// #region policy
// Policy is the immutable, domain-scoped configuration consulted by the
// admission layers.
type Policy struct {
	ID                       ID
	Name                     string
	LifeforceFloor           float32 // minimum normalized lifeforce, 0.0–1.0
	EcoCeilingPerEpoch       float64 // cost budget per epoch
	ScaleLimitPerEpoch       float32 // fractional budget per epoch, 0.0–1.0
	AllowTemporaryDenialOnly bool    // must be true: domains are never permanently banned
	DeclaresStructuralBans   bool
	CorridorID               string // empty when the domain has no corridor guard
}

// AssertPolicyRespectsDoctrine rejects any policy that encodes, or could
// encode, a permanent ban. This is a configuration-time check.
func AssertPolicyRespectsDoctrine(p Policy) error {
	if p.DeclaresStructuralBans {
		return reason.Deny(reason.StructuralBanAttempted, "domain %s declares structural bans", p.ID)
	}
	if !p.AllowTemporaryDenialOnly {
		return reason.Deny(reason.StructuralBanAttempted, "domain %s allows permanent denial", p.ID)
	}
	return nil
}

// #endregion policy

// #region epoch-usage
// EpochUsage is the consumption of one domain within one accounting epoch.
type EpochUsage struct {
	EpochID     string  `json:"epoch_id"`
	ScaleUsed   float32 `json:"scale_used"`
	EcoCostUsed float64 `json:"eco_cost_used"`
}

// EpochID returns the hourly epoch key for t, e.g. "2026-01-28T08".
func EpochID(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// Add returns u plus the given consumption.
func (u EpochUsage) Add(scale float32, eco float64) EpochUsage {
	return EpochUsage{EpochID: u.EpochID, ScaleUsed: u.ScaleUsed + scale, EcoCostUsed: u.EcoCostUsed + eco}
}

func (u EpochUsage) String() string {
	return fmt.Sprintf("epoch=%s scale=%.5f eco=%.3f", u.EpochID, u.ScaleUsed, u.EcoCostUsed)
}

// #endregion epoch-usage
