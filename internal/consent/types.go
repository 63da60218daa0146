package consent

import (
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
)

// #region record
// Record is host-authored, revocable consent for one domain. Proof is opaque
// and verified upstream; here it only matters that the record exists.
type Record struct {
	Host      string    `json:"host" yaml:"host"`
	Domain    domain.ID `json:"domain" yaml:"domain"`
	GrantedAt time.Time `json:"granted_at" yaml:"granted_at"`
	Revocable bool      `json:"revocable" yaml:"revocable"`
	Proof     []byte    `json:"proof,omitempty" yaml:"proof,omitempty"`
}

// #endregion record

// #region token
// Band is the risk band a capability token was issued for.
type Band string

const (
	BandOrdinary Band = "ordinary"
	BandElevated Band = "elevated"
)

// ScopeElevatedResearch must be present on a token used for elevated-risk
// escalation.
const ScopeElevatedResearch = "highrisk_research"

// PhysioGuard is the physiological threshold set carried by a token.
type PhysioGuard struct {
	MinHRV     float32 `json:"min_hrv"`
	MaxTension float32 `json:"max_tension"`
	MaxFatigue float32 `json:"max_fatigue"`
	MaxPain    float32 `json:"max_pain"`
}

// Token is a scoped, time-bounded credential permitting escalation beyond
// the strict risk ceiling.
type Token struct {
	Subject    string      `json:"subject"`
	Band       Band        `json:"band"`
	Scopes     []string    `json:"scopes"`
	MaxEffect  float32     `json:"max_effect"`
	ValidFrom  time.Time   `json:"valid_from"`
	ValidUntil time.Time   `json:"valid_until"`
	Guard      PhysioGuard `json:"guard"`
}

// HasScope reports whether s is among the token scopes.
func (t *Token) HasScope(s string) bool {
	for _, sc := range t.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

// #endregion token

// #region providers
// Scope answers consent questions for a host. Implementations return a
// snapshot; revocation shows up as absence on the next call.
type Scope interface {
	IsDomainAllowed(host string, d domain.ID) bool
	Lookup(host string, d domain.ID) (Record, bool)
}

// MetabolicMode is the automation mode a host has configured.
type MetabolicMode string

const (
	ModeManualOnly        MetabolicMode = "manual_only"
	ModeAutoMicro         MetabolicMode = "auto_micro"
	ModeAutoMicroPlusWave MetabolicMode = "auto_micro_plus_wave"
	ModeUnknown           MetabolicMode = "unknown"
)

// Environment is the runtime safety oracle consulted for automatic paths.
type Environment interface {
	IsEnvironmentSafeForAutomation() bool
	Mode() MetabolicMode
}

// #endregion providers
