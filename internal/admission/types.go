package admission

// #region imports
import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/damping"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
	"github.com/danielpatrickdp/mutation-gate/internal/risk"
)

// #endregion

// #region kind

// Kind classifies a proposed mutation.
type Kind string

const (
	KindParamNudge     Kind = "param_nudge"
	KindThresholdShift Kind = "threshold_shift"
	KindModeShift      Kind = "mode_shift"
	KindPolicyUpdate   Kind = "policy_update"
	KindDomainUpgrade  Kind = "domain_upgrade"
)

// ParseKind validates a kind label.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindParamNudge, KindThresholdShift, KindModeShift, KindPolicyUpdate, KindDomainUpgrade:
		return k, nil
	}
	return "", fmt.Errorf("unknown proposal kind %q", s)
}

// #endregion

// #region proposal

// Proposal is one immutable mutation request. It is consumed by exactly one
// Admit call.
type Proposal struct {
	ID        string          `json:"id"`
	Host      string          `json:"host"`
	Subject   string          `json:"subject"`
	Domain    domain.ID       `json:"domain"`
	Kind      Kind            `json:"kind"`
	Magnitude float32         `json:"magnitude"`  // effect size
	Damping   float32         `json:"damping"`    // raw damping multiplier, must not exceed 1
	RiskBand  risk.Band       `json:"risk_band"`  // strict unless escalating with a token
	Critical  bool            `json:"critical"`   // requires a formal harness
	Auto      bool            `json:"auto"`       // automatic (non-manual) path
	ScaleCost float32         `json:"scale_cost"` // consumption if committed
	EcoCost   float64         `json:"eco_cost"`   // consumption if committed
	Evidence  evidence.Bundle `json:"evidence"`
}

// #endregion

// #region request

// NeuromorphInput carries what neuromorphic eligibility needs.
type NeuromorphInput struct {
	Lifeforce damping.Lifeforce `json:"lifeforce"`
	Context   damping.Context   `json:"context"`
}

// Request is a proposal plus the context snapshots it is judged against.
// Every field is a value the caller owns; Admit does not retain it.
type Request struct {
	Proposal   Proposal          `json:"proposal"`
	Bands      band.Series       `json:"bands"`
	Usage      domain.EpochUsage `json:"usage"`
	Token      *consent.Token    `json:"token,omitempty"`
	Before     risk.Inputs       `json:"before"`
	After      risk.Inputs       `json:"after"`
	Bio        risk.BioState     `json:"bio"`
	Corridor   *corridor.State   `json:"corridor,omitempty"`
	Neuromorph *NeuromorphInput  `json:"neuromorph,omitempty"`
	Now        time.Time         `json:"now"`
}

// #endregion

// #region decision

// Outcome is the terminal verdict of a decision.
type Outcome string

const (
	Allow Outcome = "allow"
	Deny  Outcome = "deny"
)

// Layer names the admission layer that produced a denial.
type Layer string

const (
	LayerHardStop Layer = "hard_stop"
	LayerDomain   Layer = "domain"
	LayerConsent  Layer = "consent"
	LayerBand     Layer = "band"
	LayerCeiling  Layer = "ceiling"
	LayerDamping  Layer = "damping"
	LayerRisk     Layer = "risk"
	LayerCorridor Layer = "corridor"
	LayerEvidence Layer = "evidence"
)

// Decision is the immutable result of one Admit call. Allow carries the
// clamped damping weight; Deny carries the ordered reasons.
type Decision struct {
	ID            string               `json:"id"`
	ProposalID    string               `json:"proposal_id"`
	Host          string               `json:"host"`
	Domain        domain.ID            `json:"domain"`
	Outcome       Outcome              `json:"outcome"`
	Layer         Layer                `json:"layer,omitempty"`
	DampingWeight float32              `json:"damping_weight"`
	Reasons       []reason.Denial      `json:"reasons,omitempty"`
	Risk          *risk.Result         `json:"risk,omitempty"`
	Corridor      *corridor.Decision   `json:"corridor,omitempty"`
	Eligibility   *damping.Eligibility `json:"eligibility,omitempty"`
	DecidedAt     time.Time            `json:"decided_at"`

	admitted *Admitted
}

// Allowed reports whether the proposal was admitted.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Codes returns the denial codes in order.
func (d Decision) Codes() []reason.Code { return reason.Codes(d.Reasons) }

// Admitted returns the sealed commit permit of an Allow decision.
func (d Decision) Admitted() (Admitted, bool) {
	if d.admitted == nil {
		return Admitted{}, false
	}
	return *d.admitted, true
}

// #endregion

// #region admitted

type seal struct{}

var engineSeal = &seal{}

// Admitted is the only value a committer accepts. Its fields are unexported
// and it is produced only by Engine.Admit on Allow; a zero or hand-built
// value reports Valid() == false.
type Admitted struct {
	decisionID string
	proposal   Proposal
	weight     float32
	epochID    string
	decidedAt  time.Time
	seal       *seal
}

// Valid reports whether a came from an Allow decision.
func (a Admitted) Valid() bool { return a.seal == engineSeal }

func (a Admitted) DecisionID() string   { return a.decisionID }
func (a Admitted) Proposal() Proposal   { return a.proposal }
func (a Admitted) Weight() float32      { return a.weight }
func (a Admitted) EpochID() string      { return a.epochID }
func (a Admitted) DecidedAt() time.Time { return a.decidedAt }

// EffectiveMagnitude is the proposal magnitude after damping.
func (a Admitted) EffectiveMagnitude() float32 { return a.proposal.Magnitude * a.weight }

// #endregion

// #region observer

// Observer receives every decision. Implementations must not block; a
// panicking observer is recovered.
type Observer interface {
	ObserveDecision(d Decision)
}

// #endregion
