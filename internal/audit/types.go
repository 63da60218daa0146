package audit

import (
	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
)

// EcoBand buckets eco consumption against the epoch ceiling.
type EcoBand string

const (
	EcoLow    EcoBand = "low"
	EcoMedium EcoBand = "medium"
	EcoHigh   EcoBand = "high"
)

// OriginPlane labels artifacts written by this engine.
const OriginPlane = "mutation_gate"

// EventSummary is the non-sensitive view of the committed event.
type EventSummary struct {
	EventID string    `json:"event_id"`
	Domain  domain.ID `json:"domain"`
	Reason  string    `json:"reason,omitempty"`
}

// ProofArtifact is one host-local attestation of a committed state change.
// It carries digests and coarse bands only, never raw state.
type ProofArtifact struct {
	Host             string                `json:"host"`
	UTCMillis        int64                 `json:"utc_ms"`
	OriginPlane      string                `json:"origin_plane"`
	Event            EventSummary          `json:"event"`
	PreDigest        string                `json:"pre_state_digest"`
	PostDigest       string                `json:"post_state_digest"`
	Seq              uint64                `json:"seqno"`
	LifeforceBand    band.Safety           `json:"lifeforce_band"`
	LifeforceOK      bool                  `json:"lifeforce_ok"`
	EcoBand          EcoBand               `json:"eco_band"`
	EcoCostHint      float64               `json:"eco_cost_hint"`
	MetabolicMode    consent.MetabolicMode `json:"metabolic_mode"`
	ConsentDigest    string                `json:"consent_digest,omitempty"`
	ProvenanceDigest string                `json:"provenance_digest,omitempty"`
	AuditID          string                `json:"audit_id,omitempty"`

	// PrevHash chains each line to the one before it. Set by the emitter.
	PrevHash string `json:"prev_hash"`
}
