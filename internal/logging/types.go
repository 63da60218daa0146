package logging

import (
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
)

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	DecisionID string
	ProposalID string
	Host       string
	Domain     string
	Outcome    string // "allow" | "deny"
	Layer      string
	Codes      string // comma-separated reason codes
	RecordJSON string
	VersionID  string // ledger version, set once committed
	CreatedAt  time.Time
}

// #endregion decision-entry

// #region decision-record
// DecisionRecord captures the complete admission inputs and output for one
// proposal. Serialized as JSON into decision_log.record_json for
// deterministic replay.
type DecisionRecord struct {
	Request  admission.Request  `json:"request"`
	Decision admission.Decision `json:"decision"`

	// Engine configuration fingerprint active at decision time
	ConfigDigest string `json:"config_digest,omitempty"`
}

// #endregion decision-record
