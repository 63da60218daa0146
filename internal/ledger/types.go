package ledger

import (
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
)

// #region version
// Version is one immutable snapshot of a host's domain levels.
type Version struct {
	VersionID  string                `json:"version_id"`
	ParentID   string                `json:"parent_id,omitempty"`
	Host       string                `json:"host"`
	Seq        uint64                `json:"seq"`
	Levels     map[domain.ID]float64 `json:"levels"`
	Digest     string                `json:"digest"`
	DecisionID string                `json:"decision_id,omitempty"`
	Action     Action                `json:"action"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Action records how a version came to exist.
type Action string

const (
	ActionGenesis  Action = "genesis"
	ActionCommit   Action = "commit"
	ActionRollback Action = "rollback"
)

// #endregion version

// #region commit-record
// CommitRecord is returned for every state change. Pre and post digests are
// canonical-JSON SHA-256 digests of the host state before and after.
type CommitRecord struct {
	VersionID   string    `json:"version_id"`
	Host        string    `json:"host"`
	Seq         uint64    `json:"seq"`
	Domain      domain.ID `json:"domain,omitempty"`
	Applied     float64   `json:"applied"`
	PreDigest   string    `json:"pre_digest"`
	PostDigest  string    `json:"post_digest"`
	DecisionID  string    `json:"decision_id,omitempty"`
	Action      Action    `json:"action"`
	CommittedAt time.Time `json:"committed_at"`
}

// #endregion commit-record
