package orchestrator

import (
	"log/slog"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/audit"
	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/ceiling"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/damping"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
	"github.com/danielpatrickdp/mutation-gate/internal/signals"
)

// #region deps

// CommitObserver is told about every ledger change and every proof artifact
// that could not be written.
type CommitObserver interface {
	ObserveCommit(rec ledger.CommitRecord)
	IncAuditFailure()
}

// Deps wires an Orchestrator. Engine, Usage and Ledger are required.
type Deps struct {
	Engine  *admission.Engine
	Usage   *ceiling.UsageStore
	Ledger  *ledger.Store
	Scope   consent.Scope
	Env     consent.Environment
	History *band.History // used when a request carries no band samples
	Signals *signals.Builder

	Recorder *audit.Recorder
	Commits  CommitObserver

	ConfigDigest string
	Logger       *slog.Logger
	Now          func() time.Time
}

// #endregion deps

// #region result

// Result is what one proposal produced.
type Result struct {
	Decision admission.Decision   `json:"decision"`
	Usage    domain.EpochUsage    `json:"usage"`
	Commit   *ledger.CommitRecord `json:"commit,omitempty"`
	Artifact *audit.ProofArtifact `json:"artifact,omitempty"`
	Audited  bool                 `json:"audited"`
}

// #endregion result

// #region readings

// Readings are raw measurements taken alongside a proposal. Derive turns them
// into the risk inputs and neuromorphic context the engine judges.
type Readings struct {
	Lifeforce *damping.Lifeforce        `json:"lifeforce,omitempty"`
	Interface signals.InterfaceSnapshot `json:"interface"`
	Before    signals.Physio            `json:"before"`
	After     signals.Physio            `json:"after"`
}

// #endregion readings
