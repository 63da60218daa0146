// Package orchestrator runs one proposal through admission, the usage
// reservation, the ledger commit, the decision log and the proof stream.
package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/audit"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
	"github.com/danielpatrickdp/mutation-gate/internal/logging"
	"github.com/danielpatrickdp/mutation-gate/internal/risk"
	"github.com/danielpatrickdp/mutation-gate/internal/signals"
)

// #endregion

var errDenied = errors.New("denied")

// #region orchestrator-struct

// Orchestrator is the top-level coordinator for a proposal. Reservations for
// the same host, domain and epoch are serialized by the usage store, so the
// ceiling check and the usage increment never interleave.
type Orchestrator struct {
	deps    Deps
	signals *signals.Builder
	logger  *slog.Logger
	now     func() time.Time
}

// #endregion

// #region constructor

// New creates a fully wired orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Engine == nil || deps.Usage == nil || deps.Ledger == nil {
		return nil, errors.New("orchestrator: engine, usage store and ledger are required")
	}
	o := &Orchestrator{deps: deps, signals: deps.Signals, logger: deps.Logger, now: deps.Now}
	if o.signals == nil {
		o.signals = signals.NewBuilder(signals.DefaultBuilderConfig())
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// #endregion

// #region derive

// Derive fills the parts of req that r can supply. Values the request already
// carries win; the band series falls back to the history.
func (o *Orchestrator) Derive(req admission.Request, r Readings) admission.Request {
	if len(req.Bands) == 0 && o.deps.History != nil {
		req.Bands = o.deps.History.Snapshot()
	}
	if req.Before == (risk.Inputs{}) {
		req.Before = o.signals.RiskInputs(r.Before, r.Interface)
	}
	if req.After == (risk.Inputs{}) {
		req.After = o.signals.RiskInputs(r.After, r.Interface)
	}
	if req.Neuromorph == nil && r.Lifeforce != nil && req.Proposal.Domain.Neuromorphic() {
		req.Neuromorph = &admission.NeuromorphInput{
			Lifeforce: *r.Lifeforce,
			Context:   o.signals.Neuromorph(req.Bands, r.Interface),
		}
	}
	return req
}

// #endregion derive

// #region process

// Process admits req against the stored usage of its epoch and, on Allow,
// commits the ledger change and reserves the proposal's costs together.
// Every decision is logged; committed ones also get a proof artifact.
func (o *Orchestrator) Process(ctx context.Context, req admission.Request) (Result, error) {
	if len(req.Bands) == 0 && o.deps.History != nil {
		req.Bands = o.deps.History.Snapshot()
	}
	if req.Now.IsZero() {
		req.Now = o.now().UTC()
	}
	p := req.Proposal

	var (
		dec       admission.Decision
		admitted  admission.Admitted
		rec       ledger.CommitRecord
		committed bool
	)
	usage, err := o.deps.Usage.WithReservation(ctx, p.Host, p.Domain, domain.EpochID(req.Now),
		func(cur domain.EpochUsage) (float32, float64, error) {
			req.Usage = cur
			dec = o.deps.Engine.Admit(req)
			a, ok := dec.Admitted()
			if !ok {
				return 0, 0, errDenied
			}
			r, err := o.deps.Ledger.Commit(ctx, a)
			if err != nil {
				return 0, 0, fmt.Errorf("ledger commit: %w", err)
			}
			admitted, rec, committed = a, r, true
			return p.ScaleCost, p.EcoCost, nil
		})
	res := Result{Decision: dec, Usage: usage}
	if err != nil && !errors.Is(err, errDenied) {
		if committed {
			o.logger.Error("ledger committed but usage reservation failed",
				"decision", dec.ID, "version", rec.VersionID, "err", err)
		}
		return res, err
	}

	entry, err := logging.NewEntry(req, dec, o.deps.ConfigDigest)
	if err != nil {
		return res, err
	}
	if err := logging.LogDecision(ctx, o.deps.Ledger.DB(), entry); err != nil {
		return res, err
	}
	if !committed {
		return res, nil
	}

	res.Commit = &rec
	if err := logging.MarkCommitted(ctx, o.deps.Ledger.DB(), dec.ID, rec.VersionID); err != nil {
		return res, err
	}
	if o.deps.Commits != nil {
		o.deps.Commits.ObserveCommit(rec)
	}
	o.emit(ctx, &res, req, admitted, []byte(entry.RecordJSON))

	o.logger.Info("committed", "proposal", p.ID, "host", p.Host, "domain", p.Domain,
		"seq", rec.Seq, "applied", rec.Applied, "audited", res.Audited)
	return res, nil
}

func (o *Orchestrator) emit(ctx context.Context, res *Result, req admission.Request, a admission.Admitted, provenance []byte) {
	if o.deps.Recorder == nil {
		return
	}
	p := a.Proposal()
	in := audit.Inputs{
		Admitted:   a,
		Commit:     *res.Commit,
		Bands:      req.Bands,
		Usage:      req.Usage,
		Provenance: provenance,
	}
	in.Policy, _ = o.deps.Engine.Policy(p.Domain)
	if o.deps.Scope != nil {
		in.Consent, _ = o.deps.Scope.Lookup(p.Host, p.Domain)
	}
	if o.deps.Env != nil {
		in.Mode = o.deps.Env.Mode()
	}

	art := audit.Build(in)
	res.Artifact = &art
	res.Audited = o.deps.Recorder.Record(ctx, art)
	if !res.Audited && o.deps.Commits != nil {
		o.deps.Commits.IncAuditFailure()
	}
}

// #endregion process

// #region rollback

// Rollback restores host to an earlier version as a new ledger version.
func (o *Orchestrator) Rollback(ctx context.Context, host, versionID string) (ledger.CommitRecord, error) {
	rec, err := o.deps.Ledger.Rollback(ctx, host, versionID)
	if err != nil {
		return ledger.CommitRecord{}, err
	}
	if o.deps.Commits != nil {
		o.deps.Commits.ObserveCommit(rec)
	}
	o.logger.Info("rolled back", "host", host, "target", versionID, "seq", rec.Seq)
	return rec, nil
}

// #endregion rollback
