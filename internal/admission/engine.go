// Package admission composes the admission layers into the single entry
// point that decides whether a proposed mutation may commit.
package admission

// #region imports
import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/ceiling"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/damping"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
	"github.com/danielpatrickdp/mutation-gate/internal/risk"
)

// #endregion

// #region config

// Config is everything the engine needs at construction. It is validated
// once by New; a bad Config prevents the engine from existing.
type Config struct {
	Policies        []domain.Policy
	Risk            risk.Model
	Corridors       *corridor.Registry
	RequiredTags    [evidence.BundleSize]evidence.Tag
	UnitTests       evidence.Indexer
	FormalHarnesses evidence.Indexer
	HostEnvelope    damping.HostEnvelope
}

// Option customizes an Engine.
type Option func(*Engine)

// WithMetrics routes corridor observations to sink.
func WithMetrics(sink corridor.MetricsSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithObserver registers an observer for every decision.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the clock used when a request carries no timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// #endregion

// #region engine-struct

// Engine is the admission orchestrator. It holds only immutable
// configuration and is safe for concurrent use.
type Engine struct {
	policies  map[domain.ID]domain.Policy
	risk      *risk.Evaluator
	corridors *corridor.Registry
	required  [evidence.BundleSize]evidence.Tag
	tests     evidence.Indexer
	harnesses evidence.Indexer
	hostEnv   damping.HostEnvelope

	scope consent.Scope
	env   consent.Environment

	sink      corridor.MetricsSink
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// #endregion

// #region constructor

// New validates cfg and returns an engine bound to the given consent and
// environment providers. Every configuration violation is reported.
func New(cfg Config, scope consent.Scope, env consent.Environment, opts ...Option) (*Engine, error) {
	var errs []error

	if scope == nil {
		errs = append(errs, errors.New("admission: consent scope provider is required"))
	}
	if env == nil {
		errs = append(errs, errors.New("admission: environment oracle is required"))
	}
	if cfg.UnitTests == nil || cfg.FormalHarnesses == nil {
		errs = append(errs, errors.New("admission: unit test and formal harness indexes are required"))
	}
	if cfg.Corridors == nil {
		cfg.Corridors = corridor.NewRegistry()
	}

	policies := make(map[domain.ID]domain.Policy, len(cfg.Policies))
	for _, p := range cfg.Policies {
		if err := domain.AssertPolicyRespectsDoctrine(p); err != nil {
			errs = append(errs, fmt.Errorf("policy %s: %w", p.ID, err))
		}
		if p.ID == domain.Unrecognized {
			errs = append(errs, errors.New("policy with unrecognized domain id"))
		}
		if _, dup := policies[p.ID]; dup {
			errs = append(errs, fmt.Errorf("policy %s defined twice", p.ID))
		}
		if p.CorridorID != "" {
			if _, ok := cfg.Corridors.Lookup(p.CorridorID); !ok {
				errs = append(errs, fmt.Errorf("policy %s: corridor %s not registered", p.ID, p.CorridorID))
			}
		}
		policies[p.ID] = p
	}

	seen := make(map[evidence.Tag]bool, evidence.BundleSize)
	for _, t := range cfg.RequiredTags {
		if t == "" || seen[t] {
			errs = append(errs, fmt.Errorf("evidence registry tag %q is empty or duplicated", t))
			break
		}
		seen[t] = true
	}

	ev, err := risk.NewEvaluator(cfg.Risk)
	if err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	e := &Engine{
		policies:  policies,
		risk:      ev,
		corridors: cfg.Corridors,
		required:  cfg.RequiredTags,
		tests:     cfg.UnitTests,
		harnesses: cfg.FormalHarnesses,
		hostEnv:   cfg.HostEnvelope,
		scope:     scope,
		env:       env,
		sink:      corridor.NopSink{},
		logger:    slog.Default().With("component", "admission"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the policy for d.
func (e *Engine) Policy(d domain.ID) (domain.Policy, bool) {
	p, ok := e.policies[d]
	return p, ok
}

// Domains returns the configured domains, sorted.
func (e *Engine) Domains() []domain.ID {
	out := make([]domain.ID, 0, len(e.policies))
	for d := range e.policies {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// #endregion

// #region admit

// Admit runs the layers in fixed order and returns the first denial, or an
// Allow carrying the clamped damping weight and a sealed commit permit.
// A HardStop last sample is checked before anything else.
func (e *Engine) Admit(req Request) Decision {
	p := req.Proposal
	now := req.Now
	if now.IsZero() {
		now = e.now()
	}
	d := Decision{
		ID:         uuid.NewString(),
		ProposalID: p.ID,
		Host:       p.Host,
		Domain:     p.Domain,
		DecidedAt:  now.UTC(),
	}

	weight, layer, err := e.evaluate(req, now, &d)
	if err != nil {
		d.Outcome = Deny
		d.Layer = layer
		if len(d.Reasons) == 0 {
			d.Reasons = []reason.Denial{asDenial(err)}
		}
		e.logger.Debug("denied", "proposal", p.ID, "host", p.Host, "domain", p.Domain, "layer", layer, "codes", d.Codes())
	} else {
		d.Outcome = Allow
		d.DampingWeight = weight
		d.admitted = &Admitted{
			decisionID: d.ID,
			proposal:   p,
			weight:     weight,
			epochID:    req.Usage.EpochID,
			decidedAt:  d.DecidedAt,
			seal:       engineSeal,
		}
		e.logger.Debug("allowed", "proposal", p.ID, "host", p.Host, "domain", p.Domain, "weight", weight)
	}

	e.notify(d)
	return d
}

func (e *Engine) evaluate(req Request, now time.Time, d *Decision) (float32, Layer, error) {
	p := req.Proposal

	// 1. HardStop pre-gate, independent of consent and tokens
	if req.Bands.IsHardStop() {
		return 0, LayerHardStop, band.AssertSafe(req.Bands, 0)
	}

	// 2. Domain policy
	policy, ok := e.policies[p.Domain]
	if !ok {
		return 0, LayerDomain, reason.Deny(reason.UnrecognizedDomain, "no policy for domain %s", p.Domain)
	}

	// 3. Consent and capability
	if err := consent.Verify(e.scope, p.Host, p.Domain); err != nil {
		return 0, LayerConsent, err
	}
	if err := consent.VerifyEnvironment(e.env, p.Auto); err != nil {
		return 0, LayerConsent, err
	}
	if p.RiskBand == risk.Elevated {
		if err := consent.VerifyToken(req.Token, p.Subject, string(p.Kind), e.risk.Model().RequiredScope, now); err != nil {
			return 0, LayerConsent, err
		}
	}

	// 4. Safety band floor
	if err := band.AssertSafe(req.Bands, policy.LifeforceFloor); err != nil {
		return 0, LayerBand, err
	}

	// 5. Resource ceilings
	if err := ceiling.Check(policy, req.Usage); err != nil {
		return 0, LayerCeiling, err
	}
	if err := ceiling.CheckCharge(p.ScaleCost, p.EcoCost); err != nil {
		return 0, LayerCeiling, err
	}

	// 6. Damping
	weight, err := damping.Clamp(p.Damping)
	if err != nil {
		return 0, LayerDamping, err
	}
	if p.Domain.Neuromorphic() {
		if req.Neuromorph == nil {
			return 0, LayerDamping, reason.Deny(reason.BelowFloor, "neuromorph eligibility: no lifeforce or context supplied for %s", p.Domain)
		}
		el, err := damping.CheckEligibility(p.Domain, req.Neuromorph.Lifeforce, e.hostEnv, req.Neuromorph.Context)
		if err != nil {
			return 0, LayerDamping, reason.Deny(reason.BelowFloor, "neuromorph eligibility: %v", err)
		}
		d.Eligibility = &el
		if !el.Allowed {
			return 0, LayerDamping, reason.Deny(reason.BelowFloor, "neuromorph eligibility: %s", el.Tag)
		}
		if p.Auto && !el.AutoAllowed {
			return 0, LayerDamping, reason.Deny(reason.EnvironmentUnsafe, "smart below automation threshold; manual path required")
		}
		weight *= el.Weight
	}

	// 7. Risk of harm
	res, err := e.risk.Evaluate(risk.EvalRequest{
		Before:  req.Before,
		After:   req.After,
		Band:    p.RiskBand,
		Token:   req.Token,
		Subject: p.Subject,
		Kind:    string(p.Kind),
		Effect:  p.Magnitude,
		Bio:     req.Bio,
		Now:     now,
	})
	d.Risk = &res
	if err != nil {
		return 0, LayerRisk, err
	}

	// 8. Corridor, exhaustive
	if policy.CorridorID != "" {
		k, _ := e.corridors.Lookup(policy.CorridorID)
		if req.Corridor == nil {
			return 0, LayerCorridor, reason.Breach("state", "no corridor state supplied for "+policy.CorridorID)
		}
		cd := k.CheckAndDecide(*req.Corridor, corridor.Identity{Host: p.Host, Subject: p.Subject}, e.sink)
		d.Corridor = &cd
		if !cd.Allowed {
			d.Reasons = append([]reason.Denial(nil), cd.Breaches...)
			return 0, LayerCorridor, &cd.Breaches[0]
		}
	}

	// 9. Evidence and coverage
	if err := evidence.CheckEvidence(p.Evidence, e.required); err != nil {
		return 0, LayerEvidence, err
	}
	if err := evidence.CheckCoverage(p.ID, p.Critical, e.tests, e.harnesses); err != nil {
		return 0, LayerEvidence, err
	}

	return weight, "", nil
}

// #endregion

// #region helpers

func asDenial(err error) reason.Denial {
	var dn *reason.Denial
	if errors.As(err, &dn) {
		return *dn
	}
	// Every layer returns a Denial; anything else is treated as a floor failure.
	return reason.Denial{Code: reason.BelowFloor, Detail: err.Error()}
}

func (e *Engine) notify(d Decision) {
	for _, o := range e.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("decision observer panicked", "panic", r)
				}
			}()
			o.ObserveDecision(d)
		}()
	}
}

// #endregion
