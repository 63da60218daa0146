package admission

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/damping"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
	"github.com/danielpatrickdp/mutation-gate/internal/risk"
)

// #region fixtures

var now = time.Date(2026, 1, 28, 8, 30, 0, 0, time.UTC)

type countingSink struct {
	mu       sync.Mutex
	breaches []corridor.Group
	observed int
}

func (c *countingSink) IncCorridorBreach(_ string, g corridor.Group, _ float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breaches = append(c.breaches, g)
}

func (c *countingSink) ObserveKernelDistance(string, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed++
}

func (c *countingSink) ObserveKnowledgeFactor(string, float64) {}

type recordingObserver struct {
	mu        sync.Mutex
	decisions []Decision
}

func (r *recordingObserver) ObserveDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

type panickyObserver struct{}

func (panickyObserver) ObserveDecision(Decision) { panic("observer down") }

func testConfig() Config {
	return Config{
		Policies: []domain.Policy{
			{
				ID:                       domain.DefensiveMicro,
				LifeforceFloor:           0.35,
				EcoCeilingPerEpoch:       10.0,
				ScaleLimitPerEpoch:       0.5,
				AllowTemporaryDenialOnly: true,
				CorridorID:               corridor.GazeV1ID,
			},
			{
				ID:                       domain.ReflexSafety,
				LifeforceFloor:           0.35,
				EcoCeilingPerEpoch:       10.0,
				ScaleLimitPerEpoch:       0.5,
				AllowTemporaryDenialOnly: true,
			},
		},
		Risk:            risk.DefaultModel(),
		Corridors:       corridor.NewRegistry(corridor.NewGazeV1(corridor.DefaultGazeEnvelope())),
		RequiredTags:    evidence.DefaultRequired,
		UnitTests:       evidence.Index{"prop-1": {"TestProp1"}},
		FormalHarnesses: evidence.Index{"prop-1": {"harness_prop1"}},
		HostEnvelope:    damping.HostEnvelope{BrainMin: 0.3, BloodMin: 0.2, OxygenMin: 0.2, SmartMax: 0.5},
	}
}

func testScope() *consent.StaticScope {
	return consent.NewStaticScope(
		consent.Record{Host: "host-a", Domain: domain.DefensiveMicro, GrantedAt: now.Add(-24 * time.Hour), Revocable: true},
		consent.Record{Host: "host-a", Domain: domain.ReflexSafety, GrantedAt: now.Add(-24 * time.Hour), Revocable: true},
	)
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(testConfig(), testScope(), consent.StaticEnvironment{Safe: true, MetabolicMode: consent.ModeAutoMicro}, opts...)
	require.NoError(t, err)
	return e
}

func flat(v float32) risk.Inputs {
	return risk.Inputs{Fatigue: v, Tension: v, Pain: v, CognitiveLoad: v, Thermal: v, Instability: v}
}

func nominalCorridor() *corridor.State {
	return &corridor.State{
		SpatialErrorCm:       0.10,
		EventEnergyJ:         0.01,
		SessionEnergyJ:       1.0,
		DailyEnergyJ:         5.0,
		SbioLoadIndex:        0.1,
		LocalThermalDeltaC:   0.2,
		GlobalThermalDeltaC:  0.1,
		SessionDutyFraction:  0.2,
		InterEventMs:         40,
		ContinuousBurstMs:    200,
		CooldownSinceBurstMs: 400,
		HRVRatio:             0.95,
		EEGBetaGammaLoad:     0.4,
		RohEstimateWindow:    0.15,
	}
}

func elevatedToken() *consent.Token {
	return &consent.Token{
		Subject:    "host-a",
		Band:       consent.BandElevated,
		Scopes:     []string{consent.ScopeElevatedResearch},
		MaxEffect:  0.2,
		ValidFrom:  now.Add(-time.Hour),
		ValidUntil: now.Add(time.Hour),
		Guard:      consent.PhysioGuard{MinHRV: 40, MaxTension: 0.6, MaxFatigue: 0.6, MaxPain: 0.4},
	}
}

// passing builds a request that clears every layer.
func passing() Request {
	return Request{
		Proposal: Proposal{
			ID:        "prop-1",
			Host:      "host-a",
			Subject:   "host-a",
			Domain:    domain.DefensiveMicro,
			Kind:      KindParamNudge,
			Magnitude: 0.1,
			Damping:   0.8,
			RiskBand:  risk.Strict,
			Critical:  true,
			ScaleCost: 0.05,
			EcoCost:   1,
			Evidence:  evidence.DefaultBundle(),
		},
		Bands: band.Series{
			{At: now.Add(-time.Minute), Band: band.Safe, Lifeforce: 0.8},
			{At: now, Band: band.Safe, Lifeforce: 0.7},
		},
		Usage:    domain.EpochUsage{EpochID: domain.EpochID(now), ScaleUsed: 0.1, EcoCostUsed: 2},
		Before:   flat(0.25),
		After:    flat(0.2),
		Bio:      risk.BioState{HRV: 55, Tension: 0.3, Fatigue: 0.3, Pain: 0.1},
		Corridor: nominalCorridor(),
		Now:      now,
	}
}

func elevatedPassing() Request {
	req := passing()
	req.Proposal.RiskBand = risk.Elevated
	req.Token = elevatedToken()
	req.After = flat(0.35)
	return req
}

// #endregion fixtures

// #region allow

func TestAdmitAllowsWhenEveryLayerPasses(t *testing.T) {
	obs := &recordingObserver{}
	d := newEngine(t, WithObserver(obs)).Admit(passing())

	require.True(t, d.Allowed(), "%v", d.Reasons)
	assert.Empty(t, d.Reasons)
	assert.InDelta(t, 0.8, d.DampingWeight, 1e-6)
	assert.NotEmpty(t, d.ID)
	require.NotNil(t, d.Corridor)
	assert.True(t, d.Corridor.Allowed)

	a, ok := d.Admitted()
	require.True(t, ok)
	assert.True(t, a.Valid())
	assert.Equal(t, d.ID, a.DecisionID())
	assert.InDelta(t, 0.08, a.EffectiveMagnitude(), 1e-6)
	assert.Equal(t, domain.EpochID(now), a.EpochID())

	require.Len(t, obs.decisions, 1)
	assert.Equal(t, d.ID, obs.decisions[0].ID)
}

func TestAdmitElevatedAllowsRiskIncreaseWithToken(t *testing.T) {
	d := newEngine(t).Admit(elevatedPassing())
	require.True(t, d.Allowed(), "%v", d.Reasons)
	require.NotNil(t, d.Risk)
	assert.Greater(t, d.Risk.After, d.Risk.Before)
}

func TestZeroAdmittedIsInvalid(t *testing.T) {
	assert.False(t, Admitted{}.Valid())

	d := newEngine(t).Admit(Request{Proposal: Proposal{ID: "x"}})
	_, ok := d.Admitted()
	assert.False(t, ok)
}

// #endregion allow

// #region hard-stop

func TestHardStopDominatesEveryOtherLayer(t *testing.T) {
	req := elevatedPassing()
	req.Bands = append(req.Bands, band.Sample{At: now, Band: band.HardStop, Lifeforce: 1.0})

	d := newEngine(t).Admit(req)
	require.False(t, d.Allowed())
	assert.Equal(t, []reason.Code{reason.HardStop}, d.Codes())
	assert.Equal(t, LayerHardStop, d.Layer)
}

func TestHardStopPrecedesConsentFailure(t *testing.T) {
	scope := testScope()
	scope.Revoke("host-a", domain.DefensiveMicro)
	e, err := New(testConfig(), scope, consent.StaticEnvironment{Safe: false})
	require.NoError(t, err)

	req := passing()
	req.Proposal.Auto = true
	req.Bands = band.Series{{At: now, Band: band.HardStop, Lifeforce: 0.9}}
	assert.Equal(t, []reason.Code{reason.HardStop}, e.Admit(req).Codes())
}

func TestHardStopProperty(t *testing.T) {
	e := newEngine(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("last sample hard_stop always denies with hard_stop", prop.ForAll(
		func(dampingRaw, magnitude, lifeforce float32, elevated bool) bool {
			req := passing()
			if elevated {
				req = elevatedPassing()
			}
			req.Proposal.Damping = dampingRaw
			req.Proposal.Magnitude = magnitude
			req.Bands = append(req.Bands, band.Sample{At: now, Band: band.HardStop, Lifeforce: lifeforce})
			d := e.Admit(req)
			return !d.Allowed() && len(d.Reasons) == 1 && d.Reasons[0].Code == reason.HardStop
		},
		gen.Float32Range(-1, 2),
		gen.Float32Range(0, 1),
		gen.Float32Range(0, 1),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// #endregion hard-stop

// #region layers

func TestAdmitLayerDenials(t *testing.T) {
	cases := []struct {
		name  string
		mut   func(*Request)
		want  reason.Code
		layer Layer
	}{
		{"no samples", func(r *Request) { r.Bands = nil }, reason.NoSamples, LayerBand},
		{"below floor", func(r *Request) { r.Bands[len(r.Bands)-1].Lifeforce = 0.34 }, reason.BelowFloor, LayerBand},
		{"unknown domain", func(r *Request) { r.Proposal.Domain = domain.Unrecognized }, reason.UnrecognizedDomain, LayerDomain},
		{"no consent", func(r *Request) { r.Proposal.Host = "host-b" }, reason.NoValidConsent, LayerConsent},
		{"amplification", func(r *Request) { r.Proposal.Damping = 1.2 }, reason.AmplificationForbidden, LayerDamping},
		{"strict rise", func(r *Request) { r.After = flat(0.28) }, reason.StrictCeilingViolation, LayerRisk},
		{"missing tag", func(r *Request) { r.Proposal.Evidence.Tags = r.Proposal.Evidence.Tags[1:] }, reason.MissingRequiredTags, LayerEvidence},
		{"extra tag", func(r *Request) {
			r.Proposal.Evidence.Tags = append(r.Proposal.Evidence.Tags, "deadbeef")
		}, reason.WrongCardinality, LayerEvidence},
		{"no unit test", func(r *Request) { r.Proposal.ID = "prop-2" }, reason.MissingUnitTest, LayerEvidence},
		{"no corridor state", func(r *Request) { r.Corridor = nil }, reason.CorridorBreach, LayerCorridor},
	}
	e := newEngine(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := passing()
			tc.mut(&req)
			d := e.Admit(req)
			require.False(t, d.Allowed())
			require.NotEmpty(t, d.Reasons)
			assert.Equal(t, tc.want, d.Reasons[0].Code)
			assert.Equal(t, tc.layer, d.Layer)
		})
	}
}

func TestAdmitNonFiniteInputsDeny(t *testing.T) {
	nan := float32(math.NaN())
	cases := []struct {
		name  string
		mut   func(*Request)
		want  reason.Code
		layer Layer
	}{
		{"lifeforce nan", func(r *Request) { r.Bands[len(r.Bands)-1].Lifeforce = nan }, reason.BelowFloor, LayerBand},
		{"scale used nan", func(r *Request) { r.Usage.ScaleUsed = nan }, reason.CapacityExceeded, LayerCeiling},
		{"eco used nan", func(r *Request) { r.Usage.EcoCostUsed = math.NaN() }, reason.CapacityExceeded, LayerCeiling},
		{"scale cost nan", func(r *Request) { r.Proposal.ScaleCost = nan }, reason.CapacityExceeded, LayerCeiling},
		{"scale cost negative", func(r *Request) { r.Proposal.ScaleCost = -0.4 }, reason.CapacityExceeded, LayerCeiling},
		{"eco cost inf", func(r *Request) { r.Proposal.EcoCost = math.Inf(1) }, reason.CapacityExceeded, LayerCeiling},
		{"magnitude nan", func(r *Request) { r.Proposal.Magnitude = nan }, reason.EffectSizeExceeded, LayerRisk},
		{"unknown risk band", func(r *Request) { r.Proposal.RiskBand = risk.Band(7) }, reason.StrictCeilingViolation, LayerRisk},
		{"spatial error nan", func(r *Request) { r.Corridor.SpatialErrorCm = nan }, reason.CorridorBreach, LayerCorridor},
		{"roh nan", func(r *Request) { r.Corridor.RohEstimateWindow = nan }, reason.CorridorBreach, LayerCorridor},
	}
	e := newEngine(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := passing()
			tc.mut(&req)
			d := e.Admit(req)
			require.False(t, d.Allowed())
			require.NotEmpty(t, d.Reasons)
			assert.Equal(t, tc.want, d.Reasons[0].Code)
			assert.Equal(t, tc.layer, d.Layer)
		})
	}
}

func TestConsentIsCheckedBeforeCeilings(t *testing.T) {
	req := passing()
	req.Proposal.Host = "host-b"
	req.Usage.ScaleUsed = 0.9
	assert.Equal(t, []reason.Code{reason.NoValidConsent}, newEngine(t).Admit(req).Codes())
}

func TestAutoProposalConsultsEnvironment(t *testing.T) {
	e, err := New(testConfig(), testScope(), consent.StaticEnvironment{Safe: false})
	require.NoError(t, err)

	req := passing()
	require.True(t, e.Admit(req).Allowed(), "manual path skips the oracle")

	req.Proposal.Auto = true
	assert.Equal(t, []reason.Code{reason.EnvironmentUnsafe}, e.Admit(req).Codes())
}

func TestCriticalWithoutHarness(t *testing.T) {
	cfg := testConfig()
	cfg.FormalHarnesses = evidence.Index{}
	e, err := New(cfg, testScope(), consent.StaticEnvironment{Safe: true})
	require.NoError(t, err)

	assert.Equal(t, []reason.Code{reason.MissingFormalHarness}, e.Admit(passing()).Codes())

	req := passing()
	req.Proposal.Critical = false
	assert.True(t, e.Admit(req).Allowed())
}

// #endregion layers

// #region ceilings

func TestCeilingRoundTrip(t *testing.T) {
	e := newEngine(t)

	req := passing()
	req.Usage = domain.EpochUsage{EpochID: domain.EpochID(now), ScaleUsed: 0.5, EcoCostUsed: 10.0}
	require.True(t, e.Admit(req).Allowed())

	req.Usage.ScaleUsed = 0.50001
	d := e.Admit(req)
	assert.Equal(t, []reason.Code{reason.CapacityExceeded}, d.Codes())
	assert.Equal(t, LayerCeiling, d.Layer)
}

// #endregion ceilings

// #region elevated

func TestElevatedEscalationNegativePaths(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Request)
		want reason.Code
	}{
		{"subject", func(r *Request) { r.Token.Subject = "host-z" }, reason.SubjectMismatch},
		{"band", func(r *Request) { r.Token.Band = consent.BandOrdinary }, reason.WrongBand},
		{"scope", func(r *Request) { r.Token.Scopes = []string{"telemetry"} }, reason.ScopeMissing},
		{"window", func(r *Request) { r.Token.ValidUntil = now.Add(-time.Second) }, reason.TokenExpired},
		{"effect", func(r *Request) { r.Proposal.Magnitude = 0.25 }, reason.EffectSizeExceeded},
		{"ceiling", func(r *Request) { r.After = flat(0.42) }, reason.ElevatedCeilingViolation},
		{"physio", func(r *Request) { r.Bio.HRV = 30 }, reason.PhysioGuardViolation},
		{"token", func(r *Request) { r.Token = nil }, reason.TokenMissing},
		{"kind", func(r *Request) { r.Proposal.Kind = KindPolicyUpdate }, reason.KindNotPermitted},
	}
	e := newEngine(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := elevatedPassing()
			tc.mut(&req)
			d := e.Admit(req)
			require.False(t, d.Allowed())
			assert.Equal(t, []reason.Code{tc.want}, d.Codes())
		})
	}
}

// #endregion elevated

// #region corridor

func TestCorridorSpatialAndDutyBreach(t *testing.T) {
	sink := &countingSink{}
	e := newEngine(t, WithMetrics(sink))

	req := passing()
	req.Corridor.SpatialErrorCm = 0.3
	req.Corridor.SessionDutyFraction = 0.5

	d := e.Admit(req)
	require.False(t, d.Allowed())
	require.Len(t, d.Reasons, 2)
	assert.Equal(t, []reason.Code{reason.CorridorBreach, reason.CorridorBreach}, d.Codes())
	assert.Equal(t, string(corridor.GroupSpatial), d.Reasons[0].Dimension)
	assert.Equal(t, string(corridor.GroupDutyTiming), d.Reasons[1].Dimension)
	assert.Equal(t, []corridor.Group{corridor.GroupSpatial, corridor.GroupDutyTiming}, sink.breaches)
	assert.Equal(t, 1, sink.observed)
}

// #endregion corridor

// #region neuromorph

func neuromorphRequest() Request {
	req := passing()
	req.Proposal.Domain = domain.ReflexSafety
	req.Corridor = nil
	req.Neuromorph = &NeuromorphInput{
		Lifeforce: damping.Lifeforce{Brain: 1, Blood: 0.8, Oxygen: 0.9, Smart: 0.2},
		Context:   damping.Context{Discomfort: 0.5},
	}
	return req
}

func TestNeuromorphEligibilityScalesWeight(t *testing.T) {
	d := newEngine(t).Admit(neuromorphRequest())
	require.True(t, d.Allowed(), "%v", d.Reasons)
	require.NotNil(t, d.Eligibility)
	// 0.8 raw damping times 1 - 0.6*0.5
	assert.InDelta(t, 0.8*0.7, d.DampingWeight, 1e-5)
}

func TestNeuromorphHardStopDenies(t *testing.T) {
	req := neuromorphRequest()
	req.Neuromorph.Context.Discomfort = 0.9
	d := newEngine(t).Admit(req)
	assert.Equal(t, []reason.Code{reason.BelowFloor}, d.Codes())
	assert.Equal(t, LayerDamping, d.Layer)
}

func TestNeuromorphAutoNeedsSmart(t *testing.T) {
	req := neuromorphRequest()
	req.Proposal.Auto = true
	req.Neuromorph.Lifeforce.Smart = 0.05
	assert.Equal(t, []reason.Code{reason.EnvironmentUnsafe}, newEngine(t).Admit(req).Codes())
}

func TestNeuromorphMissingInputDenies(t *testing.T) {
	for _, auto := range []bool{false, true} {
		req := neuromorphRequest()
		req.Proposal.Auto = auto
		req.Neuromorph = nil
		d := newEngine(t).Admit(req)
		assert.Equal(t, []reason.Code{reason.BelowFloor}, d.Codes(), "auto=%v", auto)
		assert.Equal(t, LayerDamping, d.Layer)
		assert.Nil(t, d.Eligibility)
	}
}

func TestNeuromorphNaNContextDenies(t *testing.T) {
	req := neuromorphRequest()
	req.Neuromorph.Context.Instability = float32(math.NaN())
	d := newEngine(t).Admit(req)
	assert.Equal(t, []reason.Code{reason.BelowFloor}, d.Codes())
	assert.Equal(t, LayerDamping, d.Layer)
}

// #endregion neuromorph

// #region config

func TestNewRejectsStructuralBans(t *testing.T) {
	cfg := testConfig()
	cfg.Policies[0].AllowTemporaryDenialOnly = false
	_, err := New(cfg, testScope(), consent.StaticEnvironment{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, &reason.Denial{Code: reason.StructuralBanAttempted}))
}

func TestNewReportsEveryConfigError(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.ElevatedCeiling = 0.5
	cfg.Policies[1].CorridorID = "bio.corridor.missing"
	cfg.UnitTests = nil

	_, err := New(cfg, nil, nil)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "consent scope")
	assert.Contains(t, msg, "environment oracle")
	assert.Contains(t, msg, "indexes are required")
	assert.Contains(t, msg, "bio.corridor.missing")
	assert.Contains(t, msg, "elevated ceiling")
}

func TestObserverPanicIsRecovered(t *testing.T) {
	obs := &recordingObserver{}
	e := newEngine(t, WithObserver(panickyObserver{}), WithObserver(obs))
	d := e.Admit(passing())
	assert.True(t, d.Allowed())
	assert.Len(t, obs.decisions, 1)
}

func TestDomainsSorted(t *testing.T) {
	assert.Equal(t, []domain.ID{domain.DefensiveMicro, domain.ReflexSafety}, newEngine(t).Domains())
}

// #endregion config
