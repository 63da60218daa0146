// Package admissiontest provides a configured engine and a request that
// clears every layer, for tests in packages that sit downstream of
// admission.
package admissiontest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/damping"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/risk"
)

// Now is the fixed instant the fixtures are built around.
var Now = time.Date(2026, 1, 28, 8, 30, 0, 0, time.UTC)

// Host is the consenting host in Scope.
const Host = "host-a"

// Config returns an engine configuration with a gaze corridor on
// defensive_micro and a plain reflex_safety policy.
func Config() admission.Config {
	return admission.Config{
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

// Scope grants Host both configured domains.
func Scope() *consent.StaticScope {
	return consent.NewStaticScope(
		consent.Record{Host: Host, Domain: domain.DefensiveMicro, GrantedAt: Now.Add(-24 * time.Hour), Revocable: true},
		consent.Record{Host: Host, Domain: domain.ReflexSafety, GrantedAt: Now.Add(-24 * time.Hour), Revocable: true},
	)
}

// Engine builds an engine from Config and Scope with a safe environment.
func Engine(t testing.TB, opts ...admission.Option) *admission.Engine {
	t.Helper()
	e, err := admission.New(Config(), Scope(), consent.StaticEnvironment{Safe: true, MetabolicMode: consent.ModeAutoMicro}, opts...)
	require.NoError(t, err)
	return e
}

// Corridor is a gaze state well inside the default envelope.
func Corridor() *corridor.State {
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

func flat(v float32) risk.Inputs {
	return risk.Inputs{Fatigue: v, Tension: v, Pain: v, CognitiveLoad: v, Thermal: v, Instability: v}
}

// Passing returns a request for id on domain d that clears every layer of
// Engine. id must be indexed in Config for the evidence layer to pass.
// Neuromorphic domains carry a lifeforce snapshot with full eligibility
// weight, so the proposal's own damping is the applied factor.
func Passing(id string, d domain.ID) admission.Request {
	req := admission.Request{
		Proposal: admission.Proposal{
			ID:        id,
			Host:      Host,
			Subject:   Host,
			Domain:    d,
			Kind:      admission.KindParamNudge,
			Magnitude: 0.1,
			Damping:   0.8,
			RiskBand:  risk.Strict,
			Critical:  true,
			ScaleCost: 0.05,
			EcoCost:   1,
			Evidence:  evidence.DefaultBundle(),
		},
		Bands: band.Series{
			{At: Now.Add(-time.Minute), Band: band.Safe, Lifeforce: 0.8},
			{At: Now, Band: band.Safe, Lifeforce: 0.7},
		},
		Usage:    domain.EpochUsage{EpochID: domain.EpochID(Now), ScaleUsed: 0.1, EcoCostUsed: 2},
		Before:   flat(0.25),
		After:    flat(0.2),
		Bio:      risk.BioState{HRV: 55, Tension: 0.3, Fatigue: 0.3, Pain: 0.1},
		Corridor: Corridor(),
		Now:      Now,
	}
	if d.Neuromorphic() {
		req.Neuromorph = &admission.NeuromorphInput{
			Lifeforce: damping.Lifeforce{Brain: 0.8, Blood: 0.6, Oxygen: 0.7, Smart: 0.2},
		}
	}
	return req
}

// Admit runs Passing through e and returns the permit, failing t if the
// request was denied.
func Admit(t testing.TB, e *admission.Engine, id string, d domain.ID) admission.Admitted {
	t.Helper()
	dec := e.Admit(Passing(id, d))
	require.True(t, dec.Allowed(), "%v", dec.Reasons)
	a, ok := dec.Admitted()
	require.True(t, ok)
	return a
}
