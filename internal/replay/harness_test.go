package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/admission/admissiontest"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// helper: a passing step whose usage is accounted by the harness.
func trackedStep(scale float32, eco float64) FixtureStep {
	req := admissiontest.Passing("prop-1", domain.ReflexSafety)
	req.Usage = domain.EpochUsage{}
	req.Proposal.ScaleCost = scale
	req.Proposal.EcoCost = eco
	return FixtureStep{Request: req}
}

func TestReplayAccountsUsageUntilCeiling(t *testing.T) {
	steps := []FixtureStep{
		trackedStep(0.25, 5),
		trackedStep(0.25, 5),
		trackedStep(0.25, 5), // usage 0.5/10 is at the limit, still admitted
		trackedStep(0.25, 5), // usage 0.75 exceeds it
	}
	results, sum := Replay(admissiontest.Engine(t), steps)
	require.Len(t, results, 4)

	for i := 0; i < 3; i++ {
		assert.Equal(t, admission.Allow, results[i].Outcome, "step %d", i)
	}
	assert.Equal(t, admission.Deny, results[3].Outcome)
	assert.Equal(t, admission.LayerCeiling, results[3].Layer)
	assert.Equal(t, []string{string(reason.CapacityExceeded)}, results[3].Codes)
	assert.Zero(t, results[3].Applied)

	assert.Equal(t, 3, sum.Allowed)
	assert.Equal(t, 1, sum.Denied)
	assert.Equal(t, 1, sum.ByLayer[admission.LayerCeiling])
	assert.InDelta(t, 0.24, sum.Levels[admissiontest.Host][domain.ReflexSafety], 1e-6)
}

func TestReplayUsesSuppliedUsageVerbatim(t *testing.T) {
	step := trackedStep(0.25, 5)
	step.Request.Usage = domain.EpochUsage{EpochID: domain.EpochID(admissiontest.Now), ScaleUsed: 0.6}
	results, _ := Replay(admissiontest.Engine(t), []FixtureStep{step, step})
	assert.Equal(t, admission.Deny, results[0].Outcome)
	assert.Equal(t, admission.Deny, results[1].Outcome)
}

func TestReplayFlagsMismatches(t *testing.T) {
	allowed := trackedStep(0.05, 1)
	allowed.Expected = &Expected{Outcome: admission.Deny}

	denied := trackedStep(0.05, 1)
	denied.Request.Proposal.Damping = 1.1
	denied.Expected = &Expected{Outcome: admission.Deny, Layer: admission.LayerRisk}

	exact := trackedStep(0.05, 1)
	exact.Request.Bands = nil
	exact.Expected = &Expected{Outcome: admission.Deny, Layer: admission.LayerBand, Codes: []string{string(reason.NoSamples)}}

	results, sum := Replay(admissiontest.Engine(t), []FixtureStep{allowed, denied, exact})
	assert.False(t, results[0].Match)
	assert.Contains(t, results[0].Mismatch, "outcome allow")
	assert.False(t, results[1].Match)
	assert.Contains(t, results[1].Mismatch, "layer damping")
	assert.True(t, results[2].Match, results[2].Mismatch)
	assert.Equal(t, 2, sum.Mismatches)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil)
	assert.Zero(t, s.Total)
	assert.Empty(t, s.ByLayer)
}
