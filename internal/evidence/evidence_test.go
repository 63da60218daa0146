package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

func TestCheckEvidenceCompleteBundle(t *testing.T) {
	require.NoError(t, CheckEvidence(DefaultBundle(), DefaultRequired))
}

func TestCheckEvidenceNormalizesCase(t *testing.T) {
	b := DefaultBundle()
	b.Tags[0] = " A1F3C9B2 "
	require.NoError(t, CheckEvidence(b, DefaultRequired))
}

func TestCheckEvidenceNineTagsIsMissingRequired(t *testing.T) {
	b := DefaultBundle()
	b.Tags = b.Tags[1:]
	require.Len(t, b.Tags, 9)

	err := CheckEvidence(b, DefaultRequired)
	assert.Equal(t, reason.MissingRequiredTags, reason.CodeOf(err))
	assert.Contains(t, err.Error(), "a1f3c9b2")
}

func TestCheckEvidenceElevenTagsIsWrongCardinality(t *testing.T) {
	b := DefaultBundle()
	b.Tags = append(b.Tags, "deadbeef")
	assert.Equal(t, reason.WrongCardinality, reason.CodeOf(CheckEvidence(b, DefaultRequired)))
}

func TestCheckEvidenceDuplicateHidesRequired(t *testing.T) {
	b := DefaultBundle()
	b.Tags[9] = b.Tags[0]
	assert.Equal(t, reason.MissingRequiredTags, reason.CodeOf(CheckEvidence(b, DefaultRequired)))
}

func TestCheckCoverage(t *testing.T) {
	tests := Index{"up-1": {"TestUp1"}, "up-2": {"TestUp2"}}
	harnesses := Index{"up-1": {"proof_up1"}}

	require.NoError(t, CheckCoverage("up-1", true, tests, harnesses))
	require.NoError(t, CheckCoverage("up-2", false, tests, harnesses))

	assert.Equal(t, reason.MissingFormalHarness, reason.CodeOf(CheckCoverage("up-2", true, tests, harnesses)))
	assert.Equal(t, reason.MissingUnitTest, reason.CodeOf(CheckCoverage("up-3", false, tests, harnesses)))
	assert.Equal(t, reason.MissingUnitTest, reason.CodeOf(CheckCoverage("up-1", false, nil, harnesses)))
}

func TestHarnessReportsEveryCheck(t *testing.T) {
	h := NewHarness(DefaultRequired, Index{"up-1": {"TestUp1"}}, Index{})

	rep, err := h.Run("up-1", true, DefaultBundle())
	assert.Equal(t, reason.MissingFormalHarness, reason.CodeOf(err))
	assert.False(t, rep.Passed)
	require.Len(t, rep.Checks, 3)
	assert.True(t, rep.Checks[0].Pass)
	assert.True(t, rep.Checks[1].Pass)
	assert.False(t, rep.Checks[2].Pass)

	rep, err = h.Run("up-1", false, DefaultBundle())
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.Equal(t, "all checks passed", rep.Reason)
}

func TestHarnessFirstFailureWins(t *testing.T) {
	h := NewHarness(DefaultRequired, Index{}, Index{})
	rep, err := h.Run("up-9", true, Bundle{})
	assert.Equal(t, reason.MissingRequiredTags, reason.CodeOf(err))
	require.Len(t, rep.Checks, 3)
	assert.True(t, rep.Checks[2].Pass, "formal harness failure is subsumed by the missing unit test")
}

func TestLoadIndexes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
unit_tests:
  up-1: [TestUp1, TestUp1Boundary]
formal_harnesses:
  up-1: [proof_up1_monotone]
`), 0o644))

	ix, err := LoadIndexes(path)
	require.NoError(t, err)
	assert.True(t, ix.UnitTests.Has("up-1"))
	assert.True(t, ix.FormalHarnesses.Has("up-1"))
	assert.False(t, ix.UnitTests.Has("up-2"))

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("{}\n"), 0o644))
	_, err = LoadIndexes(empty)
	assert.Error(t, err)
}

func TestParseRegistry(t *testing.T) {
	tags := make([]string, BundleSize)
	for i, tg := range DefaultRequired {
		tags[i] = string(tg)
	}
	got, err := ParseRegistry(tags)
	require.NoError(t, err)
	assert.Equal(t, DefaultRequired, got)

	tags[1] = tags[0]
	_, err = ParseRegistry(tags)
	assert.Error(t, err)

	_, err = ParseRegistry(tags[:9])
	assert.Error(t, err)
}
