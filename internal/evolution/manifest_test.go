package evolution

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

var now = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func harness() *evidence.Harness {
	return evidence.NewHarness(evidence.DefaultRequired,
		evidence.Index{"up-defensive-claw": {"TestClaw"}, "up-reflex-gain": {"TestGain"}},
		evidence.Index{"up-defensive-claw": {"proof_claw"}},
	)
}

func TestLoadShippedDescriptors(t *testing.T) {
	descs, err := LoadDescriptors("../../configs/upgrades.yaml")
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, domain.ReflexSafety, descs[1].Domain, "aliases resolve to the canonical domain")
	assert.Equal(t, admission.KindParamNudge, descs[1].Kind)
	assert.Len(t, descs[0].Bundle().Tags, evidence.BundleSize)
}

func TestLoadDescriptorsReportsEveryProblem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrades.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
upgrades:
  - id: up-1
    domain: telepathy
  - id: up-1
    domain: defensive_micro
    kind: rewrite_everything
`), 0o644))

	_, err := LoadDescriptors(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
	assert.Contains(t, err.Error(), "listed twice")
	assert.Contains(t, err.Error(), "rewrite_everything")
}

func TestLoadDescriptorsRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upgrades.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upgrades:\n  - id: up-1\n    domain: defensive_micro\n    severity: high\n"), 0o644))
	_, err := LoadDescriptors(path)
	assert.Error(t, err)
}

func TestBuildManifest(t *testing.T) {
	descs, err := LoadDescriptors("../../configs/upgrades.yaml")
	require.NoError(t, err)
	descs = append(descs, Descriptor{ID: "up-untested", Domain: domain.DefensiveMicro, Evidence: descs[0].Evidence})
	descs = append(descs, Descriptor{ID: "up-reflex-gain", Domain: domain.ReflexSafety, Evidence: descs[0].Evidence[:9]})

	m := Build(harness(), descs, now, "cfg-1")
	assert.Equal(t, "2026-03-04T12", m.Epoch)
	assert.Equal(t, 2, m.Passed)
	assert.Equal(t, 2, m.Failed)
	assert.False(t, m.OK())
	assert.Equal(t, reason.MissingUnitTest, m.Entries[2].Code)
	assert.Equal(t, reason.MissingRequiredTags, m.Entries[3].Code)
	assert.True(t, m.Entries[0].Report.Passed)
}

func TestWriteManifest(t *testing.T) {
	descs, err := LoadDescriptors("../../configs/upgrades.yaml")
	require.NoError(t, err)
	m := Build(harness(), descs, now, "cfg-1")
	require.True(t, m.OK())

	path := filepath.Join(t.TempDir(), "out", "manifest.json")
	require.NoError(t, WriteManifest(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Manifest
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, m.ID, back.ID)
	assert.Len(t, back.Entries, 2)
}
