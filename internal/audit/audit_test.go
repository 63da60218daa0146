package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/mutation-gate/internal/admission/admissiontest"
	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
)

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, ProofArtifact) error { return errors.New("disk full") }

func artifact(seq uint64) ProofArtifact {
	return ProofArtifact{Host: "host-a", Seq: seq, OriginPlane: OriginPlane, Event: EventSummary{EventID: "d"}}
}

func TestBuildFromCommit(t *testing.T) {
	e := admissiontest.Engine(t)
	a := admissiontest.Admit(t, e, "prop-1", domain.DefensiveMicro)
	req := admissiontest.Passing("prop-1", domain.DefensiveMicro)
	policy, ok := e.Policy(domain.DefensiveMicro)
	require.True(t, ok)

	art := Build(Inputs{
		Admitted: a,
		Commit: ledger.CommitRecord{
			VersionID: "v-2", Host: "host-a", Seq: 2, PreDigest: "pre", PostDigest: "post",
			CommittedAt: admissiontest.Now,
		},
		Bands:   req.Bands,
		Usage:   req.Usage,
		Policy:  policy,
		Mode:    consent.ModeAutoMicro,
		Consent: consent.Record{Proof: []byte("signed")},
	})

	assert.Equal(t, a.DecisionID(), art.Event.EventID)
	assert.Equal(t, domain.DefensiveMicro, art.Event.Domain)
	assert.Equal(t, admissiontest.Now.UnixMilli(), art.UTCMillis)
	assert.Equal(t, uint64(2), art.Seq)
	assert.Equal(t, band.Safe, art.LifeforceBand)
	assert.True(t, art.LifeforceOK)
	assert.Equal(t, EcoLow, art.EcoBand) // (2+1)/10
	assert.Len(t, art.ConsentDigest, 64)
	assert.Empty(t, art.ProvenanceDigest)
	assert.Equal(t, "v-2", art.AuditID)
}

func TestClassifyEco(t *testing.T) {
	assert.Equal(t, EcoLow, ClassifyEco(3, 10))
	assert.Equal(t, EcoMedium, ClassifyEco(5, 10))
	assert.Equal(t, EcoHigh, ClassifyEco(7, 10))
	assert.Equal(t, EcoHigh, ClassifyEco(0, 0))
}

func TestJSONLEmitterChainsAndResumes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "proofs", "artifacts.jsonl")

	em, err := NewJSONLEmitter(path)
	require.NoError(t, err)
	require.NoError(t, em.Emit(ctx, artifact(1)))
	require.NoError(t, em.Emit(ctx, artifact(2)))

	// A fresh emitter continues the same chain.
	em2, err := NewJSONLEmitter(path)
	require.NoError(t, err)
	require.NoError(t, em2.Emit(ctx, artifact(3)))

	n, err := Verify(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := ReadAll(path)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, GenesisHash, all[0].PrevHash)
	assert.NotEqual(t, all[1].PrevHash, all[2].PrevHash)
}

func TestVerifyDetectsEditedLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "artifacts.jsonl")
	em, err := NewJSONLEmitter(path)
	require.NoError(t, err)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, em.Emit(ctx, artifact(i)))
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(raw), `"seqno":2`, `"seqno":9`, 1)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	_, err = Verify(path)
	assert.ErrorIs(t, err, ErrChainBroken)

	_, err = NewJSONLEmitter(path)
	assert.ErrorIs(t, err, ErrChainBroken)
}

func TestVerifyMissingStreamIsEmpty(t *testing.T) {
	n, err := Verify(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmitHonorsCancelledContext(t *testing.T) {
	em, err := NewJSONLEmitter(filepath.Join(t.TempDir(), "a.jsonl"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, em.Emit(ctx, artifact(1)), context.Canceled)
}

func TestRecorderSwallowsFailures(t *testing.T) {
	r := NewRecorder(failingEmitter{}, nil)
	assert.False(t, r.Record(context.Background(), artifact(1)))

	em, err := NewJSONLEmitter(filepath.Join(t.TempDir(), "a.jsonl"))
	require.NoError(t, err)
	assert.True(t, NewRecorder(em, nil).Record(context.Background(), artifact(1)))
}
