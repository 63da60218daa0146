package ceiling

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

func policy() domain.Policy {
	return domain.Policy{
		ID:                       domain.DefensiveMicro,
		EcoCeilingPerEpoch:       10.0,
		ScaleLimitPerEpoch:       0.5,
		AllowTemporaryDenialOnly: true,
	}
}

func TestCheckBoundaryEqualPasses(t *testing.T) {
	u := domain.EpochUsage{EpochID: "2026-01-28T08", ScaleUsed: 0.5, EcoCostUsed: 10.0}
	require.NoError(t, Check(policy(), u))
}

func TestCheckJustAboveFails(t *testing.T) {
	u := domain.EpochUsage{EpochID: "2026-01-28T08", ScaleUsed: 0.50001, EcoCostUsed: 10.0}
	assert.Equal(t, reason.CapacityExceeded, reason.CodeOf(Check(policy(), u)))

	u = domain.EpochUsage{EpochID: "2026-01-28T08", ScaleUsed: 0.1, EcoCostUsed: 10.001}
	assert.Equal(t, reason.CapacityExceeded, reason.CodeOf(Check(policy(), u)))
}

func TestHeadroomFloorsAtZero(t *testing.T) {
	s, e := Headroom(policy(), domain.EpochUsage{ScaleUsed: 0.7, EcoCostUsed: 4})
	assert.Zero(t, s)
	assert.InDelta(t, 6.0, e, 1e-9)
}

func openStore(t *testing.T) *UsageStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := NewUsageStore(db)
	require.NoError(t, err)
	return s
}

func TestUsageStoreUnseenEpochIsZero(t *testing.T) {
	s := openStore(t)
	u, err := s.Get(context.Background(), "host-a", domain.WaveLoad, "2026-01-28T08")
	require.NoError(t, err)
	assert.Equal(t, domain.EpochUsage{EpochID: "2026-01-28T08"}, u)
}

func TestReservationAccumulatesAndAborts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	const epoch = "2026-01-28T08"

	next, err := s.WithReservation(ctx, "host-a", domain.WaveLoad, epoch, func(cur domain.EpochUsage) (float32, float64, error) {
		return 0.25, 4, nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, next.ScaleUsed, 1e-6)

	boom := errors.New("denied")
	_, err = s.WithReservation(ctx, "host-a", domain.WaveLoad, epoch, func(cur domain.EpochUsage) (float32, float64, error) {
		return 1, 1, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(ctx, "host-a", domain.WaveLoad, epoch)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got.ScaleUsed, 1e-6)
	assert.InDelta(t, 4.0, got.EcoCostUsed, 1e-9)

	all, err := s.ListEpoch(ctx, "host-a", epoch)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReservationSerializesCeilingChecks(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	p := policy()
	const epoch = "2026-01-28T09"

	var mu sync.Mutex
	admitted := 0
	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := s.WithReservation(ctx, "host-a", p.ID, epoch, func(cur domain.EpochUsage) (float32, float64, error) {
				// admit only while the post-reservation usage stays at or under the limit
				if err := Check(p, cur.Add(0.1, 1)); err != nil {
					return 0, 0, err
				}
				mu.Lock()
				admitted++
				mu.Unlock()
				return 0.1, 1, nil
			})
			if reason.CodeOf(err) == reason.CapacityExceeded {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.Get(ctx, "host-a", p.ID, epoch)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.ScaleUsed, float32(0.5)+1e-6)
	assert.GreaterOrEqual(t, admitted, 4)
	assert.LessOrEqual(t, admitted, 5)
}

func TestCheckNaNUsageFails(t *testing.T) {
	nan := math.NaN()
	u := domain.EpochUsage{EpochID: "2026-01-28T08", ScaleUsed: float32(nan), EcoCostUsed: 1}
	assert.Equal(t, reason.CapacityExceeded, reason.CodeOf(Check(policy(), u)))

	u = domain.EpochUsage{EpochID: "2026-01-28T08", ScaleUsed: 0.1, EcoCostUsed: nan}
	assert.Equal(t, reason.CapacityExceeded, reason.CodeOf(Check(policy(), u)))
}

func TestCheckChargeRejectsBadCosts(t *testing.T) {
	require.NoError(t, CheckCharge(0, 0))
	require.NoError(t, CheckCharge(0.05, 1))

	for _, c := range []struct {
		scale float32
		eco   float64
	}{
		{float32(math.NaN()), 1},
		{-0.1, 1},
		{float32(math.Inf(1)), 1},
		{0.05, math.NaN()},
		{0.05, -1},
		{0.05, math.Inf(1)},
	} {
		assert.Equal(t, reason.CapacityExceeded, reason.CodeOf(CheckCharge(c.scale, c.eco)), "%v/%v", c.scale, c.eco)
	}
}
