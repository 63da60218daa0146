package reason

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenialErrorFormatting(t *testing.T) {
	assert.Equal(t, "hard_stop", (&Denial{Code: HardStop}).Error())
	assert.Equal(t, "below_floor: 0.2 < 0.3", Deny(BelowFloor, "%.1f < %.1f", 0.2, 0.3).Error())
	assert.Equal(t, "corridor_breach{spatial}: too far", Breach("spatial", "too far").Error())
}

func TestCodeOfUnwrapsWrappedDenial(t *testing.T) {
	err := fmt.Errorf("layer: %w", Deny(CapacityExceeded, "scale"))
	require.Equal(t, CapacityExceeded, CodeOf(err))
	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
	require.Equal(t, Code(""), CodeOf(nil))
}

func TestDenialIsMatchesCodeAndDimension(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Breach("energy", "x"))
	assert.True(t, errors.Is(err, &Denial{Code: CorridorBreach}))
	assert.True(t, errors.Is(err, &Denial{Code: CorridorBreach, Dimension: "energy"}))
	assert.False(t, errors.Is(err, &Denial{Code: CorridorBreach, Dimension: "spatial"}))
	assert.False(t, errors.Is(err, &Denial{Code: HardStop}))
}

func TestAllCodesKnownAndUnique(t *testing.T) {
	seen := map[Code]bool{}
	for _, c := range All {
		require.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
		require.True(t, Known(c))
	}
	assert.False(t, Known("made_up"))
}

func TestCodesPreservesOrder(t *testing.T) {
	ds := []Denial{{Code: CorridorBreach, Dimension: "spatial"}, {Code: CorridorBreach, Dimension: "duty_timing"}, {Code: HardStop}}
	assert.Equal(t, []Code{CorridorBreach, CorridorBreach, HardStop}, Codes(ds))
}
