// Package band models coarse safety bands and the guard that reads them.
package band

import (
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// #region safety-band
// Safety is a coarse lifeforce classification.
type Safety int

const (
	Safe Safety = iota
	SoftWarn
	HardStop
)

func (s Safety) String() string {
	switch s {
	case Safe:
		return "safe"
	case SoftWarn:
		return "soft_warn"
	case HardStop:
		return "hard_stop"
	default:
		return fmt.Sprintf("safety(%d)", int(s))
	}
}

// ParseSafety maps a label to its band.
func ParseSafety(s string) (Safety, error) {
	switch s {
	case "safe":
		return Safe, nil
	case "soft_warn":
		return SoftWarn, nil
	case "hard_stop":
		return HardStop, nil
	}
	return 0, fmt.Errorf("unknown safety band %q", s)
}

func (s Safety) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Safety) UnmarshalText(b []byte) error {
	v, err := ParseSafety(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// #endregion safety-band

// #region series
// Sample is one timestamped band classification with its normalized lifeforce.
type Sample struct {
	At        time.Time `json:"at"`
	Band      Safety    `json:"band"`
	Lifeforce float32   `json:"lifeforce"` // 0.0–1.0
}

// Series is an ordered sequence of samples; the last one is authoritative.
type Series []Sample

// Last returns the authoritative sample.
func (s Series) Last() (Sample, bool) {
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[len(s)-1], true
}

// IsHardStop reports whether the last sample is HardStop.
func (s Series) IsHardStop() bool {
	last, ok := s.Last()
	return ok && last.Band == HardStop
}

// OverloadRatio is the fraction of samples that were SoftWarn or HardStop.
func (s Series) OverloadRatio() float32 {
	if len(s) == 0 {
		return 0
	}
	var n int
	for _, x := range s {
		if x.Band != Safe {
			n++
		}
	}
	return float32(n) / float32(len(s))
}

// #endregion series

// #region guard
// AssertSafe is the safety-band guard. HardStop on the last sample is
// unconditional; a lifeforce value strictly below floor, or NaN, is
// BelowFloor.
func AssertSafe(series Series, lifeforceFloor float32) error {
	last, ok := series.Last()
	if !ok {
		return reason.Deny(reason.NoSamples, "empty band series")
	}
	if last.Band == HardStop {
		return reason.Deny(reason.HardStop, "last sample at %s is hard_stop", last.At.UTC().Format(time.RFC3339))
	}
	if !(last.Lifeforce >= lifeforceFloor) {
		return reason.Deny(reason.BelowFloor, "lifeforce %.4f below floor %.4f", last.Lifeforce, lifeforceFloor)
	}
	return nil
}

// #endregion guard

// #region history
// History is a bounded, concurrency-safe band series fed by the supervisory
// loop. Readers take a Snapshot so they never observe a partial update.
type History struct {
	mu      sync.RWMutex
	samples []Sample
	max     int
}

// NewHistory keeps at most max samples (oldest dropped first).
func NewHistory(max int) *History {
	if max <= 0 {
		max = 1
	}
	return &History{max: max, samples: make([]Sample, 0, max)}
}

// Append adds a sample, evicting the oldest when full.
func (h *History) Append(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.max {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
	h.samples = append(h.samples, s)
}

// Snapshot returns a copy of the current series.
func (h *History) Snapshot() Series {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(Series, len(h.samples))
	copy(out, h.samples)
	return out
}

// Len returns the number of retained samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// #endregion history
