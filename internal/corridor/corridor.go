// Package corridor implements pluggable multi-dimensional envelope guards,
// one kernel per use case.
package corridor

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// GazeV1ID identifies the XR gaze corridor.
const GazeV1ID = "bio.corridor.xr.gaze.v1"

// #region kernel
// Kernel checks one corridor. Every group is evaluated; a decision is
// Allowed only when no group breaches.
type Kernel interface {
	ID() string
	CheckAndDecide(s State, id Identity, sink MetricsSink) Decision
}

// GazeV1 is the kernel for bio.corridor.xr.gaze.v1.
type GazeV1 struct {
	envelope Envelope
}

// NewGazeV1 creates the gaze kernel over env.
func NewGazeV1(env Envelope) *GazeV1 {
	return &GazeV1{envelope: env}
}

func (g *GazeV1) ID() string { return GazeV1ID }

// Envelope returns the kernel's static ceilings.
func (g *GazeV1) Envelope() Envelope { return g.envelope }

// CheckAndDecide collects a breach for every failing group, signals each one
// to sink, and always observes kernel distance and knowledge factor.
func (g *GazeV1) CheckAndDecide(s State, id Identity, sink MetricsSink) Decision {
	if sink == nil {
		sink = NopSink{}
	}
	e := g.envelope
	var breaches []reason.Denial

	breach := func(grp Group, value float64, format string, args ...any) {
		breaches = append(breaches, *reason.Breach(string(grp), fmt.Sprintf(format, args...)))
		safely(func() { sink.IncCorridorBreach(GazeV1ID, grp, value) })
	}

	// --- Group pass ---

	// 1. Spatial
	if over(s.SpatialErrorCm, e.MaxSpatialErrorCm) {
		breach(GroupSpatial, float64(s.SpatialErrorCm),
			"spatial error %.3fcm > %.3fcm", s.SpatialErrorCm, e.MaxSpatialErrorCm)
	}

	// 2. Energy per event, session, day
	if over(s.EventEnergyJ, e.PerEventEnergyJ) || over(s.SessionEnergyJ, e.PerSessionEnergyJ) || over(s.DailyEnergyJ, e.DailyEnergyJ) {
		breach(GroupEnergy, float64(s.EventEnergyJ),
			"energy event=%.3fJ session=%.3fJ daily=%.3fJ exceeds envelope", s.EventEnergyJ, s.SessionEnergyJ, s.DailyEnergyJ)
	}

	// 3. Sbio load and thermal deltas
	if over(s.SbioLoadIndex, e.SbioLoadIndexMax) || over(s.LocalThermalDeltaC, e.LocalThermalDeltaCMax) || over(s.GlobalThermalDeltaC, e.GlobalThermalDeltaCMax) {
		breach(GroupThermal, float64(s.LocalThermalDeltaC),
			"sbio=%.3f local=%.2fC global=%.2fC exceeds envelope", s.SbioLoadIndex, s.LocalThermalDeltaC, s.GlobalThermalDeltaC)
	}

	// 4. Duty cycle and inter-event timing
	if over(s.SessionDutyFraction, e.MaxDutyFractionSession) ||
		s.InterEventMs < e.MinInterEventMs ||
		s.ContinuousBurstMs > e.MaxContinuousBurstMs ||
		s.CooldownSinceBurstMs < e.MinCooldownBetweenBursts {
		breach(GroupDutyTiming, float64(s.SessionDutyFraction),
			"duty=%.3f inter_event=%dms burst=%dms cooldown=%dms outside envelope",
			s.SessionDutyFraction, s.InterEventMs, s.ContinuousBurstMs, s.CooldownSinceBurstMs)
	}

	// 5. HRV ratio, EEG load, windowed risk
	if under(s.HRVRatio, e.HRVDropAllowedRatio) || over(s.EEGBetaGammaLoad, e.EEGBetaGammaCeiling) || over(s.RohEstimateWindow, e.RohCeiling) {
		breach(GroupBiometric, float64(s.RohEstimateWindow),
			"hrv_ratio=%.3f eeg=%.3f roh=%.3f outside envelope", s.HRVRatio, s.EEGBetaGammaLoad, s.RohEstimateWindow)
	}

	// --- Continuous observations ---
	distance := float64(s.SpatialErrorCm)
	kf := KnowledgeFactor(e, s)
	safely(func() { sink.ObserveKernelDistance(GazeV1ID, distance) })
	safely(func() { sink.ObserveKnowledgeFactor(GazeV1ID, kf) })

	if len(breaches) > 0 {
		slog.Default().Debug("corridor denied",
			"component", "corridor", "corridor", GazeV1ID, "host", id.Host, "breaches", len(breaches))
	}

	return Decision{
		CorridorID:      GazeV1ID,
		Allowed:         len(breaches) == 0,
		Breaches:        breaches,
		KernelDistance:  distance,
		KnowledgeFactor: kf,
	}
}

// over reports v > limit. NaN is always over.
func over(v, limit float32) bool { return !(v <= limit) }

// under reports v < floor. NaN is always under.
func under(v, floor float32) bool { return !(v >= floor) }

// KnowledgeFactor weighs the spatial-error margin at 0.6 and the windowed
// risk margin at 0.4, clamped to [0,1].
func KnowledgeFactor(e Envelope, s State) float64 {
	spatial := margin(float64(s.SpatialErrorCm), float64(e.MaxSpatialErrorCm))
	roh := margin(float64(s.RohEstimateWindow), float64(e.RohCeiling))
	return math.Min(math.Max(0.6*spatial+0.4*roh, 0), 1)
}

func margin(v, ceiling float64) float64 {
	if ceiling <= 0 || math.IsNaN(v) {
		return 0
	}
	return math.Max(1-math.Min(v/ceiling, 1), 0)
}

func safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("corridor metrics sink panicked", "component", "corridor", "panic", r)
		}
	}()
	fn()
}

// #endregion kernel

// #region registry
// Registry maps corridor IDs to kernels. Registration happens at load time;
// lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
}

// NewRegistry creates a registry holding ks.
func NewRegistry(ks ...Kernel) *Registry {
	r := &Registry{kernels: make(map[string]Kernel, len(ks))}
	for _, k := range ks {
		r.kernels[k.ID()] = k
	}
	return r
}

// Register adds k. Registering a second kernel under the same ID is an error.
func (r *Registry) Register(k Kernel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kernels[k.ID()]; dup {
		return fmt.Errorf("corridor %s already registered", k.ID())
	}
	r.kernels[k.ID()] = k
	return nil
}

// Lookup returns the kernel for id.
func (r *Registry) Lookup(id string) (Kernel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kernels[id]
	return k, ok
}

// IDs returns the registered corridor IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kernels))
	for id := range r.kernels {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// #endregion registry
