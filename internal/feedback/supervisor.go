package feedback

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/mutation-gate/internal/band"
)

// #region adapters
// Snapshot is one reading from a sensor adapter.
type Snapshot struct {
	SensorID string
	At       time.Time
	Values   []float64
}

// Command is what an effector adapter receives.
type Command struct {
	EffectorID string
	At         time.Time
	Values     []float64
	Labels     []string
}

// Sensor is a source of snapshots. Sample returns false when nothing is
// ready.
type Sensor interface {
	ID() string
	Sample(ctx context.Context) (Snapshot, bool)
}

// Effector applies commands addressed to its ID.
type Effector interface {
	ID() string
	Apply(ctx context.Context, c Command) error
}

// Classifier turns a sensor snapshot into a safety sample. Snapshots that do
// not describe lifeforce return false.
type Classifier func(Snapshot) (band.Sample, bool)

// LifeforceClassifier reads Values[0] of sensorID as normalized lifeforce.
// Below hard, or NaN, is HardStop; below soft is SoftWarn.
func LifeforceClassifier(sensorID string, soft, hard float32) Classifier {
	return func(s Snapshot) (band.Sample, bool) {
		if s.SensorID != sensorID || len(s.Values) == 0 {
			return band.Sample{}, false
		}
		lf := float32(s.Values[0])
		b := band.Safe
		switch {
		case !(lf >= hard):
			b = band.HardStop
		case lf < soft:
			b = band.SoftWarn
		}
		return band.Sample{At: s.At, Band: b, Lifeforce: lf}, true
	}
}

// #endregion adapters

// #region supervisor
// SupervisorConfig sizes the bus and paces the loops.
type SupervisorConfig struct {
	QueueLen int
	// PollEvery paces one sensor poll plus effector drive per tick.
	PollEvery time.Duration
	// MaxAge purges bus entries older than this each tick. Zero disables.
	MaxAge time.Duration
}

// Supervisor polls sensors onto the bus, drains sensor entries into a
// band.History, and drives effectors from the command queue.
type Supervisor struct {
	bus       *Bus
	sensors   []Sensor
	effectors []Effector
	history   *band.History
	classify  Classifier
	limiter   *rate.Limiter
	pollEvery time.Duration
	maxAge    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSupervisor creates a supervisor that records classified samples into
// history.
func NewSupervisor(cfg SupervisorConfig, history *band.History, classify Classifier, logger *slog.Logger) *Supervisor {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default().With("component", "supervisor")
	}
	return &Supervisor{
		bus:       NewBus(cfg.QueueLen),
		history:   history,
		classify:  classify,
		limiter:   rate.NewLimiter(rate.Every(cfg.PollEvery), 1),
		pollEvery: cfg.PollEvery,
		maxAge:    cfg.MaxAge,
		logger:    logger,
		now:       time.Now,
	}
}

// Bus returns the supervisor's bus.
func (s *Supervisor) Bus() *Bus { return s.bus }

// RegisterSensor adds a sensor. Not safe to call while Run is active.
func (s *Supervisor) RegisterSensor(sn Sensor) { s.sensors = append(s.sensors, sn) }

// RegisterEffector adds an effector. Not safe to call while Run is active.
func (s *Supervisor) RegisterEffector(e Effector) { s.effectors = append(s.effectors, e) }

// EnqueueCommand queues values for effectorID.
func (s *Supervisor) EnqueueCommand(effectorID string, values []float64, labels ...string) {
	s.bus.PushCommand(CommandEnvelope{EffectorID: effectorID, At: s.now(), Values: values, Labels: labels})
}

// PollSensors samples every sensor once and pushes the results.
func (s *Supervisor) PollSensors(ctx context.Context) {
	for _, sn := range s.sensors {
		snap, ok := sn.Sample(ctx)
		if !ok {
			continue
		}
		if snap.SensorID == "" {
			snap.SensorID = sn.ID()
		}
		s.bus.PushSensor(SensorEnvelope{SensorID: snap.SensorID, At: snap.At, Values: snap.Values})
	}
}

// DrainSensors moves queued sensor entries into the history and returns how
// many became samples.
func (s *Supervisor) DrainSensors() int {
	n := 0
	for {
		env, ok := s.bus.PullSensor()
		if !ok {
			return n
		}
		if s.history == nil || s.classify == nil {
			continue
		}
		if sample, ok := s.classify(Snapshot{SensorID: env.SensorID, At: env.At, Values: env.Values}); ok {
			s.history.Append(sample)
			n++
		}
	}
}

// DriveEffectors delivers every queued command to the matching effectors.
// Apply errors are logged; delivery continues.
func (s *Supervisor) DriveEffectors(ctx context.Context) {
	for {
		env, ok := s.bus.PullCommand()
		if !ok {
			return
		}
		for _, e := range s.effectors {
			if e.ID() != env.EffectorID {
				continue
			}
			cmd := Command{EffectorID: env.EffectorID, At: env.At, Values: env.Values, Labels: env.Labels}
			if err := e.Apply(ctx, cmd); err != nil {
				s.logger.Warn("effector apply failed", "effector", e.ID(), "err", err)
			}
		}
	}
}

// Tick runs one full cycle: purge, poll, drain, drive.
func (s *Supervisor) Tick(ctx context.Context) {
	if s.maxAge > 0 {
		if n := s.bus.PurgeOlderThan(s.now().Add(-s.maxAge)); n > 0 {
			s.logger.Debug("purged stale bus entries", "count", n)
		}
	}
	s.PollSensors(ctx)
	s.DrainSensors()
	s.DriveEffectors(ctx)
}

// Run polls and drives at the configured pace until ctx is done. Sensor
// polling and effector driving run in separate goroutines.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			if err := s.limiter.Wait(gCtx); err != nil {
				return nil
			}
			if s.maxAge > 0 {
				s.bus.PurgeOlderThan(s.now().Add(-s.maxAge))
			}
			s.PollSensors(gCtx)
			s.DrainSensors()
		}
	})

	g.Go(func() error {
		t := time.NewTicker(s.pollEvery)
		defer t.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-t.C:
				s.DriveEffectors(gCtx)
			}
		}
	})

	err := g.Wait()
	stats := s.bus.Stats()
	s.logger.Info("supervisor stopped", "dropped_sensors", stats.DroppedSensors, "dropped_commands", stats.DroppedCommands)
	return err
}

// #endregion supervisor
