// Package feedback carries sensor samples and effector commands between the
// supervisor and its adapters through bounded, lossy queues.
package feedback

import (
	"sync"
	"time"
)

// SensorEnvelope is one sensor reading on the bus.
type SensorEnvelope struct {
	SensorID string
	At       time.Time
	Values   []float64
}

// CommandEnvelope is one effector command on the bus.
type CommandEnvelope struct {
	EffectorID string
	At         time.Time
	Values     []float64
	Labels     []string
}

// queue is a FIFO that evicts its oldest entry when full.
type queue[T any] struct {
	items   []T
	max     int
	dropped uint64
	at      func(T) time.Time
}

func (q *queue[T]) push(v T) {
	if len(q.items) >= q.max {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, v)
}

func (q *queue[T]) pull() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *queue[T]) purge(cutoff time.Time) int {
	n := 0
	for n < len(q.items) && q.at(q.items[n]).Before(cutoff) {
		n++
	}
	q.items = q.items[n:]
	return n
}

// Bus holds one sensor queue and one command queue, each bounded at the same
// length. Producers never block; a push at capacity evicts the oldest entry
// and counts a drop. Safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	sensors  queue[SensorEnvelope]
	commands queue[CommandEnvelope]
}

// Stats reports queue depths and cumulative drops.
type Stats struct {
	Sensors         int
	Commands        int
	DroppedSensors  uint64
	DroppedCommands uint64
}

// NewBus creates a bus whose queues hold at most maxLen entries. maxLen < 1
// is treated as 1.
func NewBus(maxLen int) *Bus {
	if maxLen < 1 {
		maxLen = 1
	}
	return &Bus{
		sensors:  queue[SensorEnvelope]{max: maxLen, at: func(e SensorEnvelope) time.Time { return e.At }},
		commands: queue[CommandEnvelope]{max: maxLen, at: func(e CommandEnvelope) time.Time { return e.At }},
	}
}

func (b *Bus) PushSensor(e SensorEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensors.push(e)
}

func (b *Bus) PushCommand(e CommandEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands.push(e)
}

func (b *Bus) PullSensor() (SensorEnvelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sensors.pull()
}

func (b *Bus) PullCommand() (CommandEnvelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.commands.pull()
}

// PurgeOlderThan drops entries stamped strictly before cutoff from the front
// of both queues and returns how many were removed.
func (b *Bus) PurgeOlderThan(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sensors.purge(cutoff) + b.commands.purge(cutoff)
}

// Stats returns a snapshot of the queue counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Sensors:         len(b.sensors.items),
		Commands:        len(b.commands.items),
		DroppedSensors:  b.sensors.dropped,
		DroppedCommands: b.commands.dropped,
	}
}
