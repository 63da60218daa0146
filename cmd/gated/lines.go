package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/feedback"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
	"github.com/danielpatrickdp/mutation-gate/internal/orchestrator"
)

// #region input
// inputLine is one JSON line on stdin. Exactly one of Request, Sample and
// Rollback is set; Readings only accompany a Request.
type inputLine struct {
	Request  *admission.Request     `json:"request,omitempty"`
	Readings *orchestrator.Readings `json:"readings,omitempty"`
	Sample   *sampleLine            `json:"sample,omitempty"`
	Rollback *rollbackLine          `json:"rollback,omitempty"`
}

type sampleLine struct {
	SensorID string    `json:"sensor_id"`
	At       time.Time `json:"at"`
	Values   []float64 `json:"values"`
}

type rollbackLine struct {
	Host      string `json:"host"`
	VersionID string `json:"version_id"`
}

type outputLine struct {
	Line     int                  `json:"line"`
	Result   *orchestrator.Result `json:"result,omitempty"`
	Rollback *ledger.CommitRecord `json:"rollback,omitempty"`
	Error    string               `json:"error,omitempty"`
}

type processor interface {
	Derive(req admission.Request, r orchestrator.Readings) admission.Request
	Process(ctx context.Context, req admission.Request) (orchestrator.Result, error)
	Rollback(ctx context.Context, host, versionID string) (ledger.CommitRecord, error)
}

// #endregion input

// #region sensor
// lineSensor feeds samples read from stdin to the supervisor.
type lineSensor struct {
	id string
	ch chan feedback.Snapshot
}

func newLineSensor(id string, buf int) *lineSensor {
	return &lineSensor{id: id, ch: make(chan feedback.Snapshot, buf)}
}

func (s *lineSensor) ID() string { return s.id }

func (s *lineSensor) Sample(context.Context) (feedback.Snapshot, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		return feedback.Snapshot{}, false
	}
}

// offer queues snap and reports false when the buffer is full.
func (s *lineSensor) offer(snap feedback.Snapshot) bool {
	select {
	case s.ch <- snap:
		return true
	default:
		return false
	}
}

// #endregion sensor

// #region loop
// serveLines handles stdin until EOF or ctx is done. Every request and
// rollback line gets one output line; samples are silent.
func serveLines(ctx context.Context, in io.Reader, out io.Writer, p processor, sensor *lineSensor, logger *slog.Logger) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 4<<20)
		for sc.Scan() {
			b := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- b:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
		close(lines)
	}()

	enc := json.NewEncoder(out)
	n := 0
	for {
		var raw []byte
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			raw = b
		}
		n++
		if len(raw) == 0 {
			continue
		}

		res, emit := handleLine(ctx, n, raw, p, sensor, logger)
		if !emit {
			continue
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}

func handleLine(ctx context.Context, n int, raw []byte, p processor, sensor *lineSensor, logger *slog.Logger) (outputLine, bool) {
	res := outputLine{Line: n}
	var in inputLine
	if err := json.Unmarshal(raw, &in); err != nil {
		res.Error = fmt.Sprintf("parse: %v", err)
		return res, true
	}

	switch {
	case in.Request != nil:
		req := *in.Request
		if in.Readings != nil {
			req = p.Derive(req, *in.Readings)
		}
		r, err := p.Process(ctx, req)
		if err != nil {
			logger.Error("process failed", "line", n, "proposal", req.Proposal.ID, "err", err)
			res.Error = err.Error()
		}
		res.Result = &r
	case in.Rollback != nil:
		rec, err := p.Rollback(ctx, in.Rollback.Host, in.Rollback.VersionID)
		if err != nil {
			res.Error = err.Error()
			break
		}
		res.Rollback = &rec
	case in.Sample != nil:
		snap := feedback.Snapshot{SensorID: in.Sample.SensorID, At: in.Sample.At, Values: in.Sample.Values}
		if snap.At.IsZero() {
			snap.At = time.Now().UTC()
		}
		if !sensor.offer(snap) {
			logger.Warn("sensor buffer full, sample dropped", "line", n, "sensor", snap.SensorID)
		}
		return res, false
	default:
		res.Error = "line has no request, rollback or sample"
	}
	return res, true
}

// #endregion loop
