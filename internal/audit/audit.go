// Package audit emits proof artifacts for committed state changes to an
// append-only, hash-chained JSONL stream.
package audit

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
)

// GenesisHash is the PrevHash of the first line in a stream.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Emitter appends proof artifacts. Implementations never rewrite.
type Emitter interface {
	Emit(ctx context.Context, a ProofArtifact) error
}

// #region build
// Inputs is what Build needs beyond the commit itself.
type Inputs struct {
	Admitted   admission.Admitted
	Commit     ledger.CommitRecord
	Bands      band.Series
	Usage      domain.EpochUsage
	Policy     domain.Policy
	Mode       consent.MetabolicMode
	Consent    consent.Record
	Provenance []byte
}

// Build assembles the artifact for a committed, admitted mutation.
func Build(in Inputs) ProofArtifact {
	p := in.Admitted.Proposal()
	lf := band.HardStop
	if last, ok := in.Bands.Last(); ok {
		lf = last.Band
	}
	return ProofArtifact{
		Host:        in.Commit.Host,
		UTCMillis:   in.Commit.CommittedAt.UnixMilli(),
		OriginPlane: OriginPlane,
		Event: EventSummary{
			EventID: in.Admitted.DecisionID(),
			Domain:  p.Domain,
			Reason:  string(p.Kind),
		},
		PreDigest:        in.Commit.PreDigest,
		PostDigest:       in.Commit.PostDigest,
		Seq:              in.Commit.Seq,
		LifeforceBand:    lf,
		LifeforceOK:      lf != band.HardStop,
		EcoBand:          ClassifyEco(in.Usage.EcoCostUsed+p.EcoCost, in.Policy.EcoCeilingPerEpoch),
		EcoCostHint:      p.EcoCost,
		MetabolicMode:    in.Mode,
		ConsentDigest:    digestOrEmpty(in.Consent.Proof),
		ProvenanceDigest: digestOrEmpty(in.Provenance),
		AuditID:          in.Commit.VersionID,
	}
}

// ClassifyEco buckets used against ceiling in thirds. A non-positive
// ceiling is always high.
func ClassifyEco(used, ceiling float64) EcoBand {
	if ceiling <= 0 {
		return EcoHigh
	}
	switch r := used / ceiling; {
	case r < 1.0/3:
		return EcoLow
	case r < 2.0/3:
		return EcoMedium
	default:
		return EcoHigh
	}
}

func digestOrEmpty(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// #endregion build

// #region jsonl
// JSONLEmitter writes one artifact per line. Each line's PrevHash is the
// SHA-256 of the previous line, so truncation or edits break the chain.
type JSONLEmitter struct {
	mu   sync.Mutex
	path string
	prev string
}

// NewJSONLEmitter opens (or creates) the stream at path and resumes the
// chain from its last line.
func NewJSONLEmitter(path string) (*JSONLEmitter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	prev, _, err := tail(path)
	if err != nil {
		return nil, err
	}
	return &JSONLEmitter{path: path, prev: prev}, nil
}

// Emit appends a.
func (e *JSONLEmitter) Emit(ctx context.Context, a ProofArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	a.PrevHash = e.prev
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal proof artifact: %w", err)
	}

	f, err := os.OpenFile(e.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit stream: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append proof artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync audit stream: %w", err)
	}
	e.prev = lineHash(line)
	return nil
}

// Path returns the stream location.
func (e *JSONLEmitter) Path() string { return e.path }

// #endregion jsonl

// #region verify
// ErrChainBroken is returned by Verify when a line does not chain to its
// predecessor.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Verify walks the stream at path and returns the number of artifacts.
func Verify(path string) (int, error) {
	_, n, err := tail(path)
	return n, err
}

// ReadAll decodes every artifact in the stream at path.
func ReadAll(path string) ([]ProofArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit stream: %w", err)
	}
	defer f.Close()
	var out []ProofArtifact
	err = scan(f, func(line []byte) error {
		var a ProofArtifact
		if err := json.Unmarshal(line, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// tail validates the chain and returns the hash of the last line.
func tail(path string) (string, int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("open audit stream: %w", err)
	}
	defer f.Close()

	prev, n := GenesisHash, 0
	err = scan(f, func(line []byte) error {
		var a struct {
			PrevHash string `json:"prev_hash"`
		}
		if err := json.Unmarshal(line, &a); err != nil {
			return err
		}
		if a.PrevHash != prev {
			return fmt.Errorf("%w at line %d", ErrChainBroken, n+1)
		}
		prev = lineHash(line)
		n++
		return nil
	})
	return prev, n, err
}

func scan(r io.Reader, fn func([]byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if err := fn(b); err != nil {
			if errors.Is(err, ErrChainBroken) {
				return err
			}
			return fmt.Errorf("audit line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func lineHash(line []byte) string {
	sum := sha256.Sum256(line)
	return hex.EncodeToString(sum[:])
}

// #endregion verify

// #region recorder
// Recorder emits artifacts and logs failures. A failed emission never
// undoes the commit it describes.
type Recorder struct {
	emitter Emitter
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder wraps emitter. A nil logger uses the default.
func NewRecorder(emitter Emitter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default().With("component", "audit")
	}
	return &Recorder{emitter: emitter, logger: logger, timeout: 5 * time.Second}
}

// Record emits a and reports whether it was written.
func (r *Recorder) Record(ctx context.Context, a ProofArtifact) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.emitter.Emit(ctx, a); err != nil {
		r.logger.Error("proof artifact emission failed", "host", a.Host, "seq", a.Seq, "event", a.Event.EventID, "err", err)
		return false
	}
	return true
}

// #endregion recorder
