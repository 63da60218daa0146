package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/logging"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description string        `json:"description"`
	Steps       []FixtureStep `json:"steps"`
}

// FixtureStep is one request and, optionally, the decision it must produce.
type FixtureStep struct {
	Request  admission.Request `json:"request"`
	Expected *Expected         `json:"expected,omitempty"`
}

// Expected is the outcome a step is checked against. Empty fields are not
// compared.
type Expected struct {
	Outcome admission.Outcome `json:"outcome"`
	Layer   admission.Layer   `json:"layer,omitempty"`
	Codes   []string          `json:"codes,omitempty"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// FromLog turns logged decisions into a fixture whose expectations are the
// logged outcomes. Entries are ordered oldest first.
func FromLog(description string, entries []logging.DecisionEntry) (*Fixture, error) {
	sorted := append([]logging.DecisionEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	f := &Fixture{Description: description, Steps: make([]FixtureStep, 0, len(sorted))}
	for _, e := range sorted {
		rec, err := e.Record()
		if err != nil {
			return nil, err
		}
		f.Steps = append(f.Steps, FixtureStep{Request: rec.Request, Expected: expectedOf(rec.Decision)})
	}
	return f, nil
}

func expectedOf(d admission.Decision) *Expected {
	ex := &Expected{Outcome: d.Outcome, Layer: d.Layer}
	for _, c := range d.Codes() {
		ex.Codes = append(ex.Codes, string(c))
	}
	return ex
}

// #endregion fixture-loader
