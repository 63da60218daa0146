// Package evidence enforces fixed-cardinality evidence bundles and the test
// and formal-harness coverage of proposals.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

// #region check-evidence
// Normalize lower-cases and trims a tag.
func Normalize(t Tag) Tag {
	return Tag(strings.ToLower(strings.TrimSpace(string(t))))
}

// CheckEvidence verifies b against required. Missing tags are reported
// before cardinality, so a short bundle that lacks a required tag is
// MissingRequiredTags and a complete bundle with extras is WrongCardinality.
func CheckEvidence(b Bundle, required [BundleSize]Tag) error {
	present := make(map[Tag]bool, len(b.Tags))
	for _, t := range b.Tags {
		present[Normalize(t)] = true
	}

	var missing []string
	for _, req := range required {
		if !present[Normalize(req)] {
			missing = append(missing, string(req))
		}
	}
	if len(missing) > 0 {
		return reason.Deny(reason.MissingRequiredTags, "missing %s", strings.Join(missing, ","))
	}

	if len(b.Tags) != BundleSize {
		return reason.Deny(reason.WrongCardinality, "bundle has %d tags, want %d", len(b.Tags), BundleSize)
	}
	return nil
}

// #endregion check-evidence

// #region check-coverage
// CheckCoverage requires a unit test for id and, when critical, a formal
// harness as well. A nil index covers nothing.
func CheckCoverage(id string, critical bool, tests, harnesses Indexer) error {
	if tests == nil || !tests.Has(id) {
		return reason.Deny(reason.MissingUnitTest, "no unit test indexed for %s", id)
	}
	if critical && (harnesses == nil || !harnesses.Has(id)) {
		return reason.Deny(reason.MissingFormalHarness, "critical %s has no formal harness", id)
	}
	return nil
}

// #endregion check-coverage

// #region harness
// Harness runs every evidence and coverage check for a proposal and reports
// each one, like a CI gate would.
type Harness struct {
	required  [BundleSize]Tag
	tests     Indexer
	harnesses Indexer
}

// NewHarness creates a harness over the given registry and indexes.
func NewHarness(required [BundleSize]Tag, tests, harnesses Indexer) *Harness {
	return &Harness{required: required, tests: tests, harnesses: harnesses}
}

// Run checks the bundle and the coverage of id. The returned error is the
// first failure in check order, or nil when everything passed.
func (h *Harness) Run(id string, critical bool, b Bundle) (Report, error) {
	rep := Report{ProposalID: id, Passed: true}
	var first error

	record := func(name string, err error) {
		rep.Checks = append(rep.Checks, Check{Name: name, Pass: err == nil})
		if err != nil {
			rep.Passed = false
			if first == nil {
				first = err
			}
		}
	}

	record("evidence_bundle", CheckEvidence(b, h.required))
	record("unit_test", CheckCoverage(id, false, h.tests, h.harnesses))
	if critical {
		err := CheckCoverage(id, true, h.tests, h.harnesses)
		if reason.CodeOf(err) == reason.MissingUnitTest {
			err = nil // reported by unit_test already
		}
		record("formal_harness", err)
	}

	rep.Reason = "all checks passed"
	if first != nil {
		rep.Reason = fmt.Sprintf("evidence failed: %v", first)
	}
	return rep, first
}

// #endregion harness

// #region load
// LoadIndexes reads a YAML coverage file. A missing file is an error; an
// empty section is an empty index.
func LoadIndexes(path string) (Indexes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Indexes{}, fmt.Errorf("read coverage index: %w", err)
	}
	var ix Indexes
	if err := yaml.Unmarshal(data, &ix); err != nil {
		return Indexes{}, fmt.Errorf("parse coverage index %s: %w", path, err)
	}
	if ix.UnitTests == nil && ix.FormalHarnesses == nil {
		return Indexes{}, errors.New("coverage index has no unit_tests or formal_harnesses section")
	}
	if ix.UnitTests == nil {
		ix.UnitTests = Index{}
	}
	if ix.FormalHarnesses == nil {
		ix.FormalHarnesses = Index{}
	}
	return ix, nil
}

// ParseRegistry turns exactly BundleSize strings into a required-tag registry.
func ParseRegistry(tags []string) ([BundleSize]Tag, error) {
	var out [BundleSize]Tag
	if len(tags) != BundleSize {
		return out, fmt.Errorf("evidence registry needs %d tags, got %d", BundleSize, len(tags))
	}
	seen := make(map[Tag]bool, BundleSize)
	for i, s := range tags {
		t := Normalize(Tag(s))
		if t == "" || seen[t] {
			return out, fmt.Errorf("evidence registry tag %d (%q) is empty or duplicated", i, s)
		}
		seen[t] = true
		out[i] = t
	}
	return out, nil
}

// #endregion load
