package metrics

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NonCompliantPrefix marks metrics that must cite ALN clause ids.
const NonCompliantPrefix = "aln_non_compliant_events_total"

// ClausePrefix is the required prefix of every clause id.
const ClausePrefix = "ALN-"

// SchemaVersion versions a metric registry snapshot.
type SchemaVersion struct {
	Major uint32 `yaml:"major" json:"major"`
	Minor uint32 `yaml:"minor" json:"minor"`
	Patch uint32 `yaml:"patch" json:"patch"`
}

// Descriptor describes one exported metric.
type Descriptor struct {
	Name      string   `yaml:"name" json:"name"`
	Labels    []string `yaml:"labels,omitempty" json:"labels,omitempty"`
	ClauseIDs []string `yaml:"aln_clause_ids,omitempty" json:"aln_clause_ids,omitempty"`
}

// Snapshot is a versioned list of descriptors.
type Snapshot struct {
	Version SchemaVersion `yaml:"schema_version" json:"schema_version"`
	Metrics []Descriptor  `yaml:"metrics" json:"metrics"`
}

// ValidateSchema reports every non-compliance metric whose clause ids do
// not all carry ClausePrefix.
func ValidateSchema(s Snapshot) error {
	var errs []error
	for _, m := range s.Metrics {
		if !strings.HasPrefix(m.Name, NonCompliantPrefix) {
			continue
		}
		for _, id := range m.ClauseIDs {
			if !strings.HasPrefix(id, ClausePrefix) {
				errs = append(errs, fmt.Errorf("metric %s has invalid clause ids %v", m.Name, m.ClauseIDs))
				break
			}
		}
	}
	return errors.Join(errs...)
}

// LoadSchema reads a YAML snapshot and validates it.
func LoadSchema(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read metrics schema: %w", err)
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("parse metrics schema %s: %w", path, err)
	}
	if err := ValidateSchema(s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// Unlisted returns the exported metric names that s does not describe.
func Unlisted(s Snapshot, exported []Descriptor) []string {
	known := make(map[string]bool, len(s.Metrics))
	for _, m := range s.Metrics {
		known[m.Name] = true
	}
	var out []string
	for _, d := range exported {
		if !known[d.Name] {
			out = append(out, d.Name)
		}
	}
	return out
}
