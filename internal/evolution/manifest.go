// Package evolution checks a day's upgrade descriptors against the evidence
// registry and the coverage indexes and records the outcome as a manifest.
package evolution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/reason"
)

var validate = validator.New()

// #region descriptors
// Descriptor is one proposed upgrade as written in the descriptor file.
type Descriptor struct {
	ID       string         `yaml:"id" json:"id" validate:"required"`
	Domain   domain.ID      `yaml:"domain" json:"domain" validate:"required"`
	Kind     admission.Kind `yaml:"kind" json:"kind"`
	Critical bool           `yaml:"critical" json:"critical"`
	Summary  string         `yaml:"summary" json:"summary,omitempty"`
	Evidence []string       `yaml:"evidence" json:"evidence"`
}

type descriptorFile struct {
	Upgrades []Descriptor `yaml:"upgrades" validate:"required,min=1,dive"`
}

// LoadDescriptors reads and validates a descriptor file. Domains and kinds
// are normalized; every problem in the file is reported.
func LoadDescriptors(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptors: %w", err)
	}
	var f descriptorFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse descriptors %s: %w", path, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("validate descriptors %s: %w", path, err)
	}

	var errs []error
	seen := make(map[string]bool, len(f.Upgrades))
	for i := range f.Upgrades {
		d := &f.Upgrades[i]
		if seen[d.ID] {
			errs = append(errs, fmt.Errorf("upgrade %s listed twice", d.ID))
		}
		seen[d.ID] = true

		id, err := domain.Parse(string(d.Domain))
		if err != nil {
			errs = append(errs, fmt.Errorf("upgrade %s: %w", d.ID, err))
		}
		d.Domain = id

		if d.Kind == "" {
			d.Kind = admission.KindDomainUpgrade
		}
		if _, err := admission.ParseKind(string(d.Kind)); err != nil {
			errs = append(errs, fmt.Errorf("upgrade %s: %w", d.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Upgrades, nil
}

// Bundle returns the descriptor's evidence as a bundle.
func (d Descriptor) Bundle() evidence.Bundle {
	tags := make([]evidence.Tag, len(d.Evidence))
	for i, t := range d.Evidence {
		tags[i] = evidence.Tag(t)
	}
	return evidence.Bundle{Tags: tags}
}

// #endregion descriptors

// #region manifest
// Entry is one descriptor and its evidence report.
type Entry struct {
	Descriptor Descriptor      `json:"descriptor"`
	Report     evidence.Report `json:"report"`
	Code       reason.Code     `json:"code,omitempty"`
}

// Manifest is the day's evolution record.
type Manifest struct {
	ID           string    `json:"id"`
	Epoch        string    `json:"epoch"`
	GeneratedAt  time.Time `json:"generated_at"`
	ConfigDigest string    `json:"config_digest,omitempty"`
	Passed       int       `json:"passed"`
	Failed       int       `json:"failed"`
	Entries      []Entry   `json:"entries"`
}

// OK reports whether every descriptor passed.
func (m Manifest) OK() bool { return m.Failed == 0 }

// Build runs h over every descriptor in order.
func Build(h *evidence.Harness, descs []Descriptor, now time.Time, configDigest string) Manifest {
	m := Manifest{
		ID:           uuid.NewString(),
		Epoch:        domain.EpochID(now),
		GeneratedAt:  now.UTC(),
		ConfigDigest: configDigest,
		Entries:      make([]Entry, 0, len(descs)),
	}
	for _, d := range descs {
		rep, err := h.Run(d.ID, d.Critical, d.Bundle())
		e := Entry{Descriptor: d, Report: rep}
		if err != nil {
			e.Code = reason.CodeOf(err)
			m.Failed++
		} else {
			m.Passed++
		}
		m.Entries = append(m.Entries, e)
	}
	return m
}

// WriteManifest writes m as indented JSON, creating parent directories.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// #endregion manifest
