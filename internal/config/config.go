// Package config loads the policy file and process settings and turns them
// into a validated engine configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/consent"
	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
	"github.com/danielpatrickdp/mutation-gate/internal/evidence"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
)

var validate = validator.New()

// Loaded is a policy file turned into engine inputs.
type Loaded struct {
	Engine      admission.Config
	Scope       *consent.StaticScope
	Environment consent.StaticEnvironment
	// Digest fingerprints the policy for decision logs.
	Digest string
}

// #region process
// ParseProcess reads process settings from the environment.
func ParseProcess() (Process, error) {
	var p Process
	if err := env.Parse(&p); err != nil {
		return Process{}, fmt.Errorf("parse env: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return Process{}, fmt.Errorf("process settings: %w", err)
	}
	return p, nil
}

// NewLogger builds the process logger from level and format.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// #endregion process

// #region load
// Load reads and builds the policy file at path. Relative paths inside the
// file resolve against its directory.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read policy: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return Loaded{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return Build(f, filepath.Dir(path))
}

// Parse decodes and structurally validates a policy document. Unknown keys
// are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return File{}, fmt.Errorf("validate: %w", err)
	}
	return f, nil
}

// Build runs every load-time invariant and returns the engine inputs. All
// violations are reported together.
func Build(f File, baseDir string) (Loaded, error) {
	var errs []error

	corridors := corridor.NewRegistry()
	for id, envelope := range f.Corridors {
		switch id {
		case corridor.GazeV1ID:
			if err := corridors.Register(corridor.NewGazeV1(envelope)); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("corridor %q has no kernel", id))
		}
	}

	policies := make([]domain.Policy, 0, len(f.Domains))
	for _, ds := range f.Domains {
		id, err := domain.Parse(ds.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		temporaryOnly := true
		if ds.AllowTemporaryDenialOnly != nil {
			temporaryOnly = *ds.AllowTemporaryDenialOnly
		}
		policies = append(policies, domain.Policy{
			ID:                       id,
			Name:                     ds.Name,
			LifeforceFloor:           ds.LifeforceFloor,
			EcoCeilingPerEpoch:       ds.EcoCeilingPerEpoch,
			ScaleLimitPerEpoch:       ds.ScaleLimitPerEpoch,
			AllowTemporaryDenialOnly: temporaryOnly,
			DeclaresStructuralBans:   ds.DeclaresStructuralBans,
			CorridorID:               ds.Corridor,
		})
	}

	required := evidence.DefaultRequired
	if len(f.Evidence.RequiredTags) > 0 {
		r, err := evidence.ParseRegistry(f.Evidence.RequiredTags)
		if err != nil {
			errs = append(errs, err)
		}
		required = r
	}

	var ix evidence.Indexes
	if f.Evidence.CoverageFile != "" {
		p := f.Evidence.CoverageFile
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		loaded, err := evidence.LoadIndexes(p)
		if err != nil {
			errs = append(errs, err)
		}
		ix = loaded
	}

	if err := f.Risk.Validate(); err != nil {
		errs = append(errs, err)
	}

	scope := consent.NewStaticScope()
	for _, cs := range f.Consent {
		id, err := domain.Parse(cs.Domain)
		if err != nil {
			errs = append(errs, fmt.Errorf("consent for %s: %w", cs.Host, err))
			continue
		}
		revocable := true
		if cs.Revocable != nil {
			revocable = *cs.Revocable
		}
		rec := consent.Record{Host: cs.Host, Domain: id, GrantedAt: cs.GrantedAt, Revocable: revocable}
		if err := consent.VerifyRecord(rec, cs.Host, id); err != nil {
			errs = append(errs, fmt.Errorf("consent for %s/%s: %w", cs.Host, id, err))
			continue
		}
		scope.Grant(rec)
	}

	if err := errors.Join(errs...); err != nil {
		return Loaded{}, err
	}

	cfg := admission.Config{
		Policies:        policies,
		Risk:            f.Risk,
		Corridors:       corridors,
		RequiredTags:    required,
		UnitTests:       ix.UnitTests,
		FormalHarnesses: ix.FormalHarnesses,
		HostEnvelope:    f.HostEnvelope,
	}

	// Corridor binding, doctrine and duplicate checks live in admission.New.
	envr := consent.StaticEnvironment{Safe: f.Environment.SafeForAutomation, MetabolicMode: consent.MetabolicMode(f.Environment.Mode)}
	if _, err := admission.New(cfg, scope, envr); err != nil {
		return Loaded{}, err
	}

	digest, err := ledger.Digest(f)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{Engine: cfg, Scope: scope, Environment: envr, Digest: digest}, nil
}

// #endregion load

// #region engine
// NewEngine constructs the engine for l.
func (l Loaded) NewEngine(opts ...admission.Option) (*admission.Engine, error) {
	return admission.New(l.Engine, l.Scope, l.Environment, opts...)
}

// #endregion engine
