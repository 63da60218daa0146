package config

import (
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/corridor"
	"github.com/danielpatrickdp/mutation-gate/internal/damping"
	"github.com/danielpatrickdp/mutation-gate/internal/risk"
)

// #region process
// Process holds per-process settings read from the environment.
type Process struct {
	PolicyPath    string `env:"GATE_POLICY" envDefault:"gate.yaml" validate:"required"`
	LedgerDB      string `env:"GATE_LEDGER_DB" envDefault:"gate-ledger.db" validate:"required"`
	UsageDB       string `env:"GATE_USAGE_DB" envDefault:"gate-usage.db" validate:"required,nefield=LedgerDB"`
	AuditPath     string `env:"GATE_AUDIT_PATH" envDefault:"proofs/artifacts.jsonl" validate:"required"`
	MetricsAddr   string `env:"GATE_METRICS_ADDR" envDefault:":9464"`
	GRPCAddr      string `env:"GATE_GRPC_ADDR" envDefault:":9465"`
	MetricsSchema string `env:"GATE_METRICS_SCHEMA"`
	LogLevel      string `env:"GATE_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat     string `env:"GATE_LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	HistorySize   int    `env:"GATE_BAND_HISTORY" envDefault:"256" validate:"gt=0"`

	// Lifeforce sensor thresholds for the supervisor's band classifier.
	LifeforceSensor string        `env:"GATE_LIFEFORCE_SENSOR" envDefault:"lifeforce"`
	LifeforceSoft   float32       `env:"GATE_LIFEFORCE_SOFT" envDefault:"0.35" validate:"gte=0,lte=1,gtefield=LifeforceHard"`
	LifeforceHard   float32       `env:"GATE_LIFEFORCE_HARD" envDefault:"0.15" validate:"gte=0,lte=1"`
	PollEvery       time.Duration `env:"GATE_POLL_EVERY" envDefault:"100ms"`
	BusMaxAge       time.Duration `env:"GATE_BUS_MAX_AGE" envDefault:"30s"`
}

// #endregion process

// #region policy-file
// File is the YAML policy document.
type File struct {
	Domains      []DomainSpec                 `yaml:"domains" validate:"required,min=1,dive"`
	Risk         risk.Model                   `yaml:"risk"`
	Corridors    map[string]corridor.Envelope `yaml:"corridors" validate:"dive"`
	Evidence     EvidenceSpec                 `yaml:"evidence"`
	HostEnvelope damping.HostEnvelope         `yaml:"host_envelope"`
	Consent      []ConsentSpec                `yaml:"consent" validate:"dive"`
	Environment  EnvironmentSpec              `yaml:"environment"`
}

// DomainSpec is one domain policy as written in the file.
type DomainSpec struct {
	ID                       string  `yaml:"id" validate:"required"`
	Name                     string  `yaml:"name"`
	LifeforceFloor           float32 `yaml:"lifeforce_floor" validate:"gte=0,lte=1"`
	EcoCeilingPerEpoch       float64 `yaml:"eco_ceiling_per_epoch" validate:"gte=0"`
	ScaleLimitPerEpoch       float32 `yaml:"scale_limit_per_epoch" validate:"gte=0,lte=1"`
	AllowTemporaryDenialOnly *bool   `yaml:"allow_temporary_denial_only"`
	DeclaresStructuralBans   bool    `yaml:"declares_structural_bans"`
	Corridor                 string  `yaml:"corridor"`
}

// EvidenceSpec names the required tags and the coverage index file.
type EvidenceSpec struct {
	RequiredTags []string `yaml:"required_tags"`
	CoverageFile string   `yaml:"coverage_file" validate:"required"`
}

// ConsentSpec is a standing consent grant.
type ConsentSpec struct {
	Host      string    `yaml:"host" validate:"required"`
	Domain    string    `yaml:"domain" validate:"required"`
	GrantedAt time.Time `yaml:"granted_at"`
	Revocable *bool     `yaml:"revocable"`
}

// EnvironmentSpec is the static environment oracle answer.
type EnvironmentSpec struct {
	SafeForAutomation bool   `yaml:"safe_for_automation"`
	Mode              string `yaml:"mode" validate:"omitempty,oneof=manual_only auto_micro auto_micro_plus_wave unknown"`
}

// #endregion policy-file
