package corridor

import "github.com/danielpatrickdp/mutation-gate/internal/reason"

// #region group
// Group is one independently checked dimension group of a corridor.
type Group string

const (
	GroupSpatial    Group = "spatial"
	GroupEnergy     Group = "energy"
	GroupThermal    Group = "thermal"
	GroupDutyTiming Group = "duty_timing"
	GroupBiometric  Group = "biometric"
)

// Groups lists the groups in evaluation order.
var Groups = []Group{GroupSpatial, GroupEnergy, GroupThermal, GroupDutyTiming, GroupBiometric}

// #endregion group

// #region envelope
// Envelope is the static, versioned set of ceilings for the gaze corridor.
type Envelope struct {
	MaxSpatialErrorCm        float32 `json:"max_spatial_error_cm" yaml:"max_spatial_error_cm" validate:"gt=0"`
	PerEventEnergyJ          float32 `json:"per_event_energy_j" yaml:"per_event_energy_j" validate:"gt=0"`
	PerSessionEnergyJ        float32 `json:"per_session_energy_j" yaml:"per_session_energy_j" validate:"gt=0"`
	DailyEnergyJ             float32 `json:"daily_energy_j" yaml:"daily_energy_j" validate:"gt=0"`
	SbioLoadIndexMax         float32 `json:"sbio_load_index_max" yaml:"sbio_load_index_max" validate:"gt=0,lte=1"`
	LocalThermalDeltaCMax    float32 `json:"local_thermal_delta_c_max" yaml:"local_thermal_delta_c_max" validate:"gt=0"`
	GlobalThermalDeltaCMax   float32 `json:"global_thermal_delta_c_max" yaml:"global_thermal_delta_c_max" validate:"gt=0"`
	MaxDutyFractionSession   float32 `json:"max_duty_fraction_session" yaml:"max_duty_fraction_session" validate:"gt=0,lte=1"`
	MinInterEventMs          int64   `json:"min_inter_event_ms" yaml:"min_inter_event_ms" validate:"gte=0"`
	MaxContinuousBurstMs     int64   `json:"max_continuous_burst_ms" yaml:"max_continuous_burst_ms" validate:"gt=0"`
	MinCooldownBetweenBursts int64   `json:"min_cooldown_between_bursts_ms" yaml:"min_cooldown_between_bursts_ms" validate:"gte=0"`
	HRVDropAllowedRatio      float32 `json:"hrv_drop_allowed_ratio" yaml:"hrv_drop_allowed_ratio" validate:"gte=0,lte=1"`
	EEGBetaGammaCeiling      float32 `json:"eeg_beta_gamma_ceiling" yaml:"eeg_beta_gamma_ceiling" validate:"gt=0,lte=1"`
	RohCeiling               float32 `json:"roh_ceiling" yaml:"roh_ceiling" validate:"gt=0,lte=1"`
	RohTarget                float32 `json:"roh_target" yaml:"roh_target" validate:"gte=0,ltefield=RohCeiling"`
}

// DefaultGazeEnvelope returns the reference envelope for the gaze corridor.
func DefaultGazeEnvelope() Envelope {
	return Envelope{
		MaxSpatialErrorCm:        0.20,
		PerEventEnergyJ:          0.05,
		PerSessionEnergyJ:        5.0,
		DailyEnergyJ:             25.0,
		SbioLoadIndexMax:         0.30,
		LocalThermalDeltaCMax:    0.8,
		GlobalThermalDeltaCMax:   0.4,
		MaxDutyFractionSession:   0.35,
		MinInterEventMs:          25,
		MaxContinuousBurstMs:     500,
		MinCooldownBetweenBursts: 250,
		HRVDropAllowedRatio:      0.85,
		EEGBetaGammaCeiling:      0.80,
		RohCeiling:               0.30,
		RohTarget:                0.10,
	}
}

// #endregion envelope

// #region state
// State is the live snapshot of the corridor dimensions for one decision.
type State struct {
	SpatialErrorCm       float32 `json:"spatial_error_cm"`
	EventEnergyJ         float32 `json:"event_energy_j"`
	SessionEnergyJ       float32 `json:"session_energy_j"`
	DailyEnergyJ         float32 `json:"daily_energy_j"`
	SbioLoadIndex        float32 `json:"sbio_load_index"`
	LocalThermalDeltaC   float32 `json:"local_thermal_delta_c"`
	GlobalThermalDeltaC  float32 `json:"global_thermal_delta_c"`
	SessionDutyFraction  float32 `json:"session_duty_fraction"`
	InterEventMs         int64   `json:"inter_event_ms"`
	ContinuousBurstMs    int64   `json:"continuous_burst_ms"`
	CooldownSinceBurstMs int64   `json:"cooldown_since_last_burst_ms"`
	HRVRatio             float32 `json:"hrv_ratio"`
	EEGBetaGammaLoad     float32 `json:"eeg_beta_gamma_load"`
	RohEstimateWindow    float32 `json:"roh_estimate_window"`
}

// Identity names who the corridor decision is for.
type Identity struct {
	Host    string `json:"host"`
	Subject string `json:"subject"`
}

// #endregion state

// #region decision
// Decision is the output of one corridor evaluation. Breaches holds one
// CorridorBreach denial per failing group, in group order.
type Decision struct {
	CorridorID      string          `json:"corridor_id"`
	Allowed         bool            `json:"allowed"`
	Breaches        []reason.Denial `json:"breaches,omitempty"`
	KernelDistance  float64         `json:"kernel_distance"`
	KnowledgeFactor float64         `json:"knowledge_factor"`
}

// #endregion decision

// #region metrics-sink
// MetricsSink receives corridor observations. Calls are fire-and-forget; a
// panicking sink is recovered and never affects the decision.
type MetricsSink interface {
	IncCorridorBreach(corridorID string, breach Group, value float64)
	ObserveKernelDistance(corridorID string, distance float64)
	ObserveKnowledgeFactor(corridorID string, factor float64)
}

// NopSink discards every observation.
type NopSink struct{}

func (NopSink) IncCorridorBreach(string, Group, float64) {}
func (NopSink) ObserveKernelDistance(string, float64)    {}
func (NopSink) ObserveKnowledgeFactor(string, float64)   {}

// #endregion metrics-sink
