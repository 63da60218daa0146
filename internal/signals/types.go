package signals

// #region config

// BuilderConfig holds the coefficients for context construction.
type BuilderConfig struct {
	ComfortSafe     float32 // discomfort when the last band is Safe
	ComfortSoftWarn float32 // discomfort when the last band is SoftWarn
	ComfortHardStop float32 // discomfort when the last band is HardStop or unknown
	PainWeight      float32 // pain corridor contribution to discomfort
	ClarityWeight   float32 // (1 - clarity) contribution to instability
	DropoutWeight   float32 // dropout contribution to instability
	ThermalMaxC     float32 // local thermal delta that maps to 1.0
}

// DefaultBuilderConfig returns the reference coefficients.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		ComfortSafe:     0.1,
		ComfortSoftWarn: 0.5,
		ComfortHardStop: 0.9,
		PainWeight:      0.6,
		ClarityWeight:   0.7,
		DropoutWeight:   0.6,
		ThermalMaxC:     1.0,
	}
}

// #endregion config

// #region input

// InterfaceSnapshot is the neural interface quality summary. All fields are
// normalized to 0.0–1.0.
type InterfaceSnapshot struct {
	Clarity    float32 `json:"clarity"`     // 1 = very clear
	Dropout    float32 `json:"dropout"`     // fraction of frames with poor signal
	Pain       float32 `json:"pain"`        // pain corridor index
	ScaleUsage float32 `json:"scale_usage"` // neuromorphic SCALE already used
}

// Physio is a raw physiological reading for risk input construction.
type Physio struct {
	Fatigue       float32 `json:"fatigue"`
	Tension       float32 `json:"tension"`
	Pain          float32 `json:"pain"`
	CognitiveLoad float32 `json:"cognitive_load"`
	ThermalDeltaC float32 `json:"thermal_delta_c"`
}

// #endregion input
