package damping

import "github.com/danielpatrickdp/mutation-gate/internal/domain"

// #region lifeforce
// Lifeforce is the per-host resource snapshot read by neuromorphic eligibility.
type Lifeforce struct {
	Brain  float64 `json:"brain"`
	Blood  float64 `json:"blood"`
	Oxygen float64 `json:"oxygen"`
	Smart  float64 `json:"smart"`
}

// HostEnvelope holds the host's lifeforce floors and the SMART ceiling.
type HostEnvelope struct {
	BrainMin  float64 `json:"brain_min" yaml:"brain_min"`
	BloodMin  float64 `json:"blood_min" yaml:"blood_min"`
	OxygenMin float64 `json:"oxygen_min" yaml:"oxygen_min"`
	SmartMax  float64 `json:"smart_max" yaml:"smart_max"`
}

// #endregion lifeforce

// #region neuromorph-context
// Context is the comfort and load summary for neuromorphic decisions. All
// fields are normalized to 0.0–1.0.
type Context struct {
	Discomfort  float32 `json:"discomfort"`  // 0 = comfortable, 1 = severe discomfort
	Overload    float32 `json:"overload"`    // fraction of recent non-safe samples
	Instability float32 `json:"instability"` // interface noise
	ScaleUsage  float32 `json:"scale_usage"` // neuromorphic SCALE already consumed, advisory
}

// #endregion neuromorph-context

// #region eligibility
// Thresholds for neuromorphic eligibility. Boundaries are exact: SMART
// fractions compare with < and >=, hard stops with >.
const (
	SmartHardFloor     = 0.02 // fraction of BRAIN below which no neuromorphic step is allowed
	SmartAutoThreshold = 0.10 // fraction of BRAIN at or above which automatic steps are allowed
	DiscomfortHardStop = 0.85
	OverloadHardStop   = 0.75
	discomfortCoeff    = 0.6
	overloadCoeff      = 0.4
	instabilityCoeff   = 0.3
	scaleUsageCoeff    = 0.3
)

// Eligibility is the outcome of a neuromorphic eligibility check. Weight is a
// damping factor in [0,1]; it is zero whenever Allowed is false.
type Eligibility struct {
	Domain      domain.ID `json:"domain"`
	Allowed     bool      `json:"allowed"`
	Weight      float32   `json:"weight"`
	AutoAllowed bool      `json:"auto_allowed"`
	Tag         string    `json:"tag"`
}

func denied(d domain.ID, tag string) Eligibility {
	return Eligibility{Domain: d, Tag: tag}
}

// #endregion eligibility
