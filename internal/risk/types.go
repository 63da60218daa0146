package risk

import (
	"fmt"
	"time"

	"github.com/danielpatrickdp/mutation-gate/internal/consent"
)

// #region band
// Band selects which ceiling a proposal is evaluated against.
type Band int

const (
	Strict Band = iota
	Elevated
)

func (b Band) String() string {
	switch b {
	case Strict:
		return "strict"
	case Elevated:
		return "elevated"
	default:
		return fmt.Sprintf("band(%d)", int(b))
	}
}

// ParseBand maps "strict" or "elevated" to a Band. An empty label is Strict.
func ParseBand(s string) (Band, error) {
	switch s {
	case "", "strict", "ordinary":
		return Strict, nil
	case "elevated", "research":
		return Elevated, nil
	}
	return Strict, fmt.Errorf("unknown risk band %q", s)
}

func (b Band) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *Band) UnmarshalText(p []byte) error {
	v, err := ParseBand(string(p))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// #endregion band

// #region inputs
// Inputs are the normalized (0.0–1.0) physiological and contextual factors a
// risk score is computed from.
type Inputs struct {
	Fatigue       float32 `json:"fatigue"`
	Tension       float32 `json:"tension"`
	Pain          float32 `json:"pain"`
	CognitiveLoad float32 `json:"cognitive_load"`
	Thermal       float32 `json:"thermal"`
	Instability   float32 `json:"instability"`
}

// Weights are the per-input coefficients of the risk model.
type Weights struct {
	Fatigue       float32 `json:"fatigue" yaml:"fatigue" validate:"gte=0,lte=1"`
	Tension       float32 `json:"tension" yaml:"tension" validate:"gte=0,lte=1"`
	Pain          float32 `json:"pain" yaml:"pain" validate:"gte=0,lte=1"`
	CognitiveLoad float32 `json:"cognitive_load" yaml:"cognitive_load" validate:"gte=0,lte=1"`
	Thermal       float32 `json:"thermal" yaml:"thermal" validate:"gte=0,lte=1"`
	Instability   float32 `json:"instability" yaml:"instability" validate:"gte=0,lte=1"`
}

// Sum returns the total weight.
func (w Weights) Sum() float32 {
	return w.Fatigue + w.Tension + w.Pain + w.CognitiveLoad + w.Thermal + w.Instability
}

// #endregion inputs

// #region biostate
// BioState is the live physiological reading checked against a token's guard.
type BioState struct {
	HRV     float32 `json:"hrv"`
	Tension float32 `json:"tension"`
	Fatigue float32 `json:"fatigue"`
	Pain    float32 `json:"pain"`
}

// #endregion biostate

// #region eval-request
// EvalRequest bundles one risk-of-harm evaluation.
type EvalRequest struct {
	Before  Inputs
	After   Inputs
	Band    Band
	Token   *consent.Token
	Subject string
	Kind    string
	Effect  float32 // proposed effect magnitude
	Bio     BioState
	Now     time.Time
}

// Result is the outcome of a passing evaluation.
type Result struct {
	Band   Band    `json:"band"`
	Before float32 `json:"before"`
	After  float32 `json:"after"`
}

// #endregion eval-request
