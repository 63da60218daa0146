package replay

import (
	"fmt"
	"slices"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/domain"
)

// #region types

// Result captures the outcome of replaying one step.
type Result struct {
	ProposalID string
	Host       string
	Domain     domain.ID
	Outcome    admission.Outcome
	Layer      admission.Layer
	Codes      []string
	Weight     float32
	Applied    float32 // magnitude added to the in-memory level, 0 on deny

	Expected *Expected
	Match    bool
	Mismatch string
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total      int
	Allowed    int
	Denied     int
	Mismatches int
	ByLayer    map[admission.Layer]int
	Levels     map[string]map[domain.ID]float64
}

// #endregion types

// #region replay

type usageKey struct {
	host   string
	domain domain.ID
	epoch  string
}

// Replay runs every step through e in order. Steps whose request carries no
// epoch usage are accounted in memory: allowed steps add their costs, and the
// running total is supplied to later steps in the same epoch. Allowed steps
// also advance in-memory levels by their effective magnitude.
func Replay(e *admission.Engine, steps []FixtureStep) ([]Result, Summary) {
	usage := map[usageKey]domain.EpochUsage{}
	levels := map[string]map[domain.ID]float64{}
	results := make([]Result, 0, len(steps))

	for _, st := range steps {
		req := st.Request
		p := req.Proposal
		tracked := req.Usage.EpochID == ""
		var key usageKey
		if tracked {
			key = usageKey{host: p.Host, domain: p.Domain, epoch: domain.EpochID(req.Now)}
			u, ok := usage[key]
			if !ok {
				u = domain.EpochUsage{EpochID: key.epoch}
			}
			req.Usage = u
		}

		d := e.Admit(req)
		r := Result{
			ProposalID: p.ID,
			Host:       p.Host,
			Domain:     p.Domain,
			Outcome:    d.Outcome,
			Layer:      d.Layer,
			Weight:     d.DampingWeight,
			Expected:   st.Expected,
			Match:      true,
		}
		for _, c := range d.Codes() {
			r.Codes = append(r.Codes, string(c))
		}

		if a, ok := d.Admitted(); ok {
			r.Applied = a.EffectiveMagnitude()
			if levels[p.Host] == nil {
				levels[p.Host] = map[domain.ID]float64{}
			}
			levels[p.Host][p.Domain] += float64(r.Applied)
			if tracked {
				usage[key] = req.Usage.Add(p.ScaleCost, p.EcoCost)
			}
		}

		if st.Expected != nil {
			r.Mismatch = compare(*st.Expected, r)
			r.Match = r.Mismatch == ""
		}
		results = append(results, r)
	}
	return results, Summarize(results, levels)
}

func compare(ex Expected, r Result) string {
	if ex.Outcome != r.Outcome {
		return fmt.Sprintf("outcome %s, expected %s", r.Outcome, ex.Outcome)
	}
	if ex.Layer != "" && ex.Layer != r.Layer {
		return fmt.Sprintf("layer %s, expected %s", r.Layer, ex.Layer)
	}
	if len(ex.Codes) > 0 && !slices.Equal(ex.Codes, r.Codes) {
		return fmt.Sprintf("codes %v, expected %v", r.Codes, ex.Codes)
	}
	return ""
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result, levels map[string]map[domain.ID]float64) Summary {
	s := Summary{
		Total:   len(results),
		ByLayer: map[admission.Layer]int{},
		Levels:  levels,
	}
	for _, r := range results {
		switch r.Outcome {
		case admission.Allow:
			s.Allowed++
		case admission.Deny:
			s.Denied++
			s.ByLayer[r.Layer]++
		}
		if !r.Match {
			s.Mismatches++
		}
	}
	return s
}

// #endregion replay
