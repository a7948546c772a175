package optimize

import (
	"math/rand"

	"github.com/scttfrdmn/scout/internal/space"
)

// tpeGamma is the quantile splitting observations into the "good" and
// "bad" pools, a standard tree-structured Parzen estimator default.
const tpeGamma = 0.25

// TPE is a single-objective tree-structured Parzen estimator: it uses
// objective index 0 as the scalar objective it steers on, and records
// (but does not steer on) any further objectives.
type TPE struct {
	sp             *space.Space
	rng            *rand.Rand
	warmup         int
	observations   []observation
}

// NewTPE constructs a TPE sampler that samples uniformly at random for
// the first warmup trials (no history yet), then reweights toward the
// good-observation pool.
func NewTPE(sp *space.Space, rng *rand.Rand, warmup int) *TPE {
	return &TPE{sp: sp, rng: rng, warmup: warmup}
}

func (t *TPE) Suggest() (space.Assignment, error) {
	if len(t.observations) < t.warmup {
		return sampleUniform(t.sp, t.rng), nil
	}
	weights := t.goodWeightedDomains()
	return sampleWeighted(t.sp, t.rng, weights), nil
}

func (t *TPE) Report(a space.Assignment, objectives []float64, feasible bool) error {
	obj := append([]float64(nil), objectives...)
	if !feasible {
		for i := range obj {
			obj[i] = PenaltyValue
		}
	}
	t.observations = append(t.observations, observation{assignment: a.Clone(), objectives: obj, feasible: feasible})
	return nil
}

// goodWeightedDomains splits observations at the gamma quantile of
// objective[0] and returns, per decision variable, a weight table
// favoring domain values that appeared more often in the good split
// than the bad split — the core TPE intuition (l(x)/g(x) density
// ratio) approximated with simple frequency counts rather than true
// kernel density estimates, which is the tractable shape for a
// discrete, guard-masked search space like this one.
func (t *TPE) goodWeightedDomains() map[string]map[string]float64 {
	sorted := append([]observation(nil), t.observations...)
	sortObservationsByObjective0(sorted)

	cut := int(float64(len(sorted)) * tpeGamma)
	if cut < 1 {
		cut = 1
	}
	if cut >= len(sorted) {
		cut = len(sorted) - 1
	}
	good, bad := sorted[:cut], sorted[cut:]

	goodCounts := countByVariable(good)
	badCounts := countByVariable(bad)

	weights := make(map[string]map[string]float64, len(t.sp.Variables))
	for name, v := range t.sp.Variables {
		table := make(map[string]float64, len(v.Domain))
		for _, dv := range v.Domain {
			g := goodCounts[name][dv] + 1 // Laplace smoothing avoids zero-weight lockout
			b := badCounts[name][dv] + 1
			table[dv] = g / b
		}
		weights[name] = table
	}
	return weights
}

func sortObservationsByObjective0(obs []observation) {
	for i := 1; i < len(obs); i++ {
		for j := i; j > 0 && obs[j-1].objectives[0] > obs[j].objectives[0]; j-- {
			obs[j-1], obs[j] = obs[j], obs[j-1]
		}
	}
}

func countByVariable(obs []observation) map[string]map[string]float64 {
	counts := make(map[string]map[string]float64)
	for _, o := range obs {
		for name, value := range o.assignment {
			if value == space.InactiveValue {
				continue
			}
			if counts[name] == nil {
				counts[name] = make(map[string]float64)
			}
			counts[name][value]++
		}
	}
	return counts
}
