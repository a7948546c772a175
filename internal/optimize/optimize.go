// Package optimize implements the Optimizer Façade: a single
// suggest/report capability over three interchangeable sampling
// strategies (TPE, NSGA-III, RF). Objective vectors
// passed to Report are already goal-signed (minimize convention) by
// the caller (internal/orchestrator); every sampler
// in this package therefore always minimizes.
package optimize

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/scttfrdmn/scout/internal/config"
	"github.com/scttfrdmn/scout/internal/space"
)

// PenaltyValue is the per-objective penalty assigned to infeasible
// trials: large enough that any feasible trial dominates it on every
// (already minimize-signed) objective.
const PenaltyValue = 1e18

// Optimizer is the common capability every sampler backend
// implements: ask for a candidate, record an observation.
type Optimizer interface {
	// Suggest returns an Assignment respecting the Search Space,
	// including guards: inactive variables are never sampled and carry
	// space.InactiveValue.
	Suggest() (space.Assignment, error)
	// Report records an observation. objectives is already
	// goal-signed (minimize convention). feasible=false marks a
	// penalized trial (build/run failure).
	Report(a space.Assignment, objectives []float64, feasible bool) error
}

// New constructs the configured sampler.
func New(sp *space.Space, search config.SearchConfig, numObjectives int) (Optimizer, error) {
	seed := search.RandomSeed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))
	switch search.Sampler {
	case config.SamplerTPE:
		return NewTPE(sp, rng, search.PopulationSize), nil
	case config.SamplerNSGA3:
		return NewNSGA3(sp, rng, search.PopulationSize, numObjectives), nil
	case config.SamplerRF:
		return NewRF(sp, rng, search.PopulationSize), nil
	default:
		return nil, fmt.Errorf("config_error: unknown sampler %q", search.Sampler)
	}
}

// observation is one reported (assignment, objectives, feasible)
// tuple, shared by all three sampler implementations.
type observation struct {
	assignment space.Assignment
	objectives []float64
	feasible   bool
}

// sampleUniform draws a uniformly random Assignment from the Search
// Space, masking guarded variables whose guard is false *before*
// sampling them ("mask inactive variables before asking the
// underlying sampler"). Variables are visited in the Space's
// guard-respecting topological order so that a guard's referenced
// variable always already has a value when the guard is evaluated.
func sampleUniform(sp *space.Space, rng *rand.Rand) space.Assignment {
	a := make(space.Assignment, len(sp.Order))
	for _, name := range sp.Order {
		v := sp.Variables[name]
		if !v.Active(a) {
			a[name] = space.InactiveValue
			continue
		}
		a[name] = v.Domain[rng.Intn(len(v.Domain))]
	}
	return a
}

// sampleWeighted is like sampleUniform but draws each active
// variable's value from a caller-supplied per-(variable,value) weight
// table instead of uniformly; a variable with no weight entries (or
// all-zero weights) falls back to uniform. Used by TPE's good/bad
// density reweighting.
func sampleWeighted(sp *space.Space, rng *rand.Rand, weights map[string]map[string]float64) space.Assignment {
	a := make(space.Assignment, len(sp.Order))
	for _, name := range sp.Order {
		v := sp.Variables[name]
		if !v.Active(a) {
			a[name] = space.InactiveValue
			continue
		}
		w, ok := weights[name]
		if !ok {
			a[name] = v.Domain[rng.Intn(len(v.Domain))]
			continue
		}
		probs := make([]float64, len(v.Domain))
		total := 0.0
		for i, dv := range v.Domain {
			probs[i] = w[dv]
			total += w[dv]
		}
		if total <= 0 {
			a[name] = v.Domain[rng.Intn(len(v.Domain))]
			continue
		}
		dist := distuv.NewCategorical(probs, rng)
		a[name] = v.Domain[int(dist.Rand())]
	}
	return a
}

// dominates reports whether a dominates b: at least as good on every
// objective and strictly better on at least one (both already
// minimize-signed).
func dominates(a, b []float64) bool {
	strictlyBetter := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			strictlyBetter = true
		}
	}
	return strictlyBetter
}
