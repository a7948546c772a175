package optimize

import (
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/scttfrdmn/scout/internal/space"
)

// rfCandidatePool is how many random candidates the surrogate scores
// per Suggest call when proposing by expected improvement.
const rfCandidatePool = 64

// rfTreeCount is the number of bootstrap trees in the surrogate
// forest.
const rfTreeCount = 16

// RF is a random-forest-surrogate sampler: it warms up
// with uniform random sampling, then fits a small bootstrap forest of
// single-split regression stumps over the reported observations and
// proposes whichever of a random candidate pool the forest predicts
// the lowest (best, already minimize-signed) objective[0] for.
type RF struct {
	sp           *space.Space
	rng          *rand.Rand
	warmup       int
	observations []observation
}

// NewRF constructs an RF sampler with the given warmup trial count.
func NewRF(sp *space.Space, rng *rand.Rand, warmup int) *RF {
	return &RF{sp: sp, rng: rng, warmup: warmup}
}

func (r *RF) Suggest() (space.Assignment, error) {
	if len(r.observations) < r.warmup || len(r.observations) < 2 {
		return sampleUniform(r.sp, r.rng), nil
	}
	forest := r.fitForest()
	best := sampleUniform(r.sp, r.rng)
	bestScore := forest.predict(best)
	for i := 1; i < rfCandidatePool; i++ {
		candidate := sampleUniform(r.sp, r.rng)
		score := forest.predict(candidate)
		if score < bestScore {
			best, bestScore = candidate, score
		}
	}
	return best, nil
}

func (r *RF) Report(a space.Assignment, objectives []float64, feasible bool) error {
	obj := append([]float64(nil), objectives...)
	if !feasible {
		for i := range obj {
			obj[i] = PenaltyValue
		}
	}
	r.observations = append(r.observations, observation{assignment: a.Clone(), objectives: obj, feasible: feasible})
	return nil
}

// forest is a bootstrap ensemble of stumps, averaged at predict time.
type forest struct {
	trees []stump
}

func (f *forest) predict(a space.Assignment) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += t.predict(a)
	}
	return sum / float64(len(f.trees))
}

// stump is a single-variable, single-split regression tree: it picks
// the domain value of one decision variable that best separates
// objective[0] by variance reduction, and predicts each side's mean.
type stump struct {
	variable   string
	splitValue string
	leftMean   float64
	rightMean  float64
}

func (s stump) predict(a space.Assignment) float64 {
	if a[s.variable] == s.splitValue {
		return s.leftMean
	}
	return s.rightMean
}

// fitForest bootstraps rfTreeCount samples (with replacement) from the
// reported observations and fits one stump to each, the standard
// bagging construction behind a random forest, scaled down to stumps
// because SCOuT search spaces are typically small and discrete.
func (r *RF) fitForest() *forest {
	n := len(r.observations)
	f := &forest{trees: make([]stump, 0, rfTreeCount)}
	for i := 0; i < rfTreeCount; i++ {
		sample := make([]observation, n)
		for j := range sample {
			sample[j] = r.observations[r.rng.Intn(n)]
		}
		if t, ok := r.fitStump(sample); ok {
			f.trees = append(f.trees, t)
		}
	}
	return f
}

// fitStump finds the (variable, value) split minimizing the combined
// variance of the two resulting partitions of objective[0], via
// gonum/stat.Variance, and returns each partition's mean as the leaf
// prediction.
func (r *RF) fitStump(sample []observation) (stump, bool) {
	var best stump
	bestScore := maxFloat
	found := false

	for _, name := range r.sp.Order {
		v := r.sp.Variables[name]
		for _, dv := range v.Domain {
			var left, right []float64
			for _, o := range sample {
				if o.assignment[name] == dv {
					left = append(left, o.objectives[0])
				} else {
					right = append(right, o.objectives[0])
				}
			}
			if len(left) == 0 || len(right) == 0 {
				continue
			}
			score := weightedVariance(left) + weightedVariance(right)
			if score < bestScore {
				bestScore = score
				best = stump{
					variable:   name,
					splitValue: dv,
					leftMean:   mean(left),
					rightMean:  mean(right),
				}
				found = true
			}
		}
	}
	return best, found
}

const maxFloat = 1.7976931348623157e+308

func weightedVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.Variance(values, nil) * float64(len(values))
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
