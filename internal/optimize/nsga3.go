package optimize

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/scttfrdmn/scout/internal/space"
)

// mutationRate is the per-gene probability of resampling during
// NSGA-III variation, a conventional small value for discrete GAs.
const mutationRate = 0.1

// NSGA3 is a reference-point-based multi-objective Pareto genetic
// sampler. Reference directions are scaled to the number of declared
// objectives and used to niche the population during environmental
// selection, the defining feature that distinguishes NSGA-III from
// plain NSGA-II.
type NSGA3 struct {
	sp             *space.Space
	rng            *rand.Rand
	populationSize int
	numObjectives  int
	refDirections  [][]float64
	observations   []observation
}

// NewNSGA3 constructs an NSGA-III sampler with populationSize
// reference directions on the numObjectives-dimensional unit simplex.
func NewNSGA3(sp *space.Space, rng *rand.Rand, populationSize, numObjectives int) *NSGA3 {
	if numObjectives < 1 {
		numObjectives = 1
	}
	n := &NSGA3{sp: sp, rng: rng, populationSize: populationSize, numObjectives: numObjectives}
	n.refDirections = n.makeReferenceDirections(populationSize, numObjectives)
	return n
}

func (n *NSGA3) makeReferenceDirections(count, dims int) [][]float64 {
	dirs := make([][]float64, count)
	for i := range dirs {
		v := make([]float64, dims)
		for d := range v {
			v[d] = n.rng.Float64() + 1e-9
		}
		sum := floats.Sum(v)
		floats.Scale(1/sum, v)
		dirs[i] = v
	}
	return dirs
}

func (n *NSGA3) Suggest() (space.Assignment, error) {
	feasible := n.feasibleObservations()
	if len(feasible) < 2 {
		return sampleUniform(n.sp, n.rng), nil
	}
	fronts := nonDominatedSort(feasible)
	pop := n.buildPopulation(fronts)
	parentA := pop[n.rng.Intn(len(pop))]
	parentB := pop[n.rng.Intn(len(pop))]
	child := n.crossover(parentA.assignment, parentB.assignment)
	return n.mutate(child), nil
}

func (n *NSGA3) Report(a space.Assignment, objectives []float64, feasible bool) error {
	obj := append([]float64(nil), objectives...)
	if !feasible {
		for i := range obj {
			obj[i] = PenaltyValue
		}
	}
	n.observations = append(n.observations, observation{assignment: a.Clone(), objectives: obj, feasible: feasible})
	return nil
}

func (n *NSGA3) feasibleObservations() []observation {
	out := make([]observation, 0, len(n.observations))
	for _, o := range n.observations {
		if o.feasible {
			out = append(out, o)
		}
	}
	return out
}

// buildPopulation fills the next generation up to populationSize by
// accepting whole fronts in rank order; the front that would overflow
// the population is truncated by reference-point niching, the step
// that distinguishes NSGA-III's environmental selection from
// NSGA-II's crowding distance.
func (n *NSGA3) buildPopulation(fronts [][]observation) []observation {
	pop := make([]observation, 0, n.populationSize)
	for _, front := range fronts {
		if len(pop)+len(front) <= n.populationSize {
			pop = append(pop, front...)
			continue
		}
		remaining := n.populationSize - len(pop)
		if remaining > 0 {
			pop = append(pop, n.nicheSelect(front, pop, remaining)...)
		}
		break
	}
	return pop
}

// nicheSelect picks k members of front, biased toward the reference
// directions least represented in accepted: each pick takes the
// least-crowded niche among those the remaining candidates associate
// with, then the first remaining candidate (in front order) from that
// niche, adapting NSGA-III's environmental selection procedure.
func (n *NSGA3) nicheSelect(front, accepted []observation, k int) []observation {
	assocAccepted := n.associate(accepted)
	niche := make(map[int]int, len(n.refDirections))
	for _, d := range assocAccepted {
		niche[d]++
	}

	candidates := append([]observation(nil), front...)
	candidateDirs := n.associate(candidates)

	selected := make([]observation, 0, k)
	for len(selected) < k && len(candidates) > 0 {
		// Least-crowded niche among the remaining candidates wins; ties
		// break toward the first candidate in front order, keeping
		// selection deterministic for a given rng seed.
		bestIdx, bestDir := 0, candidateDirs[0]
		bestCount := niche[bestDir]
		for i := 1; i < len(candidateDirs); i++ {
			d := candidateDirs[i]
			if niche[d] < bestCount {
				bestIdx, bestDir, bestCount = i, d, niche[d]
			}
		}

		selected = append(selected, candidates[bestIdx])
		niche[bestDir]++

		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
		candidateDirs = append(candidateDirs[:bestIdx], candidateDirs[bestIdx+1:]...)
	}
	return selected
}

// associate maps each observation to the index of its nearest
// reference direction, by perpendicular distance from the
// ideal-point-translated objective vector to the direction's line
// through the origin (the standard NSGA-III association step).
func (n *NSGA3) associate(obs []observation) []int {
	if len(obs) == 0 {
		return nil
	}
	ideal := make([]float64, n.numObjectives)
	for i := range ideal {
		ideal[i] = math.Inf(1)
	}
	for _, o := range obs {
		for i := 0; i < n.numObjectives && i < len(o.objectives); i++ {
			if o.objectives[i] < ideal[i] {
				ideal[i] = o.objectives[i]
			}
		}
	}

	out := make([]int, len(obs))
	for k, o := range obs {
		translated := make([]float64, n.numObjectives)
		for i := 0; i < n.numObjectives; i++ {
			v := 0.0
			if i < len(o.objectives) {
				v = o.objectives[i] - ideal[i]
			}
			translated[i] = v
		}
		best, bestDist := 0, math.Inf(1)
		for i, dir := range n.refDirections {
			dist := perpendicularDistance(translated, dir)
			if dist < bestDist {
				bestDist, best = dist, i
			}
		}
		out[k] = best
	}
	return out
}

// perpendicularDistance returns the distance from point to the line
// through the origin along dir.
func perpendicularDistance(point, dir []float64) float64 {
	dirNorm := floats.Norm(dir, 2)
	if dirNorm == 0 {
		return floats.Norm(point, 2)
	}
	proj := floats.Dot(point, dir) / dirNorm
	var sumSq float64
	for i, p := range point {
		pd := proj * dir[i] / dirNorm
		diff := p - pd
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq)
}

// crossover produces a child by choosing, for each decision variable
// in guard-respecting order, one parent's value when that parent's
// variable is active; falls back to a fresh uniform draw when neither
// parent has an active value for a now-active variable.
func (n *NSGA3) crossover(a, b space.Assignment) space.Assignment {
	child := make(space.Assignment, len(n.sp.Order))
	for _, name := range n.sp.Order {
		v := n.sp.Variables[name]
		if !v.Active(child) {
			child[name] = space.InactiveValue
			continue
		}
		var candidates []string
		if av, ok := a[name]; ok && av != space.InactiveValue {
			candidates = append(candidates, av)
		}
		if bv, ok := b[name]; ok && bv != space.InactiveValue {
			candidates = append(candidates, bv)
		}
		if len(candidates) == 0 {
			child[name] = v.Domain[n.rng.Intn(len(v.Domain))]
			continue
		}
		child[name] = candidates[n.rng.Intn(len(candidates))]
	}
	return child
}

// mutate resamples each active gene independently with probability
// mutationRate.
func (n *NSGA3) mutate(a space.Assignment) space.Assignment {
	out := a.Clone()
	for _, name := range n.sp.Order {
		v := n.sp.Variables[name]
		if out[name] == space.InactiveValue {
			continue
		}
		if n.rng.Float64() < mutationRate {
			out[name] = v.Domain[n.rng.Intn(len(v.Domain))]
		}
	}
	return out
}

// nonDominatedSort partitions observations into Pareto fronts, best
// first, the core ranking step shared by NSGA-II and NSGA-III.
func nonDominatedSort(obs []observation) [][]observation {
	n := len(obs)
	dominatedBy := make([][]int, n)
	dominationCount := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if dominates(obs[i].objectives, obs[j].objectives) {
				dominatedBy[i] = append(dominatedBy[i], j)
			} else if dominates(obs[j].objectives, obs[i].objectives) {
				dominationCount[i]++
			}
		}
	}

	var fronts [][]observation
	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}
	counts := append([]int(nil), dominationCount...)

	for len(remaining) > 0 {
		var front []int
		var next []int
		for _, i := range remaining {
			if counts[i] == 0 {
				front = append(front, i)
			} else {
				next = append(next, i)
			}
		}
		if len(front) == 0 {
			// Numerical ties left every remaining point with a positive
			// count; break the stall by releasing the rest as one front.
			front = remaining
			next = nil
		}
		frontObs := make([]observation, len(front))
		for k, i := range front {
			frontObs[k] = obs[i]
			for _, j := range dominatedBy[i] {
				counts[j]--
			}
		}
		fronts = append(fronts, frontObs)
		remaining = next
	}
	return fronts
}
