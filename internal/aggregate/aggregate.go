// Package aggregate reduces N raw metric samples per trial into the
// aggregated row archived for that trial.
// avg/min/max are hand-rolled single-pass reductions in the style of
// pkg/benchmarks/stream.go's calculateMean; median and sample variance
// delegate to gonum.org/v1/gonum/stat, which the pack already depends
// on via distr1-distri.
package aggregate

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/scttfrdmn/scout/internal/config"
)

// Agg is the reduction applied to a metric's raw samples.
type Agg string

const (
	AggAvg    Agg = "avg"
	AggMedian Agg = "median"
	AggMin    Agg = "min"
	AggMax    Agg = "max"
)

// Aggregate reduces a [runs x metrics] sample matrix into one row,
// applying each declared metric's aggregation and emitting a
// "<metric>_var" companion column when requested. A metric declared
// without an aggregation defaults to avg. Only the metrics in metrics
// are reduced: sample keys not named there are not included in the
// returned row.
func Aggregate(metrics []config.MetricSpec, samples []map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(metrics)*2)
	for _, m := range metrics {
		values := make([]float64, 0, len(samples))
		for _, s := range samples {
			v, ok := s[m.Name]
			if !ok {
				return nil, fmt.Errorf("metric_missing: %q absent from a run's samples", m.Name)
			}
			values = append(values, v)
		}
		agg := Agg(m.Agg)
		if agg == "" {
			agg = AggAvg
		}
		v, err := Reduce(agg, values)
		if err != nil {
			return nil, err
		}
		out[m.Name] = v
		if m.Var {
			out[m.Name+"_var"] = Variance(values)
		}
	}
	return out, nil
}

// Reduce applies a single named aggregation to a column of samples.
func Reduce(agg Agg, values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("cannot aggregate an empty sample set")
	}
	switch agg {
	case AggAvg, "":
		return Mean(values), nil
	case AggMedian:
		return Median(values), nil
	case AggMin:
		return Min(values), nil
	case AggMax:
		return Max(values), nil
	default:
		return 0, fmt.Errorf("config_error: unknown aggregation %q", agg)
	}
}

// Mean is the arithmetic mean of values.
func Mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Min is the smallest value.
func Min(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max is the largest value.
func Max(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Median is the sample median, computed via gonum's quantile
// estimator at p=0.5 over a sorted copy of values; for an even count
// it is the mean of the two middle values.
func Median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n := len(sorted); n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// Variance is the sample variance (Bessel-corrected), via gonum.
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	return stat.Variance(values, nil)
}
