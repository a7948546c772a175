package aggregate

import (
	"math"
	"testing"

	"github.com/scttfrdmn/scout/internal/config"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestReduceAvg(t *testing.T) {
	got, err := Reduce(AggAvg, []float64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("Reduce returned error: %v", err)
	}
	if !almostEqual(got, 3.0) {
		t.Errorf("avg = %v, want 3.0", got)
	}
}

func TestReduceMinMax(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	min, _ := Reduce(AggMin, values)
	max, _ := Reduce(AggMax, values)
	if min != 1 {
		t.Errorf("min = %v, want 1", min)
	}
	if max != 9 {
		t.Errorf("max = %v, want 9", max)
	}
}

func TestReduceMedianOdd(t *testing.T) {
	got, _ := Reduce(AggMedian, []float64{5, 1, 3})
	if !almostEqual(got, 3.0) {
		t.Errorf("median = %v, want 3.0", got)
	}
}

func TestReduceUnknownAgg(t *testing.T) {
	if _, err := Reduce(Agg("bogus"), []float64{1}); err == nil {
		t.Fatal("expected error for unknown aggregation")
	}
}

func TestVarianceMatchesSampleVariance(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	want := sumSq / float64(len(values)-1)
	got := Variance(values)
	if !almostEqual(got, want) {
		t.Errorf("Variance = %v, want %v", got, want)
	}
}

func TestAggregateProducesVarColumn(t *testing.T) {
	metrics := []config.MetricSpec{
		{Name: "Runtime (RDTSC) [s]", Agg: "avg", Var: true},
	}
	samples := []map[string]float64{
		{"Runtime (RDTSC) [s]": 1.0},
		{"Runtime (RDTSC) [s]": 2.0},
		{"Runtime (RDTSC) [s]": 3.0},
		{"Runtime (RDTSC) [s]": 4.0},
		{"Runtime (RDTSC) [s]": 5.0},
	}
	out, err := Aggregate(metrics, samples)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if !almostEqual(out["Runtime (RDTSC) [s]"], 3.0) {
		t.Errorf("aggregated mean = %v, want 3.0", out["Runtime (RDTSC) [s]"])
	}
	if _, ok := out["Runtime (RDTSC) [s]_var"]; !ok {
		t.Error("expected _var companion column to be present")
	}
}

func TestAggregateDefaultsToAvgForUndeclaredAgg(t *testing.T) {
	metrics := []config.MetricSpec{{Name: "CPI"}}
	samples := []map[string]float64{{"CPI": 1.0}, {"CPI": 3.0}}
	out, err := Aggregate(metrics, samples)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if !almostEqual(out["CPI"], 2.0) {
		t.Errorf("CPI = %v, want 2.0 (default avg)", out["CPI"])
	}
}

func TestAggregateMissingMetricErrors(t *testing.T) {
	metrics := []config.MetricSpec{{Name: "CPI"}}
	samples := []map[string]float64{{"other": 1.0}}
	if _, err := Aggregate(metrics, samples); err == nil {
		t.Fatal("expected metric_missing error")
	}
}
