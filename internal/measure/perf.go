package measure

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/scttfrdmn/scout/internal/config"
)

// PerfBackend wraps artifact execution with `perf stat -x,` CSV
// output.
type PerfBackend struct {
	Config config.PerfConfig
}

// Measure runs the artifact under perf-stat and parses its `-x,`
// machine-readable CSV event counts, computing any declared derived
// metrics (e.g. CPI := cycles/instructions).
func (b *PerfBackend) Measure(ctx context.Context, artifact string, args []string, env map[string]string, cores []int) (map[string]float64, error) {
	coreSpec := coreListArg(cores)
	if coreSpec == "" {
		coreSpec = coreListArg(b.Config.CoreList)
	}
	argv := []string{"perf", "stat", "-x,", "-e", strings.Join(b.Config.Events, ","), "--cpu", coreSpec, "--", artifact}
	argv = append(argv, args...)

	output, err := runCommand(ctx, argv, env)
	if err != nil {
		return nil, fmt.Errorf("run_failed: perf stat exited non-zero: %w", err)
	}

	events := parsePerfCSV(output)

	result := make(map[string]float64, len(b.Config.Metrics))
	for _, m := range b.Config.Metrics {
		if m.Derived != "" {
			v, err := evaluateDerivedMetric(m.Derived, events)
			if err != nil {
				return nil, fmt.Errorf("metric_missing: %q: %w", m.Name, err)
			}
			result[m.Name] = v
			continue
		}
		v, ok := events[m.Name]
		if !ok {
			return nil, fmt.Errorf("metric_missing: %q not present in perf stat output", m.Name)
		}
		result[m.Name] = v
	}
	return result, nil
}

// parsePerfCSV parses perf's `-x,` CSV event-counter lines:
// value,unit,event,... — perf also emits comment lines (starting
// with '#') and occasional "<not counted>" values, both skipped.
func parsePerfCSV(output string) map[string]float64 {
	events := make(map[string]float64)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}
		valueStr := strings.ReplaceAll(fields[0], " ", "")
		event := strings.TrimSpace(fields[2])
		v, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			continue
		}
		events[event] = v
	}
	return events
}

// evaluateDerivedMetric supports the single derived form
// names: "a/b", looking up each raw event in the parsed table.
func evaluateDerivedMetric(expr string, events map[string]float64) (float64, error) {
	parts := strings.SplitN(expr, "/", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("unsupported derived expression %q", expr)
	}
	numerator, ok := events[strings.TrimSpace(parts[0])]
	if !ok {
		return 0, fmt.Errorf("raw event %q not found", parts[0])
	}
	denominator, ok := events[strings.TrimSpace(parts[1])]
	if !ok {
		return 0, fmt.Errorf("raw event %q not found", parts[1])
	}
	if denominator == 0 {
		return 0, fmt.Errorf("division by zero evaluating %q", expr)
	}
	return numerator / denominator, nil
}
