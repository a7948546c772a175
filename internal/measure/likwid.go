package measure

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/scttfrdmn/scout/internal/config"
)

// LikwidBackend wraps artifact execution with likwid-perfctr's
// grouped hardware-counter profiling.
type LikwidBackend struct {
	Config config.LikwidConfig
}

// Measure runs the artifact under likwid-perfctr and parses its
// table output into the declared metric set.
func (b *LikwidBackend) Measure(ctx context.Context, artifact string, args []string, env map[string]string, cores []int) (map[string]float64, error) {
	coreSpec := coreListArg(cores)
	if coreSpec == "" {
		coreSpec = coreListArg(b.Config.CoreList)
	}
	argv := []string{"likwid-perfctr", "-C", coreSpec, "-g", b.Config.EventGroup, "--", artifact}
	argv = append(argv, args...)

	output, err := runCommand(ctx, argv, env)
	if err != nil {
		return nil, fmt.Errorf("run_failed: likwid-perfctr exited non-zero: %w", err)
	}

	table := parseLikwidTable(output)

	result := make(map[string]float64, len(b.Config.Metrics))
	for _, m := range b.Config.Metrics {
		v, ok := table[m.Name]
		if !ok {
			return nil, fmt.Errorf("metric_missing: %q not present in likwid-perfctr output", m.Name)
		}
		result[m.Name] = v
	}
	return result, nil
}

// parseLikwidTable extracts "Metric,Value" style rows from LIKWID's
// grouped stdout. LIKWID's default table layout draws an ASCII box
// with '|' column separators; a row is interesting when it has at
// least two '|'-delimited fields and the second field parses as a
// float.
func parseLikwidTable(output string) map[string]float64 {
	metrics := make(map[string]float64)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "|") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			continue
		}
		name := strings.TrimSpace(fields[1])
		valueField := strings.TrimSpace(fields[2])
		if name == "" || valueField == "" {
			continue
		}
		v, err := strconv.ParseFloat(valueField, 64)
		if err != nil {
			continue
		}
		metrics[name] = v
	}
	return metrics
}
