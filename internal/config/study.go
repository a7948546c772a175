// Package config parses and validates the declarative JSON study
// definition that drives a SCOuT exploration run.
//
// A study definition names the build project, the backend used to
// measure candidates, the decision space (compiler flags, compiler
// parameters, environment variables), the objectives to optimize, and
// the search/archive settings. Loading a study definition never
// touches the filesystem beyond reading the config file itself and
// validating it against the bundled JSON Schema; it performs no
// builds, runs, or measurements.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// Backend selects the measurement tool used to instrument candidates.
type Backend string

const (
	BackendLikwid Backend = "likwid"
	BackendPerf   Backend = "perf"
)

// Goal is the optimization direction for a single objective.
type Goal string

const (
	GoalMin Goal = "min"
	GoalMax Goal = "max"
)

// Sampler selects the optimizer façade's sampling strategy.
type Sampler string

const (
	SamplerTPE   Sampler = "tpe"
	SamplerNSGA3 Sampler = "nsga3"
	SamplerRF    Sampler = "rf"
)

// BuildSystem names the project-mode build driver.
type BuildSystem string

const (
	BuildMake  BuildSystem = "make"
	BuildCMake BuildSystem = "cmake"
)

// Guard is a predicate over a previously-assigned decision variable's
// value. Value is either a literal domain value or a numeric-suffix
// guard of the form "N+" (e.g. "3+" for -O3 and above).
type Guard struct {
	Var   string `json:"-"`
	Value string `json:"-"`
}

// UnmarshalJSON decodes the single-key `{"<var>": "<value>"}` guard
// object carried in a compiler_params or env entry's "when" field.
func (g *Guard) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding guard: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("guard must name exactly one variable, got %d", len(raw))
	}
	for k, v := range raw {
		g.Var, g.Value = k, v
	}
	return nil
}

// Project describes how a candidate is built, either a single-source
// compile invocation or a Make/CMake project build.
type Project struct {
	// Single-source mode.
	Source             string `json:"source,omitempty"`
	Compiler           string `json:"compiler,omitempty"`
	CompilerFlagsBase  []string `json:"compiler_flags_base,omitempty"`
	OutputBasename     string `json:"output_basename,omitempty"`

	// Project mode.
	Dir         string            `json:"dir,omitempty"`
	BuildSystem BuildSystem       `json:"build_system,omitempty"`
	Target      string            `json:"target,omitempty"`
	MakeVars    map[string]string `json:"make_vars,omitempty"`
	CMakeVars   map[string]string `json:"cmake_vars,omitempty"`
}

// SingleSource reports whether the project is single-source mode.
func (p Project) SingleSource() bool { return p.Source != "" }

// FlagSlot is a mutually-exclusive compiler flag choice; exactly one
// of Values is selected per trial.
type FlagSlot struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// ParamDecl is a compiler parameter or environment variable
// declaration. When When is non-nil, the decision is only active if
// the guard is satisfied.
type ParamDecl struct {
	Name   string        `json:"name"`
	When   *Guard        `json:"when,omitempty"`
	Values []interface{} `json:"values"`
}

// Objective is one term of the objective vector.
type Objective struct {
	Metric string `json:"metric"`
	Goal   Goal   `json:"goal"`
}

// SearchConfig configures the optimizer façade.
type SearchConfig struct {
	Sampler        Sampler `json:"sampler"`
	PopulationSize int     `json:"population_size"`
	RandomSeed     int64   `json:"random_seed"`
}

// MetricSpec names a single backend-produced metric and how repeated
// samples of it are aggregated.
type MetricSpec struct {
	Name    string `json:"name"`
	Agg     string `json:"agg,omitempty"`     // avg|median|min|max, default avg
	Var     bool   `json:"var,omitempty"`     // emit a companion <name>_var column
	Derived string `json:"derived,omitempty"` // perf-only: e.g. "cycles/instructions"
}

// LikwidConfig configures the LIKWID measurement backend.
type LikwidConfig struct {
	EventGroup string       `json:"event_group"`
	CoreList   []int        `json:"core_list"`
	Metrics    []MetricSpec `json:"metrics"`
}

// PerfConfig configures the perf-stat measurement backend.
type PerfConfig struct {
	Events   []string     `json:"events"`
	CoreList []int        `json:"core_list"`
	Metrics  []MetricSpec `json:"metrics"`
}

// AWSExportConfig enables the optional S3/CloudWatch archive mirrors.
// Nil means neither mirror is active.
type AWSExportConfig struct {
	Region         string `json:"region"`
	S3Bucket       string `json:"s3_bucket,omitempty"`
	S3Prefix       string `json:"s3_prefix,omitempty"`
	CloudWatchNS   string `json:"cloudwatch_namespace,omitempty"`
}

// StudyDefinition is the fully-parsed, immutable description of a
// SCOuT exploration run. Nothing after Load mutates a
// StudyDefinition; the Orchestrator holds the only mutable state.
type StudyDefinition struct {
	Backend          Backend           `json:"backend"`
	Project          Project           `json:"project"`
	ProgramArgs      []string          `json:"program_args"`
	CompilerFlags    []FlagSlot        `json:"compiler_flags"`
	CompilerFlagPool []string          `json:"compiler_flag_pool"`
	CompilerParams   []ParamDecl       `json:"compiler_params"`
	Env              []ParamDecl       `json:"env"`
	Objectives       []Objective       `json:"objectives"`
	Search           SearchConfig      `json:"search"`
	Likwid           *LikwidConfig     `json:"likwid,omitempty"`
	Perf             *PerfConfig       `json:"perf,omitempty"`
	Runs             int               `json:"runs"`
	CSVLog           string            `json:"csv_log"`
	AWS              *AWSExportConfig  `json:"aws,omitempty"`
}

// Load reads and validates the study definition at path, applying the
// CLI seed override when non-zero. The trial count is not part of the
// study definition: trialsOverride is accepted but not stored, and the
// caller passes the count to Orchestrator.Run. A config_error is
// always a *ValidationError.
func Load(path string, trialsOverride int, seedOverride int64) (*StudyDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("reading config %s: %v", path, err)}
	}
	return LoadBytes(raw, trialsOverride, seedOverride)
}

// LoadBytes parses and validates a study definition already read into
// memory, primarily for tests.
func LoadBytes(raw []byte, trialsOverride int, seedOverride int64) (*StudyDefinition, error) {
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}

	var def StudyDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("decoding config: %v", err)}
	}

	knownKeys := map[string]bool{
		"backend": true, "project": true, "program_args": true, "compiler_flags": true,
		"compiler_flag_pool": true, "compiler_params": true, "env": true, "objectives": true,
		"search": true, "likwid": true, "perf": true, "runs": true, "csv_log": true, "aws": true,
	}
	var topLevel map[string]json.RawMessage
	if err := json.Unmarshal(raw, &topLevel); err == nil {
		for key := range topLevel {
			if !knownKeys[key] {
				log.Printf("config: ignoring unknown top-level key %q", key)
			}
		}
	}

	if def.Runs <= 0 {
		def.Runs = 1
	}
	if seedOverride != 0 {
		def.Search.RandomSeed = seedOverride
	}
	if def.Search.PopulationSize <= 0 {
		def.Search.PopulationSize = 1
	}

	if err := validateSemantics(&def); err != nil {
		return nil, err
	}

	_ = trialsOverride // trial-count override is applied by the orchestrator, not the study itself

	return &def, nil
}

// ValidationError is the config_error variant: a fatal condition
// surfaced before any trial runs.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return "config_error: " + e.Msg }

func validateSemantics(def *StudyDefinition) error {
	if def.Backend != BackendLikwid && def.Backend != BackendPerf {
		return &ValidationError{Msg: fmt.Sprintf("unknown backend %q", def.Backend)}
	}
	if !def.Project.SingleSource() && def.Project.Dir == "" {
		return &ValidationError{Msg: "project must declare either source (single-source mode) or dir (project mode)"}
	}
	if def.Project.Dir != "" && def.Project.BuildSystem != BuildMake && def.Project.BuildSystem != BuildCMake {
		return &ValidationError{Msg: fmt.Sprintf("project mode requires build_system make or cmake, got %q", def.Project.BuildSystem)}
	}
	if def.Runs < 1 {
		return &ValidationError{Msg: "runs must be >= 1"}
	}
	if def.Search.PopulationSize < 1 {
		return &ValidationError{Msg: "search.population_size must be >= 1"}
	}
	if len(def.Objectives) == 0 {
		return &ValidationError{Msg: "at least one objective is required"}
	}
	metrics := def.metricNames()
	for _, obj := range def.Objectives {
		if obj.Goal != GoalMin && obj.Goal != GoalMax {
			return &ValidationError{Msg: fmt.Sprintf("objective %q has invalid goal %q", obj.Metric, obj.Goal)}
		}
		if _, ok := metrics[obj.Metric]; !ok {
			return &ValidationError{Msg: fmt.Sprintf("objective metric %q is not produced by backend %q", obj.Metric, def.Backend)}
		}
	}
	if def.CSVLog == "" {
		return &ValidationError{Msg: "csv_log is required"}
	}
	return nil
}

func (def *StudyDefinition) metricNames() map[string]struct{} {
	out := map[string]struct{}{}
	switch def.Backend {
	case BackendLikwid:
		if def.Likwid != nil {
			for _, m := range def.Likwid.Metrics {
				out[m.Name] = struct{}{}
			}
		}
	case BackendPerf:
		if def.Perf != nil {
			for _, m := range def.Perf.Metrics {
				out[m.Name] = struct{}{}
			}
		}
	}
	return out
}
