// Package materialize turns a sampled Assignment into a concrete Build
// Plan and Runtime Plan. Materialization never executes anything; it
// is pure data transformation, and for a fixed Assignment it is
// required to be byte-stable across calls so that two
// logically equal assignments produce byte-identical command lines.
package materialize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scttfrdmn/scout/internal/config"
	"github.com/scttfrdmn/scout/internal/space"
)

// BuildPlan is the set of shell-ready commands that produce a runnable
// artifact from an Assignment, plus the expected artifact path.
type BuildPlan struct {
	Dir      string     // working directory the commands run in
	Commands [][]string // argv-form commands, executed in order
	Artifact string      // path to the expected artifact, relative to Dir
}

// RuntimePlan is the environment and argument vector used to invoke
// the built artifact.
type RuntimePlan struct {
	Env  map[string]string
	Args []string
}

// TrialFlags is the ordered, deterministic flag sequence derived from
// an Assignment: opt-level first, then pool toggles in declaration
// order, then params in declaration order.
func TrialFlags(sp *space.Space, def *config.StudyDefinition, a space.Assignment) []string {
	var flags []string

	for _, slot := range def.CompilerFlags {
		if v, ok := a[slot.Name]; ok && v != space.InactiveValue {
			flags = append(flags, v)
		}
	}
	for _, flag := range def.CompilerFlagPool {
		if a[flag] == "on" {
			flags = append(flags, flag)
		}
	}
	for _, p := range def.CompilerParams {
		v, ok := a[p.Name]
		if !ok || v == space.InactiveValue {
			continue
		}
		flags = append(flags, renderParamFlag(p.Name, v)...)
	}
	return flags
}

// renderParamFlag expands a single compiler parameter assignment into
// zero or more argv tokens:
//   - boolean params expand to the bare flag when "true", nothing when "false";
//   - "-X=value" style keys (conventionally containing "=") and "-D"
//     keys join with "=";
//   - otherwise the key and value are space-joined as two tokens.
func renderParamFlag(name, value string) []string {
	if value == "true" {
		return []string{name}
	}
	if value == "false" {
		return nil
	}
	if strings.Contains(name, "=") || strings.HasPrefix(name, "-D") {
		return []string{name + "=" + value}
	}
	return []string{name, value}
}

// RuntimeEnv builds the Runtime Plan's environment map: active env
// decisions only, inactive ones omitted rather than set empty.
func RuntimeEnv(def *config.StudyDefinition, a space.Assignment) map[string]string {
	env := make(map[string]string, len(def.Env))
	for _, e := range def.Env {
		v, ok := a[e.Name]
		if !ok || v == space.InactiveValue {
			continue
		}
		env[e.Name] = v
	}
	return env
}

// Materialize produces the (BuildPlan, RuntimePlan) pair for an
// Assignment, dispatching on the project's build mode.
func Materialize(sp *space.Space, def *config.StudyDefinition, a space.Assignment, workDir string) (*BuildPlan, *RuntimePlan, error) {
	for _, slot := range def.CompilerFlags {
		if v, ok := a[slot.Name]; !ok || v == space.InactiveValue {
			return nil, nil, fmt.Errorf("materialization_error: no active opt-level flag in assignment")
		}
	}
	flags := TrialFlags(sp, def, a)

	var plan *BuildPlan
	var err error
	switch {
	case def.Project.SingleSource():
		plan, err = singleSourcePlan(def, flags, workDir)
	case def.Project.BuildSystem == config.BuildMake:
		plan = makePlan(def, flags, workDir)
	case def.Project.BuildSystem == config.BuildCMake:
		plan = cmakePlan(def, flags, workDir)
	default:
		err = fmt.Errorf("materialization_error: unsupported project configuration")
	}
	if err != nil {
		return nil, nil, err
	}

	runtime := &RuntimePlan{
		Env:  RuntimeEnv(def, a),
		Args: append([]string(nil), def.ProgramArgs...),
	}
	return plan, runtime, nil
}

func singleSourcePlan(def *config.StudyDefinition, flags []string, workDir string) (*BuildPlan, error) {
	if def.Project.Compiler == "" || def.Project.Source == "" {
		return nil, fmt.Errorf("materialization_error: single-source project requires compiler and source")
	}
	artifact := def.Project.OutputBasename
	if artifact == "" {
		artifact = "a.out"
	}
	argv := []string{def.Project.Compiler}
	argv = append(argv, def.Project.CompilerFlagsBase...)
	argv = append(argv, flags...)
	argv = append(argv, def.Project.Source, "-o", artifact)
	return &BuildPlan{
		Dir:      workDir,
		Commands: [][]string{argv},
		Artifact: artifact,
	}, nil
}

func makePlan(def *config.StudyDefinition, flags []string, workDir string) *BuildPlan {
	makeArgs := []string{"make"}
	for _, kv := range sortedPairs(def.Project.MakeVars) {
		makeArgs = append(makeArgs, fmt.Sprintf("%s=%s", kv.Key, kv.Value))
	}
	makeArgs = append(makeArgs, "EXTRA_CFLAGS="+strings.Join(flags, " "))
	if def.Project.Target != "" {
		makeArgs = append(makeArgs, def.Project.Target)
	}
	artifact := def.Project.Target
	if artifact == "" {
		artifact = "a.out"
	}
	return &BuildPlan{
		Dir: workDir,
		Commands: [][]string{
			{"make", "clean"},
			makeArgs,
		},
		Artifact: artifact,
	}
}

func cmakePlan(def *config.StudyDefinition, flags []string, workDir string) *BuildPlan {
	buildDir := "build"
	configureArgs := []string{"cmake", "-S", def.Project.Dir, "-B", buildDir}
	for _, kv := range sortedPairs(def.Project.CMakeVars) {
		configureArgs = append(configureArgs, fmt.Sprintf("-D%s=%s", kv.Key, kv.Value))
	}
	configureArgs = append(configureArgs, "-DCMAKE_CXX_FLAGS="+strings.Join(flags, " "))

	buildArgs := []string{"cmake", "--build", buildDir}
	if def.Project.Target != "" {
		buildArgs = append(buildArgs, "--target", def.Project.Target)
	}

	artifact := def.Project.Target
	if artifact == "" {
		artifact = "a.out"
	}
	return &BuildPlan{
		Dir: workDir,
		Commands: [][]string{
			{"rm", "-rf", buildDir},
			configureArgs,
			buildArgs,
		},
		Artifact: buildDir + "/" + artifact,
	}
}

// sortedPairs returns a deterministic key/value sequence so that
// byte-stable command lines don't depend on Go's randomized
// map iteration order.
func sortedPairs(m map[string]string) []keyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyValue{k, m[k]})
	}
	return out
}

type keyValue struct {
	Key, Value string
}
