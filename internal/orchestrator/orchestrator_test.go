package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/scttfrdmn/scout/internal/archive"
	"github.com/scttfrdmn/scout/internal/build"
	"github.com/scttfrdmn/scout/internal/config"
	"github.com/scttfrdmn/scout/internal/materialize"
	"github.com/scttfrdmn/scout/internal/optimize"
	"github.com/scttfrdmn/scout/internal/space"
)

// fakeBuilder never shells out; it always reports a successful build
// with a fixed artifact path, so orchestrator tests exercise the loop
// without depending on a real compiler toolchain.
type fakeBuilder struct {
	status string
}

func (f fakeBuilder) Build(ctx context.Context, plan *materialize.BuildPlan) build.Result {
	status := f.status
	if status == "" {
		status = "ok"
	}
	return build.Result{Status: status, Artifact: filepath.Join(plan.Dir, plan.Artifact)}
}

// fakeBackend returns a fixed metric map, with an optional per-call
// override table keyed by call index for tests that need varying
// samples across runs.
type fakeBackend struct {
	cpiByCall []float64
	calls     int
}

func (f *fakeBackend) Measure(ctx context.Context, artifact string, args []string, env map[string]string, cores []int) (map[string]float64, error) {
	v := 1.0
	if f.calls < len(f.cpiByCall) {
		v = f.cpiByCall[f.calls]
	}
	f.calls++
	return map[string]float64{"cpi": v}, nil
}

func testDef(t *testing.T, csvPath string) *config.StudyDefinition {
	t.Helper()
	return &config.StudyDefinition{
		Backend: config.BackendPerf,
		Project: config.Project{
			Source:         "main.c",
			Compiler:       "cc",
			OutputBasename: "a.out",
		},
		CompilerFlags: []config.FlagSlot{
			{Name: "opt", Values: []string{"-O0", "-O2", "-O3"}},
		},
		Objectives: []config.Objective{
			{Metric: "cpi", Goal: config.GoalMin},
		},
		Search: config.SearchConfig{Sampler: config.SamplerTPE, PopulationSize: 1, RandomSeed: 1},
		Perf: &config.PerfConfig{
			Events:  []string{"cycles", "instructions"},
			Metrics: []config.MetricSpec{{Name: "cpi", Agg: "avg"}},
		},
		Runs:   2,
		CSVLog: csvPath,
	}
}

func newTestOrchestrator(t *testing.T, def *config.StudyDefinition, backend *fakeBackend) *Orchestrator {
	t.Helper()
	sp, err := space.Compile(def)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	opt, err := optimize.New(sp, def.Search, len(def.Objectives))
	if err != nil {
		t.Fatalf("optimize.New failed: %v", err)
	}
	arch, err := archive.Build(context.Background(), def.CSVLog, sp.Order, archivedMetricColumns(def), def.Objectives, nil)
	if err != nil {
		t.Fatalf("archive.Build failed: %v", err)
	}
	return &Orchestrator{
		def:     def,
		sp:      sp,
		opt:     opt,
		backend: backend,
		builder: fakeBuilder{},
		arch:    arch,
		workDir: t.TempDir(),
	}
}

func TestRunCompletesTrialsAndArchives(t *testing.T) {
	dir := t.TempDir()
	def := testDef(t, filepath.Join(dir, "trials.csv"))
	o := newTestOrchestrator(t, def, &fakeBackend{})

	summary, err := o.Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.TrialsRun != 5 {
		t.Fatalf("TrialsRun = %d, want 5", summary.TrialsRun)
	}
	if len(summary.BestByObjective) != 1 || summary.BestByObjective[0] != 1.0 {
		t.Fatalf("BestByObjective = %v, want [1.0]", summary.BestByObjective)
	}

	rows, err := archive.ReadRows(def.CSVLog, o.sp.Order, archivedMetricColumns(def), 1)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("archived rows = %d, want 5", len(rows))
	}
}

func TestRunPenalizesBuildFailureAndContinues(t *testing.T) {
	dir := t.TempDir()
	def := testDef(t, filepath.Join(dir, "trials.csv"))
	o := newTestOrchestrator(t, def, &fakeBackend{})
	o.builder = fakeBuilder{status: "failed"}

	summary, err := o.Run(context.Background(), 3)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.TrialsRun != 3 {
		t.Fatalf("TrialsRun = %d, want 3", summary.TrialsRun)
	}
	if len(summary.BestByObjective) != 0 {
		t.Fatalf("expected no feasible objective after all builds failed, got %v", summary.BestByObjective)
	}
	for _, r := range o.records {
		if r.BuildStatus != "failed" || r.ErrorCode != ErrCodeBuildFailed {
			t.Fatalf("record = %+v, want build_status=failed error_code=%s", r, ErrCodeBuildFailed)
		}
	}
}

func TestArchiveBuildFailsUnderNonexistentDirectory(t *testing.T) {
	def := testDef(t, "/nonexistent-dir/does-not-exist/trials.csv")
	// archive.Build will fail at construction in New(); exercise the
	// same failure path here by opening directly.
	sp, err := space.Compile(def)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	_, err = archive.Build(context.Background(), def.CSVLog, sp.Order, archivedMetricColumns(def), def.Objectives, nil)
	if err == nil {
		t.Fatal("expected archive_error opening an archive under a nonexistent directory")
	}
}

func TestObjectiveVectorFlipsSignForMaxGoal(t *testing.T) {
	objectives := []config.Objective{
		{Metric: "cpi", Goal: config.GoalMin},
		{Metric: "ipc", Goal: config.GoalMax},
	}
	vec := objectiveVector(objectives, map[string]float64{"cpi": 0.8, "ipc": 2.5})
	if vec[0] != 0.8 {
		t.Errorf("min-goal objective = %v, want 0.8 (unsigned)", vec[0])
	}
	if vec[1] != -2.5 {
		t.Errorf("max-goal objective = %v, want -2.5 (sign-flipped)", vec[1])
	}
}

func TestParetoFrontExcludesDominatedTrials(t *testing.T) {
	records := []TrialRecord{
		{TrialID: 0, ObjectiveVec: []float64{1, 1}},
		{TrialID: 1, ObjectiveVec: []float64{2, 2}}, // dominated by trial 0
		{TrialID: 2, ObjectiveVec: []float64{0.5, 3}}, // non-dominated
	}
	front := paretoFront(records)
	ids := map[int]bool{}
	for _, r := range front {
		ids[r.TrialID] = true
	}
	if ids[1] {
		t.Error("trial 1 should be excluded from the Pareto front")
	}
	if !ids[0] || !ids[2] {
		t.Errorf("expected trials 0 and 2 on the Pareto front, got %v", ids)
	}
}
