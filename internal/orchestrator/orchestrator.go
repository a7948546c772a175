// Package orchestrator drives the suggest -> materialize -> build ->
// run -> aggregate -> report -> archive loop, holding the
// only mutable state in the program: the trial counter, the
// Optimizer, and the open Archive Appender.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/scttfrdmn/scout/internal/aggregate"
	"github.com/scttfrdmn/scout/internal/archive"
	"github.com/scttfrdmn/scout/internal/build"
	"github.com/scttfrdmn/scout/internal/config"
	"github.com/scttfrdmn/scout/internal/materialize"
	"github.com/scttfrdmn/scout/internal/measure"
	"github.com/scttfrdmn/scout/internal/optimize"
	"github.com/scttfrdmn/scout/internal/space"
)

// Summary is the end-of-run report emitted after the final trial
// (emitted after the configured number of trials completes).
type Summary struct {
	TrialsRun   int
	BestByObjective []float64 // best (goal-signed-then-unsigned) value seen per objective
	ParetoFront []TrialRecord
}

// TrialRecord is one finalized trial, archived exactly once and never
// mutated afterward.
type TrialRecord struct {
	TrialID      int
	Assignment   space.Assignment
	BuildStatus  string
	RunStatus    string
	RawSamples   []map[string]float64 // one {metric: value} map per run, len == runs
	Aggregated   map[string]float64
	ObjectiveVec []float64
	Wallclock    time.Duration
	ErrorCode    TrialErrorCode
	ErrorMessage string
}

// buildExecutor is the capability the orchestrator needs from a
// Builder; *build.Builder satisfies it. Narrowed to an interface here
// so tests can substitute a fake that never shells out.
type buildExecutor interface {
	Build(ctx context.Context, plan *materialize.BuildPlan) build.Result
}

// Orchestrator owns every piece of mutable state for one exploration
// run.
type Orchestrator struct {
	def      *config.StudyDefinition
	sp       *space.Space
	opt      optimize.Optimizer
	backend  measure.Backend
	builder  buildExecutor
	arch     archive.Appender
	workDir  string
	coreList []int

	trialCounter int
	records      []TrialRecord
}

// New constructs an Orchestrator for def, compiling its Search Space
// and wiring the configured optimizer, measurement backend, and
// archive (with S3/CloudWatch mirrors when def.AWS is set).
func New(ctx context.Context, def *config.StudyDefinition, workDir string, resumePath string) (*Orchestrator, error) {
	sp, err := space.Compile(def)
	if err != nil {
		return nil, err
	}

	opt, err := optimize.New(sp, def.Search, len(def.Objectives))
	if err != nil {
		return nil, err
	}

	backend, err := measure.NewBackend(def)
	if err != nil {
		return nil, err
	}

	decisionNames := append([]string(nil), sp.Order...)
	metricNames := archivedMetricColumns(def)

	arch, err := archive.Build(ctx, def.CSVLog, decisionNames, metricNames, def.Objectives, def.AWS)
	if err != nil {
		return nil, newTrialError(ErrCodeArchiveError, "opening archive: %v", err)
	}

	o := &Orchestrator{
		def:      def,
		sp:       sp,
		opt:      opt,
		backend:  backend,
		builder:  build.New(),
		arch:     arch,
		workDir:  workDir,
		coreList: backendCoreList(def),
	}

	if resumePath != "" {
		if err := o.replay(decisionNames, metricNames, resumePath); err != nil {
			arch.Close()
			return nil, err
		}
	}

	return o, nil
}

// archivedMetricColumns lists the CSV columns the configured backend's
// declared metrics produce, including a "<name>_var" companion column
// for every metric declared with Var: true.
func archivedMetricColumns(def *config.StudyDefinition) []string {
	specs := backendMetrics(def)
	names := make([]string, 0, len(specs)*2)
	for _, m := range specs {
		names = append(names, m.Name)
		if m.Var {
			names = append(names, m.Name+"_var")
		}
	}
	return names
}

func backendMetrics(def *config.StudyDefinition) []config.MetricSpec {
	switch def.Backend {
	case config.BackendLikwid:
		return def.Likwid.Metrics
	case config.BackendPerf:
		return def.Perf.Metrics
	default:
		return nil
	}
}

func backendCoreList(def *config.StudyDefinition) []int {
	switch def.Backend {
	case config.BackendLikwid:
		return def.Likwid.CoreList
	case config.BackendPerf:
		return def.Perf.CoreList
	default:
		return nil
	}
}

// replay re-seeds the Optimizer from a prior archive before the first
// live Suggest() call, per the --resume decision in DESIGN.md.
func (o *Orchestrator) replay(decisionNames, metricNames []string, path string) error {
	rows, err := archive.ReadRows(path, decisionNames, metricNames, len(o.def.Objectives))
	if err != nil {
		return newTrialError(ErrCodeArchiveError, "resuming from %s: %v", path, err)
	}
	for _, r := range rows {
		feasible := r.BuildStatus == "ok" && r.RunStatus == "ok" && r.ErrorCode == ""
		if err := o.opt.Report(r.Assignment, r.ObjectiveVec, feasible); err != nil {
			return newTrialError(ErrCodeArchiveError, "replaying resumed trial %d: %v", r.TrialID, err)
		}
		if r.TrialID >= o.trialCounter {
			o.trialCounter = r.TrialID + 1
		}
	}
	return nil
}

// Run executes up to trials sequential trials, stopping early (but
// cleanly) if ctx is canceled between trials, and returns the
// end-of-run Summary. An external interruption completes
// the in-flight trial's archive write before the loop exits.
func (o *Orchestrator) Run(ctx context.Context, trials int) (*Summary, error) {
	for i := 0; i < trials; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := o.runOneTrial(ctx); err != nil {
			var te *TrialError
			if asTrialError(err, &te) && te.Code.fatal() {
				o.arch.Close()
				return nil, te
			}
			log.Printf("trial %d: %v", o.trialCounter-1, err)
		}
	}
	if err := o.arch.Close(); err != nil {
		return nil, err
	}
	return o.summary(), nil
}

func asTrialError(err error, out **TrialError) bool {
	te, ok := err.(*TrialError)
	if ok {
		*out = te
	}
	return ok
}

func (o *Orchestrator) runOneTrial(ctx context.Context) error {
	trialID := o.trialCounter
	o.trialCounter++

	assignment, err := o.opt.Suggest()
	if err != nil {
		return newTrialError(ErrCodeConfig, "suggest: %v", err)
	}

	rec := TrialRecord{TrialID: trialID, Assignment: assignment}
	start := time.Now()

	trialDir := filepath.Join(o.workDir, fmt.Sprintf("trial-%d", trialID))
	buildPlan, runtimePlan, merr := materialize.Materialize(o.sp, o.def, assignment, trialDir)
	if merr != nil {
		rec.BuildStatus, rec.RunStatus = "failed", "skipped"
		rec.ErrorCode, rec.ErrorMessage = ErrCodeMaterialization, merr.Error()
		return o.finalize(&rec, start, false)
	}

	buildResult := o.builder.Build(ctx, buildPlan)
	rec.BuildStatus = buildResult.Status
	if buildResult.Status != "ok" {
		rec.RunStatus = "skipped"
		code := ErrCodeBuildFailed
		if buildResult.Status == "timeout" {
			code = ErrCodeBuildTimeout
		}
		rec.ErrorCode, rec.ErrorMessage = code, buildResult.Stderr
		return o.finalize(&rec, start, false)
	}

	runner := &measure.Runner{Backend: o.backend, Runs: o.def.Runs}
	runResults := runner.Execute(ctx, buildResult.Artifact, runtimePlan.Args, runtimePlan.Env, o.coreList)

	samples := make([]map[string]float64, 0, len(runResults))
	for _, rr := range runResults {
		switch {
		case rr.TimedOut:
			rec.RunStatus = "timeout"
			rec.ErrorCode = ErrCodeRunTimeout
			return o.finalize(&rec, start, false)
		case rr.Failed:
			rec.RunStatus = "failed"
			rec.ErrorCode = ErrCodeRunFailed
			return o.finalize(&rec, start, false)
		default:
			samples = append(samples, rr.Metrics)
		}
	}
	rec.RunStatus = "ok"
	rec.RawSamples = samples

	aggregated, aerr := aggregate.Aggregate(backendMetrics(o.def), samples)
	if aerr != nil {
		rec.ErrorCode, rec.ErrorMessage = ErrCodeMetricMissing, aerr.Error()
		return o.finalize(&rec, start, false)
	}
	rec.Aggregated = aggregated
	rec.ObjectiveVec = objectiveVector(o.def.Objectives, aggregated)

	return o.finalize(&rec, start, true)
}

// objectiveVector forms the goal-signed objective vector in declared
// order: "min" passes through, "max" is negated so
// every sampler can always minimize.
func objectiveVector(objectives []config.Objective, aggregated map[string]float64) []float64 {
	vec := make([]float64, len(objectives))
	for i, obj := range objectives {
		v := aggregated[obj.Metric]
		if obj.Goal == config.GoalMax {
			v = -v
		}
		vec[i] = v
	}
	return vec
}

func (o *Orchestrator) finalize(rec *TrialRecord, start time.Time, feasible bool) error {
	rec.Wallclock = time.Since(start)
	if !feasible && rec.ObjectiveVec == nil {
		rec.ObjectiveVec = make([]float64, len(o.def.Objectives))
	}

	if err := o.opt.Report(rec.Assignment, rec.ObjectiveVec, feasible); err != nil {
		return newTrialError(ErrCodeConfig, "report: %v", err)
	}

	row := archive.Row{
		TrialID:      rec.TrialID,
		Assignment:   rec.Assignment,
		Metrics:      rec.Aggregated,
		ObjectiveVec: rec.ObjectiveVec,
		BuildStatus:  rec.BuildStatus,
		RunStatus:    rec.RunStatus,
		WallclockS:   rec.Wallclock.Seconds(),
		ErrorCode:    string(rec.ErrorCode),
		ErrorMessage: rec.ErrorMessage,
	}
	if err := o.arch.Append(row); err != nil {
		return newTrialError(ErrCodeArchiveError, "appending trial %d: %v", rec.TrialID, err)
	}

	o.records = append(o.records, *rec)
	log.Printf("trial %d: build=%s run=%s objectives=%v", rec.TrialID, rec.BuildStatus, rec.RunStatus, rec.ObjectiveVec)

	if !feasible {
		code := rec.ErrorCode
		msg := rec.ErrorMessage
		if code == "" {
			code = ErrCodeRunFailed
		}
		return newTrialError(code, "%s", msg)
	}
	return nil
}

// summary computes the best-per-objective values and Pareto front
// over every feasible recorded trial.
func (o *Orchestrator) summary() *Summary {
	feasible := make([]TrialRecord, 0, len(o.records))
	for _, r := range o.records {
		if r.RunStatus == "ok" && r.BuildStatus == "ok" && r.ErrorCode == "" {
			feasible = append(feasible, r)
		}
	}

	s := &Summary{TrialsRun: len(o.records)}
	if len(feasible) == 0 {
		return s
	}

	best := append([]float64(nil), feasible[0].ObjectiveVec...)
	for _, r := range feasible[1:] {
		for i, v := range r.ObjectiveVec {
			if v < best[i] {
				best[i] = v
			}
		}
	}
	s.BestByObjective = unsign(o.def.Objectives, best)
	s.ParetoFront = paretoFront(feasible)
	return s
}

// unsign reverses the goal-sign applied in objectiveVector so the
// summary reports values in their original units.
func unsign(objectives []config.Objective, vec []float64) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		if i < len(objectives) && objectives[i].Goal == config.GoalMax {
			v = -v
		}
		out[i] = v
	}
	return out
}

func paretoFront(records []TrialRecord) []TrialRecord {
	var front []TrialRecord
	for i, a := range records {
		dominated := false
		for j, b := range records {
			if i == j {
				continue
			}
			if dominatesVec(b.ObjectiveVec, a.ObjectiveVec) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, a)
		}
	}
	return front
}

func dominatesVec(a, b []float64) bool {
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
