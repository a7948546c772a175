// Package build executes a materialize.BuildPlan as a sequence of
// subprocesses in a dedicated working directory, in the style of
// StreamBenchmark.executeSingleRun: an exec.CommandContext invocation
// with captured output and exit-code and timeout handling. Captured
// stdout/stderr are held in memory without a size limit.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/scttfrdmn/scout/internal/materialize"
)

// DefaultTimeout is the per-build timeout used when the caller does
// not override it (configurable, defaults large).
const DefaultTimeout = 30 * time.Minute

// Result captures the outcome of executing a Build Plan.
type Result struct {
	Status   string // "ok", "failed", "timeout"
	Stdout   string
	Stderr   string
	Wallclock time.Duration
	Artifact string // absolute path to the artifact, only set on success
}

// Builder executes Build Plans in the plan's working directory,
// creating it if needed. Cleaning prior build products is done by the
// plan's own commands (make clean, or removing the CMake build dir),
// not by the Builder.
type Builder struct {
	Timeout time.Duration
}

// New returns a Builder with the default per-build timeout.
func New() *Builder {
	return &Builder{Timeout: DefaultTimeout}
}

// Build runs plan.Commands in order inside plan.Dir, stopping at the
// first failing command. Success requires every command to exit 0 and
// the expected artifact to exist afterward.
func (b *Builder) Build(ctx context.Context, plan *materialize.BuildPlan) Result {
	start := time.Now()
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	buildCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := os.MkdirAll(plan.Dir, 0o755); err != nil {
		return Result{Status: "failed", Stderr: err.Error(), Wallclock: time.Since(start)}
	}

	var stdout, stderr bytes.Buffer
	for _, argv := range plan.Commands {
		if len(argv) == 0 {
			continue
		}
		cmd := exec.CommandContext(buildCtx, argv[0], argv[1:]...)
		cmd.Dir = plan.Dir
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		err := cmd.Run()
		if buildCtx.Err() == context.DeadlineExceeded {
			killProcessGroup(cmd)
			return Result{Status: "timeout", Stdout: stdout.String(), Stderr: stderr.String(), Wallclock: time.Since(start)}
		}
		if err != nil {
			return Result{Status: "failed", Stdout: stdout.String(), Stderr: stderr.String(), Wallclock: time.Since(start)}
		}
	}

	artifact := filepath.Join(plan.Dir, plan.Artifact)
	if _, err := os.Stat(artifact); err != nil {
		return Result{
			Status:   "failed",
			Stdout:   stdout.String(),
			Stderr:   fmt.Sprintf("expected artifact %s not found: %v", artifact, err),
			Wallclock: time.Since(start),
		}
	}

	return Result{
		Status:   "ok",
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Wallclock: time.Since(start),
		Artifact: artifact,
	}
}

// killProcessGroup terminates the process group of a timed-out build
// command so no orphaned descendants survive the trial.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
