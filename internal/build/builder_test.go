package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/scttfrdmn/scout/internal/materialize"
)

func TestBuildSuccess(t *testing.T) {
	dir := t.TempDir()
	plan := &materialize.BuildPlan{
		Dir:      dir,
		Commands: [][]string{{"sh", "-c", "echo built > out.txt"}},
		Artifact: "out.txt",
	}
	b := New()
	res := b.Build(context.Background(), plan)
	if res.Status != "ok" {
		t.Fatalf("Status = %q, want ok (stderr=%q)", res.Status, res.Stderr)
	}
	if res.Artifact != filepath.Join(dir, "out.txt") {
		t.Errorf("Artifact = %q, want %q", res.Artifact, filepath.Join(dir, "out.txt"))
	}
}

func TestBuildFailsOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	plan := &materialize.BuildPlan{
		Dir:      dir,
		Commands: [][]string{{"sh", "-c", "exit 1"}},
		Artifact: "out.txt",
	}
	b := New()
	res := b.Build(context.Background(), plan)
	if res.Status != "failed" {
		t.Errorf("Status = %q, want failed", res.Status)
	}
}

func TestBuildFailsWhenArtifactMissing(t *testing.T) {
	dir := t.TempDir()
	plan := &materialize.BuildPlan{
		Dir:      dir,
		Commands: [][]string{{"sh", "-c", "true"}},
		Artifact: "never-created.bin",
	}
	b := New()
	res := b.Build(context.Background(), plan)
	if res.Status != "failed" {
		t.Errorf("Status = %q, want failed", res.Status)
	}
}

func TestBuildTimesOut(t *testing.T) {
	dir := t.TempDir()
	plan := &materialize.BuildPlan{
		Dir:      dir,
		Commands: [][]string{{"sh", "-c", "sleep 5"}},
		Artifact: "out.txt",
	}
	b := &Builder{Timeout: 50 * time.Millisecond}
	res := b.Build(context.Background(), plan)
	if res.Status != "timeout" {
		t.Errorf("Status = %q, want timeout", res.Status)
	}
}

func TestBuildCreatesWorkingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "workdir")
	plan := &materialize.BuildPlan{
		Dir:      dir,
		Commands: [][]string{{"sh", "-c", "echo x > out.txt"}},
		Artifact: "out.txt",
	}
	b := New()
	res := b.Build(context.Background(), plan)
	if res.Status != "ok" {
		t.Fatalf("Status = %q, want ok", res.Status)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected working directory to be created: %v", err)
	}
}
