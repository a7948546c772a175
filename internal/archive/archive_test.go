package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.csv")

	w, err := Open(path, []string{"opt"}, []string{"cpi"}, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := w.Append(Row{TrialID: 0, Assignment: map[string]string{"opt": "-O3"}, Metrics: map[string]float64{"cpi": 1.2}, ObjectiveVec: []float64{1.2}, BuildStatus: "ok", RunStatus: "ok"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading archive: %v", err)
	}
	want := "trial_id,opt,cpi,objective_0,build_status,run_status,wallclock_s,error_code,error_message\n"
	if string(data[:len(want)]) != want {
		t.Fatalf("header = %q, want prefix %q", string(data), want)
	}
}

func TestOpenReopenWithMatchingHeaderAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.csv")

	w1, err := Open(path, []string{"opt"}, nil, 1)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := w1.Append(Row{TrialID: 0, Assignment: map[string]string{"opt": "-O0"}, ObjectiveVec: []float64{5}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	w1.Close()

	w2, err := Open(path, []string{"opt"}, nil, 1)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := w2.Append(Row{TrialID: 1, Assignment: map[string]string{"opt": "-O3"}, ObjectiveVec: []float64{1}}); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	w2.Close()

	rows, err := ReadRows(path, []string{"opt"}, nil, 1)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[1].Assignment["opt"] != "-O3" {
		t.Errorf("rows[1].Assignment[opt] = %q, want -O3", rows[1].Assignment["opt"])
	}
}

func TestOpenRejectsMismatchedHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.csv")

	w1, _ := Open(path, []string{"opt"}, nil, 1)
	w1.Append(Row{TrialID: 0, Assignment: map[string]string{"opt": "-O0"}, ObjectiveVec: []float64{1}})
	w1.Close()

	_, err := Open(path, []string{"opt", "vec-width"}, nil, 1)
	if err == nil {
		t.Fatal("expected archive_error for mismatched header")
	}
}

func TestRotatedPathInsertsSuffixBeforeExtension(t *testing.T) {
	got := RotatedPath("results/trials.csv", "20260801-101500")
	want := "results/trials-20260801-101500.csv"
	if got != want {
		t.Errorf("RotatedPath = %q, want %q", got, want)
	}
}

func TestRotatedPathWithoutExtension(t *testing.T) {
	got := RotatedPath("trials", "abc")
	if got != "trials-abc" {
		t.Errorf("RotatedPath = %q, want trials-abc", got)
	}
}

func TestReadRowsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("writing empty file: %v", err)
	}
	rows, err := ReadRows(path, []string{"opt"}, nil, 1)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if rows != nil {
		t.Errorf("expected nil rows for empty file, got %v", rows)
	}
}

func TestAppendRoundTripsMultipleObjectivesAndMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trials.csv")

	w, err := Open(path, []string{"opt", "vec-width"}, []string{"cpi", "runtime"}, 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	row := Row{
		TrialID:      3,
		Assignment:   map[string]string{"opt": "-O3", "vec-width": "256"},
		Metrics:      map[string]float64{"cpi": 0.8, "runtime": 2.5},
		ObjectiveVec: []float64{0.8, 2.5},
		BuildStatus:  "ok",
		RunStatus:    "ok",
		WallclockS:   1.5,
	}
	if err := w.Append(row); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	w.Close()

	rows, err := ReadRows(path, []string{"opt", "vec-width"}, []string{"cpi", "runtime"}, 2)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	got := rows[0]
	if got.TrialID != 3 || got.Assignment["vec-width"] != "256" || got.Metrics["runtime"] != 2.5 || got.ObjectiveVec[1] != 2.5 || got.WallclockS != 1.5 {
		t.Errorf("round-tripped row mismatch: %+v", got)
	}
}
