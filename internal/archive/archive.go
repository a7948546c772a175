// Package archive persists Trial Records to an append-only CSV file,
// with optional S3 and CloudWatch mirrors layered on
// top of the base Writer.
package archive

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	scoutconfig "github.com/scttfrdmn/scout/internal/config"
)

// Appender is the capability the orchestrator drives: append one
// Trial Record, close the archive at the end of a run. Writer, and
// the S3Mirror/CloudWatchPublisher wrappers layered over it, all
// satisfy this.
type Appender interface {
	Append(r Row) error
	Close() error
}

// Row is the flattened, ordered set of column/value pairs archived
// for one trial: one column per decision variable (in Search Space
// order), one per aggregated metric, one per objective, plus the
// fixed trailing columns (status, wallclock, error).
type Row struct {
	TrialID      int
	Assignment   map[string]string
	Metrics      map[string]float64
	ObjectiveVec []float64
	BuildStatus  string
	RunStatus    string
	WallclockS   float64
	ErrorCode    string
	ErrorMessage string
}

// Writer is an append-only CSV archive. Open writes the header once,
// when the file is new or empty, and otherwise verifies the existing
// header against the Study Definition's current column set: a
// mismatch is an archive_error rather than a silent rewrite, because
// the archive's column meaning must stay stable across a run. Append
// does not re-check the header.
type Writer struct {
	path          string
	decisionNames []string // declared order, fixed for the Writer's lifetime
	metricNames   []string
	objectiveN    int
	header        []string
	f             *os.File
	w             *csv.Writer
}

// Open creates or appends to the CSV archive at path. decisionNames
// and metricNames must be given in the order they should appear as
// columns (the Search Space's declaration order and the Study
// Definition's declared metric order, respectively). If the file
// already exists, its first CSV record is compared field by field
// against the header this Writer would produce; a mismatch returns an
// archive_error naming both headers so the caller can decide whether
// to rotate (see RotatedPath).
func Open(path string, decisionNames, metricNames []string, objectiveN int) (*Writer, error) {
	w := &Writer{
		path:          path,
		decisionNames: append([]string(nil), decisionNames...),
		metricNames:   append([]string(nil), metricNames...),
		objectiveN:    objectiveN,
	}
	w.header = w.buildHeader()

	existing, statErr := os.Stat(path)
	fileExists := statErr == nil && existing.Size() > 0

	if fileExists {
		got, err := readHeader(path)
		if err != nil {
			return nil, fmt.Errorf("archive_error: reading existing header of %s: %w", path, err)
		}
		if !equalStrings(got, w.header) {
			return nil, fmt.Errorf("archive_error: %s header %v does not match current study definition %v", path, got, w.header)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive_error: opening %s: %w", path, err)
	}
	w.f = f
	w.w = csv.NewWriter(f)

	if !fileExists {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return w, nil
}

// readHeader reads just the first CSV record of an existing archive.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csv.NewReader(bufio.NewReader(f)).Read()
}

func (w *Writer) buildHeader() []string {
	h := make([]string, 0, len(w.decisionNames)+len(w.metricNames)+w.objectiveN+5)
	h = append(h, "trial_id")
	h = append(h, w.decisionNames...)
	h = append(h, w.metricNames...)
	for i := 0; i < w.objectiveN; i++ {
		h = append(h, fmt.Sprintf("objective_%d", i))
	}
	h = append(h, "build_status", "run_status", "wallclock_s", "error_code", "error_message")
	return h
}

func (w *Writer) writeHeader() error {
	if err := w.w.Write(w.header); err != nil {
		return fmt.Errorf("archive_error: writing header: %w", err)
	}
	w.w.Flush()
	return w.w.Error()
}

// Append writes one Trial Record's Row as the next archive line.
func (w *Writer) Append(r Row) error {
	rec := make([]string, 0, len(w.header))
	rec = append(rec, strconv.Itoa(r.TrialID))
	for _, name := range w.decisionNames {
		rec = append(rec, r.Assignment[name])
	}
	for _, name := range w.metricNames {
		rec = append(rec, strconv.FormatFloat(r.Metrics[name], 'g', -1, 64))
	}
	for i := 0; i < w.objectiveN; i++ {
		var v float64
		if i < len(r.ObjectiveVec) {
			v = r.ObjectiveVec[i]
		}
		rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
	}
	rec = append(rec, r.BuildStatus, r.RunStatus, strconv.FormatFloat(r.WallclockS, 'g', -1, 64), r.ErrorCode, r.ErrorMessage)

	if err := w.w.Write(rec); err != nil {
		return fmt.Errorf("archive_error: writing trial %d: %w", r.TrialID, err)
	}
	w.w.Flush()
	return w.w.Error()
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		return fmt.Errorf("archive_error: flushing %s: %w", w.path, err)
	}
	return w.f.Close()
}

// RotatedPath returns a path derived from the original by inserting
// the given timestamp suffix before the extension, for the
// non---resume rotation fallback described in DESIGN.md.
func RotatedPath(path, suffix string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i] + "-" + suffix + path[i:]
		}
		if path[i] == '/' {
			break
		}
	}
	return path + "-" + suffix
}

// ReadRows parses an existing archive back into Rows, in file order,
// for --resume replay. decisionNames/metricNames/objectiveN
// must match the archive that produced path; a header mismatch
// returns archive_error via the same check Open performs.
func ReadRows(path string, decisionNames, metricNames []string, objectiveN int) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive_error: opening %s for resume: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("archive_error: reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	w := &Writer{decisionNames: decisionNames, metricNames: metricNames, objectiveN: objectiveN}
	want := w.buildHeader()
	if !equalStrings(records[0], want) {
		return nil, fmt.Errorf("archive_error: %s header does not match current study definition", path)
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row, err := parseRow(rec, decisionNames, metricNames, objectiveN)
		if err != nil {
			return nil, fmt.Errorf("archive_error: parsing %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(rec []string, decisionNames, metricNames []string, objectiveN int) (Row, error) {
	idx := 0
	trialID, err := strconv.Atoi(rec[idx])
	if err != nil {
		return Row{}, fmt.Errorf("bad trial_id %q: %w", rec[idx], err)
	}
	idx++

	assignment := make(map[string]string, len(decisionNames))
	for _, name := range decisionNames {
		assignment[name] = rec[idx]
		idx++
	}

	metrics := make(map[string]float64, len(metricNames))
	for _, name := range metricNames {
		v, err := strconv.ParseFloat(rec[idx], 64)
		if err != nil {
			return Row{}, fmt.Errorf("bad metric %q value %q: %w", name, rec[idx], err)
		}
		metrics[name] = v
		idx++
	}

	objectives := make([]float64, objectiveN)
	for i := 0; i < objectiveN; i++ {
		v, err := strconv.ParseFloat(rec[idx], 64)
		if err != nil {
			return Row{}, fmt.Errorf("bad objective_%d value %q: %w", i, rec[idx], err)
		}
		objectives[i] = v
		idx++
	}

	buildStatus := rec[idx]
	idx++
	runStatus := rec[idx]
	idx++
	wallclock, err := strconv.ParseFloat(rec[idx], 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad wallclock_s %q: %w", rec[idx], err)
	}
	idx++
	errorCode := rec[idx]
	idx++
	errorMessage := rec[idx]

	return Row{
		TrialID:      trialID,
		Assignment:   assignment,
		Metrics:      metrics,
		ObjectiveVec: objectives,
		BuildStatus:  buildStatus,
		RunStatus:    runStatus,
		WallclockS:   wallclock,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
	}, nil
}

// Build opens the base CSV Writer at path and layers the S3 and/or
// CloudWatch mirrors on top when cfg is non-nil and names the
// relevant fields. With cfg == nil the returned Appender is just the
// Writer.
func Build(ctx context.Context, path string, decisionNames, metricNames []string, objectives []scoutconfig.Objective, cfg *scoutconfig.AWSExportConfig) (Appender, error) {
	base, err := Open(path, decisionNames, metricNames, len(objectives))
	if err != nil {
		return nil, err
	}
	var a Appender = base
	if cfg == nil {
		return a, nil
	}
	if cfg.S3Bucket != "" {
		a, err = NewS3Mirror(ctx, a, path, cfg)
		if err != nil {
			base.Close()
			return nil, err
		}
	}
	if cfg.CloudWatchNS != "" {
		a, err = NewCloudWatchPublisher(ctx, a, cfg, objectives)
		if err != nil {
			base.Close()
			return nil, err
		}
	}
	return a, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
