package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ImageTask describes the resize of a single source file. Tasks share
// nothing with each other; each one produces exactly one output file.
type ImageTask struct {
	SourcePath string
	DestDir    string
	Scale      float64
}

// ResizeResult is the outcome of one ImageTask.
type ResizeResult struct {
	SourcePath string
	OutputPath string

	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int

	Err error
}

func (r ResizeResult) OK() bool {
	return r.Err == nil
}

type BatchMode string

const (
	ModeSequential BatchMode = "sequential"
	ModeParallel   BatchMode = "parallel"
)

// BatchReport aggregates the per-file results of one batch run.
type BatchReport struct {
	RunID     uuid.UUID
	Mode      BatchMode
	SourceDir string
	DestDir   string
	Scale     float64

	Results []ResizeResult

	StartedAt time.Time
	Elapsed   time.Duration
}

func NewBatchReport(
	mode BatchMode,
	sourceDir string,
	destDir string,
	scale float64,
) *BatchReport {
	return &BatchReport{
		RunID:     uuid.New(),
		Mode:      mode,
		SourceDir: sourceDir,
		DestDir:   destDir,
		Scale:     scale,
		Results:   []ResizeResult{},
		StartedAt: time.Now(),
	}
}

func (r *BatchReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

func (r *BatchReport) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Errors returns the errors of every failed result, in result order.
func (r *BatchReport) Errors() []error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// Err joins every per-file error, nil when all results succeeded.
func (r *BatchReport) Err() error {
	return errors.Join(r.Errors()...)
}
