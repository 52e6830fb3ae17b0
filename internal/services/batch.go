package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giobyte8/resizer/internal/cleaner"
	"github.com/giobyte8/resizer/internal/discovery"
	"github.com/giobyte8/resizer/internal/models"
	"github.com/giobyte8/resizer/internal/resizing"
	"github.com/giobyte8/resizer/internal/telemetry"
	"github.com/giobyte8/resizer/internal/telemetry/metrics"
	"github.com/giobyte8/resizer/internal/transform"
)

var (
	ErrDestinationMissing = errors.New("destination directory does not exist")
	ErrBatchFailed        = errors.New("batch finished with failures")
)

type BatchConfig struct {
	// Max concurrent resize units per extension in parallel mode.
	// Zero or negative means runtime.NumCPU().
	Workers int

	// Match ".JPG" etc. as well as lowercase extensions
	FoldExtCase bool
}

type BatchService struct {
	workers   int
	finder    discovery.Finder
	resizer   resizing.ImageResizer
	telemetry *telemetry.TelemetrySvc
}

func NewBatchService(
	config BatchConfig,
	resizer resizing.ImageResizer,
	telemetry *telemetry.TelemetrySvc,
) *BatchService {
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &BatchService{
		workers:   workers,
		finder:    discovery.Finder{FoldCase: config.FoldExtCase},
		resizer:   resizer,
		telemetry: telemetry,
	}
}

// Clean empties (or creates) destPath. See cleaner.Clean.
func (s *BatchService) Clean(destPath string) error {
	return cleaner.Clean(destPath)
}

// ResizeImages resizes every image below sourcePath one at a time, in
// discovery order. The first failing file aborts the rest of the batch;
// the returned report holds the results produced up to that point.
func (s *BatchService) ResizeImages(
	ctx context.Context,
	sourcePath string,
	destPath string,
	scale float64,
) (*models.BatchReport, error) {
	report := models.NewBatchReport(
		models.ModeSequential,
		sourcePath,
		destPath,
		scale,
	)

	err := s.resizeSequential(ctx, report)
	s.finish(report, err)
	return report, err
}

func (s *BatchService) resizeSequential(
	ctx context.Context,
	report *models.BatchReport,
) error {
	if err := s.validate(report); err != nil {
		return err
	}

	files, err := s.finder.FindImages(report.SourceDir)
	if err != nil {
		return err
	}
	slog.Info(
		"Images discovered",
		"runId", report.RunID,
		"count", len(files),
	)

	for _, file := range files {
		result := s.resizeOne(ctx, report, file)
		report.Results = append(report.Results, result)

		if result.Err != nil {
			return fmt.Errorf("batch aborted at %s: %w", file, result.Err)
		}
	}

	return nil
}

// ResizeImagesAsync fans out one unit per extension and, inside each,
// one unit per file (at most Workers at a time per extension). A failing
// unit never cancels its siblings: every unit runs, and only after all
// of them finish is the aggregate error returned. The error wraps
// ErrBatchFailed and every individual failure.
func (s *BatchService) ResizeImagesAsync(
	ctx context.Context,
	sourcePath string,
	destPath string,
	scale float64,
) (*models.BatchReport, error) {
	report := models.NewBatchReport(
		models.ModeParallel,
		sourcePath,
		destPath,
		scale,
	)

	err := s.resizeParallel(ctx, report)
	s.finish(report, err)
	return report, err
}

func (s *BatchService) resizeParallel(
	ctx context.Context,
	report *models.BatchReport,
) error {
	if err := s.validate(report); err != nil {
		return err
	}

	exts := discovery.All()

	// One slot per extension; each goroutine only writes its own
	extResults := make([][]models.ResizeResult, len(exts))
	extErrs := make([]error, len(exts))

	// Plain Group (no WithContext): a failure must not cancel siblings
	var extGroup errgroup.Group
	for i, ext := range exts {
		extGroup.Go(func() error {
			extResults[i], extErrs[i] = s.resizeExtension(ctx, report, ext)
			return extErrs[i]
		})
	}
	_ = extGroup.Wait()

	for _, results := range extResults {
		report.Results = append(report.Results, results...)
	}

	var errs []error
	for _, err := range extErrs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, report.Errors()...)
	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf(
		"%w (%d of %d images failed): %w",
		ErrBatchFailed,
		report.Failed(),
		len(report.Results),
		errors.Join(errs...),
	)
}

// resizeExtension discovers the files of one extension and resizes them
// concurrently. The returned error only reports discovery failures;
// per-file errors travel in the results.
func (s *BatchService) resizeExtension(
	ctx context.Context,
	report *models.BatchReport,
	ext discovery.Extension,
) ([]models.ResizeResult, error) {
	files, err := s.finder.FindImagesByExtension(report.SourceDir, ext)
	if err != nil {
		return nil, fmt.Errorf("%s discovery failed: %w", ext, err)
	}
	slog.Debug(
		"Images discovered",
		"runId", report.RunID,
		"ext", ext.String(),
		"count", len(files),
	)

	results := make([]models.ResizeResult, len(files))

	var fileGroup errgroup.Group
	fileGroup.SetLimit(s.workers)
	for i, file := range files {
		fileGroup.Go(func() error {
			results[i] = s.resizeOne(ctx, report, file)
			return results[i].Err
		})
	}
	_ = fileGroup.Wait()

	return results, nil
}

func (s *BatchService) resizeOne(
	ctx context.Context,
	report *models.BatchReport,
	file string,
) models.ResizeResult {
	result := s.resizer.Resize(ctx, models.ImageTask{
		SourcePath: file,
		DestDir:    report.DestDir,
		Scale:      report.Scale,
	})

	attrs := map[string]string{
		"ext":  strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), "."),
		"mode": string(report.Mode),
	}

	if result.Err != nil {
		slog.Error(
			"Failed to resize image",
			"runId", report.RunID,
			"src", file,
			"error", result.Err,
		)
		s.telemetry.Metrics().Increment(metrics.ImageFailed, attrs)
		return result
	}

	slog.Debug(
		"Image resized",
		"runId", report.RunID,
		"src", file,
		"dst", result.OutputPath,
		"width", result.Width,
		"height", result.Height,
	)
	s.telemetry.Metrics().Increment(metrics.ImageResized, attrs)
	return result
}

// validate rejects bad parameters before anything is discovered or
// written.
func (s *BatchService) validate(report *models.BatchReport) error {
	if err := transform.ValidateScale(report.Scale); err != nil {
		return err
	}

	info, err := os.Stat(report.DestDir)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrDestinationMissing, report.DestDir)
	}
	if err != nil {
		return fmt.Errorf("failed to stat destination %s: %w", report.DestDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf(
			"destination %s is not a directory",
			report.DestDir,
		)
	}

	return nil
}

func (s *BatchService) finish(report *models.BatchReport, err error) {
	report.Elapsed = time.Since(report.StartedAt)

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.telemetry.Metrics().Increment(
		metrics.BatchCompleted,
		map[string]string{
			"mode":    string(report.Mode),
			"outcome": outcome,
		},
	)

	slog.Info(
		"Batch finished",
		"runId", report.RunID,
		"mode", report.Mode,
		"resized", report.Succeeded(),
		"failed", report.Failed(),
		"elapsed", report.Elapsed.Round(time.Millisecond),
		"outcome", outcome,
	)
}

// ProcessRequest runs a queued resize request: optional clean, then the
// sequential or parallel batch.
func (s *BatchService) ProcessRequest(
	ctx context.Context,
	req models.ResizeRequest,
) (*models.BatchReport, error) {
	slog.Debug(
		"Processing resize request",
		"requestId", req.RequestID,
		"src", req.SourcePath,
		"dst", req.DestPath,
		"scale", req.Scale,
	)

	if req.SourcePath == "" || req.DestPath == "" {
		return nil, fmt.Errorf(
			"resize request %s needs both sourcePath and destPath",
			req.RequestID,
		)
	}

	if req.Clean {
		if err := s.Clean(req.DestPath); err != nil {
			return nil, err
		}
	}

	if req.Parallel {
		return s.ResizeImagesAsync(ctx, req.SourcePath, req.DestPath, req.Scale)
	}
	return s.ResizeImages(ctx, req.SourcePath, req.DestPath, req.Scale)
}
