package services

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giobyte8/resizer/internal/codec"
	"github.com/giobyte8/resizer/internal/models"
	"github.com/giobyte8/resizer/internal/resizing"
	"github.com/giobyte8/resizer/internal/telemetry"
	"github.com/giobyte8/resizer/internal/telemetry/metrics"
	"github.com/giobyte8/resizer/internal/transform"
)

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[metrics.MetricName]int
}

func (m *recordingMetrics) Increment(name metrics.MetricName, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[metrics.MetricName]int{}
	}
	m.counts[name]++
}

func (m *recordingMetrics) Shutdown(context.Context) error { return nil }

func (m *recordingMetrics) count(name metrics.MetricName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

func newService(cfg BatchConfig) (*BatchService, *recordingMetrics) {
	rec := &recordingMetrics{}
	svc := NewBatchService(
		cfg,
		resizing.NewNativeResizer(codec.New()),
		telemetry.NewTelemetrySvcWithMetrics(rec),
	)
	return svc, rec
}

func fixture(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func writeImage(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	switch filepath.Ext(path) {
	case ".png", ".Png", ".PNG":
		require.NoError(t, png.Encode(f, fixture(w, h)))
	default:
		require.NoError(t, jpeg.Encode(f, fixture(w, h), nil))
	}
}

func outputs(t *testing.T, dir string) map[string][2]int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	out := map[string][2]int{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		cfg, format, err := image.DecodeConfig(f)
		f.Close()
		require.NoError(t, err, e.Name())
		require.Equal(t, "jpeg", format, e.Name())
		out[e.Name()] = [2]int{cfg.Width, cfg.Height}
	}
	return out
}

type runFunc func(*BatchService, context.Context, string, string, float64) (*models.BatchReport, error)

var modes = map[string]runFunc{
	"sequential": (*BatchService).ResizeImages,
	"parallel":   (*BatchService).ResizeImagesAsync,
}

func TestResizeScenario(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			src, dest := t.TempDir(), t.TempDir()
			writeImage(t, filepath.Join(src, "a.png"), 100, 50)
			writeImage(t, filepath.Join(src, "b.jpg"), 200, 200)

			svc, rec := newService(BatchConfig{Workers: 2})
			report, err := run(svc, context.Background(), src, dest, 0.5)
			require.NoError(t, err)

			assert.Equal(t, map[string][2]int{
				"a.jpg": {50, 25},
				"b.jpg": {100, 100},
			}, outputs(t, dest))

			assert.Equal(t, 2, report.Succeeded())
			assert.Equal(t, 0, report.Failed())
			assert.Equal(t, models.BatchMode(name), report.Mode)
			assert.NotEqual(t, uuid.Nil, report.RunID)
			assert.Equal(t, 2, rec.count(metrics.ImageResized))
			assert.Equal(t, 1, rec.count(metrics.BatchCompleted))
		})
	}
}

func TestResizeProducesOneOutputPerImage(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			src, dest := t.TempDir(), t.TempDir()
			names := []string{
				"one.png", "two.jpg", "three.jpeg",
				"nested/four.png", "nested/deep/five.jpeg", "nested/six.jpg",
			}
			for _, n := range names {
				writeImage(t, filepath.Join(src, n), 40, 30)
			}

			svc, _ := newService(BatchConfig{Workers: 3})
			report, err := run(svc, context.Background(), src, dest, 0.25)
			require.NoError(t, err)
			assert.Len(t, report.Results, len(names))

			got := outputs(t, dest)
			var gotNames []string
			for n, dims := range got {
				gotNames = append(gotNames, n)
				assert.Equal(t, [2]int{10, 7}, dims, n)
			}
			sort.Strings(gotNames)
			assert.Equal(t, []string{
				"five.jpg", "four.jpg", "one.jpg", "six.jpg", "three.jpg", "two.jpg",
			}, gotNames)
		})
	}
}

func TestResizeSameBaseNameCollides(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			src, dest := t.TempDir(), t.TempDir()
			writeImage(t, filepath.Join(src, "x.png"), 80, 40)
			writeImage(t, filepath.Join(src, "x.jpg"), 60, 60)

			svc, _ := newService(BatchConfig{})
			report, err := run(svc, context.Background(), src, dest, 0.5)
			require.NoError(t, err)
			assert.Equal(t, 2, report.Succeeded())

			got := outputs(t, dest)
			require.Len(t, got, 1)
			dims, ok := got["x.jpg"]
			require.True(t, ok)
			// whichever complete write landed last
			assert.Contains(t, [][2]int{{40, 20}, {30, 30}}, dims)
		})
	}
}

func TestResizeEmptySourceIsNoop(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			dest := t.TempDir()
			svc, rec := newService(BatchConfig{})

			report, err := run(svc, context.Background(), t.TempDir(), dest, 0.5)
			require.NoError(t, err)
			assert.Empty(t, report.Results)
			assert.Empty(t, outputs(t, dest))
			assert.Equal(t, 0, rec.count(metrics.ImageResized))
		})
	}
}

func TestResizeIsRepeatable(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			src, dest := t.TempDir(), t.TempDir()
			writeImage(t, filepath.Join(src, "a.png"), 64, 48)
			writeImage(t, filepath.Join(src, "b.jpeg"), 33, 21)

			svc, _ := newService(BatchConfig{})
			_, err := run(svc, context.Background(), src, dest, 0.5)
			require.NoError(t, err)
			first := outputs(t, dest)

			_, err = run(svc, context.Background(), src, dest, 0.5)
			require.NoError(t, err)
			assert.Equal(t, first, outputs(t, dest))
			assert.Equal(t, map[string][2]int{
				"a.jpg": {32, 24},
				"b.jpg": {16, 10},
			}, first)
		})
	}
}

func TestResizeRejectsInvalidScale(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			svc, _ := newService(BatchConfig{})
			missingSrc := filepath.Join(t.TempDir(), "missing")

			for _, scale := range []float64{0, -1} {
				_, err := run(svc, context.Background(), missingSrc, t.TempDir(), scale)
				assert.ErrorIs(t, err, transform.ErrInvalidScale)
			}
		})
	}
}

func TestResizeRequiresDestination(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			svc, _ := newService(BatchConfig{})
			dest := filepath.Join(t.TempDir(), "missing")

			_, err := run(svc, context.Background(), t.TempDir(), dest, 0.5)
			assert.ErrorIs(t, err, ErrDestinationMissing)
		})
	}
}

func TestResizeMissingSource(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			svc, _ := newService(BatchConfig{})
			src := filepath.Join(t.TempDir(), "missing")

			_, err := run(svc, context.Background(), src, t.TempDir(), 0.5)
			assert.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}

func TestSequentialAbortsOnFirstFailure(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.png"), []byte("garbage"), 0o644))
	writeImage(t, filepath.Join(src, "b.png"), 20, 20)

	svc, rec := newService(BatchConfig{})
	report, err := svc.ResizeImages(context.Background(), src, dest, 0.5)

	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrUnsupportedFormat)
	assert.Len(t, report.Results, 1)
	assert.Empty(t, outputs(t, dest))
	assert.Equal(t, 1, rec.count(metrics.ImageFailed))
}

func TestParallelFailureDoesNotStopSiblings(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.png"), []byte("garbage"), 0o644))
	writeImage(t, filepath.Join(src, "b.png"), 20, 20)
	writeImage(t, filepath.Join(src, "c.jpg"), 40, 40)
	writeImage(t, filepath.Join(src, "d.jpeg"), 10, 30)

	svc, rec := newService(BatchConfig{Workers: 1})
	report, err := svc.ResizeImagesAsync(context.Background(), src, dest, 0.5)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchFailed)
	assert.ErrorIs(t, err, codec.ErrUnsupportedFormat)

	assert.Equal(t, 3, report.Succeeded())
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, map[string][2]int{
		"b.jpg": {10, 10},
		"c.jpg": {20, 20},
		"d.jpg": {5, 15},
	}, outputs(t, dest))
	assert.Equal(t, 3, rec.count(metrics.ImageResized))
	assert.Equal(t, 1, rec.count(metrics.ImageFailed))
}

func TestParallelCancelledContext(t *testing.T) {
	src, dest := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(src, "a.png"), 20, 20)
	writeImage(t, filepath.Join(src, "b.jpg"), 20, 20)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc, _ := newService(BatchConfig{})
	report, err := svc.ResizeImagesAsync(ctx, src, dest, 0.5)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Failed())
	assert.Empty(t, outputs(t, dest))
}

func TestUppercaseExtensionPolicy(t *testing.T) {
	for name, run := range modes {
		t.Run(name, func(t *testing.T) {
			src := t.TempDir()
			writeImage(t, filepath.Join(src, "photo.JPG"), 20, 10)

			dest := t.TempDir()
			svc, _ := newService(BatchConfig{})
			report, err := run(svc, context.Background(), src, dest, 0.5)
			require.NoError(t, err)
			assert.Empty(t, report.Results)
			assert.Empty(t, outputs(t, dest))

			dest = t.TempDir()
			svc, _ = newService(BatchConfig{FoldExtCase: true})
			_, err = run(svc, context.Background(), src, dest, 0.5)
			require.NoError(t, err)
			assert.Equal(t, map[string][2]int{"photo.jpg": {10, 5}}, outputs(t, dest))
		})
	}
}

func TestProcessRequest(t *testing.T) {
	src := t.TempDir()
	writeImage(t, filepath.Join(src, "a.png"), 30, 30)

	dest := filepath.Join(t.TempDir(), "out")
	svc, _ := newService(BatchConfig{})

	// without Clean the destination has to exist already
	_, err := svc.ProcessRequest(context.Background(), models.ResizeRequest{
		SourcePath: src,
		DestPath:   dest,
		Scale:      0.5,
	})
	assert.ErrorIs(t, err, ErrDestinationMissing)

	report, err := svc.ProcessRequest(context.Background(), models.ResizeRequest{
		SourcePath: src,
		DestPath:   dest,
		Scale:      0.5,
		Clean:      true,
		Parallel:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ModeParallel, report.Mode)
	assert.Equal(t, map[string][2]int{"a.jpg": {15, 15}}, outputs(t, dest))

	_, err = svc.ProcessRequest(context.Background(), models.ResizeRequest{Scale: 1})
	assert.Error(t, err)
}

func TestParallelOversizedImageFailsAlone(t *testing.T) {
	prev := transform.MaxPixels
	transform.MaxPixels = 10_000
	t.Cleanup(func() { transform.MaxPixels = prev })

	src, dest := t.TempDir(), t.TempDir()
	writeImage(t, filepath.Join(src, "big.png"), 20, 20)
	writeImage(t, filepath.Join(src, "small.jpg"), 5, 5)
	writeImage(t, filepath.Join(src, "other.jpeg"), 4, 8)

	svc, _ := newService(BatchConfig{})
	report, err := svc.ResizeImagesAsync(context.Background(), src, dest, 10)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchFailed)
	assert.ErrorIs(t, err, transform.ErrInvalidDimensions)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, map[string][2]int{
		"small.jpg": {50, 50},
		"other.jpg": {40, 80},
	}, outputs(t, dest))
}
