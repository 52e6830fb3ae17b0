package resizing

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/giobyte8/resizer/internal/codec"
	"github.com/giobyte8/resizer/internal/models"
	"github.com/giobyte8/resizer/internal/transform"
)

// NativeResizer resizes with pure Go: imaging for the codec and
// x/image/draw for resampling.
type NativeResizer struct {
	codec *codec.Codec
}

func NewNativeResizer(c *codec.Codec) *NativeResizer {
	if c == nil {
		c = codec.New()
	}
	return &NativeResizer{codec: c}
}

func (r *NativeResizer) Resize(
	ctx context.Context,
	task models.ImageTask,
) models.ResizeResult {
	result := models.ResizeResult{
		SourcePath: task.SourcePath,
		OutputPath: codec.OutputPath(task.DestDir, task.SourcePath),
	}

	select {
	case <-ctx.Done():
		result.Err = ctx.Err()
		return result
	default:
	}

	slog.Debug("Resizing image", "src", task.SourcePath, "scale", task.Scale)

	img, err := r.codec.Decode(task.SourcePath)
	if err != nil {
		result.Err = err
		return result
	}

	bounds := img.Bounds()
	result.SourceWidth = bounds.Dx()
	result.SourceHeight = bounds.Dy()

	width, height, err := transform.DestDimensions(
		result.SourceWidth,
		result.SourceHeight,
		task.Scale,
	)
	if err != nil {
		result.Err = fmt.Errorf("%s: %w", task.SourcePath, err)
		return result
	}

	resized, err := transform.Resample(
		img,
		result.SourceWidth,
		result.SourceHeight,
		width,
		height,
	)
	if err != nil {
		result.Err = fmt.Errorf("failed to resample %s: %w", task.SourcePath, err)
		return result
	}

	var buf bytes.Buffer
	if err := r.codec.EncodeJPEG(&buf, resized); err != nil {
		result.Err = fmt.Errorf("%s: %w", task.SourcePath, err)
		return result
	}

	if err := codec.WriteOutput(result.OutputPath, buf.Bytes()); err != nil {
		result.Err = err
		return result
	}

	result.Width = width
	result.Height = height
	return result
}
