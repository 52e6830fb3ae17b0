// Package lilliputengine resizes originals with discord/lilliput (cgo,
// OpenCV backed). It is selected with RESIZER_ENGINE=lilliput. Output
// names and dimensions follow the native engine; pixel values differ
// since OpenCV does the resampling. EXIF orientation is never applied.
package lilliputengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/discord/lilliput"

	"github.com/giobyte8/resizer/internal/codec"
	"github.com/giobyte8/resizer/internal/models"
	"github.com/giobyte8/resizer/internal/transform"
)

// Extra room on top of raw pixel size for the encode buffer
const encodeBufferSlack = 64 * 1024

type Resizer struct {
	quality int
}

func NewResizer(quality int) *Resizer {
	if quality <= 0 {
		quality = codec.DefaultQuality
	}
	return &Resizer{quality: quality}
}

func (r *Resizer) Resize(
	ctx context.Context,
	task models.ImageTask,
) models.ResizeResult {
	result := models.ResizeResult{
		SourcePath: task.SourcePath,
		OutputPath: codec.OutputPath(task.DestDir, task.SourcePath),
	}

	select {
	case <-ctx.Done():
		slog.Warn("Context cancelled before resize", "src", task.SourcePath)
		result.Err = ctx.Err()
		return result
	default:
	}

	slog.Debug("Resizing image with lilliput", "src", task.SourcePath)

	// Load original file into memory
	inputBuf, err := os.ReadFile(task.SourcePath)
	if err != nil {
		result.Err = fmt.Errorf(
			"failed to read original file %s: %w",
			task.SourcePath,
			err,
		)
		return result
	}

	if _, err := codec.Sniff(inputBuf); err != nil {
		result.Err = fmt.Errorf("%s: %w", task.SourcePath, err)
		return result
	}

	decoder, err := lilliput.NewDecoder(inputBuf)
	if err != nil {
		result.Err = fmt.Errorf(
			"failed to create lilliput decoder for %s: %w",
			task.SourcePath,
			err,
		)
		return result
	}
	defer decoder.Close()

	result.SourceWidth, result.SourceHeight, err = origDimensions(
		task.SourcePath,
		decoder,
	)
	if err != nil {
		result.Err = err
		return result
	}

	width, height, err := transform.DestDimensions(
		result.SourceWidth,
		result.SourceHeight,
		task.Scale,
	)
	if err != nil {
		result.Err = fmt.Errorf("%s: %w", task.SourcePath, err)
		return result
	}

	ops := lilliput.NewImageOps(max(
		result.SourceWidth,
		result.SourceHeight,
		width,
		height,
	))
	defer ops.Close()

	opts := &lilliput.ImageOptions{
		FileType:     codec.OutputExtension,
		Width:        width,
		Height:       height,
		ResizeMethod: lilliput.ImageOpsResize,

		// Header dimensions are pre-rotation
		NormalizeOrientation: false,

		EncodeOptions: map[int]int{
			lilliput.JpegQuality: r.quality,
		},
	}

	resizeBuffer := make([]byte, width*height*4+encodeBufferSlack)
	resizedBuf, err := ops.Transform(decoder, opts, resizeBuffer)
	if err != nil {
		result.Err = fmt.Errorf(
			"failed to resize %s: %w",
			task.SourcePath,
			err,
		)
		return result
	}

	if err := codec.WriteOutput(result.OutputPath, resizedBuf); err != nil {
		result.Err = err
		return result
	}

	result.Width = width
	result.Height = height
	return result
}

func origDimensions(
	fileRelPath string,
	decoder lilliput.Decoder,
) (int, int, error) {
	imgHeader, err := decoder.Header()
	if err != nil {
		return 0, 0, fmt.Errorf(
			"failed to get image header for %s: %w",
			fileRelPath,
			err,
		)
	}

	origWidth := imgHeader.Width()
	origHeight := imgHeader.Height()
	if origWidth == 0 || origHeight == 0 {
		return 0, 0, fmt.Errorf(
			"invalid original image dimensions: width=%d, height=%d",
			origWidth,
			origHeight,
		)
	}

	return origWidth, origHeight, nil
}
