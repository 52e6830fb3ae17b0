// Package transform holds the pure pixel side of resizing: destination
// dimension math and high quality resampling. Nothing here touches the
// filesystem.
package transform

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

var (
	ErrInvalidScale      = errors.New("scale factor must be a finite number greater than zero")
	ErrInvalidDimensions = errors.New("image dimensions must be greater than zero")
)

// DefaultMaxPixels caps the area of a resampled canvas (about 400 MB
// as NRGBA).
const DefaultMaxPixels = 100_000_000

// MaxPixels is the largest width*height DestDimensions and Resample
// accept.
var MaxPixels = DefaultMaxPixels

// Interpolator used by Resample. Catmull-Rom is the bicubic kernel of
// x/image/draw.
var Interpolator draw.Interpolator = draw.CatmullRom

func ValidateScale(scale float64) error {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidScale, scale)
	}
	return nil
}

// DestDimensions computes floor(dimension * scale) for both sides.
func DestDimensions(srcWidth, srcHeight int, scale float64) (int, int, error) {
	if err := ValidateScale(scale); err != nil {
		return 0, 0, err
	}
	if srcWidth <= 0 || srcHeight <= 0 {
		return 0, 0, fmt.Errorf(
			"%w: source is %dx%d",
			ErrInvalidDimensions,
			srcWidth,
			srcHeight,
		)
	}

	// Checked as floats so huge scales can't overflow int
	fw := math.Floor(float64(srcWidth) * scale)
	fh := math.Floor(float64(srcHeight) * scale)
	if fw*fh > float64(MaxPixels) {
		return 0, 0, fmt.Errorf(
			"%w: %dx%d scaled by %v exceeds %d pixels",
			ErrInvalidDimensions,
			srcWidth,
			srcHeight,
			scale,
			MaxPixels,
		)
	}

	dstWidth, dstHeight := int(fw), int(fh)
	if dstWidth <= 0 || dstHeight <= 0 {
		return 0, 0, fmt.Errorf(
			"%w: %dx%d scaled by %v gives %dx%d",
			ErrInvalidDimensions,
			srcWidth,
			srcHeight,
			scale,
			dstWidth,
			dstHeight,
		)
	}

	return dstWidth, dstHeight, nil
}

// Resample maps the srcWidth x srcHeight rectangle of src (anchored at
// src.Bounds().Min) onto a new dstWidth x dstHeight canvas. The canvas
// starts fully transparent, so source alpha survives the draw.
func Resample(
	src image.Image,
	srcWidth, srcHeight int,
	dstWidth, dstHeight int,
) (*image.NRGBA, error) {
	if srcWidth <= 0 || srcHeight <= 0 || dstWidth <= 0 || dstHeight <= 0 {
		return nil, fmt.Errorf(
			"%w: %dx%d -> %dx%d",
			ErrInvalidDimensions,
			srcWidth,
			srcHeight,
			dstWidth,
			dstHeight,
		)
	}
	if tooLarge(dstWidth, dstHeight) {
		return nil, fmt.Errorf(
			"%w: %dx%d exceeds %d pixels",
			ErrInvalidDimensions,
			dstWidth,
			dstHeight,
			MaxPixels,
		)
	}

	origin := src.Bounds().Min
	srcRect := image.Rect(
		origin.X,
		origin.Y,
		origin.X+srcWidth,
		origin.Y+srcHeight,
	)

	dst := image.NewNRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	Interpolator.Scale(dst, dst.Bounds(), src, srcRect, draw.Over, nil)

	return dst, nil
}

func tooLarge(w, h int) bool {
	return float64(w)*float64(h) > float64(MaxPixels)
}
