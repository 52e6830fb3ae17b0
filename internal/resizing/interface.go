package resizing

import (
	"context"
	"fmt"

	"github.com/giobyte8/resizer/internal/models"
)

type Engine string

const (
	EngineNative   Engine = "native"
	EngineLilliput Engine = "lilliput"
)

func ParseEngine(s string) (Engine, error) {
	switch Engine(s) {
	case EngineNative, EngineLilliput:
		return Engine(s), nil
	default:
		return "", fmt.Errorf("unknown resize engine %q", s)
	}
}

// ImageResizer turns one original into one '<base>.jpg' inside the
// task's destination directory. Failures are reported through the
// result's Err field; implementations must not share mutable state
// between calls so that Resize can run concurrently.
type ImageResizer interface {
	Resize(ctx context.Context, task models.ImageTask) models.ResizeResult
}
