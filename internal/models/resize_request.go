package models

import (
	"github.com/google/uuid"
)

type ResizeRequest struct {
	RequestID uuid.UUID `json:"requestId"`

	// Directory scanned recursively for png/jpg/jpeg originals
	SourcePath string `json:"sourcePath"`

	// Directory receiving '<base>.jpg' outputs
	DestPath string `json:"destPath"`

	Scale float64 `json:"scale"`

	// Empty (or create) DestPath before resizing
	Clean bool `json:"clean"`

	// Use the per-extension / per-file fan-out instead of
	// processing files one at a time
	Parallel bool `json:"parallel"`
}
