// Package discovery finds original images below a directory by file
// extension.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrNotDirectory = errors.New("source path is not a directory")

type Extension byte

const (
	ExtNone Extension = iota
	PNG
	JPG
	JPEG
)

func (e Extension) String() string {
	switch e {
	case PNG:
		return "png"
	case JPG:
		return "jpg"
	case JPEG:
		return "jpeg"
	}
	return "unknown"
}

// Suffix returns the extension with its leading dot, e.g. ".png".
func (e Extension) Suffix() string {
	if e == ExtNone {
		return ""
	}
	return "." + e.String()
}

// ParseExtension accepts "png", ".png" or a file name ending in one of
// the supported extensions. Matching is exact (case-sensitive).
func ParseExtension(s string) Extension {
	if pos := strings.LastIndex(s, "."); pos != -1 {
		s = s[pos+1:]
	}
	switch s {
	case "png":
		return PNG
	case "jpg":
		return JPG
	case "jpeg":
		return JPEG
	}
	return ExtNone
}

// All returns the recognized extensions in scan order.
func All() []Extension {
	return []Extension{PNG, JPG, JPEG}
}

// Finder walks directory trees looking for images. The zero value
// matches extensions case-sensitively.
type Finder struct {
	// Match ".JPG" as ".jpg" etc.
	FoldCase bool
}

// FindImages returns every png/jpg/jpeg file below srcPath.
func (f Finder) FindImages(srcPath string) ([]string, error) {
	return f.find(srcPath, All()...)
}

// FindImagesByExtension returns every file below srcPath with the given
// extension.
func (f Finder) FindImagesByExtension(
	srcPath string,
	ext Extension,
) ([]string, error) {
	if ext == ExtNone {
		return nil, fmt.Errorf("unsupported extension %q", ext.String())
	}
	return f.find(srcPath, ext)
}

func (f Finder) matches(name string, exts []Extension) bool {
	ext := filepath.Ext(name)
	for _, e := range exts {
		if ext == e.Suffix() {
			return true
		}
		if f.FoldCase && strings.EqualFold(ext, e.Suffix()) {
			return true
		}
	}
	return false
}

// find walks srcPath, which has to be a directory. Only regular files are
// returned; symlinks are not followed.
func (f Finder) find(srcPath string, exts ...Extension) ([]string, error) {
	info, err := os.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for images: %w", srcPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, srcPath)
	}

	files := []string{}
	err = filepath.WalkDir(srcPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if f.matches(d.Name(), exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for images: %w", srcPath, err)
	}

	return files, nil
}

var defaultFinder Finder

func FindImages(srcPath string) ([]string, error) {
	return defaultFinder.FindImages(srcPath)
}

func FindImagesByExtension(srcPath string, ext Extension) ([]string, error) {
	return defaultFinder.FindImagesByExtension(srcPath, ext)
}
