package cleaner

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// Clean prepares destPath to receive a fresh batch. A missing directory
// is created along with its parents. An existing one has every file
// below it removed; the directory tree itself is kept.
func Clean(destPath string) error {
	info, err := os.Stat(destPath)
	if os.IsNotExist(err) {
		slog.Debug("Creating destination directory", "path", destPath)
		if err := os.MkdirAll(destPath, 0755); err != nil {
			return fmt.Errorf(
				"failed to create destination directory %s: %w",
				destPath,
				err,
			)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", destPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", destPath)
	}

	removed := 0
	err = filepath.WalkDir(destPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clean %s: %w", destPath, err)
	}

	slog.Debug("Destination cleaned", "path", destPath, "removedFiles", removed)
	return nil
}
