//go:build windows

package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic writes the output of fn to a temp file in the directory of path
// and renames it over path. Rename is best-effort atomic on Windows.
func WriteAtomic(path string, perm os.FileMode, fn WriteFunc) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".camrelay-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
		}
		_ = os.Remove(tmpPath)
	}()

	if err := fn(tmp); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	tmp = nil
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
