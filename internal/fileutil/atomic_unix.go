//go:build !windows

package fileutil

import (
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// WriteAtomic writes the output of fn to a pending file next to path, fsyncs it
// and renames it over path. On any error the pending file is removed and path
// is left untouched.
func WriteAtomic(path string, perm os.FileMode, fn WriteFunc) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithStaticPermissions(perm))
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", path, err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := fn(pending); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
