//go:build !windows

package provision

import (
	"errors"
	"io/fs"
	"os"
)

// ensureExecutable reports whether path is a regular file, adding the exec bits when missing.
func ensureExecutable(path string) (bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !fi.Mode().IsRegular() {
		return false, &fs.PathError{Op: "provision", Path: path, Err: errors.New("not a regular file")}
	}
	if fi.Mode().Perm()&0o111 == 0 {
		// #nosec G302 -- the relay must be executable
		if err := os.Chmod(path, fi.Mode().Perm()|0o755); err != nil {
			return false, err
		}
	}
	return true, nil
}
