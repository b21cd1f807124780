//go:build windows

package provision

import (
	"errors"
	"io/fs"
	"os"
)

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
	return true, nil
}
