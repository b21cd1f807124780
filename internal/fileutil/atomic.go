// Package fileutil writes files so readers never observe a partial result.
package fileutil

import (
	"io"
	"os"
)

// WriteFunc streams the file contents into w.
type WriteFunc func(w io.Writer) error

// WriteBytes atomically replaces path with data.
func WriteBytes(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
