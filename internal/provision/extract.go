package provision

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// errBinaryNotFound reports an archive without the relay executable.
var errBinaryNotFound = errors.New("relay binary not found in archive")

// extractBinary copies the entry whose base name is name from a .tar.gz or .zip archive into w.
func extractBinary(archive []byte, ext, name string, w io.Writer) error {
	switch ext {
	case "zip":
		return extractZip(archive, name, w)
	default:
		return extractTarGz(bytes.NewReader(archive), name, w)
	}
}

func extractTarGz(r io.Reader, name string, w io.Writer) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = gz.Close() }()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return errBinaryNotFound
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || path.Base(hdr.Name) != name {
			continue
		}
		// #nosec G110 -- release archives come from the configured download base
		if _, err := io.Copy(w, tr); err != nil {
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		return nil
	}
}

func extractZip(archive []byte, name string, w io.Writer) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || path.Base(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		// #nosec G110 -- release archives come from the configured download base
		_, err = io.Copy(w, rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
		return nil
	}
	return errBinaryNotFound
}
