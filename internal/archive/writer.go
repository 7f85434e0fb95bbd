package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"
)

// Function variables for testing.
var (
	osCreate = os.Create
	timeNow  = time.Now
)

// CreateBundle archives srcDir into dstPath, compressing with xz or gzip
// according to the extension of dstPath. Entries are placed under a
// top-level directory named after the bundle and share one timestamp.
// A partially written bundle is removed on error.
func CreateBundle(srcDir, dstPath string) (err error) {
	kind := DetectFormat(dstPath)
	if kind == FormatUnknown {
		return fmt.Errorf("unsupported bundle format: %s", dstPath)
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	out, err := osCreate(dstPath)
	if err != nil {
		return fmt.Errorf("create bundle: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close bundle: %w", cerr)
		}
		if err != nil {
			os.Remove(dstPath)
		}
	}()

	var cw io.WriteCloser
	switch kind {
	case FormatTarXz:
		if cw, err = xz.NewWriter(out); err != nil {
			return fmt.Errorf("xz writer: %w", err)
		}
	case FormatTarGz:
		cw = gzip.NewWriter(out)
	}

	tw := tar.NewWriter(cw)
	if err := writeTree(tw, srcDir, BundleName(dstPath), timeNow()); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("finish tar: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", kind, err)
	}
	return nil
}

// writeTree adds every file and directory below srcDir in lexical order.
func writeTree(tw *tar.Writer, srcDir, baseDir string, modTime time.Time) error {
	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = baseDir + "/" + filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
		}
		header.ModTime = modTime
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}
