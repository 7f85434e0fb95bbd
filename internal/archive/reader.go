// Package archive writes and reads unpack bundles: a directory produced by
// unpacking a package, stored as a tar.xz or tar.gz file.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

// Reader wraps a tar.Reader with decompression chosen by file extension.
type Reader struct {
	*tar.Reader
	file         *os.File
	decompressor io.Closer
}

// NewReader opens the bundle at path.
func NewReader(path string) (*Reader, error) {
	kind := DetectFormat(path)
	if kind == FormatUnknown {
		return nil, fmt.Errorf("unsupported bundle format: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}

	var r io.Reader = f
	var decompressor io.Closer
	switch kind {
	case FormatTarXz:
		xzr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		r = xzr
	case FormatTarGz:
		gzr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		r = gzr
		decompressor = gzr
	}

	return &Reader{Reader: tar.NewReader(r), file: f, decompressor: decompressor}, nil
}

// Close closes the decompressor and the file.
func (r *Reader) Close() error {
	var first error
	if r.decompressor != nil {
		first = r.decompressor.Close()
	}
	if err := r.file.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Visitor is called for each bundle entry. Returning true stops the walk.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate calls visitor for every entry until it stops or the bundle ends.
func (r *Reader) Iterate(visitor Visitor) error {
	for {
		header, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		stop, err := visitor(header, r)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// IterateBundle opens path and iterates its entries.
func IterateBundle(path string, visitor Visitor) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Iterate(visitor)
}

// ReadFile returns the content of filename, given relative to the bundle's
// top-level directory.
func ReadFile(bundlePath, filename string) ([]byte, error) {
	var content []byte
	found := false
	err := IterateBundle(bundlePath, func(header *tar.Header, r io.Reader) (bool, error) {
		if trimTop(header.Name) != filename && header.Name != filename {
			return false, nil
		}
		var err error
		content, err = io.ReadAll(r)
		found = true
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("file not found in bundle: %s", filename)
	}
	return content, nil
}

// trimTop removes the top-level directory from an entry name.
func trimTop(name string) string {
	if idx := strings.Index(name, "/"); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
