package archive

import (
	"archive/tar"
	"io"
	"strings"
)

// Bundle compression formats.
const (
	FormatTarXz   = "tar.xz"
	FormatTarGz   = "tar.gz"
	FormatUnknown = "unknown"
)

var extensions = []struct {
	suffix string
	format string
}{
	{".tar.xz", FormatTarXz},
	{".txz", FormatTarXz},
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
}

// DetectFormat returns the bundle format implied by the extension of path.
func DetectFormat(path string) string {
	for _, e := range extensions {
		if strings.HasSuffix(path, e.suffix) {
			return e.format
		}
	}
	return FormatUnknown
}

// IsSupportedFormat reports whether path has a bundle extension.
func IsSupportedFormat(path string) bool {
	return DetectFormat(path) != FormatUnknown
}

// BundleName returns the top-level directory used inside the bundle at
// path: its base name without the bundle extension.
func BundleName(path string) string {
	name := path
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	for _, e := range extensions {
		if strings.HasSuffix(name, e.suffix) {
			return strings.TrimSuffix(name, e.suffix)
		}
	}
	return name
}

// Summary describes the contents of an unpack bundle.
type Summary struct {
	Files      int  // regular files
	Blobs      int  // media blobs under blobs/sha256
	Collection bool // collection.json present
	MediaIndex bool // media.json present
}

// Scan walks the bundle once and summarizes it.
func Scan(path string) (Summary, error) {
	var s Summary
	err := IterateBundle(path, func(header *tar.Header, _ io.Reader) (bool, error) {
		if header.Typeflag != tar.TypeReg {
			return false, nil
		}
		s.Files++
		name := trimTop(header.Name)
		switch {
		case name == "collection.json":
			s.Collection = true
		case name == "media.json":
			s.MediaIndex = true
		case strings.HasPrefix(name, "blobs/sha256/"):
			s.Blobs++
		}
		return false, nil
	})
	return s, err
}
