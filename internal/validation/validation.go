// Package validation checks paths and files handed to the command line
// tool before they reach the package reader or builder.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Limits on inputs.
const (
	// MaxFileSize is the largest media file or package accepted (2 GiB).
	MaxFileSize = 2 << 30
	// MaxFilenameLength is the longest accepted media name.
	MaxFilenameLength = 255
	// MaxPathLength is the longest accepted path.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrFileTooLarge     = errors.New("file too large")
	ErrNotPackage       = errors.New("not a zip container")
)

// SanitizePath resolves userPath against baseDir and rejects it if it is
// absolute or escapes baseDir. It returns the cleaned relative path.
func SanitizePath(baseDir, userPath string) (string, error) {
	if err := ValidatePath(userPath); err != nil {
		return "", err
	}
	clean := filepath.Clean(userPath)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return "", ErrPathTraversal
		}
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, clean))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return clean, nil
}

// ValidateFilename checks a media name given on input: one path component
// without control characters.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	return nil
}

// ValidatePath checks length and characters of a path without touching the
// filesystem.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// CheckFile validates path and returns the size of the regular file there.
func CheckFile(path string) (int64, error) {
	if err := ValidatePath(path); err != nil {
		return 0, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !st.Mode().IsRegular() {
		return 0, fmt.Errorf("%s: not a regular file", path)
	}
	if st.Size() > MaxFileSize {
		return 0, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, st.Size())
	}
	return st.Size(), nil
}

// CheckPackageFile checks that path is a regular file starting with a zip
// signature.
func CheckPackageFile(path string) error {
	if _, err := CheckFile(path); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ft, err := DetectFileType(f)
	if err != nil {
		return err
	}
	if ft != FileTypeZip {
		return fmt.Errorf("%w: %s looks like %s", ErrNotPackage, path, ft)
	}
	return nil
}

// FileType is a file kind recognized by its leading bytes.
type FileType string

// Recognized file types.
const (
	FileTypeZip     FileType = "zip"
	FileTypeSQLite  FileType = "sqlite"
	FileTypeZstd    FileType = "zstd"
	FileTypeGzip    FileType = "gzip"
	FileTypeXZ      FileType = "xz"
	FileTypeJSON    FileType = "json"
	FileTypeUnknown FileType = "unknown"
)

var magicBytes = []struct {
	fileType FileType
	magic    []byte
}{
	{FileTypeZip, []byte{0x50, 0x4b, 0x03, 0x04}},
	{FileTypeZip, []byte{0x50, 0x4b, 0x05, 0x06}}, // empty archive
	{FileTypeSQLite, []byte("SQLite format 3\x00")},
	{FileTypeZstd, []byte{0x28, 0xb5, 0x2f, 0xfd}},
	{FileTypeGzip, []byte{0x1f, 0x8b}},
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
}

// DetectFileType identifies r from its first bytes.
func DetectFileType(r io.Reader) (FileType, error) {
	buf := make([]byte, 64)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("read file header: %w", err)
	}
	return detectFromMagic(buf[:n]), nil
}

func detectFromMagic(buf []byte) FileType {
	for _, m := range magicBytes {
		if bytes.HasPrefix(buf, m.magic) {
			return m.fileType
		}
	}
	if t := bytes.TrimLeft(buf, " \t\r\n\ufeff"); len(t) > 0 && (t[0] == '{' || t[0] == '[') {
		return FileTypeJSON
	}
	return FileTypeUnknown
}
