package validation

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizePath(t *testing.T) {
	baseDir := "/tmp/media"

	tests := []struct {
		name      string
		userPath  string
		want      string
		wantError error
	}{
		{"simple", "a.png", "a.png", nil},
		{"nested", "audio/b.mp3", filepath.Join("audio", "b.mp3"), nil},
		{"redundant separators", "audio//b.mp3", filepath.Join("audio", "b.mp3"), nil},
		{"dot component", "./a.png", "a.png", nil},
		{"dots inside name", "a..b.png", "a..b.png", nil},
		{"traversal", "../etc/passwd", "", ErrPathTraversal},
		{"traversal in middle", "audio/../../etc/passwd", "", ErrPathTraversal},
		{"absolute", "/etc/passwd", "", ErrPathTraversal},
		{"empty", "", "", ErrEmptyPath},
		{"too long", strings.Repeat("a", MaxPathLength+1), "", ErrPathTooLong},
		{"control character", "a\x00.png", "", ErrInvalidCharacter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(baseDir, tt.userPath)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Errorf("SanitizePath() error = %v, want %v", err, tt.wantError)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("SanitizePath() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		wantError error
	}{
		{"plain", "hola.mp3", nil},
		{"unicode", "adiós.ogg", nil},
		{"leading hyphen", "-x.png", nil},
		{"empty", "", ErrInvalidFilename},
		{"dot", ".", ErrInvalidFilename},
		{"dotdot", "..", ErrInvalidFilename},
		{"slash", "a/b.png", ErrInvalidFilename},
		{"backslash", `a\b.png`, ErrInvalidFilename},
		{"control", "a\nb.png", ErrInvalidFilename},
		{"too long", strings.Repeat("x", MaxFilenameLength+1), ErrFilenameTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilename(tt.filename)
			if tt.wantError == nil && err != nil {
				t.Errorf("ValidateFilename() error = %v", err)
			}
			if tt.wantError != nil && !errors.Is(err, tt.wantError) {
				t.Errorf("ValidateFilename() error = %v, want %v", err, tt.wantError)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	if err := ValidatePath("decks/spanish.apkg"); err != nil {
		t.Errorf("ValidatePath() error = %v", err)
	}
	if err := ValidatePath(""); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("ValidatePath(empty) error = %v", err)
	}
	if err := ValidatePath("a\x7fb"); !errors.Is(err, ErrInvalidCharacter) {
		t.Errorf("ValidatePath(DEL) error = %v", err)
	}
}

func TestCheckFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	os.WriteFile(path, []byte("12345"), 0o644)

	size, err := CheckFile(path)
	if err != nil || size != 5 {
		t.Errorf("CheckFile() = %d, %v", size, err)
	}
	if _, err := CheckFile(dir); err == nil {
		t.Error("CheckFile(directory) should fail")
	}
	if _, err := CheckFile(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Errorf("CheckFile(missing) error = %v", err)
	}
}

func TestCheckPackageFile(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "deck.apkg")
	os.WriteFile(pkg, append([]byte{0x50, 0x4b, 0x03, 0x04}, make([]byte, 40)...), 0o644)
	if err := CheckPackageFile(pkg); err != nil {
		t.Errorf("CheckPackageFile() error = %v", err)
	}

	db := filepath.Join(dir, "collection.anki2")
	os.WriteFile(db, []byte("SQLite format 3\x00rest"), 0o644)
	err := CheckPackageFile(db)
	if !errors.Is(err, ErrNotPackage) || !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("CheckPackageFile(sqlite) error = %v", err)
	}
}

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want FileType
	}{
		{"zip", []byte{0x50, 0x4b, 0x03, 0x04, 0x14}, FileTypeZip},
		{"empty zip", []byte{0x50, 0x4b, 0x05, 0x06}, FileTypeZip},
		{"sqlite", []byte("SQLite format 3\x00\x10\x00"), FileTypeSQLite},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, FileTypeZstd},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, FileTypeGzip},
		{"xz", []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00, 0x00}, FileTypeXZ},
		{"json object", []byte("  {\"decks\": []}"), FileTypeJSON},
		{"json array", []byte("[1]"), FileTypeJSON},
		{"text", []byte("hello"), FileTypeUnknown},
		{"empty", nil, FileTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFileType(bytes.NewReader(tt.data))
			if err != nil || got != tt.want {
				t.Errorf("DetectFileType() = %s, %v; want %s", got, err, tt.want)
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestDetectFileTypeReadError(t *testing.T) {
	if _, err := DetectFileType(failingReader{}); err == nil {
		t.Error("DetectFileType() should report read errors")
	}
}
