// Package cas stores unpacked media payloads by content. Every payload is
// written once under its SHA-256 digest, so identical files shipped under
// several names in a package share one blob on disk.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// Function variables for testing.
var (
	osMkdirAll    = os.MkdirAll
	osCreateTemp  = os.CreateTemp
	osRename      = os.Rename
	tempFileWrite = func(f *os.File, data []byte) (int, error) {
		return f.Write(data)
	}
	tempFileClose = func(f io.Closer) error {
		return f.Close()
	}
)

// ErrBlobNotFound is returned when no blob has the requested digest.
var ErrBlobNotFound = errors.New("blob not found")

// ErrDigestMismatch is returned when a stored blob does not match the
// digest it was requested by.
var ErrDigestMismatch = errors.New("blob digest mismatch")

// ErrInvalidHash is returned for a digest that is not 64 lowercase hex digits.
var ErrInvalidHash = errors.New("invalid hash format")

var hexDigest = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Store is a blob directory rooted at root:
//
//	blobs/sha256/<first two digits>/<sha256>
//	blobs/blake3/<first two digits>/<blake3>.json
type Store struct {
	root string
}

// NewStore creates the blob directories under root if needed.
func NewStore(root string) (*Store, error) {
	if err := osMkdirAll(filepath.Join(root, "blobs", "sha256"), 0o755); err != nil {
		return nil, fmt.Errorf("cas: create blob directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory the store was opened on.
func (s *Store) Root() string {
	return s.root
}

// Store writes data unless a blob with the same digest already exists and
// returns its SHA-256 digest.
func (s *Store) Store(data []byte) (string, error) {
	hash := Hash(data)
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := writeAtomic(path, ".blob-*", data); err != nil {
		return "", fmt.Errorf("cas: store blob: %w", err)
	}
	return hash, nil
}

// Retrieve returns the blob with the given SHA-256 digest.
func (s *Store) Retrieve(hash string) ([]byte, error) {
	if !isValidHash(hash) {
		return nil, ErrInvalidHash
	}
	data, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("cas: read blob: %w", err)
	}
	return data, nil
}

// Exists reports whether a blob with the given SHA-256 digest is stored.
func (s *Store) Exists(hash string) bool {
	if !isValidHash(hash) {
		return false
	}
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// BlobPath returns the path of the blob with the given digest relative to
// the store root, using forward slashes.
func BlobPath(hash string) string {
	return "blobs/sha256/" + hash[:2] + "/" + hash
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.root, filepath.FromSlash(BlobPath(hash)))
}

// writeAtomic writes data to a temp file next to path and renames it into
// place, creating the parent directory first.
func writeAtomic(path, pattern string, data []byte) error {
	dir := filepath.Dir(path)
	if err := osMkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := osCreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tempFileWrite(tmp, data); err != nil {
		tempFileClose(tmp)
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tempFileClose(tmp); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := osRename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func isValidHash(hash string) bool {
	return hexDigest.MatchString(hash)
}

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
