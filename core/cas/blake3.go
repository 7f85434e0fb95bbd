package cas

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/zeebo/blake3"
)

// Digest identifies a stored blob.
type Digest struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
	Size   int64  `json:"size"`
}

type blake3Pointer struct {
	SHA256 string `json:"sha256"`
}

// StoreWithBlake3 stores data and records a pointer from its BLAKE3 digest
// to the SHA-256 blob.
func (s *Store) StoreWithBlake3(data []byte) (Digest, error) {
	sum, err := s.Store(data)
	if err != nil {
		return Digest{}, err
	}
	d := Digest{SHA256: sum, BLAKE3: Blake3Hash(data), Size: int64(len(data))}
	if err := s.writePointer(d); err != nil {
		return Digest{}, fmt.Errorf("cas: blake3 pointer: %w", err)
	}
	return d, nil
}

func (s *Store) pointerPath(b3 string) string {
	return filepath.Join(s.root, "blobs", "blake3", b3[:2], b3+".json")
}

func (s *Store) writePointer(d Digest) error {
	path := s.pointerPath(d.BLAKE3)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := json.Marshal(blake3Pointer{SHA256: d.SHA256})
	if err != nil {
		return err
	}
	return writeAtomic(path, ".pointer-*", data)
}

// LookupBlake3 returns the SHA-256 digest recorded for a BLAKE3 digest.
func (s *Store) LookupBlake3(b3 string) (string, error) {
	if !isValidHash(b3) {
		return "", ErrInvalidHash
	}
	data, err := os.ReadFile(s.pointerPath(b3))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrBlobNotFound
		}
		return "", fmt.Errorf("cas: read pointer: %w", err)
	}
	var p blake3Pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("cas: parse pointer: %w", err)
	}
	return p.SHA256, nil
}

// RetrieveByBlake3 returns the blob whose BLAKE3 digest is b3.
func (s *Store) RetrieveByBlake3(b3 string) ([]byte, error) {
	sum, err := s.LookupBlake3(b3)
	if err != nil {
		return nil, err
	}
	return s.Retrieve(sum)
}

// Blake3Hash returns the hex BLAKE3 digest of data.
func Blake3Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}
