package cas

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/FocuswithJustin/apkg/core/media"
)

// IndexFile is the name of the media index written next to the blobs.
const IndexFile = "media.json"

// IndexEntry maps one media name of a package to its blob.
type IndexEntry struct {
	Name  string `json:"name"`
	Index int    `json:"index"`
	Digest
}

// Index lists the media of one package in container order.
type Index []IndexEntry

// PutMedia stores every payload and returns the index describing them.
// Payloads shared by several names are stored once.
func (s *Store) PutMedia(entries []media.Entry) (Index, error) {
	idx := make(Index, 0, len(entries))
	for _, e := range entries {
		d, err := s.StoreWithBlake3(e.Data)
		if err != nil {
			return nil, fmt.Errorf("media %q: %w", e.Name, err)
		}
		idx = append(idx, IndexEntry{Name: e.Name, Index: e.Index, Digest: d})
	}
	sort.SliceStable(idx, func(i, j int) bool { return idx[i].Index < idx[j].Index })
	return idx, nil
}

// Files reads the payloads of idx back from the store as builder input.
// Entries without a SHA-256 digest are resolved through their BLAKE3
// pointer. Every payload is checked against the digests and size recorded
// in its entry.
func (s *Store) Files(idx Index) ([]media.File, error) {
	files := make([]media.File, 0, len(idx))
	for _, e := range idx {
		data, err := s.retrieveEntry(e)
		if err != nil {
			return nil, fmt.Errorf("media %q: %w", e.Name, err)
		}
		files = append(files, media.File{Name: e.Name, Data: data})
	}
	return files, nil
}

func (s *Store) retrieveEntry(e IndexEntry) ([]byte, error) {
	if e.SHA256 == "" {
		return s.RetrieveByBlake3(e.BLAKE3)
	}
	if e.BLAKE3 != "" {
		sum, err := s.LookupBlake3(e.BLAKE3)
		if err != nil && !errors.Is(err, ErrBlobNotFound) {
			return nil, err
		}
		if err == nil && sum != e.SHA256 {
			return nil, fmt.Errorf("%w: blake3 pointer names %s", ErrDigestMismatch, sum)
		}
	}
	data, err := s.Retrieve(e.SHA256)
	if err != nil {
		return nil, err
	}
	if Hash(data) != e.SHA256 {
		return nil, fmt.Errorf("%w: sha256", ErrDigestMismatch)
	}
	if e.BLAKE3 != "" && Blake3Hash(data) != e.BLAKE3 {
		return nil, fmt.Errorf("%w: blake3", ErrDigestMismatch)
	}
	if e.Size != 0 && int64(len(data)) != e.Size {
		return nil, fmt.Errorf("%w: size %d, index says %d", ErrDigestMismatch, len(data), e.Size)
	}
	return data, nil
}

// Unique returns the number of distinct blobs referenced by idx.
func (idx Index) Unique() int {
	seen := make(map[string]bool, len(idx))
	for _, e := range idx {
		seen[e.SHA256] = true
	}
	return len(seen)
}

// WriteIndex writes idx as indented JSON to path.
func WriteIndex(path string, idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("cas: encode index: %w", err)
	}
	if err := writeAtomic(path, ".index-*", data); err != nil {
		return fmt.Errorf("cas: write index: %w", err)
	}
	return nil
}

// ReadIndex reads an index written by WriteIndex.
func ReadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cas: read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("cas: parse index: %w", err)
	}
	return idx, nil
}
