// Package media encodes the media manifest of a package and assigns
// collision-free, filesystem-safe names to media files.
//
// The manifest maps the numbered container entries (0, 1, 2, ...) back to
// filenames. Schema 11 packages store it as a JSON object; schema 18 packages
// store a compressed protobuf MediaEntries message:
//
//	message MediaEntries { repeated MediaEntry entries = 1; }
//	message MediaEntry   { string name = 1; uint32 size = 2; bytes sha1 = 3; }
package media

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/FocuswithJustin/apkg/core/compress"
	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/varint"
)

// EntryName is the container entry holding the manifest.
const EntryName = "media"

// Protobuf field numbers.
const (
	fieldEntries = 1
	fieldName    = 1
	fieldSize    = 2
	fieldSHA1    = 3
)

// File is a media payload as handed to the builder.
type File struct {
	Name string
	Data []byte
}

// Entry is a media file after name assignment, or a manifest entry after
// decoding. Data is only set once the payload has been read.
type Entry struct {
	Index int
	Name  string
	Size  int64
	SHA1  []byte
	Data  []byte
}

// EntryName returns the numbered container entry of e.
func (e *Entry) EntryName() string {
	return strconv.Itoa(e.Index)
}

// NewEntry builds an entry for data, computing its size and SHA-1.
func NewEntry(index int, name string, data []byte) Entry {
	sum := sha1.Sum(data)
	return Entry{
		Index: index,
		Name:  name,
		Size:  int64(len(data)),
		SHA1:  sum[:],
		Data:  data,
	}
}

// EncodeManifest serializes entries in the representation used by f.
func EncodeManifest(f format.Format, entries []Entry, c compress.Compressor) ([]byte, error) {
	if !f.Compressed() {
		return encodeJSON(entries)
	}
	buf := encodeProto(entries)
	out, err := c.Compress(buf, compress.DefaultLevel)
	if err != nil {
		return nil, apkgerrors.Wrap(err, "compress media manifest")
	}
	return out, nil
}

// DecodeManifest parses a manifest written in the representation used by f.
// Entries are returned in index order.
func DecodeManifest(f format.Format, data []byte, c compress.Compressor) ([]Entry, error) {
	if !f.Compressed() {
		return decodeJSON(data)
	}
	raw, err := compress.MaybeDecompress(c, data)
	if err != nil {
		return nil, &apkgerrors.ParseError{Format: "media manifest", Message: err.Error(), Err: err}
	}
	return decodeProto(raw)
}

func encodeJSON(entries []Entry) ([]byte, error) {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[strconv.Itoa(e.Index)] = e.Name
	}
	return json.Marshal(m)
}

func decodeJSON(data []byte) ([]Entry, error) {
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &apkgerrors.ParseError{Format: "media manifest", Message: err.Error(), Err: err}
	}
	entries := make([]Entry, 0, len(m))
	for k, name := range m {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return nil, apkgerrors.NewParse("media manifest", "", fmt.Sprintf("non-numeric key %q", k))
		}
		entries = append(entries, Entry{Index: idx, Name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return entries, nil
}

func encodeProto(entries []Entry) []byte {
	var out []byte
	var msg []byte
	for _, e := range entries {
		msg = msg[:0]
		msg = varint.AppendBytes(msg, fieldName, []byte(e.Name))
		msg = varint.AppendTag(msg, fieldSize, varint.WireVarint)
		msg = varint.AppendUvarint(msg, uint64(e.Size))
		if len(e.SHA1) > 0 {
			msg = varint.AppendBytes(msg, fieldSHA1, e.SHA1)
		}
		out = varint.AppendBytes(out, fieldEntries, msg)
	}
	return out
}

func decodeProto(data []byte) ([]Entry, error) {
	var entries []Entry
	err := scanFields(data, func(num protowire.Number, wireType protowire.Type, payload []byte, _ uint64) error {
		if num != fieldEntries || wireType != varint.WireBytes {
			return nil
		}
		e := Entry{Index: len(entries)}
		err := scanFields(payload, func(num protowire.Number, wireType protowire.Type, payload []byte, v uint64) error {
			switch {
			case num == fieldName && wireType == varint.WireBytes:
				e.Name = string(payload)
			case num == fieldSize && wireType == varint.WireVarint:
				e.Size = int64(v)
			case num == fieldSHA1 && wireType == varint.WireBytes:
				e.SHA1 = append([]byte(nil), payload...)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("entry %d: %w", len(entries), err)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, &apkgerrors.ParseError{Format: "media manifest", Message: err.Error(), Err: err}
	}
	return entries, nil
}

// scanFields walks the fields of a protobuf message. fn receives the payload
// of length-delimited fields and the value of varint fields. Other fields,
// groups included, are skipped. Truncated data, undefined wire types and an
// end-group key without its start are errors.
func scanFields(data []byte, fn func(num protowire.Number, wireType protowire.Type, payload []byte, v uint64) error) error {
	for len(data) > 0 {
		num, wireType, n, err := varint.Tag(data)
		if err != nil {
			return err
		}
		data = data[n:]
		switch wireType {
		case varint.WireVarint:
			v, n, err := varint.Uvarint(data)
			if err != nil {
				return fmt.Errorf("field %d: %w", num, err)
			}
			data = data[n:]
			if err := fn(num, wireType, nil, v); err != nil {
				return err
			}
		case varint.WireBytes:
			payload, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			if err := fn(num, wireType, payload, 0); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, wireType, data)
			if n < 0 {
				return fmt.Errorf("field %d wire type %d: %w", num, wireType, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
