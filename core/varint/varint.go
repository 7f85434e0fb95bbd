// Package varint implements the meta entry of Anki packages and the
// protocol buffer wire helpers used by the media manifest. The wire format
// itself comes from google.golang.org/protobuf/encoding/protowire.
package varint

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
)

// Wire types.
const (
	WireVarint     = protowire.VarintType
	WireFixed64    = protowire.Fixed64Type
	WireBytes      = protowire.BytesType
	WireStartGroup = protowire.StartGroupType
	WireEndGroup   = protowire.EndGroupType
	WireFixed32    = protowire.Fixed32Type
)

// MetaTag is the key of field 1 with varint wire type.
const MetaTag byte = 1<<3 | byte(WireVarint)

// MaxLen is the longest encoding of a 64-bit value.
const MaxLen = 10

// AppendUvarint appends the varint encoding of v to buf.
func AppendUvarint(buf []byte, v uint64) []byte {
	return protowire.AppendVarint(buf, v)
}

// Uvarint decodes a varint from the start of buf and returns the value and
// the number of bytes consumed.
func Uvarint(buf []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, fmt.Errorf("varint: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

// AppendTag appends the key for field number num with the given wire type.
func AppendTag(buf []byte, num protowire.Number, wireType protowire.Type) []byte {
	return protowire.AppendTag(buf, num, wireType)
}

// Tag decodes a field key and returns its field number, wire type and length.
func Tag(buf []byte) (num protowire.Number, wireType protowire.Type, n int, err error) {
	num, wireType, n = protowire.ConsumeTag(buf)
	if n < 0 {
		return 0, 0, 0, fmt.Errorf("field key: %w", protowire.ParseError(n))
	}
	return num, wireType, n, nil
}

// AppendBytes appends a length-delimited field.
func AppendBytes(buf []byte, num protowire.Number, data []byte) []byte {
	buf = protowire.AppendTag(buf, num, WireBytes)
	return protowire.AppendBytes(buf, data)
}

// EncodeMeta encodes the package version descriptor stored in the meta entry.
func EncodeMeta(n uint64) []byte {
	buf := make([]byte, 0, 1+MaxLen)
	buf = append(buf, MetaTag)
	return AppendUvarint(buf, n)
}

// DecodeMeta decodes the package version descriptor stored in the meta entry.
func DecodeMeta(data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, apkgerrors.NewMalformedMeta("empty")
	}
	if data[0] != MetaTag {
		return 0, apkgerrors.NewMalformedMeta(fmt.Sprintf("unexpected tag 0x%02x", data[0]))
	}
	v, _, err := Uvarint(data[1:])
	if err != nil {
		return 0, &apkgerrors.MalformedMetaError{Message: err.Error()}
	}
	return v, nil
}
