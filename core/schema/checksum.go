package schema

import (
	"crypto/sha1"
	"encoding/binary"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/FocuswithJustin/apkg/core/model"
)

var (
	stripPolicy = bluemonday.StrictPolicy()
	imgSrc      = regexp.MustCompile(`(?i)<img[^>]*?\ssrc\s*=\s*["']?([^"'>\s]+)["']?[^>]*>`)
)

// StripHTML removes markup from a field, keeping the filenames of embedded
// images so that notes differing only by image still sort and match apart.
func StripHTML(s string) string {
	s = imgSrc.ReplaceAllString(s, " $1 ")
	s = stripPolicy.Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(s))
}

// FieldChecksum returns the duplicate-detection checksum of a field: the
// first 32 bits of the SHA-1 of its stripped text.
func FieldChecksum(field string) int64 {
	sum := sha1.Sum([]byte(StripHTML(field)))
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

// SortValue returns the sfld value of a note: the stripped text of the
// model's sort field, or of the first field when the index is out of range.
func SortValue(m *model.Model, n *model.Note) string {
	if len(n.Fields) == 0 {
		return ""
	}
	idx := 0
	if m != nil && m.SortField >= 0 && m.SortField < len(n.Fields) {
		idx = m.SortField
	}
	return StripHTML(n.Fields[idx])
}

// NoteChecksum returns the csum value of a note, computed from its first
// field.
func NoteChecksum(n *model.Note) int64 {
	if len(n.Fields) == 0 {
		return FieldChecksum("")
	}
	return FieldChecksum(n.Fields[0])
}
