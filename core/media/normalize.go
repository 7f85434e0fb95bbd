package media

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/FocuswithJustin/apkg/core/format"
)

// MaxNameLength is the longest filename, in characters, Normalize produces.
const MaxNameLength = 255

// hashSuffixLength is the number of SHA-1 hex digits used to disambiguate
// colliding names.
const hashSuffixLength = 8

var reservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

var illegalReplacer = strings.NewReplacer(
	"/", "_", "\\", "_",
	":", "_", "*", "_", "?", "_", "\"", "_",
	"<", "_", ">", "_", "|", "_",
)

var fallbackCounter atomic.Uint64

// fallbackName returns a name that is unique within this process.
var fallbackName = func() string {
	n := fallbackCounter.Add(1)
	return fmt.Sprintf("media_%d_%d", time.Now().UnixNano(), n)
}

// Normalize makes name safe to use as a file on common filesystems. The
// result is never empty, has at most MaxNameLength characters, and
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(name string) string {
	s := illegalReplacer.Replace(name)
	s = stripControl(s)
	s = trimTrailing(s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "_")
	}
	s = escapeReserved(s)
	s = truncate(s, MaxNameLength)
	s = trimTrailing(s)
	if s == "" {
		return fallbackName()
	}
	return s
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

func trimTrailing(s string) string {
	return strings.TrimRight(s, ". ")
}

// escapeReserved appends an underscore to the stem of device names such as
// "con" or "LPT1.txt".
func escapeReserved(s string) string {
	stem, rest, hasExt := strings.Cut(s, ".")
	if !reservedNames[strings.ToLower(stem)] {
		return s
	}
	if !hasExt {
		return stem + "_"
	}
	return stem + "_." + rest
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// splitExt splits name into stem and extension, keeping the leading dot in
// the extension. Names starting with a dot have no extension.
func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// withSuffix inserts suffix before the extension, shortening the stem so the
// result stays within MaxNameLength characters.
func withSuffix(name, suffix string) string {
	stem, ext := splitExt(name)
	room := MaxNameLength - utf8.RuneCountInString(suffix) - utf8.RuneCountInString(ext)
	if room < 1 {
		ext = ""
		room = MaxNameLength - utf8.RuneCountInString(suffix)
	}
	return truncate(stem, room) + suffix + ext
}

// Deduplicator hands out unique names within one package.
type Deduplicator struct {
	used map[string]bool
}

// NewDeduplicator returns an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{used: make(map[string]bool)}
}

// Unique returns name if it is unused, otherwise name with the first eight
// hex digits of the SHA-1 of data appended to the stem, then with an
// increasing counter until the name is unused. The returned name is
// reserved.
func (d *Deduplicator) Unique(name string, data []byte) string {
	if !d.used[name] {
		d.used[name] = true
		return name
	}
	sum := sha1.Sum(data)
	hashed := withSuffix(name, "_"+hex.EncodeToString(sum[:])[:hashSuffixLength])
	candidate := hashed
	for i := 1; d.used[candidate]; i++ {
		candidate = withSuffix(hashed, fmt.Sprintf("_%d", i))
	}
	d.used[candidate] = true
	return candidate
}

// Assign gives every file its container index and final name. Formats that
// normalize media also get collision-free names, so the result has
// len(files) distinct names. Older formats keep every name as given.
func Assign(files []File, f format.Format) []Entry {
	dedup := NewDeduplicator()
	entries := make([]Entry, 0, len(files))
	for i, file := range files {
		name := file.Name
		if f.NormalizesMedia() {
			name = dedup.Unique(Normalize(name), file.Data)
		}
		entries = append(entries, NewEntry(i, name, file.Data))
	}
	return entries
}
