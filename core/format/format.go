// Package format is the registry of supported Anki package generations.
//
// Three generations exist on disk:
//   - Legacy: schema 11, uncompressed, collection.anki2
//   - Transitional: schema 11, uncompressed, collection.anki21
//   - Latest: schema 18, zstd compressed, collection.anki21b
//
// All generation-specific behaviour (DDL, column sets, compression) dispatches
// on Format rather than comparing filenames.
package format

import (
	"fmt"
	"strings"

	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
)

// Format identifies one package generation.
type Format int

const (
	// Legacy is the original .apkg layout read by every Anki client.
	Legacy Format = iota + 1
	// Transitional carries the same schema under a new database name.
	Transitional
	// Latest stores a compressed schema 18 database and a protobuf manifest.
	Latest
)

// Default is used when no format is selected explicitly.
const Default = Legacy

// descriptor holds the fixed parameters of a generation.
type descriptor struct {
	name          string
	schemaVersion int
	dbVersion     int
	compressed    bool
	filename      string
}

var descriptors = map[Format]descriptor{
	Legacy: {
		name:          "legacy",
		schemaVersion: 11,
		dbVersion:     11,
		compressed:    false,
		filename:      "collection.anki2",
	},
	Transitional: {
		name:          "transitional",
		schemaVersion: 11,
		dbVersion:     11,
		compressed:    false,
		filename:      "collection.anki21",
	},
	Latest: {
		name:          "latest",
		schemaVersion: 18,
		dbVersion:     18,
		compressed:    true,
		filename:      "collection.anki21b",
	},
}

// detectionOrder lists formats newest first. collection.anki2 is a prefix of
// collection.anki21, which is a prefix of collection.anki21b.
var detectionOrder = []Format{Latest, Transitional, Legacy}

// All returns every known format, oldest first.
func All() []Format {
	return []Format{Legacy, Transitional, Latest}
}

func (f Format) desc() descriptor {
	d, ok := descriptors[f]
	if !ok {
		panic(fmt.Sprintf("format: unknown format %d", int(f)))
	}
	return d
}

// Valid reports whether f is one of the registered formats.
func (f Format) Valid() bool {
	_, ok := descriptors[f]
	return ok
}

// String returns the short name used on the command line.
func (f Format) String() string {
	if d, ok := descriptors[f]; ok {
		return d.name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// SchemaVersion is the value stored in PRAGMA user_version.
func (f Format) SchemaVersion() int { return f.desc().schemaVersion }

// DBVersion is the value stored in the ver column of the col table.
func (f Format) DBVersion() int { return f.desc().dbVersion }

// Compressed reports whether the database, manifest and media payloads pass
// through the block compressor.
func (f Format) Compressed() bool { return f.desc().compressed }

// Filename is the canonical name of the database entry in the container.
func (f Format) Filename() string { return f.desc().filename }

// MetaVersion is the integer written to the meta entry.
func (f Format) MetaVersion() uint64 { return uint64(f) }

// HasSchedulerTables reports whether the schema carries the media table, the
// scheduler parameter tables and the extra card/col scheduler columns.
func (f Format) HasSchedulerTables() bool { return f.SchemaVersion() >= 18 }

// NormalizesMedia reports whether media filenames are normalized before
// being written.
func (f Format) NormalizesMedia() bool { return f.SchemaVersion() >= 18 }

// FromFilename resolves a format from a database filename. The canonical name
// only needs to be contained in name, so paths are accepted.
func FromFilename(name string) (Format, error) {
	for _, f := range detectionOrder {
		if strings.Contains(name, f.Filename()) {
			return f, nil
		}
	}
	return 0, apkgerrors.NewUnsupportedFormat(name)
}

// FromEntries resolves a format from the entry names of an opened container.
// When several databases are present the newest generation wins.
func FromEntries(names []string) (Format, error) {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	for _, f := range detectionOrder {
		if present[f.Filename()] {
			return f, nil
		}
	}
	return 0, &apkgerrors.UnsupportedFormatError{Entries: names}
}

// Present returns every format whose database entry appears in names, newest
// first.
func Present(names []string) []Format {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	var out []Format
	for _, f := range detectionOrder {
		if present[f.Filename()] {
			out = append(out, f)
		}
	}
	return out
}

// FromMetaVersion maps the integer stored in the meta entry to a format.
func FromMetaVersion(v uint64) (Format, error) {
	f := Format(v)
	if v > uint64(Latest) || !f.Valid() {
		return 0, &apkgerrors.UnsupportedFormatError{Name: fmt.Sprintf("meta version %d", v)}
	}
	return f, nil
}

// Parse resolves a format from its short name.
func Parse(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, f := range All() {
		if f.String() == s {
			return f, nil
		}
	}
	switch s {
	case "anki2", "v11":
		return Legacy, nil
	case "anki21":
		return Transitional, nil
	case "anki21b", "v18":
		return Latest, nil
	}
	return 0, apkgerrors.NewUnsupportedFormat(s)
}

// Highest returns the newest of the given formats.
func Highest(formats ...Format) Format {
	var best Format
	for _, f := range formats {
		if f > best {
			best = f
		}
	}
	return best
}
