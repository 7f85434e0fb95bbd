package apkg

import (
	"fmt"
	"os"
	"sort"
)

// Info summarizes a package. It is always returned, even for unreadable
// files; Error then says what went wrong and the remaining fields hold
// whatever was learned before the failure.
type Info struct {
	Path          string   `json:"path"`
	Size          int64    `json:"size"`
	Format        string   `json:"format,omitempty"`
	MetaVersion   uint64   `json:"meta_version,omitempty"`
	SchemaVersion int      `json:"schema_version,omitempty"`
	DBVersion     int      `json:"db_version,omitempty"`
	Created       int64    `json:"created,omitempty"`
	Entries       []string `json:"entries,omitempty"`
	Notes         int      `json:"notes"`
	Cards         int      `json:"cards"`
	Decks         int      `json:"decks"`
	Models        int      `json:"models"`
	Media         int      `json:"media"`
	DeckNames     []string `json:"deck_names,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// GetPackageInfo returns summary statistics for the package at path. It
// never fails.
func GetPackageInfo(path string, opts ...Option) (info Info) {
	info.Path = path
	defer func() {
		if r := recover(); r != nil {
			info.Error = fmt.Sprintf("panic: %v", r)
		}
	}()

	st, err := os.Stat(path)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Size = st.Size()

	if c, err := openContainer(path); err == nil {
		info.Entries = c.names
		if f, err := c.resolveFormat(newConfig(opts)); err == nil {
			info.Format = f.String()
		}
		c.Close()
	}

	pkg, err := ParsePackage(path, opts...)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.Format = pkg.Format.String()
	info.MetaVersion = pkg.MetaVersion
	info.SchemaVersion = pkg.SchemaVersion
	info.DBVersion = pkg.DBVersion
	info.Created = pkg.Created
	info.Notes = len(pkg.Notes)
	info.Cards = len(pkg.Cards)
	info.Decks = len(pkg.Decks)
	info.Models = len(pkg.Models)
	info.Media = len(pkg.Media)
	for _, id := range sortedDeckIDs(pkg) {
		info.DeckNames = append(info.DeckNames, pkg.Decks[id].Name)
	}
	return info
}

func sortedDeckIDs(pkg *Package) []int64 {
	ids := make([]int64, 0, len(pkg.Decks))
	for id := range pkg.Decks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
