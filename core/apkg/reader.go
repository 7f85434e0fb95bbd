package apkg

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/FocuswithJustin/apkg/core/compress"
	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/media"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/core/schema"
	"github.com/FocuswithJustin/apkg/core/sqlite"
	"github.com/FocuswithJustin/apkg/core/varint"
)

// Package is the content of one package file.
type Package struct {
	Path          string
	Format        format.Format
	MetaVersion   uint64 // 0 when the package has no meta entry
	SchemaVersion int
	DBVersion     int
	Created       int64
	Entries       []string

	Notes  []model.Note
	Cards  []model.Card
	Decks  map[int64]model.Deck
	Models map[int64]model.Model
	Media  []media.Entry
}

// Collection returns the entities of p so that they can be written again,
// possibly as another generation.
func (p *Package) Collection() *model.Collection {
	coll := model.NewCollection()
	coll.Created = p.Created
	for id, d := range p.Decks {
		coll.Decks[id] = d
	}
	for id, m := range p.Models {
		coll.Models[id] = m
	}
	coll.Notes = append(coll.Notes, p.Notes...)
	coll.Cards = append(coll.Cards, p.Cards...)
	return coll
}

// MediaFiles returns the media of p as builder input.
func (p *Package) MediaFiles() []media.File {
	files := make([]media.File, len(p.Media))
	for i, e := range p.Media {
		files[i] = media.File{Name: e.Name, Data: e.Data}
	}
	return files
}

// container is an opened package with its entries indexed by name.
type container struct {
	path  string
	zr    *zip.ReadCloser
	files map[string]*zip.File
	names []string
}

func openContainer(path string) (*container, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, apkgerrors.NewIO("open package", path, err)
	}
	c := &container{path: path, zr: zr, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		c.files[f.Name] = f
		c.names = append(c.names, f.Name)
	}
	return c, nil
}

func (c *container) Close() error {
	return c.zr.Close()
}

func (c *container) read(name string) ([]byte, error) {
	f, ok := c.files[name]
	if !ok {
		return nil, apkgerrors.NewMissingEntry(name, c.path)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, apkgerrors.NewIO("open entry "+name, c.path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, apkgerrors.NewIO("read entry "+name, c.path, err)
	}
	return data, nil
}

// resolveFormat picks the database to read: the forced generation when one
// was requested, otherwise the newest present.
func (c *container) resolveFormat(cfg config) (format.Format, error) {
	if !cfg.forced {
		return format.FromEntries(c.names)
	}
	if !cfg.format.Valid() {
		return 0, apkgerrors.NewUnsupportedFormat(cfg.format.String())
	}
	if _, ok := c.files[cfg.format.Filename()]; !ok {
		return 0, apkgerrors.NewMissingEntry(cfg.format.Filename(), c.path)
	}
	return cfg.format, nil
}

// readMeta returns the version in the meta entry, or 0 when the entry is
// absent or malformed.
func (c *container) readMeta(logger *slog.Logger) uint64 {
	if _, ok := c.files[MetaEntry]; !ok {
		return 0
	}
	data, err := c.read(MetaEntry)
	if err == nil {
		var v uint64
		if v, err = varint.DecodeMeta(data); err == nil {
			return v
		}
	}
	logger.Warn("meta entry ignored", "path", c.path, "error", err.Error())
	return 0
}

// mediaFormat is the generation whose rules the manifest and payloads were
// written with: the newest database in the container.
func (c *container) mediaFormat() format.Format {
	return format.Highest(format.Present(c.names)...)
}

// ParsePackage reads the package at path.
func ParsePackage(path string, opts ...Option) (*Package, error) {
	return ParsePackageContext(context.Background(), path, opts...)
}

// ParsePackageContext is ParsePackage with a context for the database
// queries.
func ParsePackageContext(ctx context.Context, path string, opts ...Option) (*Package, error) {
	cfg := newConfig(opts)
	logger := cfg.logger

	c, err := openContainer(path)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	f, err := c.resolveFormat(cfg)
	if err != nil {
		return nil, err
	}
	pkg := &Package{
		Path:        path,
		Format:      f,
		MetaVersion: c.readMeta(logger),
		Entries:     c.names,
	}

	tmpDir, err := osMkdirTemp("", "apkg-read-*")
	if err != nil {
		return nil, apkgerrors.NewIO("create temp dir", "", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath, err := c.extractDatabase(f, cfg.compressor, tmpDir)
	if err != nil {
		return nil, err
	}
	if err := readDatabase(ctx, pkg, dbPath, logger); err != nil {
		return nil, err
	}

	pkg.Media, err = c.readMedia(cfg.compressor, logger)
	if err != nil {
		return nil, err
	}

	logger.Debug("package parsed",
		"path", path,
		"format", f.String(),
		"schema", pkg.SchemaVersion,
		"notes", len(pkg.Notes),
		"cards", len(pkg.Cards),
		"media", len(pkg.Media))
	return pkg, nil
}

func (c *container) extractDatabase(f format.Format, comp compress.Compressor, dir string) (string, error) {
	data, err := c.read(f.Filename())
	if err != nil {
		return "", err
	}
	if f.Compressed() {
		data, err = compress.MaybeDecompress(comp, data)
		if err != nil {
			return "", &apkgerrors.ParseError{Format: f.Filename(), Path: c.path, Message: err.Error(), Err: err}
		}
	}
	dbPath := filepath.Join(dir, "collection.db")
	if err := os.WriteFile(dbPath, data, 0o600); err != nil {
		return "", apkgerrors.NewIO("extract database", dbPath, err)
	}
	return dbPath, nil
}

func readDatabase(ctx context.Context, pkg *Package, dbPath string, logger *slog.Logger) error {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return apkgerrors.NewIO("open database", pkg.Path, err)
	}
	defer db.Close()

	r := schema.NewReader(db, sqlite.DriverName()).WithLogger(logger)
	pkg.SchemaVersion, err = r.DetectSchemaVersion(ctx)
	if err != nil {
		var vde *apkgerrors.VersionDetectionError
		if apkgerrors.As(err, &vde) {
			vde.Path = pkg.Path
		}
		return err
	}
	if pkg.DBVersion, pkg.Created, err = r.ParseCollectionInfo(ctx); err != nil {
		return err
	}
	if pkg.Notes, err = r.ParseNotes(ctx); err != nil {
		return err
	}
	if pkg.Cards, err = r.ParseCards(ctx); err != nil {
		return err
	}
	pkg.Decks = r.ParseDecks(ctx)
	pkg.Models = r.ParseModels(ctx)
	return nil
}

// readMedia decodes the manifest and loads every payload it lists. A
// package without a manifest has no media. Payloads missing from the
// container are skipped with a warning.
func (c *container) readMedia(comp compress.Compressor, logger *slog.Logger) ([]media.Entry, error) {
	if _, ok := c.files[media.EntryName]; !ok {
		return nil, nil
	}
	data, err := c.read(media.EntryName)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	// The manifest follows the newest generation in the container. A
	// compressed manifest is always protobuf and a JSON object is always
	// legacy, whatever the databases say.
	mf := c.mediaFormat()
	switch {
	case compress.IsCompressed(data):
		mf = format.Latest
	case trimmed[0] == '{':
		mf = format.Legacy
	}
	manifest, err := media.DecodeManifest(mf, data, comp)
	if err != nil {
		var pe *apkgerrors.ParseError
		if apkgerrors.As(err, &pe) {
			pe.Path = c.path
		}
		return nil, err
	}

	out := make([]media.Entry, 0, len(manifest))
	for _, m := range manifest {
		payload, err := c.read(m.EntryName())
		if err != nil {
			logger.Warn("media payload skipped", "path", c.path, "entry", m.EntryName(), "name", m.Name, "error", err.Error())
			continue
		}
		if c.mediaFormat().Compressed() {
			payload, err = compress.MaybeDecompress(comp, payload)
			if err != nil {
				return nil, &apkgerrors.ParseError{Format: "media " + m.EntryName(), Path: c.path, Message: err.Error(), Err: err}
			}
		}
		e := media.NewEntry(m.Index, m.Name, payload)
		if len(m.SHA1) > 0 && !bytes.Equal(m.SHA1, e.SHA1) {
			logger.Warn("media checksum mismatch", "path", c.path, "name", m.Name)
		}
		out = append(out, e)
	}
	return out, nil
}

// IsValidPackage reports whether path is a package that ParsePackage can
// start reading: a zip container with a known database entry, plus a meta
// entry for the latest generation.
func IsValidPackage(path string) bool {
	c, err := openContainer(path)
	if err != nil {
		return false
	}
	defer c.Close()

	f, err := format.FromEntries(c.names)
	if err != nil {
		return false
	}
	if f.Compressed() {
		if _, ok := c.files[MetaEntry]; !ok {
			return false
		}
	}
	return true
}
