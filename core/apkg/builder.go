// Package apkg builds and reads Anki package files (.apkg): zip containers
// holding a collection database, a meta entry, a media manifest and the
// numbered media payloads.
package apkg

import (
	"archive/zip"
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/FocuswithJustin/apkg/core/compress"
	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/media"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/core/schema"
	"github.com/FocuswithJustin/apkg/core/varint"
	"github.com/FocuswithJustin/apkg/internal/logging"
)

// MetaEntry is the container entry holding the package version.
const MetaEntry = "meta"

// Function variables for testing.
var (
	osMkdirTemp  = os.MkdirTemp
	osCreateTemp = os.CreateTemp
	osRename     = os.Rename
	osReadFile   = os.ReadFile
	generateDB   = generateDatabase
	timeNow      = time.Now
)

func generateDatabase(ctx context.Context, logger *slog.Logger, path string, f format.Format, coll *model.Collection, entries []media.Entry) error {
	return (&schema.Generator{Logger: logger}).Generate(ctx, path, f, coll, entries)
}

// Option configures a Builder or a read.
type Option func(*config)

type config struct {
	format     format.Format
	forced     bool
	compressor compress.Compressor
	logger     *slog.Logger
}

func newConfig(opts []Option) config {
	cfg := config{
		format:     format.Default,
		compressor: compress.Default(),
		logger:     logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithFormat selects the generation a Builder writes. When reading, it
// forces the database of that generation to be used instead of the newest
// one present.
func WithFormat(f format.Format) Option {
	return func(c *config) {
		c.format = f
		c.forced = true
	}
}

// WithCompressor replaces the block compressor.
func WithCompressor(comp compress.Compressor) Option {
	return func(c *config) {
		if comp != nil {
			c.compressor = comp
		}
	}
}

// WithLogger sets the logger for progress and swallowed errors. A nil
// logger discards them.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l == nil {
			l = logging.Discard()
		}
		c.logger = l
	}
}

// Builder accumulates decks, models, notes and media and writes them as a
// package. A Builder is not safe for concurrent use.
type Builder struct {
	cfg    config
	decks  map[int64]model.Deck
	models map[int64]model.Model
	notes  []model.Note
	cards  []model.Card
	media  []media.File
	ids    *model.IDGenerator
	err    error
}

// NewBuilder returns an empty Builder writing the legacy generation unless
// WithFormat says otherwise.
func NewBuilder(opts ...Option) *Builder {
	return &Builder{
		cfg:    newConfig(opts),
		decks:  make(map[int64]model.Deck),
		models: make(map[int64]model.Model),
		ids:    &model.IDGenerator{},
	}
}

// Format returns the selected generation.
func (b *Builder) Format() format.Format {
	return b.cfg.format
}

// AddDeck adds or replaces a deck.
func (b *Builder) AddDeck(d model.Deck) *Builder {
	if d.ID == 0 {
		d.ID = b.ids.Next()
	}
	if d.ConfID == 0 && !d.Dynamic {
		d.ConfID = model.DefaultConfID
	}
	b.decks[d.ID] = d
	return b
}

// AddModel adds or replaces a model. An invalid model is reported by the
// next AddNote or CreatePackage call.
func (b *Builder) AddModel(m model.Model) *Builder {
	if m.ID == 0 {
		m.ID = b.ids.Next()
	}
	if err := m.Validate(); err != nil {
		if b.err == nil {
			b.err = apkgerrors.Wrapf(err, "model %q", m.Name)
		}
		return b
	}
	b.models[m.ID] = m
	return b
}

// AddMedia adds a media file. Names are made unique when the package is
// written.
func (b *Builder) AddMedia(name string, data []byte) *Builder {
	b.media = append(b.media, media.File{Name: name, Data: data})
	return b
}

// AddMediaFile adds the file at path under its base name.
func (b *Builder) AddMediaFile(path string) error {
	data, err := osReadFile(path)
	if err != nil {
		return apkgerrors.NewIO("read media", path, err)
	}
	b.AddMedia(filepath.Base(path), data)
	return nil
}

// AddNote adds a note to deckID (the default deck when 0) and creates its
// cards: one per template, or one per cloze number for cloze models. The
// note's model must have been added first.
func (b *Builder) AddNote(deckID int64, n model.Note) error {
	if b.err != nil {
		return b.err
	}
	m, ok := b.models[n.ModelID]
	if !ok {
		return &apkgerrors.ModelNotFoundError{ModelID: n.ModelID, NoteID: n.ID}
	}
	if err := n.CheckFields(); err != nil {
		return err
	}
	if len(n.Fields) > len(m.Fields) {
		return apkgerrors.NewValidation("fields",
			fmt.Sprintf("note has %d fields, model %q has %d", len(n.Fields), m.Name, len(m.Fields)))
	}
	for len(n.Fields) < len(m.Fields) {
		n.Fields = append(n.Fields, "")
	}
	if deckID == 0 {
		deckID = model.DefaultDeckID
	}
	if n.ID == 0 {
		n.ID = b.ids.Next()
	} else {
		b.ids.Observe(n.ID)
	}
	if n.GUID == "" {
		guid, err := model.NewGUID()
		if err != nil {
			return apkgerrors.Wrap(err, "generate guid")
		}
		n.GUID = guid
	}

	due := int64(len(b.notes) + 1)
	b.notes = append(b.notes, n)
	for _, ord := range model.CardOrdinals(&m, &n) {
		did := deckID
		if ord < len(m.Templates) && m.Templates[ord].DeckID != nil {
			did = *m.Templates[ord].DeckID
		}
		b.cards = append(b.cards, model.NewCard(b.ids.Next(), n.ID, did, ord, due))
	}
	return nil
}

// AddCollection adds every entity of coll as is: cards keep their ids,
// decks and scheduling state instead of being generated from templates.
// It is meant for re-encoding a parsed package as another generation.
func (b *Builder) AddCollection(coll *model.Collection) error {
	for _, m := range coll.Models {
		b.AddModel(m)
	}
	if b.err != nil {
		return b.err
	}
	for _, d := range coll.Decks {
		b.AddDeck(d)
	}
	notes := make(map[int64]bool, len(coll.Notes))
	for _, n := range coll.Notes {
		if _, ok := b.models[n.ModelID]; !ok {
			return &apkgerrors.ModelNotFoundError{ModelID: n.ModelID, NoteID: n.ID}
		}
		if err := n.CheckFields(); err != nil {
			return err
		}
		b.ids.Observe(n.ID)
		notes[n.ID] = true
		b.notes = append(b.notes, n)
	}
	for _, c := range coll.Cards {
		if !notes[c.NoteID] {
			return apkgerrors.NewValidation("cards", fmt.Sprintf("card %d references unknown note %d", c.ID, c.NoteID))
		}
		b.ids.Observe(c.ID)
		b.cards = append(b.cards, c)
	}
	return nil
}

// Notes returns the notes added so far.
func (b *Builder) Notes() []model.Note {
	return b.notes
}

// Cards returns the cards created so far.
func (b *Builder) Cards() []model.Card {
	return b.cards
}

// Collection returns the accumulated entities.
func (b *Builder) Collection() *model.Collection {
	coll := model.NewCollection()
	for id, d := range b.decks {
		coll.Decks[id] = d
	}
	for id, m := range b.models {
		coll.Models[id] = m
	}
	coll.Notes = append(coll.Notes, b.notes...)
	coll.Cards = append(coll.Cards, b.cards...)
	return coll
}

// outputFormats returns the generations written, oldest first. Dual output
// pairs the selected generation, or legacy when latest is selected, with
// latest.
func (b *Builder) outputFormats(dual bool) []format.Format {
	f := b.cfg.format
	if !dual {
		return []format.Format{f}
	}
	if f == format.Latest {
		return []format.Format{format.Legacy, format.Latest}
	}
	return []format.Format{f, format.Latest}
}

// CreatePackage writes the package to outputPath. With dualFormat set, a
// legacy and a latest database are both stored so that old and new clients
// can each read the package.
func (b *Builder) CreatePackage(outputPath string, dualFormat bool) error {
	return b.CreatePackageContext(context.Background(), outputPath, dualFormat)
}

// CreatePackageContext is CreatePackage with a context for the database
// writes.
func (b *Builder) CreatePackageContext(ctx context.Context, outputPath string, dualFormat bool) (err error) {
	if b.err != nil {
		return b.err
	}
	if !b.cfg.format.Valid() {
		return apkgerrors.NewUnsupportedFormat(b.cfg.format.String())
	}
	logger := b.cfg.logger
	formats := b.outputFormats(dualFormat)
	highest := format.Highest(formats...)
	entries := media.Assign(b.media, highest)
	coll := b.Collection()

	tmpDir, err := osMkdirTemp("", "apkg-build-*")
	if err != nil {
		return apkgerrors.NewIO("create temp dir", "", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPaths := make(map[format.Format]string, len(formats))
	for _, f := range formats {
		path := filepath.Join(tmpDir, f.Filename())
		if err := generateDB(ctx, logger, path, f, coll, entries); err != nil {
			return apkgerrors.Wrapf(err, "generate %s database", f)
		}
		dbPaths[f] = path
	}

	out, err := osCreateTemp(filepath.Dir(outputPath), ".apkg-*.tmp")
	if err != nil {
		return apkgerrors.NewIO("create output", outputPath, err)
	}
	tmpOut := out.Name()
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(tmpOut)
		}
	}()

	w := &containerWriter{zw: zip.NewWriter(out), comp: b.cfg.compressor, modified: timeNow()}
	for _, f := range formats {
		if err := w.writeDatabase(f, dbPaths[f]); err != nil {
			return err
		}
	}
	if err := w.writeStored(MetaEntry, varint.EncodeMeta(highest.MetaVersion())); err != nil {
		return err
	}
	manifest, err := media.EncodeManifest(highest, entries, b.cfg.compressor)
	if err != nil {
		return err
	}
	if err := w.writeEntry(media.EntryName, manifest, highest.Compressed()); err != nil {
		return err
	}
	for _, e := range entries {
		if err := w.writeMedia(highest, e); err != nil {
			return err
		}
	}
	if err := w.zw.Close(); err != nil {
		return apkgerrors.NewIO("finish zip", outputPath, err)
	}
	if err := out.Close(); err != nil {
		return apkgerrors.NewIO("close output", outputPath, err)
	}
	if err := osRename(tmpOut, outputPath); err != nil {
		return apkgerrors.NewIO("rename output", outputPath, err)
	}

	logger.Debug("package created",
		"path", outputPath,
		"formats", fmt.Sprint(formats),
		"notes", len(coll.Notes),
		"cards", len(coll.Cards),
		"media", len(entries))
	return nil
}

type containerWriter struct {
	zw       *zip.Writer
	comp     compress.Compressor
	modified time.Time
}

func (w *containerWriter) writeDatabase(f format.Format, path string) error {
	data, err := osReadFile(path)
	if err != nil {
		return apkgerrors.NewIO("read database", path, err)
	}
	if f.Compressed() {
		data, err = w.comp.Compress(data, compress.DefaultLevel)
		if err != nil {
			return apkgerrors.Wrapf(err, "compress %s", f.Filename())
		}
	}
	return w.writeStored(f.Filename(), data)
}

func (w *containerWriter) writeMedia(f format.Format, e media.Entry) error {
	if !f.Compressed() {
		return w.writeEntry(e.EntryName(), e.Data, false)
	}
	data, err := w.comp.Compress(e.Data, compress.DefaultLevel)
	if err != nil {
		return apkgerrors.Wrapf(err, "compress media %q", e.Name)
	}
	return w.writeStored(e.EntryName(), data)
}

// writeEntry stores data as is when it is already compressed and deflates it
// otherwise.
func (w *containerWriter) writeEntry(name string, data []byte, precompressed bool) error {
	if precompressed {
		return w.writeStored(name, data)
	}
	fw, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.modified,
	})
	if err != nil {
		return apkgerrors.Wrapf(err, "create entry %s", name)
	}
	if _, err := fw.Write(data); err != nil {
		return apkgerrors.Wrapf(err, "write entry %s", name)
	}
	return nil
}

// writeStored writes an uncompressed entry. The CRC32 and sizes are computed
// up front and handed to the zip writer as a raw header.
func (w *containerWriter) writeStored(name string, data []byte) error {
	hdr := &zip.FileHeader{
		Name:               name,
		Method:             zip.Store,
		CRC32:              crc32.ChecksumIEEE(data),
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: uint64(len(data)),
		Modified:           w.modified,
	}
	fw, err := w.zw.CreateRaw(hdr)
	if err != nil {
		return apkgerrors.Wrapf(err, "create entry %s", name)
	}
	if _, err := fw.Write(data); err != nil {
		return apkgerrors.Wrapf(err, "write entry %s", name)
	}
	return nil
}
