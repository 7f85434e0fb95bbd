package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"github.com/FocuswithJustin/apkg/core/apkg"
	"github.com/FocuswithJustin/apkg/core/cas"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/internal/archive"
	"github.com/FocuswithJustin/apkg/internal/logging"
	"github.com/FocuswithJustin/apkg/internal/validation"
)

// collectionFile is the name of the JSON dump written by unpack.
const collectionFile = "collection.json"

// unpackedCollection is the content of collection.json.
type unpackedCollection struct {
	Source        string        `json:"source"`
	Format        string        `json:"format"`
	SchemaVersion int           `json:"schema_version"`
	Created       int64         `json:"created"`
	Decks         []model.Deck  `json:"decks"`
	Models        []model.Model `json:"models"`
	Notes         []model.Note  `json:"notes"`
	Cards         []model.Card  `json:"cards"`
}

func newUnpackedCollection(pkg *apkg.Package) unpackedCollection {
	u := unpackedCollection{
		Source:        filepath.Base(pkg.Path),
		Format:        pkg.Format.String(),
		SchemaVersion: pkg.SchemaVersion,
		Created:       pkg.Created,
		Notes:         pkg.Notes,
		Cards:         pkg.Cards,
	}
	for _, d := range pkg.Decks {
		u.Decks = append(u.Decks, d)
	}
	sort.Slice(u.Decks, func(i, j int) bool { return u.Decks[i].ID < u.Decks[j].ID })
	for _, m := range pkg.Models {
		u.Models = append(u.Models, m)
	}
	sort.Slice(u.Models, func(i, j int) bool { return u.Models[i].ID < u.Models[j].ID })
	return u
}

// UnpackCmd writes a package out as collection.json, a media index and a
// content-addressed blob store.
type UnpackCmd struct {
	Path   string `arg:"" help:"Package file" type:"existingfile"`
	Out    string `required:"" short:"o" help:"Output directory" type:"path"`
	Bundle string `help:"Also archive the output directory (.tar.xz or .tar.gz)" type:"path"`
	Format string `help:"Read this generation (legacy, transitional, latest) instead of the newest present"`
}

func (c *UnpackCmd) Run() error {
	if err := validation.CheckPackageFile(c.Path); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := validation.ValidatePath(c.Out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	if c.Bundle != "" && !archive.IsSupportedFormat(c.Bundle) {
		return fmt.Errorf("bundle must end in .tar.xz or .tar.gz: %s", c.Bundle)
	}
	opts, err := readOptions(c.Format)
	if err != nil {
		return err
	}

	pkg, err := apkg.ParsePackage(c.Path, opts...)
	if err != nil {
		logging.PackageError("unpack", c.Path, err)
		return err
	}
	if err := os.MkdirAll(c.Out, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	data, err := json.MarshalIndent(newUnpackedCollection(pkg), "", "  ")
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.Out, collectionFile), data, 0o644); err != nil {
		return fmt.Errorf("write collection: %w", err)
	}

	store, err := cas.NewStore(c.Out)
	if err != nil {
		return err
	}
	idx, err := store.PutMedia(pkg.Media)
	if err != nil {
		return err
	}
	if err := cas.WriteIndex(filepath.Join(c.Out, cas.IndexFile), idx); err != nil {
		return err
	}

	var total uint64
	for _, e := range idx {
		total += uint64(e.Size)
	}
	logging.PackageEvent("unpack", c.Path, "out", c.Out, "notes", len(pkg.Notes), "media", len(idx), "blobs", idx.Unique())
	fmt.Fprintf(stdout, "unpacked %s: %d notes, %d cards, %d media (%s in %d blobs)\n",
		c.Path, len(pkg.Notes), len(pkg.Cards), len(idx), humanize.Bytes(total), idx.Unique())

	if c.Bundle == "" {
		return nil
	}
	if err := archive.CreateBundle(c.Out, c.Bundle); err != nil {
		return err
	}
	summary, err := archive.Scan(c.Bundle)
	if err != nil {
		return err
	}
	packed, err := archive.ReadFile(c.Bundle, collectionFile)
	if err != nil {
		return fmt.Errorf("verify bundle: %w", err)
	}
	if !bytes.Equal(packed, data) {
		return fmt.Errorf("verify bundle: %s differs from %s", collectionFile, filepath.Join(c.Out, collectionFile))
	}
	logging.Info("bundle written", "path", c.Bundle, "files", summary.Files, "blobs", summary.Blobs)
	fmt.Fprintf(stdout, "bundled %s: %d files\n", c.Bundle, summary.Files)
	return nil
}

// RepackCmd builds a package from a directory written by unpack.
type RepackCmd struct {
	Dir    string `arg:"" help:"Directory written by unpack" type:"existingdir"`
	Out    string `required:"" short:"o" help:"Output package" type:"path"`
	Format string `help:"Generation to write (default: the generation that was unpacked)"`
	Dual   bool   `help:"Store a second database for older or newer clients"`
}

func (c *RepackCmd) Run() error {
	if err := validation.ValidatePath(c.Out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(c.Dir, collectionFile))
	if err != nil {
		return err
	}
	var u unpackedCollection
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("parse %s: %w", collectionFile, err)
	}
	name := c.Format
	if name == "" {
		name = u.Format
	}
	f, err := format.Parse(name)
	if err != nil {
		return err
	}

	coll := model.NewCollection()
	coll.Created = u.Created
	for _, d := range u.Decks {
		coll.Decks[d.ID] = d
	}
	for _, m := range u.Models {
		coll.Models[m.ID] = m
	}
	coll.Notes, coll.Cards = u.Notes, u.Cards

	store, err := cas.NewStore(c.Dir)
	if err != nil {
		return err
	}
	idx, err := cas.ReadIndex(filepath.Join(c.Dir, cas.IndexFile))
	if err != nil {
		return err
	}
	files, err := store.Files(idx)
	if err != nil {
		return err
	}
	logging.Debug("media loaded", "dir", c.Dir, "files", len(files), "blobs", idx.Unique())

	b := apkg.NewBuilder(apkg.WithFormat(f))
	if err := b.AddCollection(coll); err != nil {
		return err
	}
	for _, mf := range files {
		b.AddMedia(mf.Name, mf.Data)
	}
	if err := b.CreatePackage(c.Out, c.Dual); err != nil {
		logging.PackageError("repack", c.Out, err)
		return err
	}
	logging.PackageEvent("repack", c.Out, "format", f.String(), "notes", len(coll.Notes), "media", len(files))
	fmt.Fprintf(stdout, "wrote %s (%s, %d notes, %d media)\n", c.Out, f, len(coll.Notes), len(files))
	return nil
}
