package schema

import (
	"context"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/media"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/core/sqlite"
	"github.com/FocuswithJustin/apkg/internal/logging"
)

// usn -1 marks rows as not yet synced.
const pendingUSN = -1

var nowFunc = time.Now

// Generator writes collection databases.
type Generator struct {
	Logger *slog.Logger
}

// Generate creates a new database of generation f at path holding coll.
// Media entries are recorded in the media table of generations that have
// one. See Generator.Generate.
func Generate(ctx context.Context, path string, f format.Format, coll *model.Collection, entries []media.Entry) error {
	return (&Generator{}).Generate(ctx, path, f, coll, entries)
}

// Generate creates a new database of generation f at path holding coll. The
// file must not exist. All rows are written in one transaction, notes in
// order followed by cards in order.
func (g *Generator) Generate(ctx context.Context, path string, f format.Format, coll *model.Collection, entries []media.Entry) (err error) {
	if !f.Valid() {
		return apkgerrors.NewUnsupportedFormat(f.String())
	}
	logger := g.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	db, err := sqlite.Open(path)
	if err != nil {
		return apkgerrors.NewIO("create database", path, err)
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apkgerrors.NewIO("begin transaction", path, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, stmt := range DDL(f) {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return apkgerrors.Wrapf(err, "create schema %s", f)
		}
	}

	crt, mod := timestamps(coll)
	if err = insertCol(ctx, tx, f, crt, mod, coll); err != nil {
		return err
	}
	if err = insertNotes(ctx, tx, mod/1000, coll); err != nil {
		return err
	}
	if err = insertCards(ctx, tx, mod/1000, coll); err != nil {
		return err
	}
	if f.HasSchedulerTables() {
		if err = insertMedia(ctx, tx, mod/1000, entries); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return apkgerrors.NewIO("commit", path, err)
	}
	logger.Debug("database generated",
		"path", path,
		"format", f.String(),
		"notes", len(coll.Notes),
		"cards", len(coll.Cards),
		"media", len(entries))
	return nil
}

// timestamps returns the creation time in seconds and the modification time
// in milliseconds, defaulting both to now.
func timestamps(coll *model.Collection) (crt, mod int64) {
	now := nowFunc()
	crt, mod = coll.Created, coll.Mod
	if crt == 0 {
		crt = now.Unix()
	}
	if mod == 0 {
		mod = now.UnixMilli()
	}
	return crt, mod
}

func insertCol(ctx context.Context, tx *sql.Tx, f format.Format, crt, mod int64, coll *model.Collection) error {
	conf, err := encodeConf(coll)
	if err != nil {
		return apkgerrors.Wrap(err, "encode conf")
	}
	models, err := encodeModels(coll.Models, mod/1000)
	if err != nil {
		return apkgerrors.Wrap(err, "encode models")
	}
	decks, err := encodeDecks(f, coll.Decks, mod/1000)
	if err != nil {
		return apkgerrors.Wrap(err, "encode decks")
	}
	dconf, err := encodeDeckConf(mod / 1000)
	if err != nil {
		return apkgerrors.Wrap(err, "encode deck options")
	}

	args := []any{1, crt, mod, mod, f.DBVersion(), 0, 0, 0, conf, models, decks, dconf, "{}"}
	if f.HasSchedulerTables() {
		args = append(args, "[]", 0.9, 0.9, 0, 0)
	}
	if _, err := tx.ExecContext(ctx, layoutFor(f).col.insertSQL(), args...); err != nil {
		return apkgerrors.Wrap(err, "insert col")
	}
	return nil
}

func insertNotes(ctx context.Context, tx *sql.Tx, mod int64, coll *model.Collection) error {
	stmt, err := tx.PrepareContext(ctx, table{Name: "notes", Columns: notesColumns}.insertSQL())
	if err != nil {
		return apkgerrors.Wrap(err, "prepare notes")
	}
	defer stmt.Close()

	for i := range coll.Notes {
		n := &coll.Notes[i]
		m, ok := coll.Models[n.ModelID]
		if !ok {
			return &apkgerrors.ModelNotFoundError{ModelID: n.ModelID, NoteID: n.ID}
		}
		noteMod := n.Mod
		if noteMod == 0 {
			noteMod = mod
		}
		_, err := stmt.ExecContext(ctx,
			n.ID, n.GUID, n.ModelID, noteMod, pendingUSN,
			formatTags(n.Tags), n.JoinedFields(), SortValue(&m, n), NoteChecksum(n), 0, "")
		if err != nil {
			return apkgerrors.Wrapf(err, "insert note %d", n.ID)
		}
	}
	return nil
}

func insertCards(ctx context.Context, tx *sql.Tx, mod int64, coll *model.Collection) error {
	stmt, err := tx.PrepareContext(ctx, table{Name: "cards", Columns: cardsColumns}.insertSQL())
	if err != nil {
		return apkgerrors.Wrap(err, "prepare cards")
	}
	defer stmt.Close()

	for i := range coll.Cards {
		c := &coll.Cards[i]
		cardMod := c.Mod
		if cardMod == 0 {
			cardMod = mod
		}
		_, err := stmt.ExecContext(ctx,
			c.ID, c.NoteID, c.DeckID, c.Ord, cardMod, pendingUSN,
			c.Type, c.Queue, c.Due, c.Interval, c.Factor, c.Reps, c.Lapses, c.Left,
			c.ODue, c.ODid, c.Flags, c.Data)
		if err != nil {
			return apkgerrors.Wrapf(err, "insert card %d", c.ID)
		}
	}
	return nil
}

func insertMedia(ctx context.Context, tx *sql.Tx, mtime int64, entries []media.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, mediaTable.insertSQL())
	if err != nil {
		return apkgerrors.Wrap(err, "prepare media")
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Name, hex.EncodeToString(e.SHA1), mtime, 1); err != nil {
			return apkgerrors.Wrapf(err, "insert media %q", e.Name)
		}
	}
	return nil
}

// formatTags stores tags the way Anki does: space separated with a leading
// and trailing space, or empty.
func formatTags(tags string) string {
	list := strings.Fields(tags)
	if len(list) == 0 {
		return ""
	}
	return " " + strings.Join(list, " ") + " "
}
