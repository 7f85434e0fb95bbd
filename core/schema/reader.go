package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"

	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/internal/logging"
)

// Reader reads entities back out of a collection database. Each operation
// stands alone; a failure in one does not affect the others.
type Reader struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewReader wraps an open connection. driverName must be the name db was
// opened with, so that sqlx can pick the right bind style.
func NewReader(db *sql.DB, driverName string) *Reader {
	return &Reader{
		db:     sqlx.NewDb(db, driverName),
		logger: logging.GetLogger(),
	}
}

// WithLogger sets the logger used to report swallowed enrichment errors.
func (r *Reader) WithLogger(l *slog.Logger) *Reader {
	if l != nil {
		r.logger = l
	}
	return r
}

// DetectSchemaVersion returns PRAGMA user_version when it is positive,
// otherwise the ver column of the col row.
func (r *Reader) DetectSchemaVersion(ctx context.Context) (int, error) {
	var pragma int
	pragmaErr := r.db.GetContext(ctx, &pragma, "PRAGMA user_version")
	if pragmaErr == nil && pragma > 0 {
		return pragma, nil
	}

	var ver sql.NullInt64
	err := r.db.GetContext(ctx, &ver, "SELECT ver FROM col LIMIT 1")
	if err == nil && ver.Valid {
		return int(ver.Int64), nil
	}
	if err == nil {
		err = errors.New("ver column is null")
	}
	if pragmaErr != nil {
		err = fmt.Errorf("%v; %w", pragmaErr, err)
	}
	return 0, &apkgerrors.VersionDetectionError{Err: err}
}

type noteRow struct {
	ID   int64  `db:"id"`
	GUID string `db:"guid"`
	MID  int64  `db:"mid"`
	Mod  int64  `db:"mod"`
	Tags string `db:"tags"`
	Flds string `db:"flds"`
}

// ParseNotes returns all notes in id order.
func (r *Reader) ParseNotes(ctx context.Context) ([]model.Note, error) {
	var rows []noteRow
	if err := r.db.SelectContext(ctx, &rows, "SELECT id, guid, mid, mod, tags, flds FROM notes ORDER BY id"); err != nil {
		return nil, &apkgerrors.ParseError{Format: "notes", Message: err.Error(), Err: err}
	}
	notes := make([]model.Note, len(rows))
	for i, row := range rows {
		notes[i] = model.Note{
			ID:      row.ID,
			GUID:    row.GUID,
			ModelID: row.MID,
			Mod:     row.Mod,
			Fields:  model.SplitFields(row.Flds),
			Tags:    strings.TrimSpace(row.Tags),
		}
	}
	return notes, nil
}

type cardRow struct {
	ID     int64  `db:"id"`
	NID    int64  `db:"nid"`
	DID    int64  `db:"did"`
	Ord    int    `db:"ord"`
	Mod    int64  `db:"mod"`
	Type   int    `db:"type"`
	Queue  int    `db:"queue"`
	Due    int64  `db:"due"`
	Ivl    int64  `db:"ivl"`
	Factor int64  `db:"factor"`
	Reps   int64  `db:"reps"`
	Lapses int64  `db:"lapses"`
	Left   int64  `db:"left"`
	ODue   int64  `db:"odue"`
	ODid   int64  `db:"odid"`
	Flags  int    `db:"flags"`
	Data   string `db:"data"`
}

var (
	requiredCardColumns = []string{"id", "nid", "did", "ord"}
	optionalCardColumns = []string{"mod", "type", "queue", "due", "ivl", "factor", "reps", "lapses", "left", "odue", "odid", "flags", "data"}
)

// ParseCards returns all cards in id order. Only columns present in the
// table are selected; absent scheduling columns read as zero.
func (r *Reader) ParseCards(ctx context.Context) ([]model.Card, error) {
	present, err := r.tableColumns(ctx, "cards")
	if err != nil {
		return nil, &apkgerrors.ParseError{Format: "cards", Message: err.Error(), Err: err}
	}
	cols := make([]string, 0, len(requiredCardColumns)+len(optionalCardColumns))
	for _, c := range requiredCardColumns {
		if !present[c] {
			return nil, apkgerrors.NewParse("cards", "", fmt.Sprintf("missing column %q", c))
		}
		cols = append(cols, c)
	}
	for _, c := range optionalCardColumns {
		if present[c] {
			cols = append(cols, c)
		}
	}

	var rows []cardRow
	query := fmt.Sprintf(`SELECT %s FROM cards ORDER BY id`, quoteColumns(cols))
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, &apkgerrors.ParseError{Format: "cards", Message: err.Error(), Err: err}
	}
	cards := make([]model.Card, len(rows))
	for i, row := range rows {
		cards[i] = model.Card{
			ID:       row.ID,
			NoteID:   row.NID,
			DeckID:   row.DID,
			Ord:      row.Ord,
			Mod:      row.Mod,
			Type:     row.Type,
			Queue:    row.Queue,
			Due:      row.Due,
			Interval: row.Ivl,
			Factor:   row.Factor,
			Reps:     row.Reps,
			Lapses:   row.Lapses,
			Left:     row.Left,
			ODue:     row.ODue,
			ODid:     row.ODid,
			Flags:    row.Flags,
			Data:     row.Data,
		}
	}
	return cards, nil
}

// quoteColumns quotes column names; "left" is a keyword in SQLite.
func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + c + `"`
	}
	return strings.Join(quoted, ", ")
}

func (r *Reader) tableColumns(ctx context.Context, tableName string) (map[string]bool, error) {
	var names []string
	if err := r.db.SelectContext(ctx, &names, "SELECT name FROM pragma_table_info(?)", tableName); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("table %s does not exist", tableName)
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[strings.ToLower(n)] = true
	}
	return present, nil
}

// colBlob returns one JSON column of the col row, or "" when it cannot be
// read or is not usable JSON.
func (r *Reader) colBlob(ctx context.Context, column string) string {
	var blob sql.NullString
	if err := r.db.GetContext(ctx, &blob, fmt.Sprintf("SELECT %s FROM col LIMIT 1", column)); err != nil {
		r.logger.Warn("collection blob unreadable", "column", column, "error", err.Error())
		return ""
	}
	s := strings.TrimSpace(blob.String)
	if s == "" || s == "{}" || s == "null" {
		return ""
	}
	if !gjson.Valid(s) || !gjson.Parse(s).IsObject() {
		r.logger.Warn("collection blob is not a JSON object", "column", column)
		return ""
	}
	return s
}

// ParseDecks returns the decks of the collection keyed by id. Missing or
// unparseable deck data yields an empty map, never an error.
func (r *Reader) ParseDecks(ctx context.Context) map[int64]model.Deck {
	blob := r.colBlob(ctx, "decks")
	if blob == "" {
		return map[int64]model.Deck{}
	}
	decks, err := decodeDecks(blob)
	if err != nil {
		r.logger.Warn("decks ignored", "error", err.Error())
		return map[int64]model.Deck{}
	}
	return decks
}

// ParseModels returns the note types of the collection keyed by id. Missing
// or unparseable model data yields an empty map, never an error.
func (r *Reader) ParseModels(ctx context.Context) map[int64]model.Model {
	blob := r.colBlob(ctx, "models")
	if blob == "" {
		return map[int64]model.Model{}
	}
	models, err := decodeModels(blob)
	if err != nil {
		r.logger.Warn("models ignored", "error", err.Error())
		return map[int64]model.Model{}
	}
	return models
}

// ParseCollectionInfo returns the ver and crt columns of the col row.
func (r *Reader) ParseCollectionInfo(ctx context.Context) (dbVersion int, created int64, err error) {
	var row struct {
		Ver int64 `db:"ver"`
		Crt int64 `db:"crt"`
	}
	if err := r.db.GetContext(ctx, &row, "SELECT ver, crt FROM col LIMIT 1"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, apkgerrors.NewParse("col row", "", "collection row is missing")
		}
		return 0, 0, &apkgerrors.ParseError{Format: "col row", Message: err.Error(), Err: err}
	}
	return int(row.Ver), row.Crt, nil
}

// MediaRow is one row of the media table of schema 18 databases.
type MediaRow struct {
	Name  string
	SHA1  string // hex, may be empty
	MTime int64
	Dirty bool
}

// ParseMediaTable returns the rows of the media table ordered by name, or
// nil when the database has no such table.
func (r *Reader) ParseMediaTable(ctx context.Context) ([]MediaRow, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'media'"); err != nil {
		return nil, &apkgerrors.ParseError{Format: "media table", Message: err.Error(), Err: err}
	}
	if count == 0 {
		return nil, nil
	}
	var rows []struct {
		Name  string         `db:"fname"`
		SHA1  sql.NullString `db:"csum"`
		MTime int64          `db:"mtime"`
		Dirty int64          `db:"dirty"`
	}
	if err := r.db.SelectContext(ctx, &rows, "SELECT fname, csum, mtime, dirty FROM media ORDER BY fname"); err != nil {
		return nil, &apkgerrors.ParseError{Format: "media table", Message: err.Error(), Err: err}
	}
	out := make([]MediaRow, len(rows))
	for i, row := range rows {
		out[i] = MediaRow{Name: row.Name, SHA1: row.SHA1.String, MTime: row.MTime, Dirty: row.Dirty != 0}
	}
	return out, nil
}
