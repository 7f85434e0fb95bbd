package schema

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/media"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/core/sqlite"
	"github.com/FocuswithJustin/apkg/internal/logging"
)

func sampleCollection(t *testing.T) *model.Collection {
	t.Helper()
	limit := int64(50)
	coll := model.NewCollection()
	coll.Created = 1700000000
	coll.Mod = 1700000000123
	coll.Decks[2] = model.Deck{ID: 2, Name: "Basics", Description: "first deck", ConfID: 1, NewLimit: &limit}
	m := model.Model{
		ID:   100,
		Name: "Basic",
		Fields: []model.Field{
			{Name: "Front"},
			{Name: "Back"},
		},
		Templates: []model.CardTemplate{
			{Name: "Card 1", QFmt: "{{Front}}", AFmt: "{{FrontSide}}<hr id=answer>{{Back}}"},
		},
		CSS: ".card { font-family: arial; }",
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	coll.Models[m.ID] = m
	for i, front := range []string{"<b>one</b>", "two", "three"} {
		id := int64(1000 + i)
		coll.Notes = append(coll.Notes, model.Note{
			ID:      id,
			GUID:    "guid" + front,
			ModelID: m.ID,
			Fields:  []string{front, "back " + front},
			Tags:    "tag1  tag2",
		})
		coll.Cards = append(coll.Cards, model.NewCard(2000+int64(i), id, 2, 0, int64(i+1)))
	}
	return coll
}

func generate(t *testing.T, f format.Format, coll *model.Collection, entries []media.Entry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), f.Filename())
	g := &Generator{Logger: logging.Discard()}
	if err := g.Generate(context.Background(), path, f, coll, entries); err != nil {
		t.Fatalf("Generate(%v) error: %v", f, err)
	}
	return path
}

func openReader(t *testing.T, path string) (*sql.DB, *Reader) {
	t.Helper()
	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, NewReader(db, sqlite.DriverName()).WithLogger(logging.Discard())
}

func TestDDL(t *testing.T) {
	for _, f := range format.All() {
		stmts := DDL(f)
		if !strings.Contains(stmts[0], "user_version") {
			t.Errorf("%v: first statement = %q", f, stmts[0])
		}
		joined := strings.Join(stmts, "\n")
		hasMedia := strings.Contains(joined, "CREATE TABLE media")
		if hasMedia != f.HasSchedulerTables() {
			t.Errorf("%v: media table present = %v", f, hasMedia)
		}
		if strings.Contains(joined, "fsrs_weights") != f.HasSchedulerTables() {
			t.Errorf("%v: fsrs_weights presence mismatch", f)
		}
	}
	if got := len(TableNames(format.Legacy)); got != 5 {
		t.Errorf("legacy tables = %d, want 5", got)
	}
	if got := len(TableNames(format.Latest)); got != 8 {
		t.Errorf("latest tables = %d, want 8", got)
	}
}

func TestInsertSQL(t *testing.T) {
	got := gravesTable.insertSQL()
	want := "INSERT INTO graves (usn, oid, type) VALUES (?, ?, ?)"
	if got != want {
		t.Errorf("insertSQL() = %q, want %q", got, want)
	}
}

func TestGenerateRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, f := range format.All() {
		t.Run(f.String(), func(t *testing.T) {
			coll := sampleCollection(t)
			path := generate(t, f, coll, nil)
			_, r := openReader(t, path)

			v, err := r.DetectSchemaVersion(ctx)
			if err != nil || v != f.SchemaVersion() {
				t.Errorf("DetectSchemaVersion() = %d, %v; want %d", v, err, f.SchemaVersion())
			}
			dbVer, crt, err := r.ParseCollectionInfo(ctx)
			if err != nil || dbVer != f.DBVersion() || crt != coll.Created {
				t.Errorf("ParseCollectionInfo() = %d, %d, %v", dbVer, crt, err)
			}

			notes, err := r.ParseNotes(ctx)
			if err != nil {
				t.Fatalf("ParseNotes() error: %v", err)
			}
			if len(notes) != 3 {
				t.Fatalf("got %d notes, want 3", len(notes))
			}
			for i, n := range notes {
				want := coll.Notes[i]
				if n.ID != want.ID || n.GUID != want.GUID || n.ModelID != want.ModelID {
					t.Errorf("note %d = %+v, want %+v", i, n, want)
				}
				if n.JoinedFields() != want.JoinedFields() {
					t.Errorf("note %d fields = %q, want %q", i, n.Fields, want.Fields)
				}
				if n.Tags != "tag1 tag2" {
					t.Errorf("note %d tags = %q", i, n.Tags)
				}
			}

			cards, err := r.ParseCards(ctx)
			if err != nil {
				t.Fatalf("ParseCards() error: %v", err)
			}
			if len(cards) != 3 {
				t.Fatalf("got %d cards, want 3", len(cards))
			}
			for i, c := range cards {
				if c.NoteID != coll.Notes[i].ID || c.DeckID != 2 || c.Due != int64(i+1) {
					t.Errorf("card %d = %+v", i, c)
				}
			}

			decks := r.ParseDecks(ctx)
			if decks[2].Name != "Basics" || decks[model.DefaultDeckID].Name != "Default" {
				t.Errorf("decks = %+v", decks)
			}
			if f.HasSchedulerTables() {
				if decks[2].NewLimit == nil || *decks[2].NewLimit != 50 {
					t.Errorf("latest deck lost its new limit: %+v", decks[2])
				}
			} else if decks[2].NewLimit != nil {
				t.Errorf("%v deck should not carry limits", f)
			}

			models := r.ParseModels(ctx)
			m, ok := models[100]
			if !ok {
				t.Fatalf("model 100 missing from %v", models)
			}
			if strings.Join(m.FieldNames(), ",") != "Front,Back" || len(m.Templates) != 1 || m.Templates[0].QFmt != "{{Front}}" {
				t.Errorf("model = %+v", m)
			}
		})
	}
}

func TestNoteChecksumColumns(t *testing.T) {
	coll := sampleCollection(t)
	db, _ := openReader(t, generate(t, format.Legacy, coll, nil))

	var sfld string
	var csum int64
	if err := db.QueryRow("SELECT sfld, csum FROM notes WHERE id = 1000").Scan(&sfld, &csum); err != nil {
		t.Fatal(err)
	}
	if sfld != "one" {
		t.Errorf("sfld = %q, want stripped first field", sfld)
	}
	if csum != FieldChecksum("one") {
		t.Errorf("csum = %d, want %d", csum, FieldChecksum("one"))
	}
}

func TestLatestSchedulerDefaults(t *testing.T) {
	db, _ := openReader(t, generate(t, format.Latest, sampleCollection(t), nil))

	var weights string
	var retention float64
	if err := db.QueryRow("SELECT fsrs_weights, desired_retention FROM col").Scan(&weights, &retention); err != nil {
		t.Fatal(err)
	}
	if weights != "[]" || retention != 0.9 {
		t.Errorf("fsrs_weights = %q, desired_retention = %v", weights, retention)
	}
	var nullStability int
	if err := db.QueryRow("SELECT count(*) FROM cards WHERE stability IS NULL AND last_review IS NULL").Scan(&nullStability); err != nil {
		t.Fatal(err)
	}
	if nullStability != 3 {
		t.Errorf("%d cards with NULL scheduler columns, want 3", nullStability)
	}
}

func TestMediaTable(t *testing.T) {
	ctx := context.Background()
	entries := media.Assign([]media.File{
		{Name: "cat.png", Data: []byte("meow")},
		{Name: "dog.mp3", Data: []byte("woof")},
	}, format.Latest)

	orig := nowFunc
	nowFunc = func() time.Time { return time.Unix(1700000500, 0) }
	defer func() { nowFunc = orig }()

	coll := sampleCollection(t)
	coll.Mod = 0
	_, r := openReader(t, generate(t, format.Latest, coll, entries))
	rows, err := r.ParseMediaTable(ctx)
	if err != nil {
		t.Fatalf("ParseMediaTable() error: %v", err)
	}
	if len(rows) != 2 || rows[0].Name != "cat.png" || rows[1].Name != "dog.mp3" {
		t.Fatalf("rows = %+v", rows)
	}
	for _, row := range rows {
		if !row.Dirty || len(row.SHA1) != 40 || row.MTime != 1700000500 {
			t.Errorf("row = %+v", row)
		}
	}

	_, legacy := openReader(t, generate(t, format.Legacy, sampleCollection(t), entries))
	rows, err = legacy.ParseMediaTable(ctx)
	if err != nil || rows != nil {
		t.Errorf("legacy ParseMediaTable() = %v, %v; want nil", rows, err)
	}
}

func TestGenerateModelNotFound(t *testing.T) {
	coll := sampleCollection(t)
	coll.Notes[1].ModelID = 999
	path := filepath.Join(t.TempDir(), "x.anki2")
	err := Generate(context.Background(), path, format.Legacy, coll, nil)
	var mnf *apkgerrors.ModelNotFoundError
	if !errors.As(err, &mnf) || mnf.ModelID != 999 {
		t.Errorf("Generate() error = %v, want ModelNotFoundError", err)
	}
}

func TestGenerateInvalidFormat(t *testing.T) {
	err := Generate(context.Background(), filepath.Join(t.TempDir(), "x"), format.Format(42), model.NewCollection(), nil)
	if !errors.Is(err, apkgerrors.ErrUnsupported) {
		t.Errorf("Generate() error = %v, want ErrUnsupported", err)
	}
}

// rawDB creates a database from the given statements.
func rawDB(t *testing.T, stmts ...string) (*sql.DB, *Reader) {
	t.Helper()
	db, r := openReader(t, filepath.Join(t.TempDir(), "raw.db"))
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return db, r
}

func TestDetectSchemaVersionFallback(t *testing.T) {
	ctx := context.Background()
	_, r := rawDB(t, "CREATE TABLE col (id integer primary key, ver integer)", "INSERT INTO col VALUES (1, 11)")
	if v, err := r.DetectSchemaVersion(ctx); err != nil || v != 11 {
		t.Errorf("DetectSchemaVersion() = %d, %v; want 11", v, err)
	}

	_, r = rawDB(t, "CREATE TABLE other (x)")
	_, err := r.DetectSchemaVersion(ctx)
	var vde *apkgerrors.VersionDetectionError
	if !errors.As(err, &vde) {
		t.Errorf("DetectSchemaVersion() error = %v, want VersionDetectionError", err)
	}
}

func TestParseBlobsBestEffort(t *testing.T) {
	ctx := context.Background()
	for _, blob := range []string{"", "{}", "null", "not json", "[1,2]", `{"1": {"name": 5}}`} {
		_, r := rawDB(t,
			"CREATE TABLE col (id integer primary key, decks text, models text)",
			"INSERT INTO col VALUES (1, '"+strings.ReplaceAll(blob, "'", "''")+"', '"+strings.ReplaceAll(blob, "'", "''")+"')")
		if decks := r.ParseDecks(ctx); len(decks) != 0 {
			t.Errorf("ParseDecks(%q) = %v, want empty", blob, decks)
		}
		if models := r.ParseModels(ctx); len(models) != 0 {
			t.Errorf("ParseModels(%q) = %v, want empty", blob, models)
		}
	}

	_, r := rawDB(t, "CREATE TABLE unrelated (x)")
	if decks := r.ParseDecks(ctx); decks == nil || len(decks) != 0 {
		t.Errorf("ParseDecks(no col) = %v, want empty map", decks)
	}
}

func TestParseDecksAcceptsBoolFlags(t *testing.T) {
	_, r := rawDB(t,
		"CREATE TABLE col (id integer primary key, decks text)",
		`INSERT INTO col VALUES (1, '{"5": {"id": 5, "name": "Filtered", "dyn": true, "collapsed": 1}}')`)
	d := r.ParseDecks(context.Background())[5]
	if d.Name != "Filtered" || !d.Dynamic || !d.Collapsed {
		t.Errorf("deck = %+v", d)
	}
}

func TestParseCardsMinimalColumns(t *testing.T) {
	_, r := rawDB(t,
		"CREATE TABLE cards (id integer primary key, nid integer, did integer, ord integer)",
		"INSERT INTO cards VALUES (1, 10, 1, 0)")
	cards, err := r.ParseCards(context.Background())
	if err != nil {
		t.Fatalf("ParseCards() error: %v", err)
	}
	if len(cards) != 1 || cards[0].NoteID != 10 || cards[0].Factor != 0 || cards[0].Data != "" {
		t.Errorf("cards = %+v", cards)
	}

	_, r = rawDB(t, "CREATE TABLE cards (id integer primary key, nid integer)")
	var pe *apkgerrors.ParseError
	if _, err := r.ParseCards(context.Background()); !errors.As(err, &pe) {
		t.Errorf("ParseCards() error = %v, want ParseError", err)
	}
}

func TestParseCollectionInfoMissingRow(t *testing.T) {
	_, r := rawDB(t, "CREATE TABLE col (id integer primary key, ver integer, crt integer)")
	_, _, err := r.ParseCollectionInfo(context.Background())
	var pe *apkgerrors.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("ParseCollectionInfo() error = %v, want ParseError", err)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<b>Hello</b>", "Hello"},
		{`<img src="cat.png">`, "cat.png"},
		{"a &amp; b", "a & b"},
		{"<div>x<br>y</div>", "xy"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFieldChecksum(t *testing.T) {
	// sha1("") = da39a3ee...
	if got := FieldChecksum(""); got != 0xda39a3ee {
		t.Errorf("FieldChecksum(\"\") = %#x", got)
	}
	if FieldChecksum("<i>word</i>") != FieldChecksum("word") {
		t.Error("checksum should ignore markup")
	}
	if NoteChecksum(&model.Note{}) != FieldChecksum("") {
		t.Error("note without fields should hash the empty string")
	}
}

func TestSortValue(t *testing.T) {
	m := &model.Model{SortField: 1}
	n := &model.Note{Fields: []string{"a", "<u>b</u>"}}
	if got := SortValue(m, n); got != "b" {
		t.Errorf("SortValue() = %q, want b", got)
	}
	m.SortField = 5
	if got := SortValue(m, n); got != "a" {
		t.Errorf("SortValue(out of range) = %q, want a", got)
	}
}

func TestFormatTags(t *testing.T) {
	if got := formatTags("  a   b "); got != " a b " {
		t.Errorf("formatTags() = %q", got)
	}
	if got := formatTags("   "); got != "" {
		t.Errorf("formatTags(blank) = %q", got)
	}
}
