// Package schema writes and reads the SQLite collection database stored in
// a package. Column order and declared types follow the Anki schema of each
// generation exactly, since other clients read rows positionally.
package schema

import (
	"fmt"
	"strings"

	"github.com/FocuswithJustin/apkg/core/format"
)

type column struct {
	Name string
	Decl string
}

type table struct {
	Name    string
	Columns []column
}

func (t table) columnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t table) createSQL() string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = c.Name + " " + c.Decl
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", t.Name, strings.Join(defs, ",\n  "))
}

func (t table) insertSQL() string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.Name, strings.Join(t.columnNames(), ", "), marks)
}

var colColumns = []column{
	{"id", "integer primary key"},
	{"crt", "integer not null"},
	{"mod", "integer not null"},
	{"scm", "integer not null"},
	{"ver", "integer not null"},
	{"dty", "integer not null"},
	{"usn", "integer not null"},
	{"ls", "integer not null"},
	{"conf", "text not null"},
	{"models", "text not null"},
	{"decks", "text not null"},
	{"dconf", "text not null"},
	{"tags", "text not null"},
}

var colSchedulerColumns = []column{
	{"fsrs_weights", "text not null default '[]'"},
	{"desired_retention", "real not null default 0.9"},
	{"sm2_retention", "real not null default 0.9"},
	{"ignore_revlogs_before", "integer not null default 0"},
	{"fsrs_enabled", "integer not null default 0"},
}

var notesColumns = []column{
	{"id", "integer primary key"},
	{"guid", "text not null"},
	{"mid", "integer not null"},
	{"mod", "integer not null"},
	{"usn", "integer not null"},
	{"tags", "text not null"},
	{"flds", "text not null"},
	{"sfld", "integer not null"},
	{"csum", "integer not null"},
	{"flags", "integer not null"},
	{"data", "text not null"},
}

var cardsColumns = []column{
	{"id", "integer primary key"},
	{"nid", "integer not null"},
	{"did", "integer not null"},
	{"ord", "integer not null"},
	{"mod", "integer not null"},
	{"usn", "integer not null"},
	{"type", "integer not null"},
	{"queue", "integer not null"},
	{"due", "integer not null"},
	{"ivl", "integer not null"},
	{"factor", "integer not null"},
	{"reps", "integer not null"},
	{"lapses", "integer not null"},
	{"left", "integer not null"},
	{"odue", "integer not null"},
	{"odid", "integer not null"},
	{"flags", "integer not null"},
	{"data", "text not null"},
}

// Scheduler state columns are left NULL on export.
var cardsSchedulerColumns = []column{
	{"stability", "real"},
	{"difficulty", "real"},
	{"desired_retention", "real"},
	{"last_review", "integer"},
}

var revlogColumns = []column{
	{"id", "integer primary key"},
	{"cid", "integer not null"},
	{"usn", "integer not null"},
	{"ease", "integer not null"},
	{"ivl", "integer not null"},
	{"lastIvl", "integer not null"},
	{"factor", "integer not null"},
	{"time", "integer not null"},
	{"type", "integer not null"},
}

var revlogSchedulerColumns = []column{
	{"stability", "real"},
	{"difficulty", "real"},
}

var gravesTable = table{Name: "graves", Columns: []column{
	{"usn", "integer not null"},
	{"oid", "integer not null"},
	{"type", "integer not null"},
}}

var mediaTable = table{Name: "media", Columns: []column{
	{"fname", "text not null primary key"},
	{"csum", "text"},
	{"mtime", "integer not null"},
	{"dirty", "integer not null"},
}}

var fsrsPresetsTable = table{Name: "fsrs_presets", Columns: []column{
	{"id", "integer primary key"},
	{"name", "text not null"},
	{"config", "text not null"},
}}

var fsrsDeckParamsTable = table{Name: "fsrs_deck_params", Columns: []column{
	{"did", "integer primary key"},
	{"preset_id", "integer not null"},
	{"params", "text not null"},
}}

var indexes = []string{
	"CREATE INDEX ix_notes_usn ON notes (usn)",
	"CREATE INDEX ix_cards_usn ON cards (usn)",
	"CREATE INDEX ix_revlog_usn ON revlog (usn)",
	"CREATE INDEX ix_cards_nid ON cards (nid)",
	"CREATE INDEX ix_cards_sched ON cards (did, queue, due)",
	"CREATE INDEX ix_revlog_cid ON revlog (cid)",
	"CREATE INDEX ix_notes_csum ON notes (csum)",
}

// layout is the set of tables one generation writes.
type layout struct {
	col    table
	notes  table
	cards  table
	revlog table
	extra  []table
}

func (l layout) tables() []table {
	return append([]table{l.col, l.notes, l.cards, l.revlog, gravesTable}, l.extra...)
}

func withColumns(base []column, more ...[]column) []column {
	out := append([]column(nil), base...)
	for _, m := range more {
		out = append(out, m...)
	}
	return out
}

func layoutFor(f format.Format) layout {
	switch f {
	case format.Latest:
		return layout{
			col:    table{Name: "col", Columns: withColumns(colColumns, colSchedulerColumns)},
			notes:  table{Name: "notes", Columns: notesColumns},
			cards:  table{Name: "cards", Columns: withColumns(cardsColumns, cardsSchedulerColumns)},
			revlog: table{Name: "revlog", Columns: withColumns(revlogColumns, revlogSchedulerColumns)},
			extra:  []table{mediaTable, fsrsPresetsTable, fsrsDeckParamsTable},
		}
	default:
		return layout{
			col:    table{Name: "col", Columns: colColumns},
			notes:  table{Name: "notes", Columns: notesColumns},
			cards:  table{Name: "cards", Columns: cardsColumns},
			revlog: table{Name: "revlog", Columns: revlogColumns},
		}
	}
}

// DDL returns the statements that create an empty database of generation f,
// in execution order.
func DDL(f format.Format) []string {
	l := layoutFor(f)
	var stmts []string
	stmts = append(stmts, fmt.Sprintf("PRAGMA user_version = %d", f.SchemaVersion()))
	for _, t := range l.tables() {
		stmts = append(stmts, t.createSQL())
	}
	return append(stmts, indexes...)
}

// TableNames returns the tables generation f creates.
func TableNames(f format.Format) []string {
	tables := layoutFor(f).tables()
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}
