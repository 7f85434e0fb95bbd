// Package model defines the entities stored in an Anki package: notes,
// cards, decks, note types (models) and media files.
//
// Scheduling fields on cards are carried through unchanged; nothing here
// interprets them.
package model

import (
	"fmt"
	"strings"

	apkgerrors "github.com/FocuswithJustin/apkg/core/errors"
)

// FieldSeparator joins note fields in the flds column.
const FieldSeparator = "\x1f"

// DefaultDeckID is the deck every collection contains.
const DefaultDeckID int64 = 1

// DefaultConfID is the deck options group every collection contains.
const DefaultConfID int64 = 1

// Model types.
const (
	ModelStandard = 0
	ModelCloze    = 1
)

// Note is one set of field values belonging to a model.
type Note struct {
	ID      int64    `json:"id"`
	GUID    string   `json:"guid"`
	ModelID int64    `json:"mid"`
	Mod     int64    `json:"mod"`
	Fields  []string `json:"fields"`
	Tags    string   `json:"tags"`
}

// JoinedFields returns the fields joined by the unit separator.
func (n *Note) JoinedFields() string {
	return strings.Join(n.Fields, FieldSeparator)
}

// SplitFields splits a flds column value into fields.
func SplitFields(flds string) []string {
	return strings.Split(flds, FieldSeparator)
}

// CheckFields rejects field values that contain the field separator, since
// they would read back as extra fields.
func (n *Note) CheckFields() error {
	for i, f := range n.Fields {
		if strings.Contains(f, FieldSeparator) {
			return apkgerrors.NewValidation("fields", fmt.Sprintf("field %d of note %d contains the 0x1f separator", i, n.ID))
		}
	}
	return nil
}

// TagList splits the space separated tag string.
func (n *Note) TagList() []string {
	return strings.Fields(n.Tags)
}

// Card is one reviewable rendering of a note.
type Card struct {
	ID       int64  `json:"id"`
	NoteID   int64  `json:"nid"`
	DeckID   int64  `json:"did"`
	Ord      int    `json:"ord"`
	Mod      int64  `json:"mod"`
	Type     int    `json:"type"`
	Queue    int    `json:"queue"`
	Due      int64  `json:"due"`
	Interval int64  `json:"ivl"`
	Factor   int64  `json:"factor"`
	Reps     int64  `json:"reps"`
	Lapses   int64  `json:"lapses"`
	Left     int64  `json:"left"`
	ODue     int64  `json:"odue"`
	ODid     int64  `json:"odid"`
	Flags    int    `json:"flags"`
	Data     string `json:"data"`
}

// NewCard returns a card in the new queue.
func NewCard(id, noteID, deckID int64, ord int, due int64) Card {
	return Card{
		ID:     id,
		NoteID: noteID,
		DeckID: deckID,
		Ord:    ord,
		Due:    due,
	}
}

// Deck groups cards for review.
type Deck struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"desc"`
	Mod              int64    `json:"mod"`
	LearnToday       [2]int64 `json:"lrnToday"`
	ReviewToday      [2]int64 `json:"revToday"`
	NewToday         [2]int64 `json:"newToday"`
	TimeToday        [2]int64 `json:"timeToday"`
	Collapsed        bool     `json:"collapsed"`
	BrowserCollapsed bool     `json:"browserCollapsed"`
	Dynamic          bool     `json:"dyn"`
	ConfID           int64    `json:"conf"`
	ExtendNew        int64    `json:"extendNew"`
	ExtendReview     int64    `json:"extendRev"`

	// Only written by schema 18 and later.
	ReviewLimit *int64 `json:"reviewLimit"`
	NewLimit    *int64 `json:"newLimit"`
}

// NewDeck returns a deck with default counters and options group.
func NewDeck(id int64, name string) Deck {
	return Deck{ID: id, Name: name, ConfID: DefaultConfID}
}

// Field describes one note field of a model.
type Field struct {
	Name   string `json:"name"`
	Ord    int    `json:"ord"`
	Sticky bool   `json:"sticky"`
	RTL    bool   `json:"rtl"`
	Font   string `json:"font"`
	Size   int    `json:"size"`
}

// CardTemplate describes how one card of a model is rendered.
type CardTemplate struct {
	Name   string `json:"name"`
	Ord    int    `json:"ord"`
	QFmt   string `json:"qfmt"`
	AFmt   string `json:"afmt"`
	DeckID *int64 `json:"did"`
	BQFmt  string `json:"bqfmt"`
	BAFmt  string `json:"bafmt"`
}

// Model is a note type: its fields, card templates and styling.
type Model struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Type      int            `json:"type"`
	Mod       int64          `json:"mod"`
	SortField int            `json:"sortf"`
	DeckID    int64          `json:"did"`
	Templates []CardTemplate `json:"tmpls"`
	Fields    []Field        `json:"flds"`
	CSS       string         `json:"css"`
}

// FieldNames returns the field names in ordinal order.
func (m *Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// Validate checks that the model has fields and templates and that their
// ordinals are dense and start at zero. Zero ordinals are filled in from the
// position, so models built with positional literals pass.
func (m *Model) Validate() error {
	if len(m.Fields) == 0 {
		return apkgerrors.NewValidation("flds", fmt.Sprintf("model %d has no fields", m.ID))
	}
	if m.Type != ModelCloze && len(m.Templates) == 0 {
		return apkgerrors.NewValidation("tmpls", fmt.Sprintf("model %d has no templates", m.ID))
	}
	for i := range m.Fields {
		if m.Fields[i].Ord == 0 {
			m.Fields[i].Ord = i
		}
		if m.Fields[i].Ord != i {
			return apkgerrors.NewValidation("flds", fmt.Sprintf("field %q has ordinal %d at position %d", m.Fields[i].Name, m.Fields[i].Ord, i))
		}
	}
	for i := range m.Templates {
		if m.Templates[i].Ord == 0 {
			m.Templates[i].Ord = i
		}
		if m.Templates[i].Ord != i {
			return apkgerrors.NewValidation("tmpls", fmt.Sprintf("template %q has ordinal %d at position %d", m.Templates[i].Name, m.Templates[i].Ord, i))
		}
	}
	if m.SortField < 0 || m.SortField >= len(m.Fields) {
		return apkgerrors.NewValidation("sortf", fmt.Sprintf("sort field %d out of range", m.SortField))
	}
	return nil
}

// Collection is the full entity set written to or read from one database.
type Collection struct {
	Created int64
	Mod     int64
	Decks   map[int64]Deck
	Models  map[int64]Model
	Notes   []Note
	Cards   []Card
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{
		Decks:  make(map[int64]Deck),
		Models: make(map[int64]Model),
	}
}
