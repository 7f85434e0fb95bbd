package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/FocuswithJustin/apkg/core/apkg"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/internal/logging"
	"github.com/FocuswithJustin/apkg/internal/validation"
)

// deckFile is the JSON input of the build command. Notes refer to decks
// and models by name.
//
//	{
//	  "decks":  [{"name": "Spanish"}],
//	  "models": [{"name": "Basic", "fields": ["Front", "Back"],
//	              "templates": [{"name": "Card 1", "qfmt": "{{Front}}", "afmt": "{{Back}}"}]}],
//	  "notes":  [{"deck": "Spanish", "model": "Basic", "fields": ["hola", "hello"], "tags": ["greeting"]}],
//	  "media":  [{"path": "audio/hola.mp3"}]
//	}
type deckFile struct {
	Decks  []deckSpec  `json:"decks"`
	Models []modelSpec `json:"models"`
	Notes  []noteSpec  `json:"notes"`
	Media  []mediaSpec `json:"media"`
}

type deckSpec struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	NewLimit    *int64 `json:"new_limit"`
	ReviewLimit *int64 `json:"review_limit"`
}

type templateSpec struct {
	Name string `json:"name"`
	QFmt string `json:"qfmt"`
	AFmt string `json:"afmt"`
	Deck string `json:"deck"`
}

type modelSpec struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"` // "standard" (default) or "cloze"
	Fields    []string       `json:"fields"`
	Templates []templateSpec `json:"templates"`
	CSS       string         `json:"css"`
	SortField int            `json:"sort_field"`
}

type noteSpec struct {
	Deck   string   `json:"deck"`
	Model  string   `json:"model"`
	Fields []string `json:"fields"`
	Tags   []string `json:"tags"`
	GUID   string   `json:"guid"`
}

type mediaSpec struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

func loadDeckFile(path string) (*deckFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var df deckFile
	if err := json.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &df, nil
}

// apply adds the content of df to b. Media paths are resolved below
// mediaDir and may not escape it.
func (df *deckFile) apply(b *apkg.Builder, mediaDir string) error {
	ids := &model.IDGenerator{}
	deckIDs := map[string]int64{"": model.DefaultDeckID, "Default": model.DefaultDeckID}
	for _, d := range df.Decks {
		if d.Name == "" {
			return fmt.Errorf("deck without a name")
		}
		if d.ID == 0 {
			d.ID = ids.Next()
		} else {
			ids.Observe(d.ID)
		}
		deck := model.NewDeck(d.ID, d.Name)
		deck.Description = d.Description
		deck.NewLimit = d.NewLimit
		deck.ReviewLimit = d.ReviewLimit
		b.AddDeck(deck)
		deckIDs[d.Name] = d.ID
	}

	models := make(map[string]int64, len(df.Models))
	for _, ms := range df.Models {
		m, err := ms.toModel(ids, deckIDs)
		if err != nil {
			return err
		}
		b.AddModel(m)
		models[ms.Name] = m.ID
	}

	for i, ns := range df.Notes {
		mid, ok := models[ns.Model]
		if !ok {
			return fmt.Errorf("note %d: unknown model %q", i, ns.Model)
		}
		did, ok := deckIDs[ns.Deck]
		if !ok {
			return fmt.Errorf("note %d: unknown deck %q", i, ns.Deck)
		}
		n := model.Note{ModelID: mid, GUID: ns.GUID, Fields: ns.Fields, Tags: strings.Join(ns.Tags, " ")}
		if err := b.AddNote(did, n); err != nil {
			return fmt.Errorf("note %d: %w", i, err)
		}
	}

	for _, ms := range df.Media {
		rel, err := validation.SanitizePath(mediaDir, ms.Path)
		if err != nil {
			return fmt.Errorf("media %q: %w", ms.Path, err)
		}
		path := filepath.Join(mediaDir, rel)
		if _, err := validation.CheckFile(path); err != nil {
			return fmt.Errorf("media %q: %w", ms.Path, err)
		}
		name := ms.Name
		if name == "" {
			name = filepath.Base(rel)
		}
		if err := validation.ValidateFilename(name); err != nil {
			return fmt.Errorf("media %q: %w", name, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		b.AddMedia(name, data)
	}
	return nil
}

func (ms modelSpec) toModel(ids *model.IDGenerator, deckIDs map[string]int64) (model.Model, error) {
	m := model.Model{ID: ms.ID, Name: ms.Name, CSS: ms.CSS, SortField: ms.SortField}
	if m.ID == 0 {
		m.ID = ids.Next()
	} else {
		ids.Observe(m.ID)
	}
	switch ms.Type {
	case "", "standard":
		m.Type = model.ModelStandard
	case "cloze":
		m.Type = model.ModelCloze
	default:
		return m, fmt.Errorf("model %q: unknown type %q", ms.Name, ms.Type)
	}
	for i, name := range ms.Fields {
		m.Fields = append(m.Fields, model.Field{Name: name, Ord: i})
	}
	for i, ts := range ms.Templates {
		t := model.CardTemplate{Name: ts.Name, Ord: i, QFmt: ts.QFmt, AFmt: ts.AFmt}
		if ts.Deck != "" {
			did, ok := deckIDs[ts.Deck]
			if !ok {
				return m, fmt.Errorf("model %q template %q: unknown deck %q", ms.Name, ts.Name, ts.Deck)
			}
			t.DeckID = &did
		}
		m.Templates = append(m.Templates, t)
	}
	return m, nil
}

// BuildCmd builds a package from a deck file.
type BuildCmd struct {
	Deck     string `arg:"" help:"JSON deck description" type:"existingfile"`
	Out      string `required:"" short:"o" help:"Output package" type:"path"`
	Format   string `default:"legacy" enum:"legacy,transitional,latest" help:"Generation to write"`
	Dual     bool   `help:"Also store a latest database (or legacy alongside latest)"`
	MediaDir string `name:"media-dir" help:"Directory media paths are relative to (default: the deck file's directory)" type:"path"`
}

func (c *BuildCmd) Run() error {
	if err := validation.ValidatePath(c.Out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	f, err := format.Parse(c.Format)
	if err != nil {
		return err
	}
	df, err := loadDeckFile(c.Deck)
	if err != nil {
		return err
	}
	mediaDir := c.MediaDir
	if mediaDir == "" {
		mediaDir = filepath.Dir(c.Deck)
	}

	b := apkg.NewBuilder(apkg.WithFormat(f))
	if err := df.apply(b, mediaDir); err != nil {
		return err
	}
	if err := b.CreatePackage(c.Out, c.Dual); err != nil {
		logging.PackageError("build", c.Out, err)
		return err
	}
	logging.PackageEvent("build", c.Out, "format", f.String(), "notes", len(b.Notes()), "cards", len(b.Cards()))
	fmt.Fprintf(stdout, "wrote %s (%s, %d notes, %d cards)\n", c.Out, f, len(b.Notes()), len(b.Cards()))
	return nil
}
