package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/FocuswithJustin/apkg/core/apkg"
	"github.com/FocuswithJustin/apkg/core/cas"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/model"
	"github.com/FocuswithJustin/apkg/internal/archive"
	"github.com/FocuswithJustin/apkg/internal/logging"
)

func TestMain(m *testing.M) {
	logging.InitLogger(logging.LevelError, logging.FormatText)
	os.Exit(m.Run())
}

// captureStdout runs fn with command output redirected to a buffer.
func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	defer func() { stdout = orig }()
	err := fn()
	return buf.String(), err
}

func createTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

// createTestPackage writes a package with the "Basics" deck, three notes
// and one media file.
func createTestPackage(t *testing.T, dir string, f format.Format) string {
	t.Helper()
	b := apkg.NewBuilder(apkg.WithFormat(f), apkg.WithLogger(logging.Discard()))
	b.AddDeck(model.NewDeck(42, "Basics"))
	b.AddModel(model.Model{
		ID:        7,
		Name:      "Basic",
		Fields:    []model.Field{{Name: "Front"}, {Name: "Back"}},
		Templates: []model.CardTemplate{{Name: "Card 1", QFmt: "{{Front}}", AFmt: "{{Back}}"}},
	})
	for _, w := range []string{"uno", "dos", "tres"} {
		if err := b.AddNote(42, model.Note{ModelID: 7, Fields: []string{w, "number " + w}}); err != nil {
			t.Fatal(err)
		}
	}
	b.AddMedia("uno.mp3", []byte("ID3 uno"))
	path := filepath.Join(dir, "basics-"+f.String()+".apkg")
	if err := b.CreatePackage(path, false); err != nil {
		t.Fatalf("CreatePackage() error: %v", err)
	}
	return path
}

func TestInfoCmd(t *testing.T) {
	pkg := createTestPackage(t, t.TempDir(), format.Latest)

	out, err := captureStdout(t, (&InfoCmd{Path: pkg}).Run)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, want := range []string{"Format:    latest (schema 18, db 18, meta 3)", "Notes:     3", "Media:     1", "  - Basics"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}

	out, err = captureStdout(t, (&InfoCmd{Path: pkg, JSON: true}).Run)
	if err != nil {
		t.Fatal(err)
	}
	var info apkg.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if info.Cards != 3 || info.Format != "latest" {
		t.Errorf("info = %+v", info)
	}
}

func TestInfoCmdQuery(t *testing.T) {
	pkg := createTestPackage(t, t.TempDir(), format.Legacy)

	tests := []struct {
		query   string
		want    string
		wantErr bool
	}{
		{"deck_names.1", "Basics", false},
		{"notes", "3", false},
		{"format", "legacy", false},
		{"no_such_field", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			out, err := captureStdout(t, (&InfoCmd{Path: pkg, Query: tt.query}).Run)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Run() error = %v, wantErr %v", err, tt.wantErr)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestInfoCmdErrors(t *testing.T) {
	dir := t.TempDir()
	broken := createTestFile(t, dir, "broken.apkg", "not a zip")
	out, err := captureStdout(t, (&InfoCmd{Path: broken}).Run)
	if err == nil || !strings.Contains(out, "Error:") {
		t.Errorf("Run() = %q, %v; want error", out, err)
	}
	if _, err := captureStdout(t, (&InfoCmd{Path: broken, Format: "anki3"}).Run); err == nil {
		t.Error("unknown --format should fail")
	}
	if _, err := captureStdout(t, (&InfoCmd{Path: ""}).Run); err == nil {
		t.Error("empty path should fail")
	}
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	pkg := createTestPackage(t, dir, format.Transitional)

	out, err := captureStdout(t, (&ValidateCmd{Path: pkg}).Run)
	if err != nil || !strings.HasPrefix(out, "ok: ") {
		t.Errorf("Run() = %q, %v", out, err)
	}
	out, err = captureStdout(t, (&ValidateCmd{Path: pkg, Deep: true}).Run)
	if err != nil || !strings.Contains(out, "(transitional, 3 notes, 1 media)") {
		t.Errorf("Run(deep) = %q, %v", out, err)
	}

	notZip := createTestFile(t, dir, "deck.apkg", `{"decks": []}`)
	if _, err := captureStdout(t, (&ValidateCmd{Path: notZip}).Run); err == nil {
		t.Error("JSON file should not validate")
	}
}

func TestConvertCmd(t *testing.T) {
	dir := t.TempDir()
	src := createTestPackage(t, dir, format.Legacy)
	dst := filepath.Join(dir, "converted.apkg")

	cmd := &ConvertCmd{In: src, Out: dst, Format: "latest", Dual: true}
	if _, err := captureStdout(t, cmd.Run); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	orig, err := apkg.ParsePackage(src)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range []format.Format{format.Legacy, format.Latest} {
		pkg, err := apkg.ParsePackage(dst, apkg.WithFormat(f))
		if err != nil {
			t.Fatalf("ParsePackage(%v) error: %v", f, err)
		}
		if len(pkg.Notes) != 3 || len(pkg.Media) != 1 {
			t.Errorf("%v: %d notes, %d media", f, len(pkg.Notes), len(pkg.Media))
		}
		for i, c := range pkg.Cards {
			if c.ID != orig.Cards[i].ID {
				t.Errorf("%v: card %d id = %d, want %d", f, i, c.ID, orig.Cards[i].ID)
			}
		}
	}

	bad := &ConvertCmd{In: src, Out: dst, Format: "latest", From: "latest"}
	if _, err := captureStdout(t, bad.Run); err == nil {
		t.Error("forcing an absent generation should fail")
	}
}

const deckJSON = `{
  "decks": [{"name": "Spanish", "new_limit": 20}, {"name": "Reverse"}],
  "models": [
    {"name": "Basic", "fields": ["Front", "Back"],
     "templates": [
       {"name": "Card 1", "qfmt": "{{Front}}", "afmt": "{{Back}}"},
       {"name": "Card 2", "qfmt": "{{Back}}", "afmt": "{{Front}}", "deck": "Reverse"}
     ]},
    {"name": "Cloze", "type": "cloze", "fields": ["Text"],
     "templates": [{"name": "Cloze", "qfmt": "{{cloze:Text}}", "afmt": "{{cloze:Text}}"}]}
  ],
  "notes": [
    {"deck": "Spanish", "model": "Basic", "fields": ["hola", "hello"], "tags": ["greeting", "a1"]},
    {"deck": "Spanish", "model": "Cloze", "fields": ["{{c1::Buenos}} {{c2::días}}"]}
  ],
  "media": [{"path": "audio/hola.mp3"}, {"path": "img.png", "name": "picture.png"}]
}`

func TestBuildCmd(t *testing.T) {
	dir := t.TempDir()
	deckPath := createTestFile(t, dir, "deck.json", deckJSON)
	createTestFile(t, dir, "audio/hola.mp3", "ID3 hola")
	createTestFile(t, dir, "img.png", "PNG")
	out := filepath.Join(dir, "spanish.apkg")

	cmd := &BuildCmd{Deck: deckPath, Out: out, Format: "latest"}
	msg, err := captureStdout(t, cmd.Run)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(msg, "2 notes, 4 cards") {
		t.Errorf("output = %q", msg)
	}

	pkg, err := apkg.ParsePackage(out)
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]int64)
	for id, d := range pkg.Decks {
		names[d.Name] = id
	}
	if len(pkg.Cards) != 4 || pkg.Cards[1].DeckID != names["Reverse"] {
		t.Errorf("cards = %+v, decks = %v", pkg.Cards, names)
	}
	if pkg.Notes[0].Tags != "greeting a1" {
		t.Errorf("tags = %q", pkg.Notes[0].Tags)
	}
	if len(pkg.Media) != 2 || pkg.Media[0].Name != "hola.mp3" || pkg.Media[1].Name != "picture.png" {
		t.Errorf("media = %+v", pkg.Media)
	}
}

func TestBuildCmdErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"media traversal", `{"media": [{"path": "../secret.txt"}]}`},
		{"missing media", `{"media": [{"path": "nope.png"}]}`},
		{"bad media name", `{"media": [{"path": "deck.json", "name": "a/b"}]}`},
		{"unknown model", `{"notes": [{"model": "Nope", "fields": ["x"]}]}`},
		{"unknown deck", `{"models": [{"name": "M", "fields": ["F"], "templates": [{"name": "T"}]}], "notes": [{"deck": "X", "model": "M", "fields": ["x"]}]}`},
		{"unknown model type", `{"models": [{"name": "M", "type": "image", "fields": ["F"]}]}`},
		{"unnamed deck", `{"decks": [{}]}`},
		{"not json", `decks:`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			deckPath := createTestFile(t, dir, "deck.json", tt.input)
			cmd := &BuildCmd{Deck: deckPath, Out: filepath.Join(dir, "out.apkg"), Format: "legacy"}
			if _, err := captureStdout(t, cmd.Run); err == nil {
				t.Error("Run() should fail")
			}
			if _, err := os.Stat(cmd.Out); !os.IsNotExist(err) {
				t.Error("output written despite error")
			}
		})
	}
}

func TestUnpackAndRepack(t *testing.T) {
	dir := t.TempDir()
	src := createTestPackage(t, dir, format.Latest)
	outDir := filepath.Join(dir, "unpacked")
	bundle := filepath.Join(dir, "unpacked.tar.xz")

	msg, err := captureStdout(t, (&UnpackCmd{Path: src, Out: outDir, Bundle: bundle}).Run)
	if err != nil {
		t.Fatalf("unpack error: %v", err)
	}
	if !strings.Contains(msg, "3 notes, 3 cards, 1 media") || !strings.Contains(msg, "bundled") {
		t.Errorf("output = %q", msg)
	}

	data, err := os.ReadFile(filepath.Join(outDir, collectionFile))
	if err != nil {
		t.Fatal(err)
	}
	var u unpackedCollection
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatal(err)
	}
	if u.Format != "latest" || len(u.Notes) != 3 || len(u.Decks) != 2 || u.Models[0].Name != "Basic" {
		t.Errorf("collection.json = %+v", u)
	}
	idx, err := cas.ReadIndex(filepath.Join(outDir, cas.IndexFile))
	if err != nil || len(idx) != 1 || idx[0].Name != "uno.mp3" {
		t.Fatalf("media index = %+v, %v", idx, err)
	}

	blob, err := archive.ReadFile(bundle, cas.BlobPath(idx[0].SHA256))
	if err != nil || string(blob) != "ID3 uno" {
		t.Errorf("bundle blob = %q, %v", blob, err)
	}

	repacked := filepath.Join(dir, "repacked.apkg")
	if _, err := captureStdout(t, (&RepackCmd{Dir: outDir, Out: repacked, Format: "legacy"}).Run); err != nil {
		t.Fatalf("repack error: %v", err)
	}
	pkg, err := apkg.ParsePackage(repacked)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Format != format.Legacy || len(pkg.Notes) != 3 || pkg.Notes[2].Fields[0] != "tres" {
		t.Errorf("repacked = %+v", pkg)
	}
	if len(pkg.Media) != 1 || string(pkg.Media[0].Data) != "ID3 uno" {
		t.Errorf("repacked media = %+v", pkg.Media)
	}
}

func TestUnpackCmdErrors(t *testing.T) {
	dir := t.TempDir()
	src := createTestPackage(t, dir, format.Legacy)
	if _, err := captureStdout(t, (&UnpackCmd{Path: src, Out: filepath.Join(dir, "u"), Bundle: filepath.Join(dir, "u.zip")}).Run); err == nil {
		t.Error("unsupported bundle extension should fail")
	}
	if _, err := captureStdout(t, (&UnpackCmd{Path: src, Out: filepath.Join(dir, "u"), Format: "latest"}).Run); err == nil {
		t.Error("forcing an absent generation should fail")
	}
	if _, err := captureStdout(t, (&RepackCmd{Dir: dir, Out: filepath.Join(dir, "r.apkg")}).Run); err == nil {
		t.Error("repack of a directory without collection.json should fail")
	}
}

func TestRepackRejectsTamperedBlob(t *testing.T) {
	dir := t.TempDir()
	src := createTestPackage(t, dir, format.Legacy)
	outDir := filepath.Join(dir, "unpacked")
	if _, err := captureStdout(t, (&UnpackCmd{Path: src, Out: outDir}).Run); err != nil {
		t.Fatalf("unpack error: %v", err)
	}
	idx, err := cas.ReadIndex(filepath.Join(outDir, cas.IndexFile))
	if err != nil || len(idx) == 0 {
		t.Fatalf("media index = %+v, %v", idx, err)
	}
	blobPath := filepath.Join(outDir, filepath.FromSlash(cas.BlobPath(idx[0].SHA256)))
	if err := os.WriteFile(blobPath, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "repacked.apkg")
	_, err = captureStdout(t, (&RepackCmd{Dir: outDir, Out: out}).Run)
	if !errors.Is(err, cas.ErrDigestMismatch) {
		t.Errorf("repack error = %v, want ErrDigestMismatch", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("package written from a tampered store")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := captureStdout(t, (&VersionCmd{}).Run)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"apkg version " + version, "sqlite:", "zstd:", "latest=collection.anki21b"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	if err := loadEnv(filepath.Join(dir, ".env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}

	path := createTestFile(t, dir, ".env", "APKG_TEST_LOAD_ENV=json\n")
	t.Cleanup(func() { os.Unsetenv("APKG_TEST_LOAD_ENV") })
	if err := loadEnv(path); err != nil {
		t.Fatalf("loadEnv() error: %v", err)
	}
	if got := os.Getenv("APKG_TEST_LOAD_ENV"); got != "json" {
		t.Errorf("APKG_TEST_LOAD_ENV = %q", got)
	}
}

func TestInitLogging(t *testing.T) {
	defer logging.InitLogger(logging.LevelError, logging.FormatText)
	if err := initLogging("debug", "json"); err != nil {
		t.Errorf("initLogging() error: %v", err)
	}
	if err := initLogging("loud", "text"); err == nil {
		t.Error("unknown level should fail")
	}
	if err := initLogging("info", "xml"); err == nil {
		t.Error("unknown format should fail")
	}
}
