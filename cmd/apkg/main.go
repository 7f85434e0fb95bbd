// Command apkg inspects, converts, builds and unpacks Anki package files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"

	"github.com/FocuswithJustin/apkg/core/apkg"
	"github.com/FocuswithJustin/apkg/core/compress"
	"github.com/FocuswithJustin/apkg/core/format"
	"github.com/FocuswithJustin/apkg/core/sqlite"
	"github.com/FocuswithJustin/apkg/internal/logging"
	"github.com/FocuswithJustin/apkg/internal/validation"
)

const version = "0.1.0"

// stdout receives command output. Tests replace it.
var stdout io.Writer = os.Stdout

// CLI defines the command-line interface.
var CLI struct {
	LogLevel  string `name:"log-level" default:"warn" env:"APKG_LOG_LEVEL" enum:"debug,info,warn,error" help:"Log level (debug, info, warn, error)"`
	LogFormat string `name:"log-format" default:"text" env:"APKG_LOG_FORMAT" enum:"text,json" help:"Log format (text, json)"`

	Info     InfoCmd     `cmd:"" help:"Print package statistics"`
	Validate ValidateCmd `cmd:"" help:"Check that a file is a readable package"`
	Convert  ConvertCmd  `cmd:"" help:"Re-encode a package as another generation"`
	Build    BuildCmd    `cmd:"" help:"Build a package from a JSON deck description"`
	Unpack   UnpackCmd   `cmd:"" help:"Unpack a package into JSON and a media blob store"`
	Repack   RepackCmd   `cmd:"" help:"Build a package from an unpacked directory"`
	Version  VersionCmd  `cmd:"" help:"Print version information"`
}

// readOptions returns the options for reading with an optional forced
// generation.
func readOptions(forced string) ([]apkg.Option, error) {
	if forced == "" {
		return nil, nil
	}
	f, err := format.Parse(forced)
	if err != nil {
		return nil, err
	}
	return []apkg.Option{apkg.WithFormat(f)}, nil
}

// InfoCmd prints GetPackageInfo.
type InfoCmd struct {
	Path   string `arg:"" help:"Package file" type:"path"`
	JSON   bool   `name:"json" help:"Print JSON instead of text"`
	Query  string `short:"q" help:"gjson path evaluated against the JSON output, e.g. deck_names.0"`
	Format string `help:"Read this generation (legacy, transitional, latest) instead of the newest present"`
}

func (c *InfoCmd) Run() error {
	if err := validation.ValidatePath(c.Path); err != nil {
		return fmt.Errorf("invalid package path: %w", err)
	}
	opts, err := readOptions(c.Format)
	if err != nil {
		return err
	}
	info := apkg.GetPackageInfo(c.Path, opts...)

	if c.JSON || c.Query != "" {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return err
		}
		if c.Query != "" {
			res := gjson.GetBytes(data, c.Query)
			if !res.Exists() {
				return fmt.Errorf("query %q matched nothing", c.Query)
			}
			fmt.Fprintln(stdout, res.String())
		} else {
			fmt.Fprintln(stdout, string(data))
		}
	} else {
		printInfo(stdout, info)
	}
	if info.Error != "" {
		return errors.New(info.Error)
	}
	return nil
}

func printInfo(w io.Writer, info apkg.Info) {
	fmt.Fprintf(w, "Path:      %s\n", info.Path)
	fmt.Fprintf(w, "Size:      %s\n", humanize.Bytes(uint64(info.Size)))
	if info.Format != "" {
		fmt.Fprintf(w, "Format:    %s (schema %d, db %d, meta %d)\n", info.Format, info.SchemaVersion, info.DBVersion, info.MetaVersion)
	}
	if info.Created != 0 {
		fmt.Fprintf(w, "Created:   %d\n", info.Created)
	}
	fmt.Fprintf(w, "Entries:   %s\n", strings.Join(info.Entries, ", "))
	fmt.Fprintf(w, "Notes:     %s\n", humanize.Comma(int64(info.Notes)))
	fmt.Fprintf(w, "Cards:     %s\n", humanize.Comma(int64(info.Cards)))
	fmt.Fprintf(w, "Models:    %d\n", info.Models)
	fmt.Fprintf(w, "Media:     %s\n", humanize.Comma(int64(info.Media)))
	fmt.Fprintf(w, "Decks:     %d\n", info.Decks)
	for _, name := range info.DeckNames {
		fmt.Fprintf(w, "  - %s\n", name)
	}
	if info.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", info.Error)
	}
}

// ValidateCmd checks a package.
type ValidateCmd struct {
	Path string `arg:"" help:"Package file" type:"path"`
	Deep bool   `help:"Parse the whole package, not just its container"`
}

func (c *ValidateCmd) Run() error {
	if err := validation.CheckPackageFile(c.Path); err != nil {
		return err
	}
	if !apkg.IsValidPackage(c.Path) {
		return fmt.Errorf("%s: no readable collection database", c.Path)
	}
	if c.Deep {
		pkg, err := apkg.ParsePackage(c.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "ok: %s (%s, %d notes, %d media)\n", c.Path, pkg.Format, len(pkg.Notes), len(pkg.Media))
		return nil
	}
	fmt.Fprintf(stdout, "ok: %s\n", c.Path)
	return nil
}

// ConvertCmd reads a package and writes it as another generation.
type ConvertCmd struct {
	In     string `arg:"" help:"Input package" type:"existingfile"`
	Out    string `required:"" short:"o" help:"Output package" type:"path"`
	Format string `default:"latest" enum:"legacy,transitional,latest" help:"Generation to write"`
	Dual   bool   `help:"Also store a legacy database (or latest alongside the chosen one)"`
	From   string `help:"Read this generation (legacy, transitional, latest) instead of the newest present"`
}

func (c *ConvertCmd) Run() error {
	if err := validation.CheckPackageFile(c.In); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := validation.ValidatePath(c.Out); err != nil {
		return fmt.Errorf("invalid output path: %w", err)
	}
	out, err := format.Parse(c.Format)
	if err != nil {
		return err
	}
	opts, err := readOptions(c.From)
	if err != nil {
		return err
	}

	ctx := logging.WithOperation(context.Background(), "convert")
	pkg, err := apkg.ParsePackageContext(ctx, c.In, opts...)
	if err != nil {
		logging.PackageError("convert", c.In, err)
		return err
	}

	logging.InfoContext(ctx, "package read", "path", c.In, "format", pkg.Format.String(),
		"notes", len(pkg.Notes), "cards", len(pkg.Cards), "media", len(pkg.Media))

	b := apkg.NewBuilder(apkg.WithFormat(out), apkg.WithLogger(logging.LoggerFromContext(ctx)))
	if err := b.AddCollection(pkg.Collection()); err != nil {
		return err
	}
	files := pkg.MediaFiles()
	for _, f := range files {
		b.AddMedia(f.Name, f.Data)
	}
	logging.DebugContext(ctx, "media queued", "files", len(files))
	if err := b.CreatePackageContext(ctx, c.Out, c.Dual); err != nil {
		logging.PackageError("convert", c.Out, err)
		return err
	}
	logging.PackageEvent("convert", c.Out, "from", pkg.Format.String(), "to", out.String(), "dual", c.Dual)
	fmt.Fprintf(stdout, "converted %s (%s) -> %s (%s)\n", c.In, pkg.Format, c.Out, out)
	return nil
}

// VersionCmd prints version and backend information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	info := sqlite.GetInfo()
	fmt.Fprintf(stdout, "apkg version %s\n", version)
	fmt.Fprintf(stdout, "sqlite: %s (%s)\n", info.Package, info.DriverType)
	fmt.Fprintf(stdout, "zstd:   %s\n", compress.Name())
	names := make([]string, 0, len(format.All()))
	for _, f := range format.All() {
		names = append(names, fmt.Sprintf("%s=%s", f, f.Filename()))
	}
	fmt.Fprintf(stdout, "formats: %s\n", strings.Join(names, " "))
	return nil
}

// loadEnv reads .env from the working directory. A missing file is not an
// error.
func loadEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// initLogging configures the global logger from the parsed flags.
func initLogging(level, logFormat string) error {
	l, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	f, err := logging.ParseFormat(logFormat)
	if err != nil {
		return err
	}
	logging.InitLogger(l, f)
	return nil
}

func main() {
	if err := loadEnv(".env"); err != nil {
		logging.Warn("ignoring .env", "error", err.Error())
	}
	ctx := kong.Parse(&CLI,
		kong.Name("apkg"),
		kong.Description("Read, write and convert Anki .apkg packages"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	ctx.FatalIfErrorf(initLogging(CLI.LogLevel, CLI.LogFormat))
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
