// Command imgvariants converts a directory of source images into resized
// AVIF/WebP/JPEG variants.  Configuration is layered: defaults, then the
// optional YAML file (-config), then IMGVARIANTS_* environment variables,
// then explicit flags.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	imagevariants "github.com/Skryldev/image-variants"
	"github.com/Skryldev/image-variants/config"
)

// version is set at build time via -ldflags.
var version = "dev"

type options struct {
	configPath  string
	dryRun      bool
	interactive bool
	showVersion bool

	source, target  string
	sizes, formats  string
	concurrency     int
	autoConcurrency bool
	backend         string
	allowUpscale    bool
	maxImageBytes   int64
	logLevel        string
	logFormat       string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("imgvariants", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var o options
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&o.dryRun, "dry-run", false, "print planned outputs without decoding or writing")
	fs.BoolVar(&o.interactive, "interactive", false, "prompt for source, target, sizes and formats")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.StringVar(&o.source, "source", "", "source directory (default ../img-src)")
	fs.StringVar(&o.target, "target", "", "target directory, s3://bucket/prefix or gs://bucket/prefix (default ../assets)")
	fs.StringVar(&o.sizes, "sizes", "", "target widths separated by spaces or commas (default 1920,1280,640,320)")
	fs.StringVar(&o.formats, "formats", "", "output formats among avif, webp, jpeg (default all)")
	fs.IntVar(&o.concurrency, "concurrency", 0, "maximum simultaneous decode/encode operations (default 5)")
	fs.BoolVar(&o.autoConcurrency, "auto-concurrency", false, "size concurrency from logical CPUs")
	fs.StringVar(&o.backend, "backend", "", "codec backend: vips or native")
	fs.BoolVar(&o.allowUpscale, "allow-upscale", false, "allow widths larger than the source")
	fs.Int64Var(&o.maxImageBytes, "max-image-bytes", 0, "reject sources larger than this (0 = no limit)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "", "text or json")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if o.showVersion {
		fmt.Fprintf(stdout, "imgvariants %s\n", version)
		return 0
	}

	cfg, err := buildConfig(fs, o, stdin, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "imgvariants: %v\n", err)
		return 1
	}

	logger := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)

	runner, err := imagevariants.New(cfg, imagevariants.WithLogger(logger))
	if err != nil {
		logger.Error("invalid configuration", "error", err.Error())
		return 1
	}
	defer runner.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.dryRun {
		plan, err := runner.Plan(ctx)
		if err != nil {
			logger.Error("batch.failed", "error", err.Error())
			return 1
		}
		for _, p := range plan {
			state := "new"
			if p.Exists {
				state = "replace"
			}
			fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", p.Source, p.Config, p.Location, state)
		}
		return 0
	}

	if _, err := runner.Run(ctx); err != nil {
		return 1
	}
	return 0
}

// buildConfig layers defaults, the YAML file and the environment, then
// applies flags that were set explicitly or answered interactively.
func buildConfig(fs *flag.FlagSet, o options, stdin io.Reader, stdout io.Writer) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if o.interactive {
		answered, err := prompt(&o, stdin, stdout)
		if err != nil {
			return cfg, err
		}
		for name := range answered {
			explicit[name] = true
		}
	}

	var err error
	set := func(name string) bool { return explicit[name] }
	if set("source") && o.source != "" {
		cfg.SourceDir = o.source
	}
	if set("target") && o.target != "" {
		cfg.Target = o.target
	}
	if set("sizes") {
		if cfg.Sizes, err = config.ParseSizes(o.sizes); err != nil {
			return cfg, err
		}
	}
	if set("formats") {
		formats, err := config.ParseFormats(o.formats)
		if err != nil {
			return cfg, err
		}
		cfg.Formats = cfg.Formats[:0]
		for _, f := range formats {
			cfg.Formats = append(cfg.Formats, string(f))
		}
	}
	if set("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	if set("auto-concurrency") {
		cfg.AutoConcurrency = o.autoConcurrency
	}
	if set("backend") {
		cfg.Backend = config.Backend(strings.ToLower(o.backend))
	}
	if set("allow-upscale") {
		cfg.AllowUpscale = o.allowUpscale
	}
	if set("max-image-bytes") {
		cfg.MaxImageBytes = o.maxImageBytes
	}
	if set("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if set("log-format") {
		cfg.LogFormat = o.logFormat
	}
	return cfg, nil
}

// prompt asks for the four batch inputs and returns the names of the flags
// that received an answer.  An empty answer keeps the current value.
func prompt(o *options, stdin io.Reader, stdout io.Writer) (map[string]bool, error) {
	answered := make(map[string]bool)
	sc := bufio.NewScanner(stdin)
	if wd, err := os.Getwd(); err == nil {
		fmt.Fprintln(stdout, "Your current working directory:", wd)
	}
	for _, q := range []struct {
		flag, text string
		dst        *string
	}{
		{"source", "Relative path to source images: ", &o.source},
		{"target", "Relative path to target directory: ", &o.target},
		{"sizes", "Target sizes (defaults to 1920, 1280, 640, 320): ", &o.sizes},
		{"formats", "Formats - avif, webp, jpeg (defaults to all): ", &o.formats},
	} {
		fmt.Fprint(stdout, q.text)
		if !sc.Scan() {
			return answered, sc.Err()
		}
		if ans := strings.TrimSpace(sc.Text()); ans != "" {
			*q.dst = ans
			answered[q.flag] = true
		}
	}
	return answered, nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
