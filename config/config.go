package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"gopkg.in/yaml.v3"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// Backend names a codec backend.
type Backend string

const (
	BackendVips   Backend = "vips"
	BackendNative Backend = "native"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvConcurrency = "IMGVARIANTS_CONCURRENCY"
	EnvBackend     = "IMGVARIANTS_BACKEND"
	EnvLogLevel    = "IMGVARIANTS_LOG_LEVEL"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	SourceDir string `yaml:"source"`
	// Target is a directory path, "s3://bucket/prefix" or "gs://bucket/prefix".
	Target string `yaml:"target"`

	Sizes   []int    `yaml:"sizes"`
	Formats []string `yaml:"formats"`
	// FormatOverrides are merged over the default encoder parameters.
	FormatOverrides map[string]core.EncodeParams `yaml:"format_overrides"`

	// Concurrency bounds simultaneous decode/encode work.  default: 5
	Concurrency     int  `yaml:"concurrency"`
	AutoConcurrency bool `yaml:"auto_concurrency"`

	Backend      Backend `yaml:"backend"`
	AllowUpscale bool    `yaml:"allow_upscale"`

	// Streaming / memory limits.
	MaxImageBytes int64 `yaml:"max_image_bytes"` // 0 = no limit
	ChunkSize     int   `yaml:"chunk_size"`      // streaming chunk size in bytes; default 32 KiB

	// Retry of transient storage failures.
	StorageRetries int           `yaml:"storage_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`

	LogLevel  string `yaml:"log_level"`  // "debug", "info", "warn", "error"
	LogFormat string `yaml:"log_format"` // "text" or "json"

	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// S3Config configures the AWS S3 storage adapter.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures the Google Cloud Storage adapter.
type GCSConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
}

// DefaultSizes are the target widths used when none are requested.
var DefaultSizes = []int{1920, 1280, 640, 320}

// DefaultFormatSpecs returns the built-in encoder table in output order.
func DefaultFormatSpecs() []core.FormatSpec {
	return []core.FormatSpec{
		{Name: core.FormatAVIF, Params: core.EncodeParams{Quality: 60, Effort: 9, ChromaSubsampling: "4:2:0", BitDepth: 12}},
		{Name: core.FormatWebP, Params: core.EncodeParams{Quality: 75, Effort: 6, SmartSubsample: true}},
		{Name: core.FormatJPEG, Params: core.EncodeParams{Quality: 75}},
	}
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	formats := make([]string, 0, len(core.OutputFormats))
	for _, f := range core.OutputFormats {
		formats = append(formats, string(f))
	}
	return Config{
		SourceDir:      "../img-src",
		Target:         "../assets",
		Sizes:          append([]int(nil), DefaultSizes...),
		Formats:        formats,
		Concurrency:    core.DefaultGateCapacity,
		Backend:        BackendVips,
		ChunkSize:      32 * 1024,
		StorageRetries: 2,
		RetryDelay:     200 * time.Millisecond,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads a YAML file over Default().
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, apperrors.New(apperrors.CategoryConfig, "config.load", err)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, apperrors.New(apperrors.CategoryConfig, "config.load", fmt.Errorf("%s: %w", path, err))
	}
	return c, nil
}

// ApplyEnv overrides c from the IMGVARIANTS_* variables returned by getenv.
func ApplyEnv(c *Config, getenv func(string) string) error {
	if v := getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.New(apperrors.CategoryConfig, "config.env",
				fmt.Errorf("%s=%q: %w", EnvConcurrency, v, err))
		}
		c.Concurrency = n
	}
	if v := getenv(EnvBackend); v != "" {
		c.Backend = Backend(strings.ToLower(v))
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	return nil
}

// ParseSizes parses a list of widths separated by spaces and/or commas.
// Duplicates are dropped keeping the first occurrence.  Empty input yields
// DefaultSizes.
func ParseSizes(s string) ([]int, error) {
	fields := splitList(s)
	if len(fields) == 0 {
		return append([]int(nil), DefaultSizes...), nil
	}
	seen := make(map[int]bool, len(fields))
	sizes := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n <= 0 {
			return nil, apperrors.New(apperrors.CategoryConfig, "config.sizes",
				fmt.Errorf("%w: %q", apperrors.ErrInvalidSize, f))
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// ParseFormats parses a list of output format names.  The result keeps the
// order of the default table regardless of input order; empty input selects
// every output format.
func ParseFormats(s string) ([]core.Format, error) {
	return selectFormats(splitList(s))
}

func selectFormats(names []string) ([]core.Format, error) {
	if len(names) == 0 {
		return append([]core.Format(nil), core.OutputFormats...), nil
	}
	want := make(map[core.Format]bool, len(names))
	for _, n := range names {
		f := core.Format(strings.ToLower(strings.TrimSpace(n)))
		if !f.IsOutput() {
			return nil, apperrors.New(apperrors.CategoryConfig, "config.formats",
				fmt.Errorf("%w: %q", apperrors.ErrUnknownFormat, n))
		}
		want[f] = true
	}
	out := make([]core.Format, 0, len(want))
	for _, f := range core.OutputFormats {
		if want[f] {
			out = append(out, f)
		}
	}
	return out, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// Specs returns the FormatSpecs selected by c.Formats with FormatOverrides
// merged over the defaults.
func (c Config) Specs() ([]core.FormatSpec, error) {
	formats, err := selectFormats(c.Formats)
	if err != nil {
		return nil, err
	}
	defaults := make(map[core.Format]core.FormatSpec)
	for _, s := range DefaultFormatSpecs() {
		defaults[s.Name] = s
	}
	specs := make([]core.FormatSpec, 0, len(formats))
	for _, f := range formats {
		spec := defaults[f]
		if o, ok := c.FormatOverrides[string(f)]; ok {
			spec.Params = spec.Params.Merge(o)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ResolveConcurrency returns the gate capacity.  With AutoConcurrency it is
// the number of logical CPUs, falling back to Concurrency when that cannot be
// determined.
func (c Config) ResolveConcurrency() int {
	if c.AutoConcurrency {
		if n, err := cpu.Counts(true); err == nil && n > 0 {
			return n
		}
	}
	return c.Concurrency
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	var errs []error
	if strings.TrimSpace(c.SourceDir) == "" {
		errs = append(errs, errors.New("source directory must not be empty"))
	}
	if strings.TrimSpace(c.Target) == "" {
		errs = append(errs, errors.New("target must not be empty"))
	}
	if len(c.Sizes) == 0 {
		errs = append(errs, errors.New("at least one size is required"))
	}
	for _, w := range c.Sizes {
		if w <= 0 {
			errs = append(errs, fmt.Errorf("%w: %d", apperrors.ErrInvalidSize, w))
		}
	}
	specs, err := c.Specs()
	if err != nil {
		errs = append(errs, err)
	} else if len(specs) == 0 {
		errs = append(errs, errors.New("at least one format is required"))
	}
	for name, p := range c.FormatOverrides {
		if !core.Format(name).IsOutput() {
			errs = append(errs, fmt.Errorf("format_overrides: %w: %q", apperrors.ErrUnknownFormat, name))
		}
		if p.Quality != 0 && (p.Quality < 1 || p.Quality > 100) {
			errs = append(errs, fmt.Errorf("format_overrides.%s: quality must be between 1 and 100", name))
		}
	}
	switch c.Backend {
	case BackendVips, BackendNative:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.ResolveConcurrency() < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}
	if c.StorageRetries < 0 {
		errs = append(errs, errors.New("storage retries must not be negative"))
	}
	if len(errs) > 0 {
		return apperrors.New(apperrors.CategoryConfig, "config.validate", errors.Join(errs...))
	}
	return nil
}
