// Package imagevariants turns a directory of source images into a matrix of
// resized, re-encoded variants (widths × output formats) with bounded
// parallelism.
//
// Quick start:
//
//	cfg := imagevariants.DefaultConfig()
//	cfg.SourceDir, cfg.Target = "img-src", "assets"
//	r, err := imagevariants.New(cfg)
//	if err != nil { ... }
//	defer r.Close()
//	res, err := r.Run(ctx)
package imagevariants

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Skryldev/image-variants/adapters/native"
	"github.com/Skryldev/image-variants/adapters/storage"
	"github.com/Skryldev/image-variants/adapters/vips"
	"github.com/Skryldev/image-variants/config"
	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
	"github.com/Skryldev/image-variants/hooks"
	"github.com/Skryldev/image-variants/pipeline"
)

// Re-export Format constants for convenience.
const (
	AVIF = core.FormatAVIF
	WebP = core.FormatWebP
	JPEG = core.FormatJPEG
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the slog logger; the default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.slog = l }
}

// WithCodec bypasses the codec registry.
func WithCodec(c core.Codec) Option {
	return func(r *Runner) { r.codec = c }
}

// WithStorage bypasses storage.Open for the configured target.
func WithStorage(s core.StorageAdapter) Option {
	return func(r *Runner) { r.storage = s }
}

// WithHook registers an extra observer for pipeline step events.
func WithHook(h core.Hook) Option {
	return func(r *Runner) { r.hooks = append(r.hooks, h) }
}

// WithCodecRegistry replaces the built-in backend registry.
func WithCodecRegistry(reg *core.CodecRegistry) Option {
	return func(r *Runner) { r.codecs = reg }
}

// Runner executes batches for one validated configuration.  The codec is
// opened on the first Run and storage on the first Run or Plan; neither
// writes anything until a variant is stored.
type Runner struct {
	cfg    config.Config
	matrix []core.VariantConfig

	slog    *slog.Logger
	codecs  *core.CodecRegistry
	codec   core.Codec
	storage core.StorageAdapter
	hooks   []core.Hook
	metrics *hooks.InMemoryMetrics

	prepareOnce sync.Once
	prepareErr  error
	storageOnce sync.Once
	storageErr  error

	mu      sync.Mutex
	closers []io.Closer
}

// New validates cfg and returns a Runner.  Every returned error is fatal
// (category config).
func New(cfg config.Config, opts ...Option) (*Runner, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:     cfg,
		matrix:  core.BuildMatrix(cfg.Sizes, specs),
		codecs:  DefaultCodecs(cfg),
		metrics: hooks.NewInMemoryMetrics(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.slog == nil {
		r.slog = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r, nil
}

// DefaultCodecs registers the libvips and pure-Go backends.
func DefaultCodecs(cfg config.Config) *core.CodecRegistry {
	reg := core.NewCodecRegistry()
	reg.Register(vips.Name, func() (core.Codec, error) {
		return vips.NewBackend(vips.BackendConfig{MaxWorkers: cfg.ResolveConcurrency()}), nil
	})
	reg.Register(native.Name, func() (core.Codec, error) {
		return native.NewBackend(), nil
	})
	return reg
}

// Matrix returns the configuration matrix applied to every source.
func (r *Runner) Matrix() []core.VariantConfig { return r.matrix }

// Metrics returns per-step timings and error counts accumulated so far.
func (r *Runner) Metrics() hooks.MetricsSnapshot { return r.metrics.Snapshot() }

func (r *Runner) prepare(ctx context.Context) error {
	r.prepareOnce.Do(func() {
		if r.codec == nil {
			c, ok, err := r.codecs.Open(string(r.cfg.Backend))
			switch {
			case err != nil:
				r.prepareErr = apperrors.New(apperrors.CategoryConfig, "codec.open", err)
				return
			case !ok:
				r.prepareErr = apperrors.New(apperrors.CategoryConfig, "codec.open",
					fmt.Errorf("unknown backend %q", r.cfg.Backend))
				return
			}
			r.codec = c
			if v, isVips := c.(*vips.Backend); isVips {
				r.addCloser(closerFunc(v.Shutdown))
			}
		}
		r.checkFormats()
		r.prepareErr = r.openStorage(ctx)
	})
	return r.prepareErr
}

func (r *Runner) openStorage(ctx context.Context) error {
	r.storageOnce.Do(func() {
		if r.storage != nil {
			return
		}
		s, closer, err := storage.Open(ctx, r.cfg.Target, r.cfg)
		if err != nil {
			r.storageErr = err
			return
		}
		r.storage = s
		r.addCloser(closer)
	})
	return r.storageErr
}

func (r *Runner) addCloser(c io.Closer) {
	r.mu.Lock()
	r.closers = append(r.closers, c)
	r.mu.Unlock()
}

// checkFormats warns once per format the codec cannot encode, and once per
// format whose parameters it would partly ignore.
func (r *Runner) checkFormats() {
	checker, _ := r.codec.(core.ParamChecker)
	seen := make(map[core.Format]bool)
	for _, vc := range r.matrix {
		f := vc.Spec.Name
		if seen[f] {
			continue
		}
		seen[f] = true
		if !r.codec.Supports(f) {
			r.slog.Warn("format unsupported by backend; its variants will fail",
				"backend", r.codec.Name(), "format", f)
			continue
		}
		if checker == nil {
			continue
		}
		if ignored := checker.IgnoredParams(vc.Spec); len(ignored) > 0 {
			r.slog.Warn("encoder parameters not supported by backend; they have no effect",
				"backend", r.codec.Name(), "format", f, "params", ignored)
		}
	}
}

// Run processes every eligible file in the source directory.  Per-file and
// per-variant failures are logged and reported in the BatchResult; the
// returned error is non-nil only for fatal conditions.
func (r *Runner) Run(ctx context.Context) (*core.BatchResult, error) {
	runID := uuid.NewString()
	log := hooks.NewSlogLogger(r.slog).With("run_id", runID)

	if err := r.prepare(ctx); err != nil {
		log.Error("batch.failed", "error", err.Error())
		return nil, err
	}

	log.Info("batch.start",
		"source", r.cfg.SourceDir,
		"target", r.cfg.Target,
		"backend", r.codec.Name(),
		"concurrency", r.cfg.ResolveConcurrency(),
		"sizes", r.cfg.Sizes,
		"formats", formatNames(r.matrix),
		"variants_per_source", len(r.matrix),
	)

	pl := pipeline.Variant(r.storage, r.cfg.AllowUpscale).
		WithRetry(r.cfg.StorageRetries, r.cfg.RetryDelay).
		AddHook(hooks.NewLoggingHook(log)).
		AddHook(hooks.NewMetricsHook(r.metrics))
	for _, h := range r.hooks {
		pl.AddHook(h)
	}

	exec := core.NewExecutor(r.codec, core.NewGate(r.cfg.ResolveConcurrency()), pl, r.storage, log)
	batch := &core.BatchRunner{
		RunID:         runID,
		SourceDir:     r.cfg.SourceDir,
		Matrix:        r.matrix,
		Exec:          exec,
		MaxImageBytes: r.cfg.MaxImageBytes,
		ChunkSize:     r.cfg.ChunkSize,
	}

	res, err := batch.Run(ctx)
	if err != nil {
		log.Error("batch.failed", "error", err.Error())
		return nil, err
	}

	ok, failed := res.Counts()
	log.Info("batch.done",
		"sources", len(res.Tasks)+len(res.SourceFailures),
		"sources_failed", len(res.SourceFailures),
		"variants_ok", ok,
		"variants_failed", failed,
		"peak_in_flight", res.PeakInFlight,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// PlannedOutput is one variant a Run would attempt.  Exists reports whether
// the target already holds an object at Location that a Run would replace.
type PlannedOutput struct {
	Source   string
	Config   core.VariantConfig
	Location string
	Exists   bool
}

// Plan lists the outputs a Run would attempt without decoding or writing
// anything.
func (r *Runner) Plan(ctx context.Context) ([]PlannedOutput, error) {
	names, err := core.Discover(r.cfg.SourceDir)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryInput, "discover", err)
	}
	if err := r.openStorage(ctx); err != nil {
		return nil, err
	}
	plan := make([]PlannedOutput, 0, len(names)*len(r.matrix))
	for _, name := range names {
		for _, cfg := range r.matrix {
			key := core.KeyFor(name, cfg)
			exists, err := r.storage.Exists(ctx, key)
			if err != nil {
				return nil, err
			}
			plan = append(plan, PlannedOutput{
				Source:   name,
				Config:   cfg,
				Location: r.storage.Location(key),
				Exists:   exists,
			})
		}
	}
	return plan, nil
}

// Close releases the codec backend and storage clients.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

func formatNames(matrix []core.VariantConfig) []string {
	var names []string
	seen := make(map[core.Format]bool)
	for _, c := range matrix {
		if !seen[c.Spec.Name] {
			seen[c.Spec.Name] = true
			names = append(names, string(c.Spec.Name))
		}
	}
	return names
}

type closerFunc func()

func (f closerFunc) Close() error { f(); return nil }
