// Package vips is the libvips codec backend.  Each source is decoded once into
// a *govips.ImageRef that is never mutated; variants work on ImageRef.Copy()
// clones so concurrent resizes cannot interfere with each other.
package vips

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// Name is the registry key of this backend.
const Name = "vips"

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	MaxCacheSize int
	MaxWorkers   int // libvips internal threads per operation
	ReportLeaks  bool
}

// Backend is a libvips-powered core.Codec.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

var startOnce sync.Once

// NewBackend initialises libvips (once per process) and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	startOnce.Do(func() {
		govips.LoggingSettings(nil, govips.LogLevelWarning)
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
			CollectStats:     true,
		})
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Supports(f core.Format) bool {
	switch f {
	case core.FormatAVIF, core.FormatWebP, core.FormatJPEG:
		return true
	}
	return false
}

// IgnoredParams reports parameters govips has no export option for.
func (b *Backend) IgnoredParams(spec core.FormatSpec) []string {
	var ignored []string
	switch spec.Name {
	case core.FormatWebP:
		if spec.Params.SmartSubsample {
			ignored = append(ignored, "smart_subsample")
		}
	case core.FormatAVIF:
		if spec.Params.ChromaSubsampling != "" {
			ignored = append(ignored, "chroma_subsampling")
		}
	}
	return ignored
}

// ─── Decode ───────────────────────────────────────────────────────────────────

func (b *Backend) Decode(ctx context.Context, data []byte) (core.Decoded, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	if err := ref.AutoRotate(); err != nil {
		ref.Close()
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.auto_rotate", err)
	}
	return &sharedImage{ref: ref}, nil
}

// sharedImage is the decoded source.  Only Copy is ever called on ref after
// construction.
type sharedImage struct {
	ref  *govips.ImageRef
	once sync.Once
}

func (s *sharedImage) Width() int  { return s.ref.Width() }
func (s *sharedImage) Height() int { return s.ref.Height() }
func (s *sharedImage) Close()      { s.once.Do(s.ref.Close) }

func (s *sharedImage) Derive() (core.Working, error) {
	cp, err := s.ref.Copy()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.copy", err)
	}
	return &VipsImage{ref: cp}, nil
}

// ─── VipsImage ────────────────────────────────────────────────────────────────

// VipsImage is a job-owned working copy wrapping a *govips.ImageRef.
type VipsImage struct {
	ref *govips.ImageRef
}

func (v *VipsImage) Width() int            { return v.ref.Width() }
func (v *VipsImage) Height() int           { return v.ref.Height() }
func (v *VipsImage) Ref() *govips.ImageRef { return v.ref }
func (v *VipsImage) Close()                { v.ref.Close() }

// Resize scales with the Lanczos3 kernel; height follows the aspect ratio.
func (v *VipsImage) Resize(ctx context.Context, width, _ int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if width <= 0 || v.ref.Width() <= 0 {
		return apperrors.ErrInvalidDimensions
	}
	scale := float64(width) / float64(v.ref.Width())
	return v.ref.Resize(scale, govips.KernelLanczos3)
}

// Encode exports the working copy.  Parameters reported by IgnoredParams
// fall back to the encoder defaults.
func (v *VipsImage) Encode(ctx context.Context, spec core.FormatSpec) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := spec.Params

	switch spec.Name {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.StripMetadata = true
		if p.Quality > 0 {
			ep.Quality = p.Quality
		}
		switch p.ChromaSubsampling {
		case "4:4:4":
			ep.SubsampleMode = govips.VipsForeignSubsampleOff
		case "4:2:0":
			ep.SubsampleMode = govips.VipsForeignSubsampleOn
		}
		buf, _, err := v.ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.StripMetadata = true
		ep.Lossless = p.Lossless
		if p.Quality > 0 {
			ep.Quality = p.Quality
		}
		if p.Effort > 0 {
			ep.ReductionEffort = p.Effort
		}
		buf, _, err := v.ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.webp", err)
		}
		return buf, nil

	case core.FormatAVIF:
		ep := govips.NewAvifExportParams()
		ep.StripMetadata = true
		ep.Lossless = p.Lossless
		if p.Quality > 0 {
			ep.Quality = p.Quality
		}
		if p.Effort > 0 {
			ep.Effort = p.Effort
		}
		if p.BitDepth > 0 {
			ep.Bitdepth = p.BitDepth
		}
		buf, _, err := v.ref.ExportAvif(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.avif", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, spec.Name))
	}
}

// compile-time interface checks
var _ core.Codec = (*Backend)(nil)
var _ core.ParamChecker = (*Backend)(nil)
var _ core.Decoded = (*sharedImage)(nil)
var _ core.Working = (*VipsImage)(nil)
