// Package native is a pure-Go codec backend: sources are decoded once into an
// image.Image, every variant resizes into its own buffer, and encoding is
// delegated to the per-format encoders held in a core.Registry.
package native

import (
	"bytes"
	"context"
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-variants/adapters/decoder"
	"github.com/Skryldev/image-variants/adapters/encoder"
	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
	"github.com/Skryldev/image-variants/utils"
)

// Name is the registry key of this backend.
const Name = "native"

// Backend implements core.Codec on the standard image packages.
type Backend struct {
	registry core.Registry
	// Resampler controls quality vs speed.  Defaults to draw.CatmullRom.
	Resampler xdraw.Interpolator
}

// NewBackend returns a Backend with the default decoder and the JPEG and
// WebP encoders registered.  AVIF is not available in pure Go.
func NewBackend() *Backend {
	reg := core.NewRegistry()
	decoder.Register(reg, decoder.NewImage())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(0))
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(0))
	return NewBackendWithRegistry(reg)
}

// NewBackendWithRegistry returns a Backend using reg for codec lookup.
func NewBackendWithRegistry(reg core.Registry) *Backend {
	return &Backend{registry: reg, Resampler: xdraw.CatmullRom}
}

// Registry exposes the codec registry so callers can add encoders.
func (b *Backend) Registry() core.Registry { return b.registry }

func (b *Backend) Name() string { return Name }

func (b *Backend) Supports(f core.Format) bool {
	_, ok := b.registry.EncoderFor(f)
	return ok
}

// IgnoredParams reports parameters the pure-Go encoders cannot apply.
// image/jpeg always subsamples chroma 4:2:0 and the WebP encoder takes
// only quality and lossless.
func (b *Backend) IgnoredParams(spec core.FormatSpec) []string {
	p := spec.Params
	var ignored []string
	switch spec.Name {
	case core.FormatJPEG:
		if p.ChromaSubsampling != "" && p.ChromaSubsampling != "4:2:0" {
			ignored = append(ignored, "chroma_subsampling")
		}
	case core.FormatWebP:
		if p.Effort != 0 {
			ignored = append(ignored, "effort")
		}
		if p.SmartSubsample {
			ignored = append(ignored, "smart_subsample")
		}
	}
	return ignored
}

func (b *Backend) Decode(ctx context.Context, data []byte) (core.Decoded, error) {
	format := core.Format(utils.DetectFormat(data))
	dec, ok := b.registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, "native.decode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	img, err := dec.Decode(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &decoded{img: img, backend: b}, nil
}

// decoded is immutable after construction; image.Image reads are safe from
// any number of goroutines.
type decoded struct {
	img     image.Image
	backend *Backend
}

func (d *decoded) Width() int  { return d.img.Bounds().Dx() }
func (d *decoded) Height() int { return d.img.Bounds().Dy() }
func (d *decoded) Close()      {}

// Derive hands out a working copy that starts out pointing at the shared
// pixels.  Resize always allocates a fresh destination, so the shared image
// is never written to.
func (d *decoded) Derive() (core.Working, error) {
	return &working{img: d.img, backend: d.backend}, nil
}

type working struct {
	img     image.Image
	backend *Backend
}

func (w *working) Width() int  { return w.img.Bounds().Dx() }
func (w *working) Height() int { return w.img.Bounds().Dy() }
func (w *working) Close()      { w.img = nil }

func (w *working) Resize(ctx context.Context, width, height int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if width <= 0 || height <= 0 {
		return apperrors.ErrInvalidDimensions
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	w.backend.Resampler.Scale(dst, dst.Bounds(), w.img, w.img.Bounds(), xdraw.Src, nil)
	w.img = dst
	return nil
}

func (w *working) Encode(ctx context.Context, spec core.FormatSpec) ([]byte, error) {
	enc, ok := w.backend.registry.EncoderFor(spec.Name)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, "native.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, spec.Name))
	}
	return enc.Encode(ctx, w.img, spec.Params)
}

// compile-time interface checks
var _ core.Codec = (*Backend)(nil)
var _ core.ParamChecker = (*Backend)(nil)
var _ core.Decoded = (*decoded)(nil)
var _ core.Working = (*working)(nil)
