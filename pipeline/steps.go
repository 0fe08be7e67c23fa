package pipeline

import (
	"bytes"
	"context"
	"strconv"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
	"github.com/Skryldev/image-variants/utils"
)

// ── Derive ────────────────────────────────────────────────────────────────────

// DeriveStep gives the variant its own working copy of the shared decoded
// source.  The shared handle itself is never mutated.
type DeriveStep struct{}

func (s *DeriveStep) Name() string { return "derive" }

func (s *DeriveStep) Execute(ctx context.Context, v *core.Variant) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if v.Decoded == nil {
		return apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	w, err := v.Decoded.Derive()
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryDecode, s.Name(), err)
	}
	v.Working = w
	v.Width, v.Height = w.Width(), w.Height()
	return nil
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep scales the working copy to the configured width, deriving the
// height from the aspect ratio.  Without AllowUpscale a width beyond the
// source is clamped to the source width.
type ResizeStep struct {
	AllowUpscale bool
}

func (s *ResizeStep) Name() string { return "resize" }

func (s *ResizeStep) Execute(ctx context.Context, v *core.Variant) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if v.Working == nil {
		return apperrors.New(apperrors.CategoryResize, s.Name(), apperrors.ErrEmptyInput)
	}

	srcW, srcH := v.Working.Width(), v.Working.Height()
	width := v.Config.Width
	if width <= 0 || srcW <= 0 || srcH <= 0 {
		return apperrors.New(apperrors.CategoryResize, s.Name(), apperrors.ErrInvalidDimensions)
	}
	if width > srcW && !s.AllowUpscale {
		width = srcW
	}

	dstW, dstH := utils.ScaleDimensions(srcW, srcH, width, 0)
	if dstW == srcW && dstH == srcH {
		return nil // nothing to do
	}
	if err := v.Working.Resize(ctx, dstW, dstH); err != nil {
		return apperrors.Wrap(apperrors.CategoryResize, s.Name(), err)
	}
	v.Width, v.Height = v.Working.Width(), v.Working.Height()
	return nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the working copy using the variant's format spec.
type EncodeStep struct{}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, v *core.Variant) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	if v.Working == nil {
		return apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}
	data, err := v.Working.Encode(ctx, v.Config.Spec)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, s.Name(), err)
	}
	if len(data) == 0 {
		return apperrors.New(apperrors.CategoryEncode, s.Name(), apperrors.ErrEmptyInput)
	}
	v.Output = data
	return nil
}

// ── Write ─────────────────────────────────────────────────────────────────────

// WriteStep stores the encoded bytes under the variant's key, replacing any
// previous object.
type WriteStep struct {
	Storage core.StorageAdapter
}

func (s *WriteStep) Name() string { return "write" }

func (s *WriteStep) Execute(ctx context.Context, v *core.Variant) error {
	if s.Storage == nil {
		return apperrors.New(apperrors.CategoryStorage, s.Name(), apperrors.ErrStorageUnavailable)
	}
	meta := map[string]string{
		"source": v.Source.Name,
		"format": string(v.Config.Spec.Name),
		"width":  strconv.Itoa(v.Config.Width),
	}
	return apperrors.Wrap(apperrors.CategoryStorage, s.Name(),
		s.Storage.Put(ctx, v.Key, bytes.NewReader(v.Output), meta))
}
