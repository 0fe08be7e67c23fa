// Package encoder provides per-format encoders for the pure-Go codec.
package encoder

import (
	"bytes"
	"context"
	"image"

	"github.com/chai2010/webp"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// WebP encodes images to WebP via the bundled libwebp in github.com/chai2010/webp.
// Effort and smart subsampling are not exposed by that binding and are ignored.
type WebP struct {
	DefaultQuality int
}

func NewWebP(defaultQuality int) *WebP {
	if defaultQuality <= 0 {
		defaultQuality = 75
	}
	return &WebP{DefaultQuality: defaultQuality}
}

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, img image.Image, params core.EncodeParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "webp.encode", apperrors.ErrEmptyInput)
	}

	quality := params.Quality
	if quality <= 0 {
		quality = w.DefaultQuality
	}

	var buf bytes.Buffer
	opts := &webp.Options{Lossless: params.Lossless, Quality: float32(quality)}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	return buf.Bytes(), nil
}
