// Package decoder provides source image decoders.
package decoder

import (
	"context"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/image-variants/core"
	apperrors "github.com/Skryldev/image-variants/errors"
)

// Image decodes JPEG, PNG and GIF sources (first frame) and applies the EXIF
// orientation so variants come out upright.
type Image struct {
	AutoOrient bool
}

// NewImage returns a decoder with EXIF auto-orientation enabled.
func NewImage() *Image { return &Image{AutoOrient: true} }

func (d *Image) CanDecode(format core.Format) bool {
	switch format {
	case core.FormatJPEG, core.FormatPNG, core.FormatGIF:
		return true
	}
	return false
}

func (d *Image) Decode(ctx context.Context, r io.Reader) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "image.decode", err)
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(d.AutoOrient))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "image.decode", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, "image.decode", apperrors.ErrInvalidDimensions)
	}
	return img, nil
}

// Register adds d for every source format it handles.
func Register(reg core.Registry, d *Image) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatGIF} {
		reg.RegisterDecoder(f, d)
	}
}
