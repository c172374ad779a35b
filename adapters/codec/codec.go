// Package codec provides the pure-Go image codecs used by the preprocessor
// and the crop engine.
package codec

import (
	"context"
	"image"
	"io"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// DefaultQuality is the lossy quality used when EncodeOptions leaves it unset.
const DefaultQuality = 85

// NewRegistry returns a registry with JPEG, PNG and WebP decoders and JPEG
// and PNG encoders.  WebP input is re-encoded through JPEG downstream.
func NewRegistry(defaultQuality int) *core.CodecRegistry {
	reg := core.NewRegistry()
	jpg := NewJPEG(defaultQuality)
	png := NewPNG()
	reg.RegisterDecoder(core.FormatJPEG, jpg)
	reg.RegisterEncoder(core.FormatJPEG, jpg)
	reg.RegisterDecoder(core.FormatPNG, png)
	reg.RegisterEncoder(core.FormatPNG, png)
	reg.RegisterDecoder(core.FormatWebP, NewWebP())
	return reg
}

// decodeWith runs a stdlib-style decode function and fills in metadata.
func decodeWith(ctx context.Context, op string, format core.Format, r io.Reader,
	decode func(io.Reader) (image.Image, error)) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, op, err)
	}
	img, err := decode(r)
	if err != nil {
		return nil, apperrors.Decode(op, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, apperrors.Decode(op, apperrors.ErrInvalidDimensions)
	}
	return &core.ImageData{
		Image:  img,
		Format: format,
		Meta: core.Metadata{
			Width:      b.Dx(),
			Height:     b.Dy(),
			Format:     format,
			ColorSpace: colorSpace(img),
			HasAlpha:   hasAlpha(img),
		},
	}, nil
}

// pixels extracts the stdlib image from img for encoders.
func pixels(op string, img *core.ImageData) (image.Image, error) {
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrEmptyInput)
	}
	return src, nil
}

func colorSpace(img image.Image) core.ColorSpace {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorSpaceGray
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return core.ColorSpaceRGBA
	case *image.CMYK:
		return core.ColorSpaceCMYK
	}
	return core.ColorSpaceRGB
}

func hasAlpha(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return true
	}
	return false
}
