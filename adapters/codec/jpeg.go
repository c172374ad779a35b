package codec

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// JPEG decodes and encodes baseline JPEG using the standard library.
type JPEG struct {
	DefaultQuality int // used when EncodeOptions.Quality == 0
}

// NewJPEG returns a JPEG codec; a non-positive quality selects DefaultQuality.
func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 || defaultQuality > 100 {
		defaultQuality = DefaultQuality
	}
	return &JPEG{DefaultQuality: defaultQuality}
}

func (j *JPEG) CanDecode(format core.Format) bool { return format == core.FormatJPEG }
func (j *JPEG) CanEncode(format core.Format) bool { return format == core.FormatJPEG }

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	return decodeWith(ctx, "jpeg.decode", core.FormatJPEG, r, jpeg.Decode)
}

func (j *JPEG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "jpeg.encode", err)
	}
	src, err := pixels("jpeg.encode", img)
	if err != nil {
		return nil, err
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = j.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	return buf.Bytes(), nil
}
