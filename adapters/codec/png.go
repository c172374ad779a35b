package codec

import (
	"bytes"
	"context"
	"image/png"
	"io"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// PNG decodes and encodes PNG using the standard library.  Quality is ignored.
type PNG struct {
	enc png.Encoder
}

func NewPNG() *PNG { return &PNG{enc: png.Encoder{CompressionLevel: png.BestSpeed}} }

func (p *PNG) CanDecode(format core.Format) bool { return format == core.FormatPNG }
func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	return decodeWith(ctx, "png.decode", core.FormatPNG, r, png.Decode)
}

func (p *PNG) Encode(ctx context.Context, img *core.ImageData, _ core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, "png.encode", err)
	}
	src, err := pixels("png.encode", img)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := p.enc.Encode(&buf, src); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return buf.Bytes(), nil
}
