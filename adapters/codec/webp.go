package codec

import (
	"context"
	"io"

	"golang.org/x/image/webp"

	"github.com/Skryldev/image-uploader/core"
)

// WebP decodes WebP input via golang.org/x/image/webp.  There is no pure-Go
// WebP encoder; the preprocessor always re-encodes to JPEG.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	return decodeWith(ctx, "webp.decode", core.FormatWebP, r, webp.Decode)
}
