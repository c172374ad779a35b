package preprocess

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/utils"
)

// ReadSource applies the input guards and drains src.  The content type must
// be declared and image/*, and input above maxBytes is rejected before
// decoding.
func ReadSource(ctx context.Context, src core.Source, maxBytes int64) ([]byte, error) {
	if src.Reader == nil {
		return nil, apperrors.New(apperrors.CategoryInput, "read_source", apperrors.ErrEmptyInput)
	}
	if !utils.IsImageContentType(src.ContentType) {
		return nil, apperrors.New(apperrors.CategoryInput, "read_source",
			fmt.Errorf("%w: %q", apperrors.ErrNotImage, src.ContentType))
	}
	if maxBytes > 0 && src.Size > maxBytes {
		return nil, apperrors.New(apperrors.CategoryInput, "read_source",
			fmt.Errorf("%w: %d > %d bytes", apperrors.ErrInputTooLarge, src.Size, maxBytes))
	}

	raw, err := utils.ReadAllLimited(ctx, src.Reader, maxBytes, 0)
	switch {
	case errors.Is(err, utils.ErrLimitExceeded):
		return nil, apperrors.New(apperrors.CategoryInput, "read_source",
			fmt.Errorf("%w: more than %d bytes", apperrors.ErrInputTooLarge, maxBytes))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, apperrors.Cancelled("read_source", err)
	case err != nil:
		return nil, apperrors.Wrap(apperrors.CategoryInput, "read_source", err)
	}
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "read_source", apperrors.ErrEmptyInput)
	}
	return raw, nil
}
