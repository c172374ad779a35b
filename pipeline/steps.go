package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/utils"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into a pixel buffer.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return "decode" }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil
	}
	if len(img.Data) == 0 {
		return nil, apperrors.Decode(s.Name(), apperrors.ErrEmptyInput)
	}
	format := img.Format
	if format == "" || format == core.FormatUnknown {
		format = core.Format(utils.DetectFormat(img.Data))
	}
	dec, ok := s.Registry.DecoderFor(format)
	if !ok {
		return nil, apperrors.Decode(s.Name(), fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, err
	}
	decoded.Data = img.Data
	decoded.OriginalSize = img.OriginalSize
	decoded.Meta.SizeBytes = int64(len(img.Data))
	return decoded, nil
}

// ── Fit ───────────────────────────────────────────────────────────────────────

// FitStep shrinks the image so it fits inside MaxWidth×MaxHeight while
// keeping its aspect ratio.  Images already inside the box pass through.
type FitStep struct {
	MaxWidth, MaxHeight int
	// Resampler controls quality vs speed.  Defaults to draw.BiLinear.
	Resampler xdraw.Interpolator
}

func (s *FitStep) Name() string { return "fit" }

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled(s.Name(), err)
	}
	src, err := stdImage(s.Name(), img)
	if err != nil {
		return nil, err
	}

	srcB := src.Bounds()
	dstW, dstH := utils.FitWithin(srcB.Dx(), srcB.Dy(), s.MaxWidth, s.MaxHeight)
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return img, nil
	}

	sampler := s.Resampler
	if sampler == nil {
		sampler = xdraw.BiLinear
	}
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	sampler.Scale(dst, dst.Bounds(), src, srcB, xdraw.Src, nil)

	out := *img
	out.Image = dst
	out.Data = nil
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	out.Meta.HasAlpha = true
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the pixel buffer into Format at Quality (1-100).
type EncodeStep struct {
	Registry core.Registry
	Format   core.Format
	Quality  int
}

func (s *EncodeStep) Name() string { return "encode" }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	format := s.Format
	if format == "" {
		format = core.FormatJPEG
	}
	return encodeAt(ctx, s.Name(), s.Registry, img, format, s.Quality)
}

// ── SizeCap ───────────────────────────────────────────────────────────────────

// SizeCapStep re-encodes at decreasing quality until the output fits in
// CapBytes or quality reaches MinQuality.  The floor result is returned even
// when it still exceeds the cap.
type SizeCapStep struct {
	Registry   core.Registry
	CapBytes   int64
	MinQuality int
	StepSize   int
}

func (s *SizeCapStep) Name() string { return "size_cap" }

func (s *SizeCapStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if s.CapBytes <= 0 || int64(len(img.Data)) <= s.CapBytes {
		return img, nil
	}
	step := s.StepSize
	if step <= 0 {
		step = 10
	}
	current := img
	for int64(len(current.Data)) > s.CapBytes && current.Quality > s.MinQuality {
		q := current.Quality - step
		if q < s.MinQuality {
			q = s.MinQuality
		}
		next, err := encodeAt(ctx, s.Name(), s.Registry, current, current.Format, q)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func encodeAt(ctx context.Context, op string, reg core.Registry, img *core.ImageData, format core.Format, quality int) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled(op, err)
	}
	enc, ok := reg.EncoderFor(format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, op,
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
	data, err := enc.Encode(ctx, &core.ImageData{Image: img.Image, Format: format, Meta: img.Meta}, core.EncodeOptions{Quality: quality, StripEXIF: true})
	if err != nil {
		return nil, err
	}
	out := *img
	out.Data = data
	out.Format = format
	out.Quality = quality
	out.Meta.Format = format
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}

// ── Rotate / flip ─────────────────────────────────────────────────────────────

// SurfaceLimits bounds the render surfaces the crop steps may allocate.
type SurfaceLimits struct {
	MaxSide   int
	MaxPixels int64
}

// acquire allocates a w×h RGBA surface or fails with a render error.
func (l SurfaceLimits) acquire(op string, w, h int) (*image.RGBA, error) {
	if w <= 0 || h <= 0 {
		return nil, apperrors.Render(op, fmt.Errorf("%w: %dx%d", apperrors.ErrSurfaceUnavailable, w, h))
	}
	if (l.MaxSide > 0 && (w > l.MaxSide || h > l.MaxSide)) ||
		(l.MaxPixels > 0 && int64(w)*int64(h) > l.MaxPixels) {
		return nil, apperrors.Render(op, fmt.Errorf("%w: %dx%d exceeds limits", apperrors.ErrSurfaceUnavailable, w, h))
	}
	return image.NewRGBA(image.Rect(0, 0, w, h)), nil
}

// TransformStep renders the image rotated by Degrees and mirrored per the
// flip flags onto a surface the size of the rotated bounding box.
type TransformStep struct {
	Degrees float64
	FlipH   bool
	FlipV   bool
	Limits  SurfaceLimits
	// Resampler defaults to draw.BiLinear.
	Resampler xdraw.Transformer
}

func (s *TransformStep) Name() string { return "transform" }

func (s *TransformStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled(s.Name(), err)
	}
	src, err := stdImage(s.Name(), img)
	if err != nil {
		return nil, err
	}
	sb := src.Bounds()
	w, h := SurfaceSize(BoundingBox(sb.Dx(), sb.Dy(), s.Degrees))
	dst, err := s.Limits.acquire(s.Name(), w, h)
	if err != nil {
		return nil, err
	}

	tr := s.Resampler
	if tr == nil {
		tr = xdraw.BiLinear
	}
	m := rotateFlip(
		float64(sb.Min.X)+float64(sb.Dx())/2, float64(sb.Min.Y)+float64(sb.Dy())/2,
		float64(w)/2, float64(h)/2,
		s.Degrees, s.FlipH, s.FlipV,
	)
	tr.Transform(dst, m, src, sb, xdraw.Over, nil)

	out := *img
	out.Image = dst
	out.Data = nil
	out.Meta.Width = w
	out.Meta.Height = h
	out.Meta.HasAlpha = true
	return &out, nil
}

// ── Extract ───────────────────────────────────────────────────────────────────

// ExtractStep copies Rect out of the image into a Rect-sized surface.  Parts
// of Rect outside the image stay transparent.
type ExtractStep struct {
	Rect   core.Rect
	Limits SurfaceLimits
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled(s.Name(), err)
	}
	src, err := stdImage(s.Name(), img)
	if err != nil {
		return nil, err
	}
	dst, err := s.Limits.acquire(s.Name(), s.Rect.Width, s.Rect.Height)
	if err != nil {
		return nil, err
	}
	origin := src.Bounds().Min.Add(image.Pt(s.Rect.X, s.Rect.Y))
	draw.Draw(dst, dst.Bounds(), src, origin, draw.Src)

	out := *img
	out.Image = dst
	out.Data = nil
	out.Meta.Width = s.Rect.Width
	out.Meta.Height = s.Rect.Height
	return &out, nil
}

func stdImage(op string, img *core.ImageData) (image.Image, error) {
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, op, apperrors.ErrEmptyInput)
	}
	return src, nil
}
