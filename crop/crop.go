// Package crop rotates, mirrors and cuts a user-chosen rectangle out of an
// encoded image.
package crop

import (
	"context"
	"fmt"
	"math"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/pipeline"
	"github.com/Skryldev/image-uploader/utils"
)

// OutputQuality is the fixed JPEG quality of cropped output.
const OutputQuality = 85

// DefaultLimits caps render surfaces at common canvas limits.
var DefaultLimits = pipeline.SurfaceLimits{MaxSide: 16384, MaxPixels: 268_435_456}

// Engine applies CropSpecs.  Safe for concurrent use.
type Engine struct {
	registry core.Registry
	limits   pipeline.SurfaceLimits
	hooks    []core.Hook
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimits overrides the render surface limits.
func WithLimits(l pipeline.SurfaceLimits) Option { return func(e *Engine) { e.limits = l } }

// WithHooks attaches pipeline observers.
func WithHooks(h ...core.Hook) Option { return func(e *Engine) { e.hooks = append(e.hooks, h...) } }

// New returns an Engine decoding and encoding through reg.
func New(reg core.Registry, opts ...Option) *Engine {
	e := &Engine{registry: reg, limits: DefaultLimits}
	for _, o := range opts {
		o(e)
	}
	return e
}

// BoundingBox is the size of a w×h image rotated by degrees.
func BoundingBox(w, h int, degrees float64) (float64, float64) {
	return pipeline.BoundingBox(w, h, degrees)
}

// Validate rejects specs the engine cannot apply.
func Validate(spec core.CropSpec) error {
	if math.IsNaN(spec.RotationDegrees) || spec.RotationDegrees < -180 || spec.RotationDegrees > 180 {
		return apperrors.New(apperrors.CategoryInput, "crop.validate",
			fmt.Errorf("%w: rotation %v outside -180..180", apperrors.ErrInvalidCrop, spec.RotationDegrees))
	}
	if spec.Rect.Width <= 0 || spec.Rect.Height <= 0 {
		return apperrors.New(apperrors.CategoryInput, "crop.validate",
			fmt.Errorf("%w: empty rectangle %dx%d", apperrors.ErrInvalidCrop, spec.Rect.Width, spec.Rect.Height))
	}
	switch spec.Shape {
	case "", core.ShapeRect, core.ShapeRound:
	default:
		return apperrors.New(apperrors.CategoryInput, "crop.validate",
			fmt.Errorf("%w: unknown shape %q", apperrors.ErrInvalidCrop, spec.Shape))
	}
	return nil
}

// Crop renders src rotated and mirrored per spec, extracts spec.Rect and
// re-encodes it as JPEG.  A round shape does not alter the pixels.  Render
// surface failures are returned as render errors and are not retried.
func (e *Engine) Crop(ctx context.Context, src core.Blob, spec core.CropSpec) (core.Blob, error) {
	if err := Validate(spec); err != nil {
		return core.Blob{}, err
	}
	if len(src.Data) == 0 {
		return core.Blob{}, apperrors.New(apperrors.CategoryInput, "crop", apperrors.ErrEmptyInput)
	}
	if _, ok := e.registry.EncoderFor(core.FormatJPEG); !ok {
		return core.Blob{}, apperrors.Render("crop", fmt.Errorf("%w: no jpeg encoder", apperrors.ErrSurfaceUnavailable))
	}

	pl := pipeline.New(
		&pipeline.DecodeStep{Registry: e.registry},
		&pipeline.TransformStep{
			Degrees: spec.RotationDegrees,
			FlipH:   spec.Flip.Horizontal,
			FlipV:   spec.Flip.Vertical,
			Limits:  e.limits,
		},
		&pipeline.ExtractStep{Rect: spec.Rect, Limits: e.limits},
		&pipeline.EncodeStep{Registry: e.registry, Format: core.FormatJPEG, Quality: OutputQuality},
	).AddHook(e.hooks...)

	out, _, err := pl.Run(ctx, &core.ImageData{
		Data:         src.Data,
		Format:       core.Format(utils.DetectFormat(src.Data)),
		OriginalSize: int64(len(src.Data)),
	})
	if err != nil {
		return core.Blob{}, err
	}
	return core.Blob{Data: out.Data, MIMEType: core.FormatJPEG.MIMEType()}, nil
}

// Apply crops a preprocessed image and returns a new one describing the
// cropped output.
func (e *Engine) Apply(ctx context.Context, img *core.PreprocessedImage, spec core.CropSpec) (*core.PreprocessedImage, error) {
	blob, err := e.Crop(ctx, img.Blob, spec)
	if err != nil {
		return nil, err
	}
	return &core.PreprocessedImage{
		Blob:      blob,
		Width:     spec.Rect.Width,
		Height:    spec.Rect.Height,
		SizeBytes: blob.Size(),
		Quality:   float64(OutputQuality) / 100,
	}, nil
}
