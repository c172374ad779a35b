// Package preprocess turns arbitrary raster input into a bounded JPEG blob
// ready for upload.
package preprocess

import (
	"context"
	"fmt"
	"math"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/pipeline"
	"github.com/Skryldev/image-uploader/utils"
)

// Options bounds the preprocessed output.  Qualities are in the 0..1 range.
type Options struct {
	MaxWidth       int
	MaxHeight      int
	InitialQuality float64
	QualityFloor   float64
	QualityStep    float64
	SizeCapBytes   int64
	// MaxInputBytes rejects larger input before any decoding.
	MaxInputBytes int64
}

// DefaultOptions returns the production bounds: 1920×1080, quality 0.85
// stepping down by 0.1 to 0.3, 10 MiB output cap and 32 MiB input ceiling.
func DefaultOptions() Options {
	return Options{
		MaxWidth:       1920,
		MaxHeight:      1080,
		InitialQuality: 0.85,
		QualityFloor:   0.3,
		QualityStep:    0.1,
		SizeCapBytes:   10 << 20,
		MaxInputBytes:  32 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = d.MaxHeight
	}
	if o.InitialQuality <= 0 || o.InitialQuality > 1 {
		o.InitialQuality = d.InitialQuality
	}
	if o.QualityFloor <= 0 || o.QualityFloor > o.InitialQuality {
		o.QualityFloor = math.Min(d.QualityFloor, o.InitialQuality)
	}
	if o.QualityStep <= 0 {
		o.QualityStep = d.QualityStep
	}
	if o.SizeCapBytes <= 0 {
		o.SizeCapBytes = d.SizeCapBytes
	}
	if o.MaxInputBytes == 0 {
		o.MaxInputBytes = d.MaxInputBytes
	}
	return o
}

// Resizer returns the steps that bound an image to maxWidth×maxHeight.
type Resizer func(maxWidth, maxHeight int) []core.Step

// StdResizer bounds images with the pure-Go fit step.
func StdResizer(maxWidth, maxHeight int) []core.Step {
	return []core.Step{&pipeline.FitStep{MaxWidth: maxWidth, MaxHeight: maxHeight}}
}

// Preprocessor decodes, bounds and re-encodes images.  Safe for concurrent use.
type Preprocessor struct {
	registry core.Registry
	resizer  Resizer
	hooks    []core.Hook
	opts     Options
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithResizer swaps the resize steps, e.g. for the libvips backend.
func WithResizer(r Resizer) Option { return func(p *Preprocessor) { p.resizer = r } }

// WithHooks attaches pipeline observers.
func WithHooks(h ...core.Hook) Option {
	return func(p *Preprocessor) { p.hooks = append(p.hooks, h...) }
}

// WithOptions overrides the default bounds.
func WithOptions(o Options) Option { return func(p *Preprocessor) { p.opts = o.withDefaults() } }

// New returns a Preprocessor decoding and encoding through reg.
func New(reg core.Registry, opts ...Option) *Preprocessor {
	p := &Preprocessor{registry: reg, resizer: StdResizer, opts: DefaultOptions()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Options returns the effective bounds.
func (p *Preprocessor) Options() Options { return p.opts }

// Preprocess reads src and produces a bounded JPEG.  Invalid image bytes
// fail with a decode error; an output that stays above the size cap at the
// quality floor is still returned.
func (p *Preprocessor) Preprocess(ctx context.Context, src core.Source) (*core.PreprocessedImage, error) {
	raw, err := ReadSource(ctx, src, p.opts.MaxInputBytes)
	if err != nil {
		return nil, err
	}
	return p.PreprocessBytes(ctx, raw)
}

// PreprocessBytes runs the pipeline on already-read input.
func (p *Preprocessor) PreprocessBytes(ctx context.Context, raw []byte) (*core.PreprocessedImage, error) {
	if len(raw) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "preprocess", apperrors.ErrEmptyInput)
	}
	if p.opts.MaxInputBytes > 0 && int64(len(raw)) > p.opts.MaxInputBytes {
		return nil, apperrors.New(apperrors.CategoryInput, "preprocess",
			fmt.Errorf("%w: %d > %d bytes", apperrors.ErrInputTooLarge, len(raw), p.opts.MaxInputBytes))
	}

	steps := []core.Step{&pipeline.DecodeStep{Registry: p.registry}}
	steps = append(steps, p.resizer(p.opts.MaxWidth, p.opts.MaxHeight)...)
	steps = append(steps,
		&pipeline.EncodeStep{Registry: p.registry, Format: core.FormatJPEG, Quality: percent(p.opts.InitialQuality)},
		&pipeline.SizeCapStep{
			Registry:   p.registry,
			CapBytes:   p.opts.SizeCapBytes,
			MinQuality: percent(p.opts.QualityFloor),
			StepSize:   percent(p.opts.QualityStep),
		},
	)
	pl := pipeline.New(steps...).AddHook(p.hooks...)

	out, _, err := pl.Run(ctx, &core.ImageData{
		Data:         raw,
		Format:       core.Format(utils.DetectFormat(raw)),
		OriginalSize: int64(len(raw)),
	})
	if err != nil {
		return nil, err
	}
	return &core.PreprocessedImage{
		Blob:      core.Blob{Data: out.Data, MIMEType: core.FormatJPEG.MIMEType()},
		Width:     out.Meta.Width,
		Height:    out.Meta.Height,
		SizeBytes: int64(len(out.Data)),
		Quality:   float64(out.Quality) / 100,
	}, nil
}

func percent(q float64) int { return int(math.Round(q * 100)) }
