package vips

import (
	"context"
	"fmt"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/utils"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Backend is a libvips-powered Decoder and Encoder for the preprocessor.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() { govips.Shutdown() }

// Registry returns a codec registry routing every format through libvips.
func (b *Backend) Registry() *core.CodecRegistry {
	reg := core.NewRegistry()
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
		reg.RegisterEncoder(f, b)
	}
	return reg
}

// Resizer is a preprocess resizer: EXIF auto-rotation followed by a
// bounded libvips resize.
func (b *Backend) Resizer(maxWidth, maxHeight int) []core.Step {
	return []core.Step{&AutoRotateStep{}, &FitStep{MaxWidth: maxWidth, MaxHeight: maxHeight}}
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("vips.decode", err)
	}
	buf, err := utils.DrainReader(ctx, r, 32*1024)
	if err != nil {
		return nil, apperrors.Decode("vips.decode.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Decode("vips.decode", err)
	}
	runtime.SetFinalizer(ref, func(r *govips.ImageRef) { r.Close() })

	format := coreFormat(ref.Format())
	return &core.ImageData{
		Data:   raw,
		Format: format,
		Image:  &Image{ref: ref},
		Meta: core.Metadata{
			Width:     ref.Width(),
			Height:    ref.Height(),
			Format:    format,
			HasAlpha:  ref.HasAlpha(),
			SizeBytes: int64(len(raw)),
		},
		OriginalSize: int64(len(raw)),
	}, nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool { return b.CanDecode(f) }

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("vips.encode", err)
	}
	vi, ok := img.Image.(*Image)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("image must be decoded with the vips backend first"))
	}
	quality := opts.Quality
	if quality <= 0 {
		quality = b.cfg.DefaultQuality
	}

	var (
		buf []byte
		err error
	)
	switch img.Format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = opts.StripEXIF
		buf, _, err = vi.ref.ExportJpeg(ep)
	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = opts.StripEXIF
		buf, _, err = vi.ref.ExportPng(ep)
	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.StripMetadata = opts.StripEXIF
		buf, _, err = vi.ref.ExportWebp(ep)
	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode."+string(img.Format), err)
	}
	return buf, nil
}

// ─── Image ────────────────────────────────────────────────────────────────────

// Image wraps a *govips.ImageRef for storage in core.ImageData.Image.
type Image struct {
	ref *govips.ImageRef
}

func (v *Image) Width() int  { return v.ref.Width() }
func (v *Image) Height() int { return v.ref.Height() }
func (v *Image) Close()      { v.ref.Close() }

// ─── Steps ────────────────────────────────────────────────────────────────────

// FitStep shrinks a libvips image into MaxWidth×MaxHeight with the Lanczos3
// kernel, using the same bound policy as the pure-Go fit step.
type FitStep struct {
	MaxWidth, MaxHeight int
}

func (s *FitStep) Name() string { return "vips.fit" }

func (s *FitStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled(s.Name(), err)
	}
	vi, ok := img.Image.(*Image)
	if !ok || vi == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("expected *vips.Image; use the vips backend for decode"))
	}
	w, h := vi.Width(), vi.Height()
	dstW, dstH := utils.FitWithin(w, h, s.MaxWidth, s.MaxHeight)
	if dstW == w && dstH == h {
		return img, nil
	}
	hScale := float64(dstW) / float64(w)
	vScale := float64(dstH) / float64(h)
	if err := vi.ref.ResizeWithVScale(hScale, vScale, govips.KernelLanczos3); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Data = nil
	out.Meta.Width = vi.Width()
	out.Meta.Height = vi.Height()
	return &out, nil
}

// AutoRotateStep applies the EXIF orientation tag so the fit bound is
// checked against the displayed orientation.
type AutoRotateStep struct{}

func (s *AutoRotateStep) Name() string { return "vips.auto_rotate" }

func (s *AutoRotateStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	vi, ok := img.Image.(*Image)
	if !ok || vi == nil {
		return img, nil
	}
	if err := vi.ref.AutoRotate(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	out := *img
	out.Meta.Width = vi.Width()
	out.Meta.Height = vi.Height()
	return &out, nil
}

func coreFormat(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

var (
	_ core.Decoder = (*Backend)(nil)
	_ core.Encoder = (*Backend)(nil)
	_ core.Step    = (*FitStep)(nil)
	_ core.Step    = (*AutoRotateStep)(nil)
)
