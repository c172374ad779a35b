package crop_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"github.com/Skryldev/image-uploader/adapters/codec"
	"github.com/Skryldev/image-uploader/core"
	"github.com/Skryldev/image-uploader/crop"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/pipeline"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func jpegBlob(t *testing.T, w, h int) core.Blob {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solid(w, h, color.RGBA{R: 200, G: 80, B: 40, A: 255}), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return core.Blob{Data: buf.Bytes(), MIMEType: "image/jpeg"}
}

func pngBlob(t *testing.T, w, h int) core.Blob {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(w, h, color.RGBA{G: 200, A: 255})); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return core.Blob{Data: buf.Bytes(), MIMEType: "image/png"}
}

func decodedSize(t *testing.T, b core.Blob) (int, int) {
	t.Helper()
	if b.MIMEType != "image/jpeg" {
		t.Fatalf("mime = %q, want image/jpeg", b.MIMEType)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(b.Data))
	if err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
	return cfg.Width, cfg.Height
}

func newEngine(opts ...crop.Option) *crop.Engine {
	return crop.New(codec.NewRegistry(crop.OutputQuality), opts...)
}

func TestBoundingBox_AxisAligned(t *testing.T) {
	w, h := crop.BoundingBox(300, 200, 0)
	if w != 300 || h != 200 {
		t.Fatalf("0°: %v×%v, want 300×200", w, h)
	}
	w, h = crop.BoundingBox(300, 200, 90)
	if math.Abs(w-200) > 1e-9 || math.Abs(h-300) > 1e-9 {
		t.Fatalf("90°: %v×%v, want 200×300", w, h)
	}
}

func TestCrop_Rotated45(t *testing.T) {
	w, h := crop.BoundingBox(100, 100, 45)
	if math.Abs(w-141.42) > 0.01 || math.Abs(h-141.42) > 0.01 {
		t.Fatalf("bbox = %.2f×%.2f, want ≈141.42", w, h)
	}

	out, err := newEngine().Crop(context.Background(), jpegBlob(t, 100, 100), core.CropSpec{
		Rect:            core.Rect{Width: 141, Height: 141},
		RotationDegrees: 45,
	})
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	if gw, gh := decodedSize(t, out); gw != 141 || gh != 141 {
		t.Fatalf("output = %dx%d, want 141x141", gw, gh)
	}
}

func TestCrop_Variants(t *testing.T) {
	cases := []struct {
		name  string
		src   func(*testing.T) core.Blob
		spec  core.CropSpec
		wantW int
		wantH int
	}{
		{
			name:  "plain rect",
			src:   func(t *testing.T) core.Blob { return jpegBlob(t, 200, 100) },
			spec:  core.CropSpec{Rect: core.Rect{X: 10, Y: 10, Width: 50, Height: 40}},
			wantW: 50, wantH: 40,
		},
		{
			name:  "rotate 90 then crop",
			src:   func(t *testing.T) core.Blob { return jpegBlob(t, 200, 100) },
			spec:  core.CropSpec{Rect: core.Rect{Width: 100, Height: 200}, RotationDegrees: 90},
			wantW: 100, wantH: 200,
		},
		{
			name: "flip both with round shape",
			src:  func(t *testing.T) core.Blob { return jpegBlob(t, 80, 80) },
			spec: core.CropSpec{
				Rect:  core.Rect{X: 20, Y: 20, Width: 40, Height: 40},
				Flip:  core.Flip{Horizontal: true, Vertical: true},
				Shape: core.ShapeRound,
			},
			wantW: 40, wantH: 40,
		},
		{
			name:  "png input becomes jpeg",
			src:   func(t *testing.T) core.Blob { return pngBlob(t, 64, 64) },
			spec:  core.CropSpec{Rect: core.Rect{Width: 32, Height: 16}, RotationDegrees: -180},
			wantW: 32, wantH: 16,
		},
	}
	eng := newEngine()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := eng.Crop(context.Background(), tc.src(t), tc.spec)
			if err != nil {
				t.Fatalf("Crop: %v", err)
			}
			if w, h := decodedSize(t, out); w != tc.wantW || h != tc.wantH {
				t.Fatalf("output = %dx%d, want %dx%d", w, h, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]core.CropSpec{
		"rotation too large": {Rect: core.Rect{Width: 1, Height: 1}, RotationDegrees: 181},
		"rotation NaN":       {Rect: core.Rect{Width: 1, Height: 1}, RotationDegrees: math.NaN()},
		"empty width":        {Rect: core.Rect{Height: 1}},
		"negative height":    {Rect: core.Rect{Width: 1, Height: -4}},
		"unknown shape":      {Rect: core.Rect{Width: 1, Height: 1}, Shape: "star"},
	}
	for name, spec := range cases {
		err := crop.Validate(spec)
		if !errors.Is(err, apperrors.ErrInvalidCrop) {
			t.Errorf("%s: got %v, want ErrInvalidCrop", name, err)
		}
	}
	if err := crop.Validate(core.CropSpec{Rect: core.Rect{Width: 1, Height: 1}, RotationDegrees: -180}); err != nil {
		t.Errorf("valid spec rejected: %v", err)
	}
}

func TestCrop_RenderFailure(t *testing.T) {
	eng := newEngine(crop.WithLimits(pipeline.SurfaceLimits{MaxSide: 50}))
	_, err := eng.Crop(context.Background(), jpegBlob(t, 100, 100), core.CropSpec{
		Rect: core.Rect{Width: 10, Height: 10},
	})
	if !apperrors.IsCategory(err, apperrors.CategoryRender) {
		t.Fatalf("got %v, want a render error", err)
	}
	if apperrors.IsRetryable(err) {
		t.Fatal("render errors must not be retryable")
	}
}

func TestCrop_NoEncoder(t *testing.T) {
	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatJPEG, codec.NewJPEG(0))
	_, err := crop.New(reg).Crop(context.Background(), jpegBlob(t, 10, 10), core.CropSpec{
		Rect: core.Rect{Width: 5, Height: 5},
	})
	if !errors.Is(err, apperrors.ErrSurfaceUnavailable) {
		t.Fatalf("got %v, want ErrSurfaceUnavailable", err)
	}
}

func TestCrop_GarbageInput(t *testing.T) {
	_, err := newEngine().Crop(context.Background(), core.Blob{Data: []byte("not an image at all")}, core.CropSpec{
		Rect: core.Rect{Width: 5, Height: 5},
	})
	if !apperrors.IsCategory(err, apperrors.CategoryDecode) {
		t.Fatalf("got %v, want a decode error", err)
	}
}

func TestApply_DescribesOutput(t *testing.T) {
	in := &core.PreprocessedImage{Blob: jpegBlob(t, 120, 90), Width: 120, Height: 90}
	out, err := newEngine().Apply(context.Background(), in, core.CropSpec{Rect: core.Rect{Width: 60, Height: 30}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Width != 60 || out.Height != 30 {
		t.Fatalf("size = %dx%d, want 60x30", out.Width, out.Height)
	}
	if out.SizeBytes != int64(len(out.Blob.Data)) {
		t.Fatalf("SizeBytes = %d, blob has %d", out.SizeBytes, len(out.Blob.Data))
	}
	if out.Quality != 0.85 {
		t.Fatalf("Quality = %v, want 0.85", out.Quality)
	}
}
