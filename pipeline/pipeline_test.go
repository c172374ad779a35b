package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

// halves returns a w×h image whose left half is red and right half blue.
func halves(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := red
			if x >= w/2 {
				c = blue
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func near(a, b color.RGBA) bool {
	d := func(x, y uint8) int {
		if x > y {
			return int(x - y)
		}
		return int(y - x)
	}
	return d(a.R, b.R) <= 8 && d(a.G, b.G) <= 8 && d(a.B, b.B) <= 8 && d(a.A, b.A) <= 8
}

func TestBoundingBox(t *testing.T) {
	cases := []struct {
		w, h         int
		deg          float64
		wantW, wantH float64
	}{
		{100, 50, 0, 100, 50},
		{100, 50, 90, 50, 100},
		{100, 50, -90, 50, 100},
		{100, 50, 180, 100, 50},
		{100, 100, 45, 100 * math.Sqrt2, 100 * math.Sqrt2},
	}
	for _, tc := range cases {
		w, h := BoundingBox(tc.w, tc.h, tc.deg)
		if math.Abs(w-tc.wantW) > 1e-9 || math.Abs(h-tc.wantH) > 1e-9 {
			t.Errorf("BoundingBox(%d,%d,%v) = %.4f×%.4f, want %.4f×%.4f",
				tc.w, tc.h, tc.deg, w, h, tc.wantW, tc.wantH)
		}
	}
	if w, h := SurfaceSize(BoundingBox(100, 100, 45)); w != 141 || h != 141 {
		t.Errorf("SurfaceSize for 45° = %dx%d, want 141x141", w, h)
	}
}

func TestTransformStep_FlipHorizontal(t *testing.T) {
	step := &TransformStep{FlipH: true}
	out, err := step.Execute(context.Background(), &core.ImageData{Image: halves(20, 10)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	img := out.Image.(*image.RGBA)
	if out.Meta.Width != 20 || out.Meta.Height != 10 {
		t.Fatalf("size = %dx%d, want 20x10", out.Meta.Width, out.Meta.Height)
	}
	if got := img.RGBAAt(3, 5); !near(got, blue) {
		t.Errorf("left pixel = %v, want blue", got)
	}
	if got := img.RGBAAt(16, 5); !near(got, red) {
		t.Errorf("right pixel = %v, want red", got)
	}
}

func TestTransformStep_Rotate90(t *testing.T) {
	step := &TransformStep{Degrees: 90}
	out, err := step.Execute(context.Background(), &core.ImageData{Image: halves(20, 10)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Meta.Width != 10 || out.Meta.Height != 20 {
		t.Fatalf("size = %dx%d, want 10x20", out.Meta.Width, out.Meta.Height)
	}
	img := out.Image.(*image.RGBA)
	if got := img.RGBAAt(5, 3); !near(got, red) {
		t.Errorf("top pixel = %v, want red", got)
	}
	if got := img.RGBAAt(5, 16); !near(got, blue) {
		t.Errorf("bottom pixel = %v, want blue", got)
	}
}

func TestTransformStep_SurfaceLimits(t *testing.T) {
	cases := []struct {
		name   string
		limits SurfaceLimits
	}{
		{"side", SurfaceLimits{MaxSide: 10}},
		{"area", SurfaceLimits{MaxPixels: 100}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step := &TransformStep{Degrees: 30, Limits: tc.limits}
			_, err := step.Execute(context.Background(), &core.ImageData{Image: halves(20, 10)})
			if !errors.Is(err, apperrors.ErrSurfaceUnavailable) {
				t.Fatalf("got %v, want ErrSurfaceUnavailable", err)
			}
			if !apperrors.IsCategory(err, apperrors.CategoryRender) {
				t.Fatalf("category: got %v, want render", err)
			}
		})
	}
}

func TestExtractStep_OutsideStaysTransparent(t *testing.T) {
	step := &ExtractStep{Rect: core.Rect{X: 15, Y: 0, Width: 10, Height: 4}}
	out, err := step.Execute(context.Background(), &core.ImageData{Image: halves(20, 10)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	img := out.Image.(*image.RGBA)
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 4 {
		t.Fatalf("bounds = %v, want 10x4", b)
	}
	if got := img.RGBAAt(1, 1); got != blue {
		t.Errorf("inside pixel = %v, want blue", got)
	}
	if got := img.RGBAAt(8, 1); got.A != 0 {
		t.Errorf("outside pixel = %v, want transparent", got)
	}
}

func TestFitStep(t *testing.T) {
	step := &FitStep{MaxWidth: 40, MaxHeight: 30}
	out, err := step.Execute(context.Background(), &core.ImageData{Image: halves(400, 300)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Meta.Width != 40 || out.Meta.Height != 30 {
		t.Fatalf("size = %dx%d, want 40x30", out.Meta.Width, out.Meta.Height)
	}

	in := &core.ImageData{Image: halves(20, 10)}
	same, err := step.Execute(context.Background(), in)
	if err != nil || same != in {
		t.Fatalf("small image should pass through unchanged (err=%v)", err)
	}
}

type recordingHook struct{ before, after []string }

func (h *recordingHook) BeforeStep(_ context.Context, name string, _ *core.ImageData) {
	h.before = append(h.before, name)
}

func (h *recordingHook) AfterStep(_ context.Context, name string, _ *core.ImageData, _ time.Duration, _ error) {
	h.after = append(h.after, name)
}

type failStep struct{ err error }

func (f failStep) Name() string { return "fail" }
func (f failStep) Execute(context.Context, *core.ImageData) (*core.ImageData, error) {
	return nil, f.err
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	hook := &recordingHook{}
	pl := New(&FitStep{MaxWidth: 10, MaxHeight: 10}, failStep{boom}, &ExtractStep{}).AddHook(hook)

	_, timings, err := pl.Run(context.Background(), &core.ImageData{Image: halves(20, 10)})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if len(hook.before) != 2 || len(hook.after) != 2 {
		t.Fatalf("hooks saw %v / %v, want two steps", hook.before, hook.after)
	}
	if _, ok := timings["extract"]; ok {
		t.Fatal("extract ran after a failed step")
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New(&FitStep{}).Run(ctx, &core.ImageData{Image: halves(2, 2)})
	if !apperrors.IsCancelled(err) {
		t.Fatalf("got %v, want cancelled", err)
	}
}
