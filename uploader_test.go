package imageuploader_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	imageuploader "github.com/Skryldev/image-uploader"
	"github.com/Skryldev/image-uploader/adapters/recordstore"
	"github.com/Skryldev/image-uploader/config"
	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/persist"
)

// host accepts every upload after failing the first failFirst calls.
type host struct {
	name      string
	failFirst int

	mu    sync.Mutex
	calls int
	got   []core.Blob
}

func (h *host) Name() string { return h.name }

func (h *host) Upload(ctx context.Context, b core.Blob, filename string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.calls <= h.failFirst {
		return "", fmt.Errorf("%s: 502 bad gateway", h.name)
	}
	h.got = append(h.got, b)
	return fmt.Sprintf("https://%s.example.com/%d/%s", h.name, h.calls, filename), nil
}

type brokenRecords struct{ *recordstore.Memory }

func (brokenRecords) Save(context.Context, core.ImageMetadata) (*core.ImageRecord, error) {
	return nil, errors.New("connection refused")
}

func testConfig() config.Config {
	cfg := imageuploader.DefaultConfig()
	cfg.WorkerCount = 2
	cfg.Upload.BackoffBase = time.Millisecond
	cfg.Upload.ProviderTimeout = 5 * time.Second
	return cfg
}

func newUploader(t *testing.T, cfg config.Config, deps imageuploader.Deps, hosts ...core.Provider) *imageuploader.Uploader {
	t.Helper()
	set, err := core.NewProviderSet(hosts...)
	if err != nil {
		t.Fatal(err)
	}
	deps.Providers = set
	up, err := imageuploader.New(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(up.Close)
	return up
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUpload_EndToEnd(t *testing.T) {
	a := &host{name: "a", failFirst: 10}
	b := &host{name: "b"}
	cfg := testConfig()
	cfg.Upload.MaxRetries = 0
	cfg.Preprocess.MaxWidth, cfg.Preprocess.MaxHeight = 160, 90
	up := newUploader(t, cfg, imageuploader.Deps{}, a, b)

	resp, err := up.Upload(context.Background(), imageuploader.Request{
		Source:   imageuploader.FromBytes(jpegBytes(t, 320, 240), "Beach Day.png"),
		Category: "gallery",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if resp.Image.Width != 120 || resp.Image.Height != 90 {
		t.Fatalf("image = %dx%d, want 120x90", resp.Image.Width, resp.Image.Height)
	}
	if resp.Result.ProviderName != "b" || len(resp.Result.Attempts) != 2 {
		t.Fatalf("result = %+v", resp.Result)
	}
	rec := resp.Record
	if rec == nil || rec.ID == "" || !rec.IsActive {
		t.Fatalf("record = %+v", rec)
	}
	if rec.URL != resp.Result.RemoteURL || rec.UploadService != "b" || rec.Category != "gallery" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Filename != "Beach_Day.jpg" || rec.OriginalFilename != "Beach Day.png" || rec.MIMEType != "image/jpeg" {
		t.Fatalf("record naming = %+v", rec)
	}
	if len(b.got) != 1 || int64(len(b.got[0].Data)) != rec.SizeBytes {
		t.Fatalf("b received %d blobs", len(b.got))
	}

	recs, err := up.Records().Query(context.Background(), core.RecordFilter{Category: "gallery"})
	if err != nil || len(recs) != 1 || recs[0].ID != rec.ID {
		t.Fatalf("Query = %v, %v", recs, err)
	}

	snap, err := up.Health().Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 || snap[0].SuccessfulUploads != 0 || snap[1].SuccessfulUploads != 1 {
		t.Fatalf("health = %+v", snap)
	}
	if order, _ := up.Health().Rank(context.Background()); order[0] != "b" {
		t.Fatalf("rank = %v, want b first", order)
	}
	if p, f := up.Stats(); p != 1 || f != 0 {
		t.Fatalf("stats = %d/%d", p, f)
	}
}

func TestUpload_Crop(t *testing.T) {
	h := &host{name: "h"}
	up := newUploader(t, testConfig(), imageuploader.Deps{}, h)

	resp, err := up.Upload(context.Background(), imageuploader.Request{
		Source: imageuploader.FromBytes(jpegBytes(t, 200, 100), "avatar.jpg"),
		Crop: &core.CropSpec{
			Rect:  core.Rect{X: 10, Y: 10, Width: 50, Height: 40},
			Flip:  core.Flip{Horizontal: true},
			Shape: core.ShapeRound,
		},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if resp.Image.Width != 50 || resp.Image.Height != 40 {
		t.Fatalf("cropped = %dx%d", resp.Image.Width, resp.Image.Height)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(h.got[0].Data))
	if err != nil || cfg.Width != 50 || cfg.Height != 40 {
		t.Fatalf("uploaded blob = %+v, %v", cfg, err)
	}
	if resp.Record.Width != 50 || resp.Record.Category != "general" {
		t.Fatalf("record = %+v", resp.Record)
	}
}

func TestUpload_StopsBeforeProviders(t *testing.T) {
	cases := []struct {
		name string
		req  imageuploader.Request
		cat  apperrors.Category
	}{
		{"not an image", imageuploader.Request{Source: imageuploader.FromBytes([]byte("%PDF-1.4 hello"), "doc.pdf")}, apperrors.CategoryInput},
		{"corrupt bytes", imageuploader.Request{Source: imageuploader.FromReader(bytes.NewReader([]byte("garbage")), "image/jpeg", "x.jpg", 7)}, apperrors.CategoryDecode},
		{"bad crop", imageuploader.Request{
			Source: imageuploader.FromBytes(jpegBytes(t, 40, 40), "x.jpg"),
			Crop:   &core.CropSpec{Rect: core.Rect{Width: 0, Height: 10}},
		}, apperrors.CategoryInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &host{name: "h"}
			up := newUploader(t, testConfig(), imageuploader.Deps{}, h)
			resp, err := up.Upload(context.Background(), tc.req)
			if err == nil || resp != nil {
				t.Fatalf("got %v, %v", resp, err)
			}
			if !apperrors.IsCategory(err, tc.cat) {
				t.Fatalf("err = %v, want category %s", err, tc.cat)
			}
			if h.calls != 0 {
				t.Fatalf("provider called %d times", h.calls)
			}
			if _, f := up.Stats(); f != 1 {
				t.Fatalf("failed = %d", f)
			}
		})
	}
}

func TestUpload_Exhausted(t *testing.T) {
	a := &host{name: "a", failFirst: 100}
	cfg := testConfig()
	cfg.Upload.MaxRetries = 5
	up := newUploader(t, cfg, imageuploader.Deps{}, a)

	retries := 1
	_, err := up.Upload(context.Background(), imageuploader.Request{
		Source:     imageuploader.FromBytes(jpegBytes(t, 20, 20), "x.jpg"),
		MaxRetries: &retries,
	})
	var ex *apperrors.AllProvidersExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want exhausted", err)
	}
	if ex.Attempts != 2 || a.calls != 2 {
		t.Fatalf("attempts = %d calls = %d, want 2 (request override)", ex.Attempts, a.calls)
	}
	recs, _ := up.Records().Query(context.Background(), core.RecordFilter{})
	if len(recs) != 0 {
		t.Fatalf("records = %d after exhaustion", len(recs))
	}
}

func TestUpload_PersistFailureKeepsResult(t *testing.T) {
	h := &host{name: "h"}
	up := newUploader(t, testConfig(), imageuploader.Deps{RecordStore: brokenRecords{recordstore.NewMemory()}}, h)

	resp, err := up.Upload(context.Background(), imageuploader.Request{Source: imageuploader.FromBytes(jpegBytes(t, 30, 30), "x.jpg")})
	var pe *persist.PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *persist.PersistError", err)
	}
	if resp == nil || resp.Result == nil || resp.Record != nil {
		t.Fatalf("resp = %+v", resp)
	}
	if pe.Result.RemoteURL != resp.Result.RemoteURL || !apperrors.IsCategory(err, apperrors.CategoryStorage) {
		t.Fatalf("persist error = %v", pe)
	}
	if p, _ := up.Stats(); p != 1 {
		t.Fatalf("processed = %d, the remote upload succeeded", p)
	}
}

func TestUpload_RequestProgress(t *testing.T) {
	var mu sync.Mutex
	var shared, own []core.ProgressStatus
	sharedSink := core.ProgressFunc(func(ev core.ProgressEvent) {
		mu.Lock()
		shared = append(shared, ev.Status)
		mu.Unlock()
	})
	up := newUploader(t, testConfig(), imageuploader.Deps{Progress: sharedSink}, &host{name: "h"})

	_, err := up.Upload(context.Background(), imageuploader.Request{
		Source: imageuploader.FromBytes(jpegBytes(t, 30, 30), "x.jpg"),
		Progress: core.ProgressFunc(func(ev core.ProgressEvent) {
			mu.Lock()
			own = append(own, ev.Status)
			mu.Unlock()
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []core.ProgressStatus{core.StatusUploading, core.StatusCompleted}
	if fmt.Sprint(shared) != fmt.Sprint(want) || fmt.Sprint(own) != fmt.Sprint(want) {
		t.Fatalf("shared = %v own = %v", shared, own)
	}
}

func TestBatch(t *testing.T) {
	h := &host{name: "h"}
	up := newUploader(t, testConfig(), imageuploader.Deps{}, h)

	good := jpegBytes(t, 40, 30)
	reqs := []imageuploader.Request{
		{Source: imageuploader.FromBytes(good, "one.jpg")},
		{Source: imageuploader.FromBytes([]byte("nope"), "two.jpg")},
		{Source: imageuploader.FromBytes(good, "three.jpg")},
	}
	results, errs := up.Batch(context.Background(), reqs)
	if len(results) != 3 || len(errs) != 3 {
		t.Fatalf("lengths %d/%d", len(results), len(errs))
	}
	if errs[0] != nil || errs[2] != nil || errs[1] == nil {
		t.Fatalf("errs = %v", errs)
	}
	if results[0].Record.OriginalFilename != "one.jpg" || results[2].Record.OriginalFilename != "three.jpg" {
		t.Fatalf("results out of order")
	}
	if p, f := up.Stats(); p != 2 || f != 1 {
		t.Fatalf("stats = %d/%d", p, f)
	}
}

func TestWorkerPool(t *testing.T) {
	up := newUploader(t, testConfig(), imageuploader.Deps{}, &host{name: "h"})
	up.Start()
	up.Start()

	const n = 4
	resultCh := make(chan imageuploader.JobResult, n)
	for i := 0; i < n; i++ {
		err := up.Submit(imageuploader.Job{
			ID:       fmt.Sprintf("job-%d", i),
			Ctx:      context.Background(),
			Request:  imageuploader.Request{Source: imageuploader.FromBytes(jpegBytes(t, 24, 24), "x.jpg")},
			ResultCh: resultCh,
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	seen := map[string]bool{}
	for i := 0; i < n; i++ {
		select {
		case res := <-resultCh:
			if res.Err != nil || res.Response.Record == nil {
				t.Fatalf("%s: %v", res.JobID, res.Err)
			}
			seen[res.JobID] = true
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	if len(seen) != n {
		t.Fatalf("seen = %v", seen)
	}

	up.Stop()
	err := up.Submit(imageuploader.Job{ID: "late"})
	if !apperrors.IsCancelled(err) {
		t.Fatalf("Submit after Stop = %v", err)
	}
}

func TestWorkerPool_QueueFullAndStop(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	up := newUploader(t, cfg, imageuploader.Deps{}, &host{name: "h"})

	// Not started: the queue holds one job.
	resultCh := make(chan imageuploader.JobResult, 1)
	job := imageuploader.Job{ID: "queued", Request: imageuploader.Request{Source: imageuploader.FromBytes(jpegBytes(t, 8, 8), "x.jpg")}, ResultCh: resultCh}
	if err := up.Submit(job); err != nil {
		t.Fatal(err)
	}
	err := up.Submit(imageuploader.Job{ID: "overflow"})
	if !errors.Is(err, apperrors.ErrWorkerPoolFull) {
		t.Fatalf("err = %v, want ErrWorkerPoolFull", err)
	}

	up.Stop()
	res := <-resultCh
	if res.JobID != "queued" || !apperrors.IsCancelled(res.Err) {
		t.Fatalf("queued job = %+v", res)
	}
}

func TestWorkerPool_SubmitRacingStopAlwaysReplies(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 512
	up := newUploader(t, cfg, imageuploader.Deps{}, &host{name: "h"})

	const n = 200
	resultCh := make(chan imageuploader.JobResult, n)
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := up.Submit(imageuploader.Job{ID: fmt.Sprint(i), ResultCh: resultCh})
			if err == nil {
				accepted.Add(1)
			} else if !apperrors.IsCancelled(err) {
				t.Errorf("Submit: %v", err)
			}
		}()
		if i == n/2 {
			go up.Stop()
		}
	}
	wg.Wait()
	up.Stop()

	for i := int64(0); i < accepted.Load(); i++ {
		select {
		case res := <-resultCh:
			if !apperrors.IsCancelled(res.Err) {
				t.Fatalf("job %s: %v", res.JobID, res.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d accepted jobs were answered", i, accepted.Load())
		}
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Upload.MaxRetries = -1
	_, err := imageuploader.New(context.Background(), cfg, imageuploader.Deps{})
	if !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestNew_BuildsConfiguredProviders(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Providers = []config.ProviderConfig{{Name: "disk", Kind: config.ProviderLocal, Dir: dir}}
	up, err := imageuploader.New(context.Background(), cfg, imageuploader.Deps{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer up.Close()

	resp, err := up.Upload(context.Background(), imageuploader.Request{Source: imageuploader.FromBytes(jpegBytes(t, 16, 16), "disk.jpg")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if resp.Result.ProviderName != "disk" {
		t.Fatalf("provider = %q", resp.Result.ProviderName)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) == 0 {
		t.Fatal("nothing written to the provider dir")
	}
}

func TestSources(t *testing.T) {
	var pngBuf bytes.Buffer
	if err := png.Encode(&pngBuf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}

	t.Run("bytes sniffing", func(t *testing.T) {
		cases := map[string]struct {
			data []byte
			want string
		}{
			"jpeg": {jpegBytes(t, 4, 4), "image/jpeg"},
			"png":  {pngBuf.Bytes(), "image/png"},
			"text": {[]byte("hello world"), "text/plain; charset=utf-8"},
		}
		for name, tc := range cases {
			src := imageuploader.FromBytes(tc.data, name)
			if src.ContentType != tc.want || src.Size != int64(len(tc.data)) || src.Name != name {
				t.Errorf("%s: %+v", name, src)
			}
		}
	})

	t.Run("file", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "shot.png")
		if err := os.WriteFile(p, pngBuf.Bytes(), 0o600); err != nil {
			t.Fatal(err)
		}
		src, closer, err := imageuploader.FromFile(p)
		if err != nil {
			t.Fatal(err)
		}
		defer closer.Close()
		if src.ContentType != "image/png" || src.Name != "shot.png" || src.Size != int64(pngBuf.Len()) {
			t.Fatalf("src = %+v", src)
		}
	})

	t.Run("file without known extension", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "clipboard-dump")
		if err := os.WriteFile(p, pngBuf.Bytes(), 0o600); err != nil {
			t.Fatal(err)
		}
		src, closer, err := imageuploader.FromFile(p)
		if err != nil {
			t.Fatal(err)
		}
		defer closer.Close()
		if src.ContentType != "image/png" {
			t.Fatalf("content type = %q", src.ContentType)
		}
		got, err := io.ReadAll(src.Reader)
		if err != nil || !bytes.Equal(got, pngBuf.Bytes()) {
			t.Fatalf("sniffing must not consume the input (%d bytes, %v)", len(got), err)
		}
	})

	t.Run("undeclared reader", func(t *testing.T) {
		up := newUploader(t, testConfig(), imageuploader.Deps{}, &host{name: "h"})
		data := jpegBytes(t, 8, 8)
		_, err := up.Upload(context.Background(), imageuploader.Request{
			Source: imageuploader.FromReader(bytes.NewReader(data), "", "x.jpg", int64(len(data))),
		})
		if !errors.Is(err, apperrors.ErrNotImage) {
			t.Fatalf("err = %v, want ErrNotImage", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := imageuploader.FromFile(filepath.Join(t.TempDir(), "gone.jpg"))
		if !apperrors.IsCategory(err, apperrors.CategoryInput) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("non-http url", func(t *testing.T) {
		_, _, err := imageuploader.FromURL(context.Background(), nil, "ftp://example.com/a.jpg")
		if !apperrors.IsCategory(err, apperrors.CategoryInput) {
			t.Fatalf("err = %v", err)
		}
	})
}
