// Package imageuploader turns user images into durable remote copies: it
// bounds and re-encodes them, applies an optional crop, uploads through the
// healthiest provider with retry and fallback, and records the result.
package imageuploader

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/image-uploader/adapters/codec"
	"github.com/Skryldev/image-uploader/adapters/healthstore"
	"github.com/Skryldev/image-uploader/adapters/provider"
	"github.com/Skryldev/image-uploader/adapters/recordstore"
	"github.com/Skryldev/image-uploader/adapters/vips"
	"github.com/Skryldev/image-uploader/config"
	"github.com/Skryldev/image-uploader/core"
	"github.com/Skryldev/image-uploader/crop"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/health"
	"github.com/Skryldev/image-uploader/hooks"
	"github.com/Skryldev/image-uploader/persist"
	"github.com/Skryldev/image-uploader/pipeline"
	"github.com/Skryldev/image-uploader/preprocess"
	"github.com/Skryldev/image-uploader/upload"
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Deps overrides what New would otherwise build from the configuration.
// Every field is optional.
type Deps struct {
	Providers   *core.ProviderSet
	HealthStore core.HealthStore
	RecordStore core.RecordStore
	Logger      core.Logger
	Metrics     core.MetricsCollector
	Progress    core.ProgressSink
	Hooks       []core.Hook
}

// Request is one image to upload.
type Request struct {
	Source   core.Source
	Crop     *core.CropSpec
	Category string
	// MaxRetries overrides the configured per-provider retry budget.
	MaxRetries *int
	// Progress receives this call's events in addition to Deps.Progress.
	Progress core.ProgressSink
}

// Response is the outcome of a successful remote upload.  Record is nil when
// persistence failed; the error is then a *persist.PersistError.
type Response struct {
	Image  *core.PreprocessedImage
	Result *core.UploadResult
	Record *core.ImageRecord
}

// Uploader wires the preprocessor, crop engine, health registry,
// orchestrator and persistence adapter.  It is safe for concurrent use.
type Uploader struct {
	cfg     config.Config
	pre     *preprocess.Preprocessor
	crop    *crop.Engine
	health  *health.Registry
	orch    *upload.Orchestrator
	records *persist.Adapter
	logger  core.Logger
	sink    core.ProgressSink
	closers []func()

	// Worker pool.  submitMu orders Submit against Stop so that nothing is
	// enqueued after the final drain.
	jobQueue chan Job
	wg       sync.WaitGroup
	start    sync.Once
	stop     sync.Once
	submitMu sync.RWMutex
	shutdown chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
}

// New validates cfg and builds an Uploader.  Stores and providers not given
// in deps are built from cfg; Close releases them.
func New(ctx context.Context, cfg config.Config, deps Deps) (*Uploader, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "uploader.new", err)
	}
	u := &Uploader{cfg: cfg, logger: deps.Logger, sink: deps.Progress, shutdown: make(chan struct{})}
	if u.logger == nil {
		u.logger = hooks.NopLogger{}
	}
	ok := false
	defer func() {
		if !ok {
			u.Close()
		}
	}()

	providers := deps.Providers
	if providers == nil {
		var err error
		if providers, err = provider.BuildSet(ctx, cfg.Providers, cfg.Upload.ProviderTimeout); err != nil {
			return nil, err
		}
	}
	healthStore, err := u.healthStore(ctx, deps.HealthStore)
	if err != nil {
		return nil, err
	}
	recordStore, err := u.recordStore(ctx, deps.RecordStore)
	if err != nil {
		return nil, err
	}

	stepHooks := append([]core.Hook{hooks.NewLoggingHook(u.logger)}, deps.Hooks...)
	if deps.Metrics != nil {
		stepHooks = append(stepHooks, hooks.NewMetricsHook(deps.Metrics))
	}

	preOpts := []preprocess.Option{
		preprocess.WithOptions(preprocess.Options{
			MaxWidth:       cfg.Preprocess.MaxWidth,
			MaxHeight:      cfg.Preprocess.MaxHeight,
			InitialQuality: cfg.Preprocess.InitialQuality,
			QualityFloor:   cfg.Preprocess.QualityFloor,
			QualityStep:    cfg.Preprocess.QualityStep,
			SizeCapBytes:   cfg.Preprocess.SizeCapBytes,
			MaxInputBytes:  cfg.Preprocess.MaxInputBytes,
		}),
		preprocess.WithHooks(stepHooks...),
	}
	var preReg core.Registry = codec.NewRegistry(codec.DefaultQuality)
	if cfg.Backend == config.BackendVips {
		backend := vips.NewBackend(vips.BackendConfig{MaxWorkers: cfg.WorkerCount})
		u.closers = append(u.closers, backend.Shutdown)
		preReg = backend.Registry()
		preOpts = append(preOpts, preprocess.WithResizer(backend.Resizer))
	}
	u.pre = preprocess.New(preReg, preOpts...)
	u.crop = crop.New(codec.NewRegistry(crop.OutputQuality),
		crop.WithLimits(pipeline.SurfaceLimits{MaxSide: cfg.Crop.MaxSurfaceSide, MaxPixels: cfg.Crop.MaxSurfacePixels}),
		crop.WithHooks(stepHooks...),
	)

	u.health = health.NewRegistry(healthStore, providers.Names())
	orchOpts := []upload.Option{
		upload.WithConfig(upload.Config{
			MaxRetries:      cfg.Upload.MaxRetries,
			BackoffBase:     cfg.Upload.BackoffBase,
			MaxBackoff:      cfg.Upload.MaxBackoff,
			ProviderTimeout: cfg.Upload.ProviderTimeout,
		}),
		upload.WithLogger(u.logger),
	}
	if deps.Metrics != nil {
		orchOpts = append(orchOpts, upload.WithMetrics(deps.Metrics))
	}
	u.orch = upload.New(providers, u.health, orchOpts...)
	u.records = persist.New(recordStore, u.logger)

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	u.jobQueue = make(chan Job, queueSize)
	ok = true
	return u, nil
}

func (u *Uploader) healthStore(ctx context.Context, given core.HealthStore) (core.HealthStore, error) {
	if given != nil {
		return given, nil
	}
	if u.cfg.Health.Store == "redis" {
		rs, err := healthstore.NewRedis(ctx, u.cfg.Health.RedisURL, u.cfg.Health.KeyPrefix)
		if err != nil {
			return nil, err
		}
		u.closers = append(u.closers, func() { _ = rs.Close() })
		return rs, nil
	}
	return healthstore.NewMemory(), nil
}

func (u *Uploader) recordStore(ctx context.Context, given core.RecordStore) (core.RecordStore, error) {
	if given != nil {
		return given, nil
	}
	if u.cfg.Records.Store == "postgres" {
		pg, err := recordstore.NewPostgres(ctx, u.cfg.Records.DatabaseURL)
		if err != nil {
			return nil, err
		}
		u.closers = append(u.closers, pg.Close)
		if u.cfg.Records.AutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, apperrors.Wrap(apperrors.CategoryStorage, "uploader.migrate", err)
			}
		}
		return pg, nil
	}
	return recordstore.NewMemory(), nil
}

// Close stops the worker pool and releases stores and backends built by New.
func (u *Uploader) Close() {
	u.Stop()
	for i := len(u.closers) - 1; i >= 0; i-- {
		u.closers[i]()
	}
	u.closers = nil
}

// Health exposes the provider health registry.
func (u *Uploader) Health() *health.Registry { return u.health }

// Records exposes update, soft-delete and query over stored image records.
func (u *Uploader) Records() *persist.Adapter { return u.records }

// Preprocessor returns the configured preprocessor.
func (u *Uploader) Preprocessor() *preprocess.Preprocessor { return u.pre }

// CropEngine returns the configured crop engine.
func (u *Uploader) CropEngine() *crop.Engine { return u.crop }

// Upload runs guard, preprocess, optional crop, orchestrated upload and
// persistence.  Decode, render and input errors stop the call before any
// provider is contacted.  A persistence failure returns the Response (with
// Result set) together with a *persist.PersistError.
func (u *Uploader) Upload(ctx context.Context, req Request) (*Response, error) {
	resp, err := u.upload(ctx, req)
	if err != nil && (resp == nil || resp.Result == nil) {
		u.failed.Add(1)
	} else {
		u.processed.Add(1)
	}
	return resp, err
}

func (u *Uploader) upload(ctx context.Context, req Request) (*Response, error) {
	img, err := u.pre.Preprocess(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	if req.Crop != nil {
		if img, err = u.crop.Apply(ctx, img, *req.Crop); err != nil {
			return nil, err
		}
	}

	maxRetries := -1
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	orch := u.orch
	if req.Progress != nil {
		orch = orch.WithSink(hooks.Fanout{u.sink, req.Progress})
	} else if u.sink != nil {
		orch = orch.WithSink(u.sink)
	}
	res, err := orch.UploadWithFallback(ctx, img, req.Source.Name, maxRetries)
	if err != nil {
		return nil, err
	}

	resp := &Response{Image: img, Result: res}
	rec, err := u.records.Persist(ctx, res, req.Category)
	if err != nil {
		return resp, err
	}
	resp.Record = rec
	return resp, nil
}

// Batch uploads reqs concurrently, at most BatchConcurrency at a time.  Every
// request runs to completion independently; results and errors are indexed
// like reqs.
func (u *Uploader) Batch(ctx context.Context, reqs []Request) ([]*Response, []error) {
	results := make([]*Response, len(reqs))
	errs := make([]error, len(reqs))

	limit := u.cfg.BatchConcurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range reqs {
		g.Go(func() error {
			results[i], errs[i] = u.Upload(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait()
	return results, errs
}

// ── Worker pool ───────────────────────────────────────────────────────────────

// Job is a unit of work for the worker pool.
type Job struct {
	ID      string
	Ctx     context.Context //nolint:containedctx // async jobs carry their caller's context
	Request Request
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID    string
	Response *Response
	Err      error
}

// Start launches the worker pool.  It is idempotent.
func (u *Uploader) Start() {
	u.start.Do(func() {
		workers := u.cfg.WorkerCount
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		for i := 0; i < workers; i++ {
			u.wg.Add(1)
			go u.worker()
		}
	})
}

// Stop shuts the workers down after their current job.  Queued jobs that
// were not picked up are answered with a cancelled error.
func (u *Uploader) Stop() {
	u.stop.Do(func() {
		u.submitMu.Lock()
		close(u.shutdown)
		u.submitMu.Unlock()
		u.wg.Wait()
		for {
			select {
			case job := <-u.jobQueue:
				u.reply(job, nil, apperrors.Cancelled("uploader.stop", nil))
			default:
				return
			}
		}
	})
}

// Submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is
// full.
func (u *Uploader) Submit(job Job) error {
	u.submitMu.RLock()
	defer u.submitMu.RUnlock()
	select {
	case <-u.shutdown:
		return apperrors.Cancelled("submit", nil)
	default:
	}
	select {
	case u.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Stats returns how many uploads reached a provider and how many did not.
func (u *Uploader) Stats() (processed, failed int64) {
	return u.processed.Load(), u.failed.Load()
}

func (u *Uploader) worker() {
	defer u.wg.Done()
	for {
		select {
		case <-u.shutdown:
			return
		case job := <-u.jobQueue:
			u.runJob(job)
		}
	}
}

func (u *Uploader) runJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if u.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.JobTimeout)
		defer cancel()
	}
	resp, err := u.Upload(ctx, job.Request)
	var pe *persist.PersistError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		u.logger.Warn("uploader.job.persist_failed", "job", job.ID, "url", pe.Result.RemoteURL, "error", err.Error())
	default:
		u.logger.Warn("uploader.job.failed", "job", job.ID, "error", err.Error())
	}
	u.reply(job, resp, err)
}

func (u *Uploader) reply(job Job, resp *Response, err error) {
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Response: resp, Err: err}
	}
}
