// Package upload drives a preprocessed image through the ranked providers
// until one of them accepts it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/health"
	"github.com/Skryldev/image-uploader/utils"
)

// Config bounds a single orchestrated upload.
type Config struct {
	// MaxRetries is the per-provider retry budget; attempts = MaxRetries+1.
	MaxRetries int
	// BackoffBase is multiplied by 2^attempt between retries.
	BackoffBase time.Duration
	// MaxBackoff caps a single wait.  0 uses DefaultMaxBackoff.
	MaxBackoff time.Duration
	// ProviderTimeout bounds every provider call.  0 disables the bound.
	ProviderTimeout time.Duration
}

// DefaultMaxBackoff caps the wait between two attempts on one provider.
const DefaultMaxBackoff = 10 * time.Minute

// DefaultConfig returns 2 retries, 1s backoff base and a 30s provider timeout.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, BackoffBase: time.Second, ProviderTimeout: 30 * time.Second}
}

// Orchestrator is safe for concurrent use.  All per-call state lives on the
// stack of UploadWithFallback; the registry is the only shared state.
type Orchestrator struct {
	providers *core.ProviderSet
	registry  *health.Registry
	cfg       Config
	sink      core.ProgressSink
	logger    core.Logger
	metrics   core.MetricsCollector
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig overrides DefaultConfig.
func WithConfig(c Config) Option { return func(o *Orchestrator) { o.cfg = c } }

// WithProgress sets the sink progress events are emitted onto.
func WithProgress(s core.ProgressSink) Option { return func(o *Orchestrator) { o.sink = s } }

// WithLogger sets the logger.
func WithLogger(l core.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithMetrics sets the metrics collector.
func WithMetrics(m core.MetricsCollector) Option { return func(o *Orchestrator) { o.metrics = m } }

// New returns an Orchestrator over providers, ranked by registry.
func New(providers *core.ProviderSet, registry *health.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		registry:  registry,
		cfg:       DefaultConfig(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithSink returns a copy of o that emits progress onto s instead.  Used to
// route one call's events to its own consumer.
func (o *Orchestrator) WithSink(s core.ProgressSink) *Orchestrator {
	cp := *o
	cp.sink = s
	return &cp
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// UploadWithFallback uploads img under a name derived from originalName.
// Providers are tried strictly in the order ranked at call start; each gets
// maxRetries+1 attempts (a negative value uses the configured budget).  The
// first success returns immediately.  When every attempt fails the error is
// an *errors.AllProvidersExhaustedError; a cancelled ctx yields a cancelled
// error and the interrupted attempt is not recorded.
func (o *Orchestrator) UploadWithFallback(ctx context.Context, img *core.PreprocessedImage, originalName string, maxRetries int) (*core.UploadResult, error) {
	if img == nil || len(img.Blob.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryInput, "upload", apperrors.ErrEmptyInput)
	}
	if maxRetries < 0 {
		maxRetries = o.cfg.MaxRetries
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Cancelled("upload", err)
	}

	queue := o.queue(ctx)
	filename := utils.ReplaceExtension(utils.SanitizeFilename(originalName), core.FormatJPEG.Extension())

	var (
		attempts     []core.UploadAttempt
		lastErr      error
		lastProvider string
	)
	for _, name := range queue {
		p, ok := o.providers.Get(name)
		if !ok {
			continue
		}
		res, err := o.uploadTo(ctx, p, img, filename, originalName, maxRetries, &attempts)
		if err == nil {
			return res, nil
		}
		if !apperrors.IsCategory(err, apperrors.CategoryProvider) {
			o.logInfo("upload.cancelled", "provider", name, "attempts", len(attempts))
			if apperrors.IsCancelled(err) {
				return nil, err
			}
			return nil, apperrors.Cancelled("upload.backoff", err)
		}
		lastErr, lastProvider = err, name
	}

	if lastErr == nil {
		lastErr = apperrors.ErrNoProviders
	}
	o.logError("upload.exhausted", "attempts", len(attempts), "last_provider", lastProvider, "error", lastErr.Error())
	return nil, &apperrors.AllProvidersExhaustedError{
		Attempts:     len(attempts),
		LastProvider: lastProvider,
		LastErr:      lastErr,
	}
}

// uploadTo spends one provider's retry budget.  It returns the result, the
// last provider error once the budget is gone, or a context error when ctx
// ends during an attempt or a backoff wait.
func (o *Orchestrator) uploadTo(ctx context.Context, p core.Provider, img *core.PreprocessedImage, filename, originalName string, maxRetries int, attempts *[]core.UploadAttempt) (*core.UploadResult, error) {
	name := p.Name()
	total := img.Blob.Size()
	attempt := 0

	op := func() (*core.UploadResult, error) {
		defer func() { attempt++ }()
		status := core.StatusUploading
		if attempt > 0 {
			status = core.StatusRetrying
		}
		o.emit(core.ProgressEvent{Total: total, Service: name, Status: status, Attempt: attempt})

		rec, url, err := o.try(ctx, p, img.Blob, filename, attempt)
		if err == nil {
			*attempts = append(*attempts, rec)
			o.emit(core.ProgressEvent{Loaded: total, Total: total, Percentage: 100, Service: name, Status: core.StatusCompleted, Attempt: attempt})
			o.logInfo("upload.completed", "provider", name, "attempt", attempt, "response_ms", rec.ResponseTimeMs, "url", url)
			if o.metrics != nil {
				o.metrics.RecordThroughput(total)
			}
			return &core.UploadResult{
				RemoteURL:    url,
				ProviderName: name,
				Metadata: core.UploadMetadata{
					Filename:         filename,
					OriginalFilename: originalName,
					SizeBytes:        total,
					Width:            img.Width,
					Height:           img.Height,
					MIMEType:         img.Blob.MIMEType,
				},
				Attempts: *attempts,
			}, nil
		}
		if apperrors.IsCancelled(err) {
			return nil, backoff.Permanent(err)
		}
		*attempts = append(*attempts, rec)
		o.emit(core.ProgressEvent{Total: total, Service: name, Status: core.StatusError, Attempt: attempt})
		o.logWarn("upload.attempt.failed", "provider", name, "attempt", attempt, "response_ms", rec.ResponseTimeMs, "error", rec.ErrorMessage)
		return nil, err
	}
	notify := func(_ error, wait time.Duration) {
		o.logDebug("upload.retry.scheduled", "provider", name, "next_attempt", attempt, "wait", wait.String())
	}
	return backoff.RetryNotifyWithData(op, o.newBackOff(ctx, maxRetries), notify)
}

// newBackOff yields BackoffBase*2^n for the n-th wait, without jitter, for
// at most maxRetries waits, and stops as soon as ctx ends.
func (o *Orchestrator) newBackOff(ctx context.Context, maxRetries int) backoff.BackOff {
	return backoff.WithContext(backoff.WithMaxRetries(exponential(o.cfg.BackoffBase, o.cfg.MaxBackoff), uint64(maxRetries)), ctx)
}

func exponential(base, ceiling time.Duration) *backoff.ExponentialBackOff {
	if ceiling <= 0 {
		ceiling = DefaultMaxBackoff
	}
	if base > ceiling {
		ceiling = base
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = ceiling
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// queue ranks once per call.  A health store outage degrades to the
// declaration order rather than failing the upload.
func (o *Orchestrator) queue(ctx context.Context) []string {
	names, err := o.registry.Rank(ctx)
	if err != nil {
		o.logWarn("upload.rank.failed", "error", err.Error())
		return o.providers.Names()
	}
	return names
}

// try performs one bounded provider call and records its outcome.  On
// success the returned error is nil; a caller cancellation is returned as a
// cancelled error without touching the registry.
func (o *Orchestrator) try(ctx context.Context, p core.Provider, blob core.Blob, filename string, attempt int) (core.UploadAttempt, string, error) {
	rec := core.UploadAttempt{ProviderName: p.Name(), AttemptIndex: attempt, StartedAt: o.now()}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.cfg.ProviderTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.ProviderTimeout)
	}
	url, err := p.Upload(callCtx, blob, filename)
	elapsed := o.now().Sub(rec.StartedAt)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	rec.ResponseTimeMs = elapsed.Milliseconds()

	if err == nil && url == "" {
		err = errors.New("provider returned an empty url")
	}
	if err == nil {
		rec.Outcome = core.OutcomeSuccess
		o.record(ctx, p.Name(), true, rec.ResponseTimeMs, "")
		o.observe(p.Name(), core.OutcomeSuccess, elapsed)
		return rec, url, nil
	}
	if ctx.Err() != nil {
		return rec, "", apperrors.Cancelled("upload."+p.Name(), ctx.Err())
	}
	if timedOut {
		err = fmt.Errorf("timed out after %s: %w", o.cfg.ProviderTimeout, err)
	}

	rec.Outcome = core.OutcomeFailure
	rec.ErrorMessage = err.Error()
	o.record(ctx, p.Name(), false, rec.ResponseTimeMs, rec.ErrorMessage)
	o.observe(p.Name(), core.OutcomeFailure, elapsed)
	return rec, "", apperrors.Provider(p.Name(), err)
}

func (o *Orchestrator) record(ctx context.Context, name string, success bool, ms int64, msg string) {
	if _, err := o.registry.RecordOutcome(ctx, name, success, ms, msg); err != nil {
		o.logWarn("upload.health.record_failed", "provider", name, "error", err.Error())
	}
}

func (o *Orchestrator) observe(name string, outcome core.AttemptOutcome, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordAttempt(name, outcome, d)
	}
}

func (o *Orchestrator) emit(ev core.ProgressEvent) {
	if o.sink != nil {
		o.sink.Emit(ev)
	}
}

func (o *Orchestrator) logDebug(msg string, kv ...interface{}) {
	if o.logger != nil {
		o.logger.Debug(msg, kv...)
	}
}

func (o *Orchestrator) logInfo(msg string, kv ...interface{}) {
	if o.logger != nil {
		o.logger.Info(msg, kv...)
	}
}

func (o *Orchestrator) logWarn(msg string, kv ...interface{}) {
	if o.logger != nil {
		o.logger.Warn(msg, kv...)
	}
}

func (o *Orchestrator) logError(msg string, kv ...interface{}) {
	if o.logger != nil {
		o.logger.Error(msg, kv...)
	}
}
