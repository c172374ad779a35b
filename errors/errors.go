package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category classifies error types for targeted handling and monitoring.
type Category string

const (
	CategoryDecode    Category = "decode"
	CategoryEncode    Category = "encode"
	CategoryRender    Category = "render"
	CategoryPipeline  Category = "pipeline"
	CategoryProvider  Category = "provider"
	CategoryExhausted Category = "exhausted"
	CategoryCancelled Category = "cancelled"
	CategoryStorage   Category = "storage"
	CategoryConfig    Category = "config"
	CategoryInput     Category = "input"
)

// ProcessingError is the structured error type used throughout the module.
type ProcessingError struct {
	Category  Category
	Op        string // operation name
	Err       error
	Retryable bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// New creates a non-retryable ProcessingError.
func New(category Category, op string, err error) *ProcessingError {
	return &ProcessingError{Category: category, Op: op, Err: err}
}

// Wrap wraps an existing error with context.  A nil err yields nil.
func Wrap(category Category, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(category, op, err)
}

// Decode reports bytes that are not a usable raster image.  Never retried.
func Decode(op string, err error) error { return Wrap(CategoryDecode, op, err) }

// Render reports a crop surface that could not be acquired.  Never retried.
func Render(op string, err error) error { return Wrap(CategoryRender, op, err) }

// Provider wraps a single failed provider attempt.  The orchestrator
// recovers from these by retrying or falling back.
func Provider(name string, err error) *ProcessingError {
	return &ProcessingError{Category: CategoryProvider, Op: name, Err: err, Retryable: true}
}

// Cancelled marks a caller-initiated abort.  It is not a provider health signal.
func Cancelled(op string, err error) *ProcessingError {
	if err == nil {
		err = context.Canceled
	}
	return &ProcessingError{Category: CategoryCancelled, Op: op, Err: err}
}

// IsRetryable reports whether err represents a transient failure.  An
// exhausted error is terminal even though it wraps a provider failure.
func IsRetryable(err error) bool {
	var ex *AllProvidersExhaustedError
	if errors.As(err, &ex) {
		return false
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsCategory reports whether err belongs to the given category.
func IsCategory(err error, cat Category) bool {
	return CategoryOf(err) == cat
}

// CategoryOf returns the category of the outermost classified error in err's
// chain, or "" when there is none.
func CategoryOf(err error) Category {
	var ex *AllProvidersExhaustedError
	var pe *ProcessingError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ex) && !wrapsProcessingError(err, ex):
		return CategoryExhausted
	case errors.As(err, &pe):
		return pe.Category
	}
	return ""
}

// wrapsProcessingError reports whether a ProcessingError sits above ex in
// err's chain.
func wrapsProcessingError(err error, ex *AllProvidersExhaustedError) bool {
	for e := err; e != nil && e != error(ex); e = errors.Unwrap(e) {
		if _, ok := e.(*ProcessingError); ok {
			return true
		}
	}
	return false
}

// IsCancelled reports whether err is a caller cancellation.
func IsCancelled(err error) bool { return IsCategory(err, CategoryCancelled) }

// AllProvidersExhaustedError is returned once every ranked provider has spent
// its retry budget.  LastErr carries the final provider failure.
type AllProvidersExhaustedError struct {
	Attempts     int
	LastProvider string
	LastErr      error
}

func (e *AllProvidersExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("all providers exhausted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("all providers exhausted after %d attempts; last error from %s: %s",
		e.Attempts, e.LastProvider, Message(e.LastErr))
}

func (e *AllProvidersExhaustedError) Unwrap() error { return e.LastErr }

// Message returns the innermost human readable message of a provider error,
// without the category/op decoration.
func Message(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) && pe.Category == CategoryProvider && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}

// Sentinel errors for common failure modes.
var (
	ErrUnsupportedFormat  = errors.New("unsupported image format")
	ErrInvalidDimensions  = errors.New("invalid dimensions")
	ErrEmptyInput         = errors.New("empty input")
	ErrInputTooLarge      = errors.New("input exceeds size limit")
	ErrNotImage           = errors.New("declared content type is not an image")
	ErrInvalidCrop        = errors.New("invalid crop specification")
	ErrSurfaceUnavailable = errors.New("render surface unavailable")
	ErrNoProviders        = errors.New("no upload providers configured")
	ErrProviderStatus     = errors.New("provider returned an error status")
	ErrNotFound           = errors.New("record not found")
	ErrWorkerPoolFull     = errors.New("worker pool queue full")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
