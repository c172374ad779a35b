package core

import (
	"context"
	"io"
	"time"
)

// Decoder converts raw bytes / a reader into an in-memory ImageData.
// Implementations live in adapters/codec/ and adapters/vips/.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader) (*ImageData, error)
	CanDecode(format Format) bool
}

// Encoder serialises an ImageData to bytes in a target format.
type Encoder interface {
	Encode(ctx context.Context, img *ImageData, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality   int // 1-100; 0 = use encoder default
	StripEXIF bool
}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}

// Provider is a remote image host reachable only through Upload.  Wire
// formats (multipart fields, headers) are the implementation's business.
type Provider interface {
	Name() string
	Upload(ctx context.Context, blob Blob, filename string) (remoteURL string, err error)
}

// HealthStore persists per-provider statistics.
type HealthStore interface {
	// All returns every known record.
	All(ctx context.Context) ([]HealthRecord, error)
	// ActiveRanked returns active records ordered by RankRecords.
	ActiveRanked(ctx context.Context) ([]HealthRecord, error)
	// RecordOutcome applies one attempt to the provider's record, creating it
	// on first sight, and returns the updated record.
	RecordOutcome(ctx context.Context, report AttemptReport) (HealthRecord, error)
}

// RecordStore persists image records.
type RecordStore interface {
	Save(ctx context.Context, meta ImageMetadata) (*ImageRecord, error)
	Update(ctx context.Context, id string, patch RecordPatch) (*ImageRecord, error)
	SoftDelete(ctx context.Context, id string) (*ImageRecord, error)
	Query(ctx context.Context, filter RecordFilter) ([]*ImageRecord, error)
}

// ProgressSink receives orchestration progress.  Emit must not block the
// orchestrator for long.
type ProgressSink interface {
	Emit(ev ProgressEvent)
}

// ProgressFunc adapts a plain function to ProgressSink.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) Emit(ev ProgressEvent) { f(ev) }

// MetricsCollector receives performance observations.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordError(stepName string, category string)
	RecordAttempt(provider string, outcome AttemptOutcome, d time.Duration)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}
