package core

import (
	"context"
	"io"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// MIMEType returns the canonical content type for f.
func (f Format) MIMEType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Extension returns the file extension (with dot) conventionally used for f.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	}
	return ""
}

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information.
type Metadata struct {
	Width      int
	Height     int
	Format     Format
	ColorSpace ColorSpace
	HasAlpha   bool
	SizeBytes  int64
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded pixel buffer when needed.
type ImageData struct {
	// Encoded bytes; non-nil when the image has been encoded or is raw input.
	Data   []byte
	Format Format

	// Decoded pixel buffer: image.Image for the stdlib codecs, *vips.Image
	// when the libvips backend decoded it.
	Image interface{}

	Meta Metadata

	// Quality (1-100) used by the most recent lossy encode; 0 before encoding.
	Quality int

	OriginalSize int64
}

// Blob is an encoded image ready for transmission.
type Blob struct {
	Data     []byte
	MIMEType string
}

// Size returns the blob length in bytes.
func (b Blob) Size() int64 { return int64(len(b.Data)) }

// PreprocessedImage is the bounded, re-encoded output of the preprocessor.
// Width and Height always describe the resized output.
type PreprocessedImage struct {
	Blob      Blob
	Width     int
	Height    int
	SizeBytes int64
	Quality   float64
}

// Rect is a pixel rectangle.
type Rect struct {
	X, Y, Width, Height int
}

// Flip selects mirror axes applied after rotation.
type Flip struct {
	Horizontal bool
	Vertical   bool
}

// CropShape is how the consumer presents the cropped rectangle.
type CropShape string

const (
	ShapeRect  CropShape = "rect"
	ShapeRound CropShape = "round"
)

// CropSpec is a user-chosen crop.  Rect is expressed in the coordinate space
// of the rotated/flipped image.  Shape is presentation-only.
type CropSpec struct {
	Rect            Rect
	RotationDegrees float64 // -180..180
	Flip            Flip
	AspectRatio     *float64
	Shape           CropShape
}

// AttemptOutcome is the result of one provider attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// UploadAttempt describes a single provider call.  Not persisted.
type UploadAttempt struct {
	ProviderName   string
	AttemptIndex   int // 0-based within the provider's retry budget
	StartedAt      time.Time
	Outcome        AttemptOutcome
	ResponseTimeMs int64
	ErrorMessage   string
}

// UploadMetadata describes the uploaded image.
type UploadMetadata struct {
	Filename         string
	OriginalFilename string
	SizeBytes        int64
	Width            int
	Height           int
	MIMEType         string
}

// UploadResult is the orchestrator's terminal success value.
type UploadResult struct {
	RemoteURL    string
	ProviderName string
	Metadata     UploadMetadata
	Attempts     []UploadAttempt
}

// HealthRecord holds the persisted statistics of one provider.
type HealthRecord struct {
	ServiceName        string    `json:"service_name"`
	IsActive           bool      `json:"is_active"`
	TotalUploads       int64     `json:"total_uploads"`
	SuccessfulUploads  int64     `json:"successful_uploads"`
	SuccessRate        float64   `json:"success_rate"`
	LastResponseTimeMs int64     `json:"last_response_time_ms"`
	LastErrorMessage   string    `json:"last_error_message,omitempty"`
	LastCheckedAt      time.Time `json:"last_checked_at"`
}

// AttemptReport is one outcome fed into the health store.
type AttemptReport struct {
	ProviderName   string
	Success        bool
	ResponseTimeMs int64
	ErrorMessage   string
}

// ImageMetadata is what the persistence layer writes for a new image.
type ImageMetadata struct {
	URL              string
	Filename         string
	OriginalFilename string
	SizeBytes        int64
	Width            int
	Height           int
	MIMEType         string
	UploadService    string
	Category         string
}

// ImageRecord is a row of the external record store.
type ImageRecord struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	SizeBytes        int64     `json:"size_bytes"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	MIMEType         string    `json:"mime_type"`
	UploadService    string    `json:"upload_service"`
	Category         string    `json:"category"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RecordPatch lists the mutable fields of an ImageRecord; nil means unchanged.
type RecordPatch struct {
	Filename *string
	Category *string
	URL      *string
}

// RecordFilter narrows a record query.  Zero values mean "no filter".
type RecordFilter struct {
	Category string
	Search   string // case-insensitive substring of filename/original filename
	Service  string
	Limit    int
	Offset   int
}

// ProgressStatus is the orchestration phase reported to the presentation layer.
type ProgressStatus string

const (
	StatusUploading ProgressStatus = "uploading"
	StatusRetrying  ProgressStatus = "retrying"
	StatusCompleted ProgressStatus = "completed"
	StatusError     ProgressStatus = "error"
)

// ProgressEvent is emitted while an upload is orchestrated.
type ProgressEvent struct {
	Loaded     int64
	Total      int64
	Percentage int
	Service    string
	Status     ProgressStatus
	Attempt    int
}

// Source abstracts where raw bytes come from (reader, file path, URL, etc.).
type Source struct {
	Reader      io.Reader
	ContentType string // declared MIME type; must be image/*
	Name        string // original filename
	Size        int64  // -1 if unknown
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}
