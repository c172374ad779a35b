// Package persist writes successful uploads to the external record store.
package persist

import (
	"context"
	"fmt"
	"strings"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/utils"
)

// DefaultCategory is used when the caller does not name one.
const DefaultCategory = "general"

// PersistError reports a store failure after the remote upload succeeded.
// The remote asset is left in place; Result can be handed back to Persist.
type PersistError struct {
	Result *core.UploadResult
	Err    error
}

func (e *PersistError) Error() string {
	url := ""
	if e.Result != nil {
		url = e.Result.RemoteURL
	}
	return fmt.Sprintf("persist %s: %v", url, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Adapter maps upload results onto store records.
type Adapter struct {
	store  core.RecordStore
	logger core.Logger
}

// New returns an Adapter over store.  logger may be nil.
func New(store core.RecordStore, logger core.Logger) *Adapter {
	return &Adapter{store: store, logger: logger}
}

// Metadata builds the record payload for res, filling defaults for missing
// fields.
func Metadata(res *core.UploadResult, category string) core.ImageMetadata {
	m := res.Metadata
	if m.Filename == "" {
		m.Filename = utils.SanitizeFilename(m.OriginalFilename)
	}
	if m.Filename == "" {
		m.Filename = utils.ReplaceExtension("", core.FormatJPEG.Extension())
	}
	if m.OriginalFilename == "" {
		m.OriginalFilename = m.Filename
	}
	if m.MIMEType == "" {
		m.MIMEType = core.FormatJPEG.MIMEType()
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = DefaultCategory
	}
	return core.ImageMetadata{
		URL:              res.RemoteURL,
		Filename:         m.Filename,
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
		Width:            m.Width,
		Height:           m.Height,
		MIMEType:         m.MIMEType,
		UploadService:    res.ProviderName,
		Category:         category,
	}
}

// Persist saves res under category.  A store failure returns *PersistError.
func (a *Adapter) Persist(ctx context.Context, res *core.UploadResult, category string) (*core.ImageRecord, error) {
	if res == nil || res.RemoteURL == "" {
		return nil, apperrors.New(apperrors.CategoryInput, "persist", fmt.Errorf("upload result has no remote url"))
	}
	rec, err := a.store.Save(ctx, Metadata(res, category))
	if err != nil {
		if a.logger != nil {
			a.logger.Error("persist.failed", "url", res.RemoteURL, "provider", res.ProviderName, "error", err.Error())
		}
		return nil, &PersistError{Result: res, Err: apperrors.Wrap(apperrors.CategoryStorage, "persist.save", err)}
	}
	if a.logger != nil {
		a.logger.Info("persist.saved", "id", rec.ID, "url", rec.URL, "category", rec.Category)
	}
	return rec, nil
}

// Update patches a record.
func (a *Adapter) Update(ctx context.Context, id string, patch core.RecordPatch) (*core.ImageRecord, error) {
	rec, err := a.store.Update(ctx, id, patch)
	return rec, apperrors.Wrap(apperrors.CategoryStorage, "persist.update", err)
}

// SoftDelete marks a record inactive.
func (a *Adapter) SoftDelete(ctx context.Context, id string) (*core.ImageRecord, error) {
	rec, err := a.store.SoftDelete(ctx, id)
	return rec, apperrors.Wrap(apperrors.CategoryStorage, "persist.soft_delete", err)
}

// Query lists active records matching filter.
func (a *Adapter) Query(ctx context.Context, filter core.RecordFilter) ([]*core.ImageRecord, error) {
	recs, err := a.store.Query(ctx, filter)
	return recs, apperrors.Wrap(apperrors.CategoryStorage, "persist.query", err)
}
