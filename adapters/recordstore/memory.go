// Package recordstore holds core.RecordStore implementations.
package recordstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// DefaultLimit caps a query that does not set one.
const DefaultLimit = 50

// Memory keeps image records in process.  Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*core.ImageRecord
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*core.ImageRecord), now: time.Now}
}

func (m *Memory) Save(ctx context.Context, meta core.ImageMetadata) (*core.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	rec := &core.ImageRecord{
		ID:               uuid.NewString(),
		URL:              meta.URL,
		Filename:         meta.Filename,
		OriginalFilename: meta.OriginalFilename,
		SizeBytes:        meta.SizeBytes,
		Width:            meta.Width,
		Height:           meta.Height,
		MIMEType:         meta.MIMEType,
		UploadService:    meta.UploadService,
		Category:         meta.Category,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	out := *rec
	return &out, nil
}

func (m *Memory) Update(ctx context.Context, id string, patch core.RecordPatch) (*core.ImageRecord, error) {
	return m.mutate(ctx, id, func(rec *core.ImageRecord) {
		if patch.Filename != nil {
			rec.Filename = *patch.Filename
		}
		if patch.Category != nil {
			rec.Category = *patch.Category
		}
		if patch.URL != nil {
			rec.URL = *patch.URL
		}
	})
}

func (m *Memory) SoftDelete(ctx context.Context, id string) (*core.ImageRecord, error) {
	return m.mutate(ctx, id, func(rec *core.ImageRecord) { rec.IsActive = false })
}

func (m *Memory) mutate(ctx context.Context, id string, fn func(*core.ImageRecord)) (*core.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok || !rec.IsActive {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, id)
	}
	fn(rec)
	rec.UpdatedAt = m.now().UTC()
	out := *rec
	return &out, nil
}

// Query returns active records, newest first.
func (m *Memory) Query(ctx context.Context, f core.RecordFilter) ([]*core.ImageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	m.mu.RLock()
	matched := make([]*core.ImageRecord, 0, len(m.records))
	for _, rec := range m.records {
		if !rec.IsActive {
			continue
		}
		if f.Category != "" && rec.Category != f.Category {
			continue
		}
		if f.Service != "" && rec.UploadService != f.Service {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.Filename), search) &&
			!strings.Contains(strings.ToLower(rec.OriginalFilename), search) {
			continue
		}
		cp := *rec
		matched = append(matched, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return page(matched, f.Limit, f.Offset), nil
}

func page(recs []*core.ImageRecord, limit, offset int) []*core.ImageRecord {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(recs) {
		return []*core.ImageRecord{}
	}
	end := offset + limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[offset:end]
}

var _ core.RecordStore = (*Memory)(nil)
