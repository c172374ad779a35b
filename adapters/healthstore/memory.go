// Package healthstore holds core.HealthStore implementations.
package healthstore

import (
	"context"
	"sync"
	"time"

	"github.com/Skryldev/image-uploader/core"
)

// Memory keeps health records in process.  Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records map[string]*core.HealthRecord
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*core.HealthRecord), now: time.Now}
}

// Seed replaces the stored records, e.g. to restore a snapshot.  The
// success rate is recomputed from the counters.
func (m *Memory) Seed(records ...core.HealthRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range records {
		rec := records[i]
		rec.SuccessRate = core.SuccessRate(rec.SuccessfulUploads, rec.TotalUploads)
		m.records[rec.ServiceName] = &rec
	}
}

func (m *Memory) All(ctx context.Context) ([]core.HealthRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	out := make([]core.HealthRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	m.mu.Unlock()
	core.RankRecords(out)
	return out, nil
}

func (m *Memory) ActiveRanked(ctx context.Context) ([]core.HealthRecord, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, rec := range all {
		if rec.IsActive {
			active = append(active, rec)
		}
	}
	return active, nil
}

func (m *Memory) RecordOutcome(ctx context.Context, rep core.AttemptReport) (core.HealthRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.HealthRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[rep.ProviderName]
	if !ok {
		rec = &core.HealthRecord{ServiceName: rep.ProviderName}
		m.records[rep.ProviderName] = rec
	}
	rec.Apply(rep, m.now())
	return *rec, nil
}

var _ core.HealthStore = (*Memory)(nil)
