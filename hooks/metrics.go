package hooks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/image-uploader/core"
)

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stepDurationsMs map[string]int64 // cumulative ms per step
	stepCalls       map[string]int64
	stepErrors      map[string]int64

	attempts map[string]map[core.AttemptOutcome]int64 // provider -> outcome -> count

	totalThroughputB int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepDurationsMs: make(map[string]int64),
		stepCalls:       make(map[string]int64),
		stepErrors:      make(map[string]int64),
		attempts:        make(map[string]map[core.AttemptOutcome]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stepName string, d time.Duration) {
	m.mu.Lock()
	m.stepDurationsMs[stepName] += d.Milliseconds()
	m.stepCalls[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(stepName string, _ string) {
	m.mu.Lock()
	m.stepErrors[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordAttempt(provider string, outcome core.AttemptOutcome, _ time.Duration) {
	m.mu.Lock()
	byOutcome, ok := m.attempts[provider]
	if !ok {
		byOutcome = make(map[core.AttemptOutcome]int64, 2)
		m.attempts[provider] = byOutcome
	}
	byOutcome[outcome]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		StepDurationsMs:  copyCounts(m.stepDurationsMs),
		StepCalls:        copyCounts(m.stepCalls),
		StepErrors:       copyCounts(m.stepErrors),
		Attempts:         make(map[string]map[core.AttemptOutcome]int64, len(m.attempts)),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
	}
	for p, byOutcome := range m.attempts {
		cp := make(map[core.AttemptOutcome]int64, len(byOutcome))
		for o, n := range byOutcome {
			cp[o] = n
		}
		snap.Attempts[p] = cp
	}
	return snap
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StepDurationsMs  map[string]int64
	StepCalls        map[string]int64
	StepErrors       map[string]int64
	Attempts         map[string]map[core.AttemptOutcome]int64
	TotalThroughputB int64
}

var _ core.MetricsCollector = (*InMemoryMetrics)(nil)
