// Package health ranks upload providers by their recorded performance and
// folds every attempt outcome back into the health store.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// Registry is the shared, durable view of provider health.  All methods are
// safe for concurrent use; updates to one provider are serialised.
type Registry struct {
	store    core.HealthStore
	declared []string
	index    map[string]int
	locks    sync.Map // provider name -> *sync.Mutex
}

// NewRegistry ranks the declared providers (in declaration order) against
// the records held by store.
func NewRegistry(store core.HealthStore, declared []string) *Registry {
	r := &Registry{
		store:    store,
		declared: append([]string(nil), declared...),
		index:    make(map[string]int, len(declared)),
	}
	for i, name := range declared {
		r.index[name] = i
	}
	return r
}

// Rank returns the active providers, best first: success rate descending,
// last response time ascending, declaration order last.  Declared providers
// the store has never seen count as active with empty statistics.  When no
// provider is active the full declared list is returned unchanged.
func (r *Registry) Rank(ctx context.Context) ([]string, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "health.rank", err)
	}
	return r.rank(all), nil
}

func (r *Registry) rank(all []core.HealthRecord) []string {
	seen := make(map[string]bool, len(all))
	active := make([]core.HealthRecord, 0, len(r.declared))
	for _, rec := range all {
		if _, ok := r.index[rec.ServiceName]; !ok {
			continue
		}
		seen[rec.ServiceName] = true
		if rec.IsActive {
			active = append(active, rec)
		}
	}
	for _, name := range r.declared {
		if !seen[name] {
			active = append(active, core.HealthRecord{ServiceName: name, IsActive: true})
		}
	}
	if len(active) == 0 {
		return append([]string(nil), r.declared...)
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.LastResponseTimeMs != b.LastResponseTimeMs {
			return a.LastResponseTimeMs < b.LastResponseTimeMs
		}
		return r.index[a.ServiceName] < r.index[b.ServiceName]
	})
	names := make([]string, len(active))
	for i, rec := range active {
		names[i] = rec.ServiceName
	}
	return names
}

// RecordOutcome folds one attempt into the provider's record.  The error
// message is dropped on success.
func (r *Registry) RecordOutcome(ctx context.Context, provider string, success bool, responseTimeMs int64, errMsg string) (core.HealthRecord, error) {
	if provider == "" {
		return core.HealthRecord{}, apperrors.New(apperrors.CategoryInput, "health.record", fmt.Errorf("empty provider name"))
	}
	if success {
		errMsg = ""
	}
	mu := r.lockFor(provider)
	mu.Lock()
	defer mu.Unlock()

	rec, err := r.store.RecordOutcome(ctx, core.AttemptReport{
		ProviderName:   provider,
		Success:        success,
		ResponseTimeMs: responseTimeMs,
		ErrorMessage:   errMsg,
	})
	if err != nil {
		return core.HealthRecord{}, apperrors.Wrap(apperrors.CategoryStorage, "health.record", err)
	}
	return rec, nil
}

// Snapshot returns every stored record, declared providers first in
// declaration order, followed by records of providers no longer configured.
func (r *Registry) Snapshot(ctx context.Context) ([]core.HealthRecord, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "health.snapshot", err)
	}
	sort.SliceStable(all, func(i, j int) bool {
		ii, iok := r.index[all[i].ServiceName]
		jj, jok := r.index[all[j].ServiceName]
		switch {
		case iok && jok:
			return ii < jj
		case iok != jok:
			return iok
		}
		return all[i].ServiceName < all[j].ServiceName
	})
	return all, nil
}

// ActiveRanked exposes the store's own ranking of active records.
func (r *Registry) ActiveRanked(ctx context.Context) ([]core.HealthRecord, error) {
	recs, err := r.store.ActiveRanked(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "health.active_ranked", err)
	}
	return recs, nil
}

// Declared returns the configured providers in declaration order.
func (r *Registry) Declared() []string { return append([]string(nil), r.declared...) }

func (r *Registry) lockFor(provider string) *sync.Mutex {
	if mu, ok := r.locks.Load(provider); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := r.locks.LoadOrStore(provider, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
