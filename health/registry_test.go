package health_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/Skryldev/image-uploader/adapters/healthstore"
	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
	"github.com/Skryldev/image-uploader/health"
)

// rec builds a record out of 100 uploads so the stored rate equals pct.
func rec(name string, active bool, pct int64, ms int64) core.HealthRecord {
	return core.HealthRecord{ServiceName: name, IsActive: active, TotalUploads: 100, SuccessfulUploads: pct, LastResponseTimeMs: ms}
}

func TestRank(t *testing.T) {
	cases := []struct {
		name     string
		declared []string
		seed     []core.HealthRecord
		want     []string
	}{
		{
			name:     "fresh store keeps declaration order",
			declared: []string{"a", "b", "c"},
			want:     []string{"a", "b", "c"},
		},
		{
			name:     "rate then latency",
			declared: []string{"a", "b", "c"},
			seed:     []core.HealthRecord{rec("a", true, 50, 100), rec("b", true, 90, 900), rec("c", true, 90, 200)},
			want:     []string{"c", "b", "a"},
		},
		{
			name:     "inactive providers are skipped",
			declared: []string{"a", "b", "c"},
			seed:     []core.HealthRecord{rec("a", false, 99, 10), rec("b", true, 10, 10), rec("c", false, 99, 10)},
			want:     []string{"b"},
		},
		{
			name:     "unseen providers rank as fresh",
			declared: []string{"a", "b", "c"},
			seed:     []core.HealthRecord{rec("a", true, 100, 50)},
			want:     []string{"a", "b", "c"},
		},
		{
			name:     "ties fall back to declaration order",
			declared: []string{"z", "y", "x"},
			seed:     []core.HealthRecord{rec("x", true, 80, 100), rec("y", true, 80, 100), rec("z", true, 80, 100)},
			want:     []string{"z", "y", "x"},
		},
		{
			name:     "none active falls back to the static list",
			declared: []string{"a", "b"},
			seed:     []core.HealthRecord{rec("a", false, 0, 10), rec("b", false, 0, 10)},
			want:     []string{"a", "b"},
		},
		{
			name:     "undeclared records are ignored",
			declared: []string{"a"},
			seed:     []core.HealthRecord{rec("gone", true, 100, 1), rec("a", true, 10, 10)},
			want:     []string{"a"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := healthstore.NewMemory()
			store.Seed(tc.seed...)
			reg := health.NewRegistry(store, tc.declared)

			got, err := reg.Rank(context.Background())
			if err != nil {
				t.Fatalf("Rank: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Rank = %v, want %v", got, tc.want)
			}
			again, _ := reg.Rank(context.Background())
			if !reflect.DeepEqual(got, again) {
				t.Fatalf("Rank not deterministic: %v then %v", got, again)
			}
		})
	}
}

func TestRecordOutcome_Counters(t *testing.T) {
	ctx := context.Background()
	reg := health.NewRegistry(healthstore.NewMemory(), []string{"p"})
	outcomes := []bool{true, false, false, true, true, false, true}
	var ok int64
	for i, success := range outcomes {
		if success {
			ok++
		}
		got, err := reg.RecordOutcome(ctx, "p", success, int64(10*i), "boom")
		if err != nil {
			t.Fatalf("RecordOutcome: %v", err)
		}
		if got.TotalUploads != int64(i+1) || got.SuccessfulUploads != ok {
			t.Fatalf("step %d: counters %d/%d, want %d/%d", i, got.SuccessfulUploads, got.TotalUploads, ok, i+1)
		}
		if got.SuccessfulUploads > got.TotalUploads {
			t.Fatalf("step %d: successful > total", i)
		}
		if want := float64(ok) / float64(i+1) * 100; got.SuccessRate != want {
			t.Fatalf("step %d: rate %v, want %v", i, got.SuccessRate, want)
		}
		if got.IsActive != success {
			t.Fatalf("step %d: IsActive %v, want %v", i, got.IsActive, success)
		}
		if success && got.LastErrorMessage != "" {
			t.Fatalf("step %d: error message kept on success: %q", i, got.LastErrorMessage)
		}
		if !success && got.LastErrorMessage != "boom" {
			t.Fatalf("step %d: error message %q, want boom", i, got.LastErrorMessage)
		}
		if got.LastResponseTimeMs != int64(10*i) || got.LastCheckedAt.IsZero() {
			t.Fatalf("step %d: stale timing fields %+v", i, got)
		}
	}
}

func TestRecordOutcome_FailureDemotes(t *testing.T) {
	ctx := context.Background()
	reg := health.NewRegistry(healthstore.NewMemory(), []string{"a", "b"})
	if _, err := reg.RecordOutcome(ctx, "a", false, 5, "503"); err != nil {
		t.Fatal(err)
	}
	got, _ := reg.Rank(ctx)
	if !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("Rank = %v, want [b]", got)
	}
	if _, err := reg.RecordOutcome(ctx, "a", true, 5, ""); err != nil {
		t.Fatal(err)
	}
	got, _ = reg.Rank(ctx)
	// a is back at 50% while b is still an unseen 0%.
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("Rank = %v, want [a b]", got)
	}
}

func TestRecordOutcome_Concurrent(t *testing.T) {
	ctx := context.Background()
	reg := health.NewRegistry(healthstore.NewMemory(), []string{"p", "q"})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "p"
			if i%4 == 0 {
				name = "q"
			}
			if _, err := reg.RecordOutcome(ctx, name, i%2 == 0, 1, "x"); err != nil {
				t.Errorf("RecordOutcome: %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap, err := reg.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, r := range snap {
		total += r.TotalUploads
	}
	if total != 100 {
		t.Fatalf("total uploads = %d, want 100", total)
	}
	if snap[0].ServiceName != "p" || snap[0].TotalUploads != 75 || snap[1].TotalUploads != 25 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRecordOutcome_EmptyName(t *testing.T) {
	reg := health.NewRegistry(healthstore.NewMemory(), nil)
	_, err := reg.RecordOutcome(context.Background(), "", true, 0, "")
	if !apperrors.IsCategory(err, apperrors.CategoryInput) {
		t.Fatalf("got %v, want input error", err)
	}
}

func TestSnapshot_Order(t *testing.T) {
	store := healthstore.NewMemory()
	store.Seed(rec("old-b", true, 100, 1), rec("c", true, 1, 1), rec("old-a", false, 0, 1), rec("a", true, 50, 1))
	reg := health.NewRegistry(store, []string{"a", "c"})
	snap, err := reg.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range snap {
		names = append(names, r.ServiceName)
	}
	if want := []string{"a", "c", "old-a", "old-b"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("Snapshot order = %v, want %v", names, want)
	}
	if got := reg.Declared(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("Declared = %v", got)
	}
}

type brokenStore struct{ err error }

func (b brokenStore) All(context.Context) ([]core.HealthRecord, error)          { return nil, b.err }
func (b brokenStore) ActiveRanked(context.Context) ([]core.HealthRecord, error) { return nil, b.err }
func (b brokenStore) RecordOutcome(context.Context, core.AttemptReport) (core.HealthRecord, error) {
	return core.HealthRecord{}, b.err
}

func TestRegistry_StoreErrors(t *testing.T) {
	ctx := context.Background()
	down := fmt.Errorf("dial: %w", apperrors.ErrStorageUnavailable)
	reg := health.NewRegistry(brokenStore{down}, []string{"a"})

	checks := map[string]error{}
	_, checks["rank"] = reg.Rank(ctx)
	_, checks["record"] = reg.RecordOutcome(ctx, "a", true, 1, "")
	_, checks["snapshot"] = reg.Snapshot(ctx)
	_, checks["active"] = reg.ActiveRanked(ctx)
	for op, err := range checks {
		if !apperrors.IsCategory(err, apperrors.CategoryStorage) || !errors.Is(err, apperrors.ErrStorageUnavailable) {
			t.Errorf("%s: got %v, want wrapped storage error", op, err)
		}
	}
}
