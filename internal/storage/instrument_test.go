package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/monitor"
)

func TestInstrumentedStore_DelegatesAndObserves(t *testing.T) {
	metrics := monitor.NewMetrics()
	store := NewInstrumentedStore(cache.NewMemoryStore(), metrics)
	ctx := context.Background()

	art := &cache.CachedArtifact{
		SubmissionHash: "abc123",
		Language:       "python",
		ValidatedCode:  "x = 1",
		UsageCount:     1,
		CreatedAt:      time.Now().UTC(),
	}

	if err := store.Put(ctx, art); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ValidatedCode != "x = 1" {
		t.Errorf("ValidatedCode = %q, want %q", got.ValidatedCode, "x = 1")
	}

	ok, err := store.Exists(ctx, "abc123")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v, want true, nil", ok, err)
	}

	if err := store.Delete(ctx, "abc123"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "abc123"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}

	// One histogram series per operation touched: get, put, exists, delete.
	if got := testutil.CollectAndCount(metrics.StoreLatency); got != 4 {
		t.Errorf("observed operations = %d, want 4", got)
	}
}
