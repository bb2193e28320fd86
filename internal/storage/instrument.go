package storage

import (
	"context"
	"time"

	"agent-toolgate/internal/cache"
	"agent-toolgate/internal/monitor"
)

// InstrumentedStore decorates a cache.Store with per-operation latency
// observations. Both the in-memory and the Postgres backend are wrapped with
// it at wiring time.
type InstrumentedStore struct {
	next    cache.Store
	metrics *monitor.Metrics
}

func NewInstrumentedStore(next cache.Store, metrics *monitor.Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: metrics}
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (*cache.CachedArtifact, error) {
	defer s.observe("get", time.Now())
	return s.next.Get(ctx, key)
}

func (s *InstrumentedStore) Put(ctx context.Context, artifact *cache.CachedArtifact) error {
	defer s.observe("put", time.Now())
	return s.next.Put(ctx, artifact)
}

func (s *InstrumentedStore) Exists(ctx context.Context, key string) (bool, error) {
	defer s.observe("exists", time.Now())
	return s.next.Exists(ctx, key)
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	defer s.observe("delete", time.Now())
	return s.next.Delete(ctx, key)
}

func (s *InstrumentedStore) observe(operation string, start time.Time) {
	s.metrics.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
