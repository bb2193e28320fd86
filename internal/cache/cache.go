package cache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const lockStripes = 64

// BuildFunc runs the validation pipeline for a missing key and returns the
// artifact to store.
type BuildFunc func(ctx context.Context) (*CachedArtifact, error)

// Cache is the coalescing layer over a Store. Concurrent requests for the
// same key run the build pipeline at most once; read-modify-write
// bookkeeping (usage, refs) is serialized per key by striped locks.
type Cache struct {
	store Store
	group singleflight.Group
	locks [lockStripes]sync.Mutex
	log   zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Cache {
	return &Cache{
		store: store,
		log:   logger.With().Str("component", "cache").Logger(),
	}
}

func (c *Cache) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &c.locks[h.Sum32()%lockStripes]
}

type buildResult struct {
	artifact  *CachedArtifact
	fromStore bool
}

// FetchOutcome describes how GetOrBuild satisfied a request.
type FetchOutcome int

const (
	// FetchBuilt means this caller ran the build pipeline.
	FetchBuilt FetchOutcome = iota
	// FetchHit means the artifact was already in the store.
	FetchHit
	// FetchCoalesced means the caller piggybacked on another caller's
	// in-flight build.
	FetchCoalesced
)

// Hit reports whether the artifact was served without running the pipeline
// for this caller.
func (o FetchOutcome) Hit() bool { return o != FetchBuilt }

// GetOrBuild returns the artifact for key, running build when absent. Every
// logical request is counted exactly once in UsageCount: the builder's Put
// seeds the count at one and every other path goes through Touch.
func (c *Cache) GetOrBuild(ctx context.Context, key string, build BuildFunc) (*CachedArtifact, FetchOutcome, error) {
	art, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		touched, terr := c.Touch(ctx, key)
		if terr == nil && touched != nil {
			return touched, FetchHit, nil
		}
		// The artifact was read but the usage bump failed; serve the read.
		c.log.Warn().Err(terr).Str("hash", key).Msg("usage count update failed")
		return art, FetchHit, nil

	case !errors.Is(err, ErrNotFound):
		return nil, FetchBuilt, fmt.Errorf("cache lookup: %w", err)
	}

	// singleflight's shared flag is true for the winner too, so the winner
	// is identified by whether this caller's closure actually ran.
	var ranHere bool
	v, err, _ := c.group.Do(key, func() (any, error) {
		ranHere = true
		// Another winner may have stored the artifact between the miss above
		// and this flight starting.
		if existing, gerr := c.store.Get(ctx, key); gerr == nil {
			return buildResult{artifact: existing, fromStore: true}, nil
		} else if !errors.Is(gerr, ErrNotFound) {
			return buildResult{}, fmt.Errorf("cache lookup: %w", gerr)
		}

		built, berr := build(ctx)
		if berr != nil {
			return buildResult{}, berr
		}
		built.SubmissionHash = key
		built.UsageCount = 1
		if built.CreatedAt.IsZero() {
			built.CreatedAt = time.Now().UTC()
		}
		if perr := c.store.Put(ctx, built); perr != nil {
			return buildResult{}, fmt.Errorf("cache store: %w", perr)
		}
		return buildResult{artifact: built}, nil
	})
	if err != nil {
		return nil, FetchBuilt, err
	}
	res := v.(buildResult)

	if !ranHere || res.fromStore {
		outcome := FetchCoalesced
		if ranHere {
			// Losing racer: another winner stored the artifact between the
			// initial miss and this flight starting.
			outcome = FetchHit
		}
		// Count this logical request.
		if touched, terr := c.Touch(ctx, key); terr == nil && touched != nil {
			return touched, outcome, nil
		}
		return res.artifact.Clone(), outcome, nil
	}
	return res.artifact, FetchBuilt, nil
}

// Touch increments UsageCount and returns the updated artifact.
func (c *Cache) Touch(ctx context.Context, key string) (*CachedArtifact, error) {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	art, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	art.UsageCount++
	if err := c.store.Put(ctx, art); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return art, nil
}

// Get returns the artifact without usage accounting.
func (c *Cache) Get(ctx context.Context, key string) (*CachedArtifact, error) {
	return c.store.Get(ctx, key)
}

// ReplaceResult swaps the stored validation result after a re-evaluation
// under a newer policy. UsageCount, RefCount, and CreatedAt are preserved.
func (c *Cache) ReplaceResult(ctx context.Context, key string, result ValidationResult, execution ExecutionMetadata) (*CachedArtifact, error) {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	art, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	art.Result = result
	art.Execution = execution
	if err := c.store.Put(ctx, art); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return art, nil
}

// AddRef registers a tool reference to the artifact.
func (c *Cache) AddRef(ctx context.Context, key string) (*CachedArtifact, error) {
	return c.adjustRefs(ctx, key, 1)
}

// ReleaseRef drops a tool reference. The count never goes below zero.
func (c *Cache) ReleaseRef(ctx context.Context, key string) (*CachedArtifact, error) {
	return c.adjustRefs(ctx, key, -1)
}

func (c *Cache) adjustRefs(ctx context.Context, key string, delta int) (*CachedArtifact, error) {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	art, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	art.RefCount += delta
	if art.RefCount < 0 {
		art.RefCount = 0
	}
	if err := c.store.Put(ctx, art); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return art, nil
}

// Delete removes the artifact. Refused with ErrArtifactShared while tools
// still reference it.
func (c *Cache) Delete(ctx context.Context, key string) error {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	art, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if art.RefCount > 0 {
		return fmt.Errorf("%w: %d references", ErrArtifactShared, art.RefCount)
	}
	return c.store.Delete(ctx, key)
}
