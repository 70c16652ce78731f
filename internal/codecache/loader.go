package codecache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hb-chen/skillexec/internal/skill"
	"github.com/hb-chen/skillexec/internal/skillerr"
)

// CompileFunc produces an artifact and its passing security report. An error
// means nothing is cached.
type CompileFunc func(ctx context.Context) (*skill.CompiledArtifact, *skill.SecurityReport, EntryMetrics, error)

// Loader fills the cache on misses. Concurrent misses for one (name, hash)
// share a single compile, and at most maxConcurrent compiles run at once.
type Loader struct {
	cache *Cache
	group singleflight.Group
	sem   *semaphore.Weighted
}

// NewLoader creates a loader in front of cache
func NewLoader(cache *Cache, maxConcurrent int64) *Loader {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Loader{
		cache: cache,
		sem:   semaphore.NewWeighted(maxConcurrent),
	}
}

// Cache returns the underlying cache
func (l *Loader) Cache() *Cache {
	return l.cache
}

// GetOrCompile returns the cached entry for (name, hash), compiling and
// storing it on a miss. The boolean reports a cache hit.
func (l *Loader) GetOrCompile(ctx context.Context, name, hash string, compile CompileFunc) (*Entry, bool, error) {
	if entry, ok := l.cache.Get(name, hash); ok {
		return entry, true, nil
	}

	ch := l.group.DoChan(name+"\x00"+hash, func() (interface{}, error) {
		if entry, ok := l.cache.peek(name, hash); ok {
			return entry, nil
		}

		artifact, report, metrics, err := l.Compile(ctx, compile)
		if err != nil {
			return nil, err
		}
		if report == nil {
			return nil, &skillerr.ExecutionError{Message: fmt.Sprintf("compile of %s produced no security report", name)}
		}
		if !report.Passed {
			return nil, &skillerr.SecurityValidationError{RiskLevel: report.RiskLevel, Issues: report.Issues}
		}
		return l.cache.Set(name, hash, artifact, report, metrics), nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*Entry).clone(), false, nil
	}
}

// Compile runs compile under the concurrency bound without caching
func (l *Loader) Compile(ctx context.Context, compile CompileFunc) (*skill.CompiledArtifact, *skill.SecurityReport, EntryMetrics, error) {
	start := time.Now()
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, EntryMetrics{}, err
	}
	defer l.sem.Release(1)

	artifact, report, metrics, err := compile(ctx)
	if metrics.CompileTime == 0 && err == nil {
		metrics.CompileTime = time.Since(start)
	}
	return artifact, report, metrics, err
}
