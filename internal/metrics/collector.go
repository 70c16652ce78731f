// Package metrics records per-executor execution statistics and exports them
// as Prometheus series.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hb-chen/skillexec/internal/skill"
)

// Attempt is one executor invocation
type Attempt struct {
	Executor skill.ExecutorType
	Skill    string
	Duration time.Duration
	Success  bool
	// CacheHit is nil when the executor does not use the code cache
	CacheHit   *bool
	TokenUsage int64
	ErrorKind  string
}

// TypeStats aggregates attempts for one executor type
type TypeStats struct {
	Executor    skill.ExecutorType `json:"executor"`
	Executions  int64              `json:"executions"`
	Successes   int64              `json:"successes"`
	Failures    int64              `json:"failures"`
	TotalTime   time.Duration      `json:"totalTime"`
	AverageTime time.Duration      `json:"averageTime"`
	CacheHits   int64              `json:"cacheHits"`
	CacheMisses int64              `json:"cacheMisses"`
	TokenUsage  int64              `json:"tokenUsage"`
}

// Collector keeps execution statistics per executor type
type Collector struct {
	mu    sync.RWMutex
	stats map[skill.ExecutorType]*TypeStats

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	cacheLookups      *prometheus.CounterVec
	tokensUsed        *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registering its series with reg. A nil
// reg keeps the statistics in memory only.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		stats:  make(map[skill.ExecutorType]*TypeStats),
		logger: logger.With(zap.String("component", "metrics")),
	}

	factory := promauto.With(reg)

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_executions_total",
			Help:      "Total number of skill execution attempts",
		},
		[]string{"executor", "status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "skill_execution_duration_seconds",
			Help:      "Skill execution attempt duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"executor"},
	)

	c.cacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_cache_lookups_total",
			Help:      "Code cache lookups by result",
		},
		[]string{"executor", "result"},
	)

	c.tokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_tokens_used_total",
			Help:      "Estimated tokens consumed by executed artifacts",
		},
		[]string{"executor"},
	)

	c.fallbacksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skill_fallbacks_total",
			Help:      "Fallbacks from a failed executor type to another",
		},
		[]string{"from", "to"},
	)

	return c
}

// Record adds one attempt
func (c *Collector) Record(a Attempt) {
	status := "success"
	if !a.Success {
		status = "failure"
	}
	executor := string(a.Executor)

	c.executionsTotal.WithLabelValues(executor, status).Inc()
	c.executionDuration.WithLabelValues(executor).Observe(a.Duration.Seconds())
	if a.TokenUsage > 0 {
		c.tokensUsed.WithLabelValues(executor).Add(float64(a.TokenUsage))
	}
	if a.CacheHit != nil {
		result := "miss"
		if *a.CacheHit {
			result = "hit"
		}
		c.cacheLookups.WithLabelValues(executor, result).Inc()
	}

	c.mu.Lock()
	s, ok := c.stats[a.Executor]
	if !ok {
		s = &TypeStats{Executor: a.Executor}
		c.stats[a.Executor] = s
	}
	s.Executions++
	if a.Success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.TotalTime += a.Duration
	s.AverageTime = s.TotalTime / time.Duration(s.Executions)
	if a.CacheHit != nil {
		if *a.CacheHit {
			s.CacheHits++
		} else {
			s.CacheMisses++
		}
	}
	s.TokenUsage += a.TokenUsage
	c.mu.Unlock()

	c.logger.Debug("execution recorded",
		zap.String("executor", executor),
		zap.String("skill", a.Skill),
		zap.String("status", status),
		zap.Duration("duration", a.Duration),
	)
}

// RecordFallback counts a fallback from one executor type to another
func (c *Collector) RecordFallback(from, to skill.ExecutorType) {
	c.fallbacksTotal.WithLabelValues(string(from), string(to)).Inc()
}

// Stats returns a copy of the statistics for one executor type
func (c *Collector) Stats(t skill.ExecutorType) (TypeStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stats[t]
	if !ok {
		return TypeStats{Executor: t}, false
	}
	return *s, true
}

// Snapshot returns statistics for every executor type seen, ordered by type
func (c *Collector) Snapshot() []TypeStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TypeStats, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Executor < out[j].Executor })
	return out
}

// Reset drops the in-memory statistics. Prometheus counters are monotonic and
// keep their values.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = make(map[skill.ExecutorType]*TypeStats)
}
