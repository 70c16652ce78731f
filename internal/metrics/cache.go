package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hb-chen/skillexec/internal/codecache"
)

// CacheStatser is satisfied by *codecache.Cache
type CacheStatser interface {
	Stats() codecache.Stats
}

// RegisterCache exports code cache statistics, read on every scrape
func RegisterCache(namespace string, reg prometheus.Registerer, cache CacheStatser) {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "code_cache_entries",
		Help:      "Number of compiled artifacts in the code cache",
	}, func() float64 { return float64(cache.Stats().Size) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_cache_hits_total",
		Help:      "Code cache hits",
	}, func() float64 { return float64(cache.Stats().Hits) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_cache_misses_total",
		Help:      "Code cache misses",
	}, func() float64 { return float64(cache.Stats().Misses) })

	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "code_cache_evictions_total",
		Help:      "Code cache evictions",
	}, func() float64 { return float64(cache.Stats().Evictions) })
}
