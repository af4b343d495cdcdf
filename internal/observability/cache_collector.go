package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CacheSnapshot is what a cache exposes at scrape time.
type CacheSnapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

type cacheCollector struct {
	name string
	read func() CacheSnapshot

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	size      *prometheus.Desc
}

// RegisterCache exposes a cache's counters, read lazily on every scrape.
func (m *Metrics) RegisterCache(name string, read func() CacheSnapshot) error {
	if m == nil || read == nil {
		return nil
	}
	labels := prometheus.Labels{"cache": name}
	return m.registry.Register(&cacheCollector{
		name:      name,
		read:      read,
		hits:      prometheus.NewDesc("lessons_cache_hits_total", "Cache hits", nil, labels),
		misses:    prometheus.NewDesc("lessons_cache_misses_total", "Cache misses", nil, labels),
		evictions: prometheus.NewDesc("lessons_cache_evictions_total", "Entries evicted at capacity", nil, labels),
		size:      prometheus.NewDesc("lessons_cache_entries", "Entries currently stored", nil, labels),
	})
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.size
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.read()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size))
}
