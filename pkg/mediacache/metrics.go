package mediacache

import "github.com/prometheus/client_golang/prometheus"

var metricCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "mediacache_hits_total",
})
var metricCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "mediacache_misses_total",
})
var metricCacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "mediacache_evictions_total",
}, []string{"reason"})
var metricFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "mediacache_fetch_errors_total",
})
var metricInflightFetches = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "mediacache_inflight_fetches",
})

func init() {
	prometheus.MustRegister(metricCacheHits)
	prometheus.MustRegister(metricCacheMisses)
	prometheus.MustRegister(metricCacheEvictions)
	prometheus.MustRegister(metricFetchErrors)
	prometheus.MustRegister(metricInflightFetches)
}
