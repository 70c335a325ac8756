package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Total number of cache lookups",
		},
		[]string{"cache", "result"},
	)

	cacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_fetches_total",
			Help: "Total number of fetches issued to the gateway on cache miss",
		},
		[]string{"cache", "status"},
	)

	feedBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_build_duration_seconds",
			Help:    "Duration of feed aggregation in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"feed"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_published_total",
			Help: "Total number of domain events published to the bus",
		},
		[]string{"type", "status"},
	)
)

func recordLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(cache, result).Inc()
}

func recordFetch(cache string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cacheFetches.WithLabelValues(cache, status).Inc()
}
