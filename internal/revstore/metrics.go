package revstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level collectors, registered once at init time via promauto
// instead of threading a registerer through every constructor.
var (
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepwell_revstore_commits_total",
		Help: "Total commits recorded against a wiki's revision store.",
	}, []string{"wiki_domain"})

	blobCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepwell_revstore_blob_cache_hits_total",
		Help: "Historical blob reads served from the per-store LRU cache.",
	}, []string{"wiki_domain"})

	blobCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deepwell_revstore_blob_cache_misses_total",
		Help: "Historical blob reads that required walking the commit tree.",
	}, []string{"wiki_domain"})
)
