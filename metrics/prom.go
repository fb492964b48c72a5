package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_paste_consumed_total",
		Help: "no. of successful consuming fetches",
	})
	PastePeeked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_paste_peeked_total",
		Help: "no. of successful non-consuming fetches",
	})
	PasteNotFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelite_paste_not_found_total",
			Help: "no. of fetches answered with not-found, by internal reason",
		},
		[]string{"reason"},
	)
	CASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_cas_conflicts_total",
		Help: "no. of lost compare-and-swap races on the view counter",
	})
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastelite_store_errors_total",
			Help: "no. of failed store operations",
		},
		[]string{"op"},
	)
	TombstoneHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_tombstone_hits_total",
		Help: "no. of fetches answered from the tombstone cache",
	})
	CleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_cleanup_deleted_total",
		Help: "no. of records removed by the expiry sweeper",
	})
	PruneCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastelite_prune_cycles_total",
		Help: "no. of cleanup worker cycles",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastelite_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
