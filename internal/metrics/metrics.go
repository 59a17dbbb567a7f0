package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scans counts attendance events by resulting status.
var Scans = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campusledger",
	Name:      "attendance_scans_total",
	Help:      "Attendance events recorded, by resulting status.",
}, []string{"status"})

// LedgerComputations counts full ledger history builds.
var LedgerComputations = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "campusledger",
	Name:      "ledger_computations_total",
	Help:      "Ledger histories computed from source data.",
})

// LedgerCacheHits counts histories served from the Redis cache.
var LedgerCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "campusledger",
	Name:      "ledger_cache_hits_total",
	Help:      "Ledger histories served from cache.",
})

// MalformedDocuments counts fee-service documents that failed validation
// and were normalized with defaults.
var MalformedDocuments = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "campusledger",
	Name:      "ledger_malformed_documents_total",
	Help:      "Upstream fee documents normalized with default values.",
})
