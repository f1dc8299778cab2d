// Package metrics exposes Prometheus instrumentation of the sync and write paths.
//
// Sync metrics:
//   - caldav_sync_requests_total: sync-collection reports served (counter)
//     Labels: result (ok, truncated, invalid_token, error)
//   - caldav_sync_entries_total: entries reported (counter)
//     Labels: status (201, 200, 404)
//   - caldav_sync_duration_seconds: time to compute a change-set (histogram)
//
// Write metrics:
//   - caldav_write_requests_total: PUT/DELETE writes (counter)
//     Labels: operation (create, update, delete), result (ok or error kind)
//   - caldav_write_duration_seconds: write latency (histogram)
//     Labels: operation
//   - caldav_write_repairs_total: validation failures repaired and retried (counter)
//     Labels: reason
//   - caldav_write_uid_recoveries_total: creates retried as updates on a UID clash (counter)
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Metrics
	SyncRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldav_sync_requests_total",
			Help: "Total number of sync-collection reports served",
		},
		[]string{"result"},
	)

	SyncEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldav_sync_entries_total",
			Help: "Total number of change entries reported to clients",
		},
		[]string{"status"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "caldav_sync_duration_seconds",
			Help:    "Duration of change-set computation in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Write Metrics
	WriteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldav_write_requests_total",
			Help: "Total number of resource writes",
		},
		[]string{"operation", "result"},
	)

	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caldav_write_duration_seconds",
			Help:    "Duration of resource writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	WriteRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caldav_write_repairs_total",
			Help: "Total number of backend validation failures repaired and retried",
		},
		[]string{"reason"},
	)

	WriteUIDRecoveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "caldav_write_uid_recoveries_total",
			Help: "Total number of creates retried as updates after a UID clash",
		},
	)
)

// RecordSync records a sync-collection report. statuses holds the status of every entry.
func RecordSync(duration time.Duration, statuses []int, truncated bool, err error) {
	SyncDuration.Observe(duration.Seconds())
	switch {
	case err != nil:
		SyncRequests.WithLabelValues("error").Inc()
		return
	case truncated:
		SyncRequests.WithLabelValues("truncated").Inc()
	default:
		SyncRequests.WithLabelValues("ok").Inc()
	}
	for _, status := range statuses {
		SyncEntries.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

// RecordInvalidSyncToken records a report rejected for its token.
func RecordInvalidSyncToken() {
	SyncRequests.WithLabelValues("invalid_token").Inc()
}

// RecordWrite records a resource write. result is "ok" or the error kind.
func RecordWrite(operation, result string, duration time.Duration) {
	WriteRequests.WithLabelValues(operation, result).Inc()
	WriteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRepair records a repaired validation failure.
func RecordRepair(reason string) {
	WriteRepairs.WithLabelValues(reason).Inc()
}

// RecordUIDRecovery records a create retried as an update.
func RecordUIDRecovery() {
	WriteUIDRecoveries.Inc()
}
