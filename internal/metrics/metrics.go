package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scan ingestion and reconciliation counters served on /metrics.
var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendsync_scans_total",
		Help: "Scan outcomes by kind.",
	}, []string{"kind"})

	SyncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendsync_sync_records_total",
		Help: "Reconciled journal records by result.",
	}, []string{"result"})

	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attendsync_sync_runs_total",
		Help: "Reconciliation passes by trigger source.",
	}, []string{"source"})

	PendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attendsync_pending_records",
		Help: "Journal records waiting to sync.",
	})
)
