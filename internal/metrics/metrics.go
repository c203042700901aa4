// Package metrics exposes Prometheus collectors for the download engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	TransfersDiscovered prometheus.Counter
	DownloadsCompleted  prometheus.Counter
	DownloadsFailed     prometheus.Counter
	TransfersImported   prometheus.Counter
	SeedsReaped         prometheus.Counter
	ActiveTransfers     prometheus.Gauge
}

// New registers the collectors with reg and returns them. Passing nil
// registers with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TransfersDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "putreap_transfers_discovered_total",
			Help: "Transfers picked up from put.io for downloading.",
		}),
		DownloadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "putreap_downloads_completed_total",
			Help: "Transfers whose full plan landed on disk.",
		}),
		DownloadsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "putreap_downloads_failed_total",
			Help: "Transfers abandoned because a target failed to download.",
		}),
		TransfersImported: factory.NewCounter(prometheus.CounterOpts{
			Name: "putreap_transfers_imported_total",
			Help: "Transfers confirmed imported by an Arr service.",
		}),
		SeedsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "putreap_seeds_reaped_total",
			Help: "Transfers cleaned up on put.io after seeding stopped.",
		}),
		ActiveTransfers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "putreap_active_transfers",
			Help: "Transfers currently live on put.io for this instance.",
		}),
	}
}
