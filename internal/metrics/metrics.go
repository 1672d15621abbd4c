// Package metrics exposes dispatch-loop gauges on the default prometheus
// registry. The driver wires Observe as the default QueueStatus hook;
// exposition is the embedder's business.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "test_queue_depth",
		Help: "Suites waiting for dispatch.",
	})

	localWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "test_queue_local_workers",
		Help: "Local worker processes currently tracked.",
	})

	remoteWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "test_queue_remote_workers",
		Help: "Remote workers announced via SLAVE and not yet reported.",
	})

	runSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "test_queue_run_seconds",
		Help: "Seconds since the dispatch loop started.",
	})
)

// Observe updates the gauges from one dispatch-loop heartbeat. It never
// blocks, satisfying the QueueStatus hook contract.
func Observe(start time.Time, queueLen, local, remote int) {
	queueDepth.Set(float64(queueLen))
	localWorkers.Set(float64(local))
	remoteWorkers.Set(float64(remote))
	runSeconds.Set(time.Since(start).Seconds())
}
