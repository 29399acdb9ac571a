// Package metrics holds the Prometheus instrumentation for the server.
// Counting is always on; the HTTP endpoint is only served when the operator
// asks for one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TransfersStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tftpd_transfers_started_total",
		Help: "Transfers initiated, by request type.",
	}, []string{"op"})

	TransfersFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tftpd_transfers_finished_total",
		Help: "Transfers that ran to completion, by request type.",
	}, []string{"op"})

	BytesMoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tftpd_bytes_total",
		Help: "File payload bytes moved, by direction.",
	}, []string{"direction"})

	WireErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tftpd_wire_errors_total",
		Help: "ERROR packets sent to peers, by TFTP error code.",
	}, []string{"code"})

	DroppedDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tftpd_dropped_datagrams_total",
		Help: "Datagrams discarded without a session or a reply.",
	})
)

// Handler returns the scrape endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
