package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsRecorded counts durable operations appended to session logs,
	// labelled by operation kind.
	OperationsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collabd_operations_recorded_total",
			Help: "Operations appended to session logs.",
		},
		[]string{"kind"},
	)

	// MessagesBroadcast counts serialized messages handed to the fan-out.
	MessagesBroadcast = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collabd_messages_broadcast_total",
			Help: "Messages published to the broadcast fan-out.",
		},
	)

	// ConnectedClients tracks currently open editor connections.
	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "collabd_connected_clients",
			Help: "Currently connected editor clients.",
		},
	)

	// CatchupReads counts operations-since catch-up requests served.
	CatchupReads = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "collabd_catchup_reads_total",
			Help: "Catch-up (operations since) reads served.",
		},
	)
)

func init() {
	prometheus.MustRegister(OperationsRecorded)
	prometheus.MustRegister(MessagesBroadcast)
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(CatchupReads)
}

// Handler returns the HTTP handler serving the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
