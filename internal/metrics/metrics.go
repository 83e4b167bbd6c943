package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceived counts transport messages by subject role.
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_packets_received_total",
			Help: "Total number of transport messages received",
		},
		[]string{"topic"},
	)

	// PacketsRejected counts validator rejections by reason code.
	PacketsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_packets_rejected_total",
			Help: "Total number of telemetry packets rejected by the validator",
		},
		[]string{"reason"},
	)

	// PacketsAccepted counts packets that passed validation.
	PacketsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_packets_accepted_total",
			Help: "Total number of telemetry packets accepted",
		},
	)

	// AlertsFired counts newly created alert records.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_fired_total",
			Help: "Total number of alert records created",
		},
		[]string{"sensor", "severity"},
	)

	// AlertsResolved counts resolution sweeps that transitioned records.
	AlertsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alerts_resolved_total",
			Help: "Total number of alert records resolved",
		},
		[]string{"sensor"},
	)

	// EventsBroadcast counts fan-out events pushed to dashboard clients.
	EventsBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_broadcast_total",
			Help: "Total number of events broadcast to dashboard clients",
		},
		[]string{"event"},
	)

	// WatchdogTicks counts offline-watchdog evaluations.
	WatchdogTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchdog_ticks_total",
			Help: "Total number of offline-watchdog evaluations",
		},
	)

	// ConnectedClients tracks currently connected dashboard clients.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connected_clients",
			Help: "Number of currently connected dashboard clients",
		},
	)

	// StorageErrors counts failed durable-storage operations.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_errors_total",
			Help: "Total number of failed storage operations",
		},
		[]string{"operation"},
	)
)
