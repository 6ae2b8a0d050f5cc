// Package observability exposes Prometheus metrics for the realtime core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"teampulse/pkg/types"
)

// Metrics is the set of Prometheus collectors the server maintains. All
// collectors register with the default registry, so they surface on the
// /metrics endpoint via the standard promhttp handler.
type Metrics struct {
	// ConnectedClients tracks the current number of live connections.
	ConnectedClients prometheus.Gauge

	// ActiveRooms tracks the current number of non-empty rooms.
	ActiveRooms prometheus.Gauge

	// ActiveSessions tracks collaboration sessions by kind.
	// Labels: kind (whiteboard|document|meeting)
	ActiveSessions *prometheus.GaugeVec

	// ActiveStreams tracks live stream subscriptions by kind.
	// Labels: kind (analytics|team_events)
	ActiveStreams *prometheus.GaugeVec

	// CommandCounter counts client commands by type and outcome.
	// Labels: command, status (ok|error)
	CommandCounter *prometheus.CounterVec

	// BroadcastCounter counts room broadcast deliveries.
	// Labels: room_type
	BroadcastCounter *prometheus.CounterVec

	// ErrorCounter counts errors by component and error code.
	// Labels: component (gateway|room|collab|stream|bridge), code
	ErrorCounter *prometheus.CounterVec

	// ConnectionDuration measures connection lifetime in seconds.
	// Buckets: 10s up to 8h
	ConnectionDuration prometheus.Histogram
}

// NewMetrics creates and registers all collectors. Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "teampulse_connected_clients",
			Help: "Current number of live websocket connections",
		}),

		ActiveRooms: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "teampulse_active_rooms",
			Help: "Current number of non-empty rooms",
		}),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "teampulse_active_sessions",
				Help: "Current number of active collaboration sessions by kind",
			},
			[]string{"kind"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "teampulse_active_streams",
				Help: "Current number of live stream subscriptions by kind",
			},
			[]string{"kind"},
		),

		CommandCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teampulse_commands_total",
				Help: "Total number of client commands by type and outcome",
			},
			[]string{"command", "status"},
		),

		BroadcastCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teampulse_broadcasts_total",
				Help: "Total number of room broadcasts by room type",
			},
			[]string{"room_type"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "teampulse_errors_total",
				Help: "Total number of errors by component and code",
			},
			[]string{"component", "code"},
		),

		ConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "teampulse_connection_duration_seconds",
			Help:    "Lifetime of websocket connections in seconds",
			Buckets: []float64{10, 60, 300, 1800, 3600, 7200, 14400, 28800},
		}),
	}
}

// ClientConnected increments the connected clients gauge.
func (m *Metrics) ClientConnected() {
	m.ConnectedClients.Inc()
}

// ClientDisconnected decrements the gauge and records the connection lifetime.
func (m *Metrics) ClientDisconnected(durationSeconds float64) {
	m.ConnectedClients.Dec()
	m.ConnectionDuration.Observe(durationSeconds)
}

// RecordCommand counts one processed client command.
func (m *Metrics) RecordCommand(command, status string) {
	m.CommandCounter.WithLabelValues(command, status).Inc()
}

// RecordBroadcast counts one room broadcast.
func (m *Metrics) RecordBroadcast(roomType string) {
	m.BroadcastCounter.WithLabelValues(roomType).Inc()
}

// RecordError counts one error.
func (m *Metrics) RecordError(component, code string) {
	m.ErrorCounter.WithLabelValues(component, code).Inc()
}

// RoomOpened and RoomClosed satisfy the room lifecycle listener so the
// rooms gauge tracks live rooms. Registered during assembly.
func (m *Metrics) RoomOpened(_ types.RoomID) {
	m.ActiveRooms.Inc()
}

func (m *Metrics) RoomClosed(_ types.RoomID) {
	m.ActiveRooms.Dec()
}

// StreamOpened and StreamClosed satisfy the stream interest listener.
func (m *Metrics) StreamOpened(_, kind string) {
	m.ActiveStreams.WithLabelValues(kind).Inc()
}

func (m *Metrics) StreamClosed(_, kind string) {
	m.ActiveStreams.WithLabelValues(kind).Dec()
}

// SessionStarted and SessionEnded satisfy the session status listener.
func (m *Metrics) SessionStarted(kind string) {
	m.ActiveSessions.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionEnded(kind string) {
	m.ActiveSessions.WithLabelValues(kind).Dec()
}
