// monitor/monitor.go
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务器指标。Registerer 由调用方提供，测试可使用独立的 registry
type Metrics struct {
	OnlineConnections prometheus.Gauge
	TrackedRooms      prometheus.Gauge
	SlowRooms         prometheus.Counter
	BroadcastDrops    prometheus.Counter
	MessagesReceived  *prometheus.CounterVec
	CommandLatency    *prometheus.HistogramVec
	LockWait          prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Number of open WebSocket connections",
		}),
		TrackedRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_rooms",
			Help:      "Rooms with a running or queued command",
		}),
		SlowRooms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_room_commands_total",
			Help:      "Commands that held a room past the warning threshold",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Subscribers dropped for not keeping up",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of messages received",
		}, []string{"type"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_latency_seconds",
			Help:      "Room command latency, including the wait for the room",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}, []string{"command", "outcome"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_lock_wait_seconds",
			Help:      "Time spent queued for exclusive room access",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OnlineConnections,
			m.TrackedRooms,
			m.SlowRooms,
			m.BroadcastDrops,
			m.MessagesReceived,
			m.CommandLatency,
			m.LockWait,
		)
	}
	return m
}

// Handler exposes gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) IncOnlineConnections() {
	m.OnlineConnections.Inc()
}

func (m *Metrics) DecOnlineConnections() {
	m.OnlineConnections.Dec()
}

func (m *Metrics) IncMessagesReceived(kind string) {
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveCommand(command string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CommandLatency.WithLabelValues(command, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	m.LockWait.Observe(d.Seconds())
}

func (m *Metrics) IncTrackedRooms() {
	m.TrackedRooms.Inc()
}

func (m *Metrics) DecTrackedRooms() {
	m.TrackedRooms.Dec()
}

func (m *Metrics) IncSlowRooms() {
	m.SlowRooms.Inc()
}

func (m *Metrics) IncBroadcastDrops() {
	m.BroadcastDrops.Inc()
}
