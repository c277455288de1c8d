// Package metrics drží Prometheus metriky telemetry hubu.
//
// Registry je privátní (ne prometheus.DefaultRegisterer), aby šlo v testech
// vytvořit víc instancí vedle sebe.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iot"

// Metrics sdružuje všechny kolektory pipeline.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived   *prometheus.CounterVec // kind: telemetry|status
	Rejected           *prometheus.CounterVec // reason
	Alerts             *prometheus.CounterVec // kind
	Persisted          prometheus.Counter
	PersistFailures    *prometheus.CounterVec // stage: queue|store|cache
	InboxDropped       prometheus.Counter
	InboxDepth         prometheus.Gauge
	Broadcasts         *prometheus.CounterVec // event
	BroadcastDropped   prometheus.Counter
	ViewersConnected   prometheus.Gauge
	MQTTConnected      prometheus.Gauge
	MQTTReconnects     prometheus.Counter
	DevicesByStatus    *prometheus.GaugeVec // status
	ProcessingDuration prometheus.Histogram
	RetentionPurged    prometheus.Counter
}

// New vytvoří metriky a zaregistruje je (včetně Go runtime a process kolektorů).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "messages_received_total",
			Help: "MQTT messages taken from the inbox",
		}, []string{"kind"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "rejected_total",
			Help: "Messages dropped by validation, by reason",
		}, []string{"reason"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "alerts_total",
			Help: "Alerts attached to readings, by kind",
		}, []string{"kind"}),
		Persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "persisted_total",
			Help: "Readings written to the store",
		}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "failures_total",
			Help: "Persistence failures, by stage",
		}, []string{"stage"}),
		InboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "inbox_dropped_total",
			Help: "Messages evicted from a full inbox (oldest first)",
		}),
		InboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "inbox_depth",
			Help: "Messages waiting in the inbox",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "deliveries_total",
			Help: "Frames queued to viewers, by event",
		}, []string{"event"}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "dropped_total",
			Help: "Frames dropped because a viewer queue was full",
		}),
		ViewersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "viewers_connected",
			Help: "Currently connected WebSocket viewers",
		}),
		MQTTConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "connected",
			Help: "1 when the MQTT session is up",
		}),
		MQTTReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "reconnects_total",
			Help: "Reconnect attempts after a lost connection",
		}),
		DevicesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "presence", Name: "devices",
			Help: "Known devices, by presence status",
		}, []string{"status"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "processing_duration_seconds",
			Help:    "Time from dequeue to broadcast for one message",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		RetentionPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "retention_purged_total",
			Help: "Readings removed by the retention job",
		}),
	}

	m.registry.MustRegister(
		m.MessagesReceived, m.Rejected, m.Alerts,
		m.Persisted, m.PersistFailures,
		m.InboxDropped, m.InboxDepth,
		m.Broadcasts, m.BroadcastDropped, m.ViewersConnected,
		m.MQTTConnected, m.MQTTReconnects,
		m.DevicesByStatus, m.ProcessingDuration, m.RetentionPurged,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry vrací podkladový registry (testy, vlastní kolektory).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler vrací HTTP handler pro /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
