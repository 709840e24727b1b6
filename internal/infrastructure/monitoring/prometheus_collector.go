package monitoring

import (
	"kwikcast/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports session and network health to Prometheus.
// It observes the orchestrator passively through the event bus.
type PrometheusCollector struct {
	sessionState       prometheus.Gauge
	streamBitrate      prometheus.Gauge
	streamFPS          prometheus.Gauge
	droppedFramesTotal prometheus.Gauge
	uptimeSeconds      prometheus.Gauge

	networkUploadMbps   prometheus.Gauge
	networkLatencyMs    prometheus.Gauge
	networkLossPercent  prometheus.Gauge
	networkWarningTotal prometheus.Counter

	reconnectAttemptsTotal prometheus.Counter
	bitrateAdjustTotal     prometheus.Counter

	unsub func()
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_session_state",
			Help: "Current session state (0=idle 1=connecting 2=streaming 3=paused 4=stopping 5=disconnected 6=failed)",
		}),
		streamBitrate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_stream_bitrate_kbps",
			Help: "Current encoder video bitrate in kbps",
		}),
		streamFPS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_stream_fps",
			Help: "Current encoder frame rate",
		}),
		droppedFramesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_dropped_frames",
			Help: "Dropped frames reported by the active transport",
		}),
		uptimeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_stream_uptime_seconds",
			Help: "Uptime of the active session in seconds",
		}),
		networkUploadMbps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_network_upload_mbps",
			Help: "Latest measured upload bandwidth in Mbps",
		}),
		networkLatencyMs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_network_latency_ms",
			Help: "Latest measured round-trip latency in milliseconds",
		}),
		networkLossPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kwikcast_network_packet_loss_percent",
			Help: "Latest measured packet loss percentage",
		}),
		networkWarningTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kwikcast_network_warnings_total",
			Help: "Total network threshold warnings",
		}),
		reconnectAttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kwikcast_reconnect_attempts_total",
			Help: "Total reconnection attempts",
		}),
		bitrateAdjustTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kwikcast_bitrate_adjustments_total",
			Help: "Total adaptive bitrate adjustments",
		}),
	}
}

// Attach subscribes the collector to the orchestrator's event bus.
func (p *PrometheusCollector) Attach(bus *events.Bus) {
	p.unsub = bus.Subscribe(p.handle)
}

// Detach removes the bus subscription.
func (p *PrometheusCollector) Detach() {
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
}

func (p *PrometheusCollector) handle(ev events.Event) {
	switch ev.Type {
	case events.EventStatusChange:
		p.sessionState.Set(float64(ev.State))
	case events.EventMetricsUpdate:
		p.streamBitrate.Set(float64(ev.Metrics.BitrateKbps))
		p.streamFPS.Set(float64(ev.Metrics.FPS))
		p.droppedFramesTotal.Set(float64(ev.Metrics.DroppedFrames))
		p.uptimeSeconds.Set(ev.Metrics.Uptime.Seconds())
	case events.EventNetworkStats:
		p.networkUploadMbps.Set(ev.Sample.UploadMbps)
		p.networkLatencyMs.Set(float64(ev.Sample.Latency.Milliseconds()))
		p.networkLossPercent.Set(ev.Sample.PacketLossPercent)
	case events.EventNetworkWarning:
		p.networkWarningTotal.Inc()
	case events.EventReconnectAttempt:
		p.reconnectAttemptsTotal.Inc()
	case events.EventBitrateAdjustment:
		p.bitrateAdjustTotal.Inc()
	}
}
