package monitoring

import (
	"time"

	"vigil/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionStates = []domain.SessionState{
	domain.StateIdle,
	domain.StateInitialized,
	domain.StatePrepared,
	domain.StateStreaming,
	domain.StateError,
}

// PrometheusCollector implements ports.MetricsRecorder.
type PrometheusCollector struct {
	sessionState    *prometheus.GaugeVec
	streaming       prometheus.Gauge
	viewers         prometheus.Gauge
	bitrate         prometheus.Gauge
	transportEvents *prometheus.CounterVec
	lifecycle       *prometheus.HistogramVec
	lifecycleErrors *prometheus.CounterVec

	audioLevel        prometheus.Gauge
	inferenceDuration prometheus.Histogram
	cryScore          prometheus.Gauge
	alerts            *prometheus.CounterVec

	viewerPacketLoss prometheus.Histogram
	viewerJitter     prometheus.Histogram
}

// NewPrometheusCollector registers every metric on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vigil_session_state",
			Help: "1 for the current session lifecycle state, 0 otherwise",
		}, []string{"state"}),

		streaming: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_streaming",
			Help: "Whether the RTSP stream is live",
		}),

		viewers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_viewers_connected",
			Help: "Number of connected RTSP viewers",
		}),

		bitrate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_stream_bitrate_bps",
			Help: "Outgoing stream bitrate in bits per second",
		}),

		transportEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_transport_events_total",
			Help: "Transport notifications by kind",
		}, []string{"kind"}),

		lifecycle: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vigil_lifecycle_duration_seconds",
			Help:    "Duration of session lifecycle operations",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"operation"}),

		lifecycleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_lifecycle_errors_total",
			Help: "Failed session lifecycle operations",
		}, []string{"operation"}),

		audioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_audio_level",
			Help: "Normalized RMS level of the last microphone chunk (0-1)",
		}),

		inferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_inference_duration_seconds",
			Help:    "Duration of one classifier inference",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		cryScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vigil_cry_score",
			Help: "Cry score of the last inference window",
		}),

		alerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vigil_alerts_total",
			Help: "Cry alert transitions by kind",
		}, []string{"kind"}),

		viewerPacketLoss: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_viewer_packet_loss_ratio",
			Help:    "Fraction of packets lost as reported by viewer RTCP receiver reports",
			Buckets: []float64{0, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
		}),

		viewerJitter: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vigil_viewer_jitter_seconds",
			Help:    "Interarrival jitter reported by viewers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25},
		}),
	}
}

func (p *PrometheusCollector) SetSessionState(state domain.SessionState) {
	for _, s := range sessionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		p.sessionState.WithLabelValues(s.String()).Set(v)
	}
}

func (p *PrometheusCollector) SetStreaming(streaming bool) {
	if streaming {
		p.streaming.Set(1)
	} else {
		p.streaming.Set(0)
	}
}

func (p *PrometheusCollector) SetViewers(count int) {
	p.viewers.Set(float64(count))
}

func (p *PrometheusCollector) RecordTransportEvent(kind domain.TransportEventKind) {
	p.transportEvents.WithLabelValues(kind.String()).Inc()
}

func (p *PrometheusCollector) SetBitrate(bps int64) {
	p.bitrate.Set(float64(bps))
}

func (p *PrometheusCollector) ObserveLifecycle(op string, d time.Duration, err error) {
	p.lifecycle.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		p.lifecycleErrors.WithLabelValues(op).Inc()
	}
}

func (p *PrometheusCollector) SetAudioLevel(level float32) {
	p.audioLevel.Set(float64(level))
}

func (p *PrometheusCollector) ObserveInference(d time.Duration, score float32) {
	p.inferenceDuration.Observe(d.Seconds())
	p.cryScore.Set(float64(score))
}

func (p *PrometheusCollector) RecordAlert(kind domain.AlertKind) {
	p.alerts.WithLabelValues(string(kind)).Inc()
}

// RecordViewerReport aggregates across viewers; per-address labels would
// grow without bound as phones reconnect from new ports.
func (p *PrometheusCollector) RecordViewerReport(_ string, fractionLost float64, jitter time.Duration) {
	p.viewerPacketLoss.Observe(fractionLost)
	p.viewerJitter.Observe(jitter.Seconds())
}
