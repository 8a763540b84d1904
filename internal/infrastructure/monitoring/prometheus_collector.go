package monitoring

import (
	"strconv"
	"time"

	"spacecast/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.MetricsRecorder.
type PrometheusCollector struct {
	// Counters
	audioFrames  *prometheus.CounterVec
	pluginErrors *prometheus.CounterVec
	pipelineRuns *prometheus.CounterVec
	pollErrors   prometheus.Counter
	httpRequests *prometheus.CounterVec

	// Gauges
	speakers   prometheus.Gauge
	spaceState prometheus.Gauge
	packetLoss *prometheus.GaugeVec

	// Histograms
	httpDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers every series with reg. Pass
// prometheus.DefaultRegisterer to expose them on the default handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		audioFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_audio_frames_total",
			Help: "Audio frames received from remote speakers",
		}, []string{"user_id"}),

		pluginErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_plugin_errors_total",
			Help: "Plugin hook failures, including recovered panics",
		}, []string{"plugin", "hook"}),

		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_pipeline_stage_total",
			Help: "Conversation pipeline stage calls by result",
		}, []string{"stage", "result"}),

		pollErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "spacecast_janus_poll_errors_total",
			Help: "Failed gateway poll cycles",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_admin_requests_total",
			Help: "Admin API requests",
		}, []string{"method", "path", "status"}),

		speakers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacecast_speakers",
			Help: "Speakers currently admitted",
		}),

		spaceState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spacecast_space_state",
			Help: "Lifecycle state (0 unconfigured, 1 initializing, 2 ready, 3 stopping, 4 stopped)",
		}),

		packetLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spacecast_rtcp_fraction_lost",
			Help: "Fraction of packets lost as reported by RTCP receiver reports",
		}, []string{"peer"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spacecast_admin_request_duration_seconds",
			Help:    "Admin API request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path"}),
	}
}

func (p *PrometheusCollector) RecordAudioFrame(userID string) {
	p.audioFrames.WithLabelValues(userID).Inc()
}

func (p *PrometheusCollector) RecordPluginError(plugin, hook string) {
	p.pluginErrors.WithLabelValues(plugin, hook).Inc()
}

func (p *PrometheusCollector) RecordSpeakerCount(count int) {
	p.speakers.Set(float64(count))
}

func (p *PrometheusCollector) RecordPipelineRun(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.pipelineRuns.WithLabelValues(stage, result).Inc()
}

func (p *PrometheusCollector) RecordPollError() {
	p.pollErrors.Inc()
}

func (p *PrometheusCollector) RecordPacketLoss(peer string, fraction float64) {
	p.packetLoss.WithLabelValues(peer).Set(fraction)
}

func (p *PrometheusCollector) RecordSpaceState(state domain.SessionState) {
	p.spaceState.Set(float64(state))
}

func (p *PrometheusCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ForgetSpeaker drops the per-speaker series once a speaker leaves.
func (p *PrometheusCollector) ForgetSpeaker(userID string) {
	p.audioFrames.DeleteLabelValues(userID)
	p.packetLoss.DeleteLabelValues(userID)
}
