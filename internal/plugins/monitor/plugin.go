// Package monitor exports live per-speaker audio levels.
package monitor

import (
	"context"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	"spacecast/pkg/audio"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const Name = "monitor"

type level struct {
	peak   int
	rms    float64
	frames uint64
	seen   time.Time
}

type Plugin struct {
	ports.PluginBase

	logInterval time.Duration
	logger      *zap.SugaredLogger

	peakGauge  *prometheus.GaugeVec
	rmsGauge   *prometheus.GaugeVec
	frameCount *prometheus.CounterVec

	mu     sync.Mutex
	levels map[string]*level

	stop chan struct{}
	done sync.WaitGroup
}

// New registers the level metrics with reg. A zero logInterval disables
// the periodic log.
func New(reg prometheus.Registerer, logInterval time.Duration, logger *zap.Logger) *Plugin {
	factory := promauto.With(reg)
	return &Plugin{
		logInterval: logInterval,
		logger:      logger.Sugar().With("plugin", Name),
		peakGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spacecast_speaker_peak_amplitude",
			Help: "Peak absolute sample value of the last frame per speaker",
		}, []string{"user_id"}),
		rmsGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spacecast_speaker_rms_level",
			Help: "RMS level of the last frame per speaker",
		}, []string{"user_id"}),
		frameCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spacecast_speaker_frames_total",
			Help: "Audio frames observed per speaker",
		}, []string{"user_id"}),
		levels: make(map[string]*level),
		stop:   make(chan struct{}),
	}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, params ports.PluginParams) error {
	if p.logInterval <= 0 {
		return nil
	}
	p.done.Add(1)
	go p.logLoop()
	return nil
}

func (p *Plugin) OnAudioData(frame domain.AudioFrame) {
	peak := audio.Peak(frame.Samples)
	rms := audio.RMS(frame.Samples)

	p.peakGauge.WithLabelValues(frame.UserID).Set(float64(peak))
	p.rmsGauge.WithLabelValues(frame.UserID).Set(rms)
	p.frameCount.WithLabelValues(frame.UserID).Inc()

	p.mu.Lock()
	l, ok := p.levels[frame.UserID]
	if !ok {
		l = &level{}
		p.levels[frame.UserID] = l
	}
	l.peak, l.rms, l.seen = peak, rms, frame.ReceivedAt
	l.frames++
	p.mu.Unlock()
}

// Levels returns the last observed peak per speaker.
func (p *Plugin) Levels() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.levels))
	for user, l := range p.levels {
		out[user] = l.peak
	}
	return out
}

func (p *Plugin) logLoop() {
	defer p.done.Done()
	ticker := time.NewTicker(p.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			for user, l := range p.levels {
				p.logger.Debugw("speaker level",
					"user_id", user,
					"peak", l.peak,
					"rms", l.rms,
					"frames", l.frames,
					"last_seen", l.seen,
				)
			}
			p.mu.Unlock()
		}
	}
}

// Cleanup stops the log loop and drops the per-speaker series.
func (p *Plugin) Cleanup() error {
	select {
	case <-p.stop:
		return nil
	default:
		close(p.stop)
	}
	p.done.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for user := range p.levels {
		p.peakGauge.DeleteLabelValues(user)
		p.rmsGauge.DeleteLabelValues(user)
		p.frameCount.DeleteLabelValues(user)
	}
	p.levels = make(map[string]*level)
	return nil
}
