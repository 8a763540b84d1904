// Package idle reports when nobody has spoken for a while.
package idle

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"go.uber.org/zap"
)

const Name = "idle"

type Config struct {
	Timeout       time.Duration
	CheckInterval time.Duration
	// OnIdle runs once per idle period, on its own goroutine.
	OnIdle func()
}

type Plugin struct {
	ports.PluginBase

	cfg    Config
	logger *zap.SugaredLogger
	now    func() time.Time

	space        ports.Space
	lastActivity atomic.Int64
	fired        atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

func New(cfg Config, logger *zap.Logger) *Plugin {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 10 * time.Second
	}
	return &Plugin{
		cfg:    cfg,
		logger: logger.Sugar().With("plugin", Name),
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Init(ctx context.Context, params ports.PluginParams) error {
	p.space = params.Space
	p.Touch()

	p.done.Add(1)
	go p.watch()

	p.logger.Infow("idle watch started", "timeout", p.cfg.Timeout)
	return nil
}

func (p *Plugin) OnAudioData(frame domain.AudioFrame) {
	p.Touch()
}

// Touch records activity that is not speaker audio, such as local playback.
func (p *Plugin) Touch() {
	p.lastActivity.Store(p.now().UnixNano())
	p.fired.Store(false)
}

// IdleFor returns the time since the last activity.
func (p *Plugin) IdleFor() time.Duration {
	return p.now().Sub(time.Unix(0, p.lastActivity.Load()))
}

func (p *Plugin) watch() {
	defer p.done.Done()
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.check()
		}
	}
}

func (p *Plugin) check() {
	idle := p.IdleFor()
	if idle < p.cfg.Timeout || !p.fired.CompareAndSwap(false, true) {
		return
	}

	p.logger.Infow("space idle", "idle_for", idle)
	p.space.Emit(domain.IdleTimeout{IdleMs: idle.Milliseconds()})
	if p.cfg.OnIdle != nil {
		go p.cfg.OnIdle()
	}
}

func (p *Plugin) Cleanup() error {
	p.stopOnce.Do(func() { close(p.stop) })
	p.done.Wait()
	return nil
}
