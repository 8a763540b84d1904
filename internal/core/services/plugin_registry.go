package services

import (
	"context"
	"fmt"
	"sync"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"

	"go.uber.org/zap"
)

type pluginRegistration struct {
	plugin ports.Plugin
	config map[string]interface{}
}

// PluginRegistry keeps attached plugins in registration order and shields
// the session and sibling plugins from a failing hook.
type PluginRegistry struct {
	logger  *zap.SugaredLogger
	metrics ports.MetricsRecorder

	mu      sync.RWMutex
	entries []pluginRegistration
	ready   bool
	space   ports.Space
	initCtx context.Context
}

func NewPluginRegistry(logger *zap.Logger, metrics ports.MetricsRecorder) *PluginRegistry {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &PluginRegistry{
		logger:  logger.Sugar().With("component", "plugin_registry"),
		metrics: metrics,
	}
}

// Use attaches plugin. OnAttach runs synchronously; Init runs now when the
// registry is already ready, otherwise on InitAll.
func (r *PluginRegistry) Use(space ports.Space, plugin ports.Plugin, config map[string]interface{}) {
	r.guard(plugin, "onAttach", func() error {
		plugin.OnAttach(space)
		return nil
	})

	reg := pluginRegistration{plugin: plugin, config: config}

	r.mu.Lock()
	r.entries = append(r.entries, reg)
	ready, ctx := r.ready, r.initCtx
	r.mu.Unlock()

	r.logger.Infow("plugin attached", "plugin", plugin.Name(), "deferred_init", !ready)

	if ready {
		r.initOne(ctx, space, reg)
	}
}

// InitAll marks the registry ready and initializes every plugin attached
// so far, in registration order. Only the first call has any effect.
func (r *PluginRegistry) InitAll(ctx context.Context, space ports.Space) {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return
	}
	r.ready = true
	r.space = space
	r.initCtx = ctx
	pending := make([]pluginRegistration, len(r.entries))
	copy(pending, r.entries)
	r.mu.Unlock()

	for _, reg := range pending {
		r.initOne(ctx, space, reg)
	}
}

func (r *PluginRegistry) initOne(ctx context.Context, space ports.Space, reg pluginRegistration) {
	r.guard(reg.plugin, "init", func() error {
		return reg.plugin.Init(ctx, ports.PluginParams{Space: space, Config: reg.config})
	})
}

// FanOut delivers frame to every plugin; one plugin failing does not stop
// delivery to the rest.
func (r *PluginRegistry) FanOut(frame domain.AudioFrame) {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	for _, reg := range entries {
		r.guard(reg.plugin, "onAudioData", func() error {
			reg.plugin.OnAudioData(frame)
			return nil
		})
	}
}

// CleanupAll runs every Cleanup in registration order and detaches all
// plugins.
func (r *PluginRegistry) CleanupAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.ready = false
	r.mu.Unlock()

	for _, reg := range entries {
		r.guard(reg.plugin, "cleanup", reg.plugin.Cleanup)
	}
}

func (r *PluginRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// guard runs a hook, converting a panic or error into a log line and a metric.
func (r *PluginRegistry) guard(plugin ports.Plugin, hook string, fn func() error) {
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		err = fn()
	}()

	if err != nil {
		r.metrics.RecordPluginError(plugin.Name(), hook)
		r.logger.Errorw("plugin hook failed",
			"plugin", plugin.Name(),
			"hook", hook,
			"error", err,
		)
	}
}
