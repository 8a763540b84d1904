package ports

import (
	"context"

	"spacecast/internal/core/domain"
)

// Space is the view of a session that plugins receive.
type Space interface {
	State() domain.SessionState
	Broadcast() *domain.BroadcastSession
	PushAudio(samples []int16, sampleRate int) error
	Subscribe() (<-chan domain.Event, func())
	Emit(event domain.Event)
}

// PluginParams is handed to Init once the session is ready.
type PluginParams struct {
	Space  Space
	Config map[string]interface{}
}

// Plugin is an audio processor attached to a Space. Embed PluginBase to
// get no-op defaults for hooks you don't need.
type Plugin interface {
	Name() string
	OnAttach(space Space)
	Init(ctx context.Context, params PluginParams) error
	OnAudioData(frame domain.AudioFrame)
	Cleanup() error
}

// PluginBase implements every hook as a no-op.
type PluginBase struct{}

func (PluginBase) OnAttach(Space)                           {}
func (PluginBase) Init(context.Context, PluginParams) error { return nil }
func (PluginBase) OnAudioData(domain.AudioFrame)            {}
func (PluginBase) Cleanup() error                           { return nil }
