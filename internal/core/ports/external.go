package ports

import (
	"context"

	"spacecast/internal/core/domain"
)

// CredentialProvider yields the host's session credentials.
type CredentialProvider interface {
	SessionCookie(ctx context.Context) (string, error)
	BearerToken(ctx context.Context) (string, error)
}

// PublishRequest carries the signaling identifiers the broadcast API needs
// to mark a broadcast live.
type PublishRequest struct {
	Cookie      string
	Broadcast   *domain.BroadcastSession
	Title       string
	SessionID   int64
	HandleID    int64
	PublisherID int64
}

// BroadcastAPI is the REST boundary that creates and manages broadcasts.
type BroadcastAPI interface {
	GetRegion(ctx context.Context) (string, error)
	CreateBroadcast(ctx context.Context, cookie, region string, opts domain.SpaceOptions) (*domain.BroadcastSession, error)
	AuthorizeToken(ctx context.Context, cookie string) (string, error)
	TurnServers(ctx context.Context, cookie string) (*domain.TurnServers, error)
	PublishBroadcast(ctx context.Context, req PublishRequest) error
	ApproveSpeaker(ctx context.Context, authToken, chatToken, sessionUUID string) error
	EjectSpeaker(ctx context.Context, authToken, chatToken, sessionUUID string) error
	EndBroadcast(ctx context.Context, cookie, broadcastID string) error
}

// Transcriber turns encoded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Completer produces the next assistant turn.
type Completer interface {
	Complete(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Synthesizer turns text into WAV-encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MetricsRecorder receives session-level counters. Implementations must be
// safe for concurrent use.
type MetricsRecorder interface {
	RecordAudioFrame(userID string)
	RecordPluginError(plugin, hook string)
	RecordSpeakerCount(count int)
	RecordPipelineRun(stage string, err error)
	RecordPollError()
	RecordPacketLoss(peer string, fraction float64)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordAudioFrame(string)          {}
func (NopMetrics) RecordPluginError(string, string) {}
func (NopMetrics) RecordSpeakerCount(int)           {}
func (NopMetrics) RecordPipelineRun(string, error)  {}
func (NopMetrics) RecordPollError()                 {}
func (NopMetrics) RecordPacketLoss(string, float64) {}
