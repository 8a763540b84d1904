package ports

import (
	"context"

	"spacecast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SignalingParams configures one signaling client for one broadcast.
type SignalingParams struct {
	GatewayURL string
	Credential string
	RoomID     string
	UserID     string
	StreamName string
	ICEServers []webrtc.ICEServer
}

// SignalingClient owns the WebRTC session against the signaling gateway.
type SignalingClient interface {
	Initialize(ctx context.Context) error
	SubscribeSpeaker(ctx context.Context, userID string) error
	UnsubscribeSpeaker(ctx context.Context, userID string) error
	PushLocalAudio(samples []int16, sampleRate, channels int) error
	DestroyRoom(ctx context.Context) error
	LeaveRoom(ctx context.Context) error
	SessionID() int64
	HandleID() int64
	PublisherID() int64
	Events() <-chan domain.SignalingEvent
	Stop()
}

// SignalingFactory builds a signaling client once the broadcast exists.
type SignalingFactory func(params SignalingParams) SignalingClient

// ControlParams configures the control channel.
type ControlParams struct {
	Endpoint    string
	AccessToken string
	RoomID      string
}

// ControlChannel carries speaker requests, mute changes and reactions.
type ControlChannel interface {
	Connect(ctx context.Context) error
	ReactWithEmoji(emoji string) error
	Events() <-chan domain.Event
	Disconnect()
}

// ControlFactory builds a control channel once the broadcast exists.
type ControlFactory func(params ControlParams) ControlChannel

// SpaceController is the public session surface used by the admin API.
type SpaceController interface {
	State() domain.SessionState
	Broadcast() *domain.BroadcastSession
	Speakers() []domain.SpeakerInfo
	ApproveSpeaker(ctx context.Context, userID, sessionUUID string) error
	RemoveSpeaker(ctx context.Context, userID string) error
	React(emoji string) error
}
