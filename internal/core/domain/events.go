package domain

// EventKind enumerates everything a Space can emit.
type EventKind string

const (
	EventSpeakerRequest   EventKind = "speaker_request"
	EventOccupancyUpdate  EventKind = "occupancy_update"
	EventMuteStateChanged EventKind = "mute_state_changed"
	EventGuestReaction    EventKind = "guest_reaction"
	EventChatDisconnected EventKind = "chat_disconnected"
	EventSpaceError       EventKind = "error"
	EventIdleTimeout      EventKind = "idle_timeout"
)

// Event is a typed Space event.
type Event interface {
	Kind() EventKind
}

type SpeakerRequest struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	SessionUUID string `json:"session_uuid"`
}

func (SpeakerRequest) Kind() EventKind { return EventSpeakerRequest }

type OccupancyUpdate struct {
	Occupancy         int `json:"occupancy"`
	TotalParticipants int `json:"total_participants"`
}

func (OccupancyUpdate) Kind() EventKind { return EventOccupancyUpdate }

type MuteStateChanged struct {
	UserID string `json:"user_id"`
	Muted  bool   `json:"muted"`
}

func (MuteStateChanged) Kind() EventKind { return EventMuteStateChanged }

type GuestReaction struct {
	DisplayName string `json:"display_name"`
	Emoji       string `json:"emoji"`
}

func (GuestReaction) Kind() EventKind { return EventGuestReaction }

type ChatDisconnected struct {
	Reason string `json:"reason,omitempty"`
}

func (ChatDisconnected) Kind() EventKind { return EventChatDisconnected }

type SpaceError struct {
	Source string `json:"source"`
	Err    error  `json:"-"`
}

func (SpaceError) Kind() EventKind { return EventSpaceError }

type IdleTimeout struct {
	IdleMs int64 `json:"idle_ms"`
}

func (IdleTimeout) Kind() EventKind { return EventIdleTimeout }

// SignalingEventKind enumerates what the signaling client reports upward.
type SignalingEventKind string

const (
	SignalingAudioData         SignalingEventKind = "audio_data"
	SignalingSpeakerSubscribed SignalingEventKind = "speaker_subscribed"
	SignalingError             SignalingEventKind = "error"
)

// SignalingEvent is emitted by the signaling client. Only the field
// matching Kind is set.
type SignalingEvent struct {
	Kind   SignalingEventKind
	Frame  AudioFrame
	UserID string
	FeedID int64
	Err    error
}
