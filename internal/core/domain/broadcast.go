package domain

// BroadcastSession describes the remote room created for a Space.
// It is immutable once returned by the broadcast API.
type BroadcastSession struct {
	BroadcastID  string `json:"broadcast_id"`
	RoomID       string `json:"room_id"`
	MediaKey     string `json:"media_key"`
	StreamName   string `json:"stream_name"`
	UserID       string `json:"user_id"`
	ShareURL     string `json:"share_url,omitempty"`
	Credential   string `json:"-"`
	AccessToken  string `json:"-"`
	ChatToken    string `json:"-"`
	GatewayURL   string `json:"gateway_url"`
	ChatEndpoint string `json:"chat_endpoint"`
}

// TurnServers are short-lived ICE credentials.
type TurnServers struct {
	TTL      int      `json:"ttl"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
}

// SpaceMode selects which planes a Space brings up.
type SpaceMode string

const (
	SpaceModeBroadcast   SpaceMode = "broadcast"
	SpaceModeListen      SpaceMode = "listen"
	SpaceModeInteractive SpaceMode = "interactive"
)

// SpaceOptions is what the host asks for when creating a Space.
type SpaceOptions struct {
	Mode        SpaceMode
	Title       string
	Description string
	Languages   []string
}

// SessionState is the lifecycle of a Space.
type SessionState int

const (
	StateUnconfigured SessionState = iota
	StateInitializing
	StateReady
	StateStopping
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
