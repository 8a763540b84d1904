package domain

// SpeakerState tracks how far a speaker got through admission.
type SpeakerState string

const (
	SpeakerPending         SpeakerState = "pending"
	SpeakerApproved        SpeakerState = "approved"
	SpeakerSubscribed      SpeakerState = "subscribed"
	SpeakerSubscribeFailed SpeakerState = "subscribe_failed"
)

// SpeakerInfo is one admitted (or admitting) speaker.
// JanusParticipantID stays zero until the subscriber handle attaches.
type SpeakerInfo struct {
	UserID             string       `json:"user_id"`
	SessionUUID        string       `json:"session_uuid"`
	JanusParticipantID int64        `json:"janus_participant_id,omitempty"`
	State              SpeakerState `json:"state"`
}

// HandshakeComplete reports whether the speaker can be ejected.
func (s SpeakerInfo) HandshakeComplete() bool {
	return s.SessionUUID != "" && s.JanusParticipantID != 0
}
