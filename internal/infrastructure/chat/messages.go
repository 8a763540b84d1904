package chat

import (
	"encoding/json"

	"spacecast/internal/core/domain"
)

// Frame kinds on the control channel.
const (
	kindChat    = 1
	kindControl = 2
	kindAuth    = 3
)

// guestBroadcastingEvent values carried in message bodies.
const (
	guestSpeakerRequest = 1
	guestMuted          = 16
	guestUnmuted        = 17
)

const reactionType = 2

// frame is the outer envelope; Payload is itself JSON-encoded.
type frame struct {
	Payload string `json:"payload"`
	Kind    int    `json:"kind"`
}

type sender struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// payload is the decoded frame payload; Body is JSON-encoded again.
type payload struct {
	Body   string  `json:"body"`
	Sender *sender `json:"sender,omitempty"`
}

type messageBody struct {
	GuestBroadcastingEvent int             `json:"guestBroadcastingEvent"`
	GuestRemoteID          string          `json:"guestRemoteID"`
	GuestUsername          string          `json:"guestUsername"`
	SessionUUID            string          `json:"sessionUUID"`
	Occupancy              json.RawMessage `json:"occupancy"`
	TotalParticipants      json.RawMessage `json:"total_participants"`
	Type                   int             `json:"type"`
	Body                   string          `json:"body"`
	DisplayName            string          `json:"displayName"`
}

// decodeMessage maps one inbound frame to zero or more events. Anything
// malformed yields nothing.
func decodeMessage(raw []byte) []domain.Event {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Payload == "" {
		return nil
	}
	var p payload
	if err := json.Unmarshal([]byte(f.Payload), &p); err != nil || p.Body == "" {
		return nil
	}
	var body messageBody
	if err := json.Unmarshal([]byte(p.Body), &body); err != nil {
		return nil
	}

	var events []domain.Event

	switch body.GuestBroadcastingEvent {
	case guestSpeakerRequest:
		displayName := body.GuestUsername
		if p.Sender != nil && p.Sender.DisplayName != "" {
			displayName = p.Sender.DisplayName
		}
		events = append(events, domain.SpeakerRequest{
			UserID:      body.GuestRemoteID,
			Username:    body.GuestUsername,
			DisplayName: displayName,
			SessionUUID: body.SessionUUID,
		})
	case guestMuted, guestUnmuted:
		events = append(events, domain.MuteStateChanged{
			UserID: body.GuestRemoteID,
			Muted:  body.GuestBroadcastingEvent == guestMuted,
		})
	}

	if occupancy, ok := number(body.Occupancy); ok {
		total, _ := number(body.TotalParticipants)
		events = append(events, domain.OccupancyUpdate{
			Occupancy:         occupancy,
			TotalParticipants: total,
		})
	}

	if body.Type == reactionType {
		displayName := body.DisplayName
		if displayName == "" && p.Sender != nil {
			displayName = p.Sender.DisplayName
		}
		events = append(events, domain.GuestReaction{DisplayName: displayName, Emoji: body.Body})
	}

	return events
}

// number accepts only JSON numbers.
func number(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return int(v), true
}

func mustString(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func authFrame(accessToken string) frame {
	return frame{
		Payload: mustString(map[string]string{"access_token": accessToken}),
		Kind:    kindAuth,
	}
}

func joinFrame(roomID string) frame {
	return frame{
		Payload: mustString(map[string]interface{}{
			"body": mustString(map[string]string{"room": roomID}),
			"kind": kindChat,
		}),
		Kind: kindControl,
	}
}

func reactionFrame(roomID, emoji string) frame {
	return frame{
		Payload: mustString(map[string]interface{}{
			"room": roomID,
			"body": mustString(map[string]interface{}{
				"body": emoji,
				"type": reactionType,
				"v":    2,
			}),
		}),
		Kind: kindChat,
	}
}
