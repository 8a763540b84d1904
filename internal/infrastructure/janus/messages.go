package janus

import (
	"encoding/json"
)

const (
	videoRoomPlugin = "janus.plugin.videoroom"

	typeCreate    = "create"
	typeAttach    = "attach"
	typeMessage   = "message"
	typeSuccess   = "success"
	typeEvent     = "event"
	typeError     = "error"
	typeKeepalive = "keepalive"

	sdpOffer  = "offer"
	sdpAnswer = "answer"
)

// JSEP carries an SDP blob alongside a gateway message.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Publisher is one entry of a videoroom publishers list.
type Publisher struct {
	ID              int64  `json:"id"`
	Display         string `json:"display"`
	PeriscopeUserID string `json:"periscope_user_id,omitempty"`
}

// PluginData is the plugin-specific part of an event.
type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

// VideoRoomData is the subset of videoroom plugin data the client reads.
type VideoRoomData struct {
	VideoRoom   string          `json:"videoroom"`
	Room        interface{}     `json:"room,omitempty"`
	ID          int64           `json:"id,omitempty"`
	Publishers  []Publisher     `json:"publishers,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Unpublished json.RawMessage `json:"unpublished,omitempty"`
	Leaving     json.RawMessage `json:"leaving,omitempty"`
}

// feedFromRaw reads a feed id from "unpublished"/"leaving", which the
// gateway sends as either a number or the string "ok".
func feedFromRaw(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, id != 0
}

// ErrorInfo is the body of a {janus:"error"} envelope.
type ErrorInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Event is a gateway envelope, either a synchronous response or a polled event.
type Event struct {
	Janus       string       `json:"janus"`
	Transaction string       `json:"transaction,omitempty"`
	SessionID   int64        `json:"session_id,omitempty"`
	Sender      int64        `json:"sender,omitempty"`
	Data        *sessionData `json:"data,omitempty"`
	PluginData  *PluginData  `json:"plugindata,omitempty"`
	JSEP        *JSEP        `json:"jsep,omitempty"`
	Error       *ErrorInfo   `json:"error,omitempty"`
}

type sessionData struct {
	ID int64 `json:"id"`
}

// VideoRoom decodes the videoroom payload, or returns nil when the event
// carries none.
func (e *Event) VideoRoom() *VideoRoomData {
	if e.PluginData == nil || e.PluginData.Plugin != videoRoomPlugin || len(e.PluginData.Data) == 0 {
		return nil
	}
	var data VideoRoomData
	if err := json.Unmarshal(e.PluginData.Data, &data); err != nil {
		return nil
	}
	return &data
}

// request is an outbound envelope.
type request struct {
	Janus       string      `json:"janus"`
	Transaction string      `json:"transaction"`
	Plugin      string      `json:"plugin,omitempty"`
	Body        interface{} `json:"body,omitempty"`
	JSEP        *JSEP       `json:"jsep,omitempty"`
}

type streamSpec struct {
	Feed int64  `json:"feed"`
	Mid  string `json:"mid"`
	Send bool   `json:"send"`
}

func createRoomBody(room, userID, audioCodec string) map[string]interface{} {
	return map[string]interface{}{
		"request":               "create",
		"room":                  room,
		"periscope_user_id":     userID,
		"audiocodec":            audioCodec,
		"videocodec":            "h264",
		"transport_wide_cc_ext": true,
		"app_id":                "periscope",
		"h264_profile":          "42e01f",
		"dummy_publisher":       false,
	}
}

func joinPublisherBody(room, userID string) map[string]interface{} {
	return map[string]interface{}{
		"request":           "join",
		"room":              room,
		"ptype":             "publisher",
		"display":           userID,
		"periscope_user_id": userID,
	}
}

func configureBody(room, userID string, sessionID int64, streamName string) map[string]interface{} {
	return map[string]interface{}{
		"request":           "configure",
		"room":              room,
		"periscope_user_id": userID,
		"session_id":        sessionID,
		"stream_name":       streamName,
		"vidman_token":      nil,
		"video":             false,
		"audio":             true,
	}
}

func joinSubscriberBody(room, userID string, feed int64) map[string]interface{} {
	return map[string]interface{}{
		"request":           "join",
		"room":              room,
		"periscope_user_id": userID,
		"ptype":             "subscriber",
		"streams":           []streamSpec{{Feed: feed, Mid: "0", Send: true}},
	}
}

func startBody(room, userID string) map[string]interface{} {
	return map[string]interface{}{
		"request":           "start",
		"room":              room,
		"periscope_user_id": userID,
	}
}

func roomRequestBody(request, room, userID string) map[string]interface{} {
	return map[string]interface{}{
		"request":           request,
		"room":              room,
		"periscope_user_id": userID,
	}
}
