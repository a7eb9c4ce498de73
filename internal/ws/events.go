// Package ws implements the real-time protocol surface of the chat server:
// the websocket gateway (dispatcher), per-connection read/write pumps, the
// in-memory connection registry, and the best-effort fan-out that delivers
// result events to every live connection of a room's participants.
package ws

import "encoding/json"

// Inbound event names. Each maps to exactly one gateway handler.
const (
	EventCreateRoom      = "createRoom"
	EventGetRoomDetails  = "getRoomDetails"
	EventUpdateRoom      = "updateRoom"
	EventDeleteRoom      = "deleteRoom"
	EventSendMessage     = "sendMessage"
	EventFindAllMessages = "findAllMessages"
	EventUpdateMessage   = "updateMessage"
	EventDeleteMessage   = "deleteMessage"
)

// Outbound event names.
const (
	EventUserAllRooms       = "userAllRooms"
	EventRoomCreated        = "roomCreated"
	EventRoomDetailsFetched = "roomDetailsFetched"
	EventRoomUpdated        = "roomUpdated"
	EventRoomDeleted        = "roomDeleted"
	EventMessageSent        = "messageSent"
	EventAllMessages        = "allMessages"
	EventMessageUpdated     = "messageUpdated"
	EventMessageDeleted     = "messageDeleted"

	// EventException carries the single opaque protocol-level error surfaced
	// to the initiating client. The specific internal error kind never
	// crosses this boundary.
	EventException = "exception"
)

// Envelope is the wire frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// encodeEvent marshals an outbound event frame.
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
