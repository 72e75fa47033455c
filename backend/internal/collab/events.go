package collab

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const EventUpdateAccepted = "ROOM_UPDATE_ACCEPTED"

// RoomUpdateEvent 每个被接受的房间更新发一条。只带元数据，不带更新本身。
type RoomUpdateEvent struct {
	EventType   string    `json:"eventType"` // 固定 "ROOM_UPDATE_ACCEPTED"
	RoomID      string    `json:"roomId"`
	OperationID string    `json:"operationId"`
	ClientID    string    `json:"clientId"`
	UpdateSize  int       `json:"updateSize"`
	StateVector []byte    `json:"stateVector"` // json 里是 base64
	AcceptedAt  time.Time `json:"acceptedAt"`
}

func newRoomUpdateEvent(roomID, clientID string, update, stateVector []byte) RoomUpdateEvent {
	return RoomUpdateEvent{
		EventType:   EventUpdateAccepted,
		RoomID:      roomID,
		OperationID: ulid.Make().String(),
		ClientID:    clientID,
		UpdateSize:  len(update),
		StateVector: stateVector,
		AcceptedAt:  time.Now().UTC(),
	}
}
