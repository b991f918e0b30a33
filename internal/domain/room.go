package domain

import (
	"time"

	"github.com/google/uuid"
)

type RoomID string

// NewRoomID allocates a fresh room id. Room ids are UUIDs and therefore
// disjoint from the username namespace.
func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}

type Room struct {
	ID          RoomID `json:"id"`
	DisplayName string `json:"display_name"`
	Private     bool   `json:"private"`

	// Last processed storage upload, used to drop stale webhook events.
	UploadCreator string    `json:"-"`
	UploadAt      time.Time `json:"-"`
}

// NewRoom defaults the display name to the id.
func NewRoom(id RoomID) *Room {
	if id == "" {
		id = NewRoomID()
	}
	return &Room{ID: id, DisplayName: string(id)}
}

type JoinRequest struct {
	Username  string    `json:"username"`
	RoomID    RoomID    `json:"-"`
	Timestamp time.Time `json:"-"`
}
