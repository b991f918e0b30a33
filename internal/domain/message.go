package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// WireTimeFormat is how timestamps are rendered in outbound payloads.
const WireTimeFormat = "02-01-2006 15:04"

type MessageID string

// NewMessageID allocates a time-ordered message id.
func NewMessageID() MessageID {
	return MessageID(ulid.Make().String())
}

type Message struct {
	ID        MessageID  `json:"id"`
	RoomID    RoomID     `json:"-"`
	Creator   string     `json:"creator"`
	Content   string     `json:"content"`
	AudioRef  string     `json:"audio_ref,omitempty"`
	CreatedAt time.Time  `json:"-"`
	EditedAt  *time.Time `json:"-"`
}

// Notification is the unread/read marker per (user, room); at most one
// row per pair exists at any time.
type Notification struct {
	Username  string
	RoomID    RoomID
	MessageID MessageID
	Read      bool
	Timestamp time.Time
}
