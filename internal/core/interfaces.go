package core

import (
	"context"
	"errors"
	"time"

	"github.com/parleyhq/parley/internal/domain"
)

// Frame is a marshaled wire event.
type Frame []byte

var (
	// ErrNotFound is returned by stores for missing entities.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by stores when a unique constraint on
	// (user, room) would be violated. Callers treat it as already
	// satisfied, never as a failure.
	ErrConflict = errors.New("conflict")
)

// SignalConnection abstracts a client messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type groupKind uint8

const (
	groupRoom groupKind = iota
	groupUser
)

// GroupKey addresses a broadcast group. Rooms and users are distinct
// key spaces; they are flattened to a single transport string only
// inside broadcaster adapters.
type GroupKey struct {
	kind groupKind
	id   string
}

func RoomGroup(id domain.RoomID) GroupKey { return GroupKey{kind: groupRoom, id: string(id)} }
func UserGroup(username string) GroupKey  { return GroupKey{kind: groupUser, id: username} }

// Address is the flattened transport name.
func (k GroupKey) Address() string {
	if k.kind == groupUser {
		return "user:" + k.id
	}
	return "room:" + k.id
}

// Broadcaster is the fan-out primitive shared by all sessions.
// Publishing is fire-and-forget, at-least-once to currently subscribed
// connections.
type Broadcaster interface {
	Subscribe(key GroupKey, conn SignalConnection)
	Unsubscribe(key GroupKey, conn SignalConnection)
	Publish(key GroupKey, event any)
}

// MessageRecord is a message joined with its creator's display name,
// shaped for the wire.
type MessageRecord struct {
	ID                 domain.MessageID `json:"id"`
	CreatorUsername    string           `json:"creator_username"`
	CreatorDisplayName string           `json:"creator_display_name"`
	Content            string           `json:"content"`
	AudioURL           string           `json:"audio_url,omitempty"`
	CreatedAt          string           `json:"created_at"`
	EditedAt           string           `json:"edited_at,omitempty"`
}

// JoinRequestRecord is a pending request joined with user naming.
type JoinRequestRecord struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// NotificationRecord is one aggregated ledger row per room.
type NotificationRecord struct {
	RoomID             domain.RoomID `json:"room"`
	RoomDisplayName    string        `json:"room_display_name"`
	Read               bool          `json:"read"`
	Timestamp          string        `json:"timestamp"`
	CreatorDisplayName string        `json:"message_creator_display_name,omitempty"`
	Content            string        `json:"message_content,omitempty"`

	// SortKey is the raw timestamp backing Timestamp; used for ordering,
	// not serialized.
	SortKey time.Time `json:"-"`
}

// Store is the persistence collaborator. Every call is an independent
// atomic operation; the (user, room) uniqueness of join requests and
// notifications is enforced here.
type Store interface {
	// Users
	GetOrCreateUser(ctx context.Context, username string) (*domain.User, error)
	GetUser(ctx context.Context, username string) (*domain.User, error)
	SetUserDisplayName(ctx context.Context, username, displayName string) error

	// Rooms and membership
	GetOrCreateRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	SetRoomPrivacy(ctx context.Context, id domain.RoomID, private bool) error
	SetRoomDisplayName(ctx context.Context, id domain.RoomID, displayName string) error
	DeleteRoom(ctx context.Context, id domain.RoomID) error
	SetRoomUpload(ctx context.Context, id domain.RoomID, creator string, at time.Time) (bool, error)

	AddMember(ctx context.Context, id domain.RoomID, username string) (bool, error)
	RemoveMember(ctx context.Context, id domain.RoomID, username string) error
	IsMember(ctx context.Context, id domain.RoomID, username string) (bool, error)
	RoomMembers(ctx context.Context, id domain.RoomID) ([]domain.User, error)
	RoomsOfUser(ctx context.Context, username string) ([]domain.RoomID, error)

	// Join requests; CreateJoinRequest is idempotent per (user, room).
	CreateJoinRequest(ctx context.Context, username string, id domain.RoomID) error
	DeleteJoinRequest(ctx context.Context, username string, id domain.RoomID) error
	JoinRequests(ctx context.Context, id domain.RoomID) ([]JoinRequestRecord, error)
	JoinRequestRoomsOfUser(ctx context.Context, username string) ([]domain.RoomID, error)
	// ApproveAllJoinRequests atomically turns every outstanding request
	// into a membership plus notification row and clears the requests,
	// returning the approved usernames.
	ApproveAllJoinRequests(ctx context.Context, id domain.RoomID) ([]string, error)

	// Notifications; one row per (user, room).
	EnsureNotification(ctx context.Context, username string, id domain.RoomID, messageID domain.MessageID) error
	SetNotificationMessage(ctx context.Context, username string, id domain.RoomID, messageID domain.MessageID, read bool) error
	TouchNotification(ctx context.Context, username string, id domain.RoomID, at time.Time, read bool) error
	MarkNotificationRead(ctx context.Context, username string, id domain.RoomID) error
	DeleteNotification(ctx context.Context, username string, id domain.RoomID) error
	NotificationsOfUser(ctx context.Context, username string) ([]NotificationRecord, error)
	// NotificationHolders lists users whose notification row references
	// the given message.
	NotificationHolders(ctx context.Context, messageID domain.MessageID) ([]string, error)
	// UsersNotifiedBy lists users whose notification row references any
	// message created by the given user.
	UsersNotifiedBy(ctx context.Context, creator string) ([]string, error)

	// Messages
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessage(ctx context.Context, id domain.MessageID) (*domain.Message, error)
	EditMessage(ctx context.Context, id domain.MessageID, content string, editedAt time.Time) error
	// MessagesPage returns the page-th group of size messages, newest
	// created first. An out-of-range page yields an empty slice.
	MessagesPage(ctx context.Context, id domain.RoomID, page, size int) ([]*domain.Message, error)
	LatestMessage(ctx context.Context, id domain.RoomID) (*domain.Message, error)
}

// BlobSigner issues time-bounded signed URLs; the engine never touches
// blob bytes directly.
type BlobSigner interface {
	UploadURL(blobName string) (string, error)
	DownloadURL(blobName string) (string, error)
}

// Transcriber converts an uploaded audio blob into text. It may fail or
// time out; the caller bounds it with a context deadline.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}
