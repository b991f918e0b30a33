package core

// Outbound wire events. Every event is a JSON object carrying a "type"
// discriminator; the constructors below are the only way they are built
// so the set stays closed.

const (
	EventAllowed              = "allowed"
	EventMembers              = "members"
	EventRefreshMembers       = "refresh_members"
	EventJoinRequests         = "join_requests"
	EventRefreshJoinRequests  = "refresh_join_requests"
	EventPrivacy              = "privacy"
	EventRefreshPrivacy       = "refresh_privacy"
	EventRefreshAllowedStatus = "refresh_allowed_status"
	EventDisplayName          = "display_name"
	EventRefreshDisplayName   = "refresh_display_name"
	EventMessages             = "messages"
	EventNewMessage           = "new_message"
	EventRefreshMessages      = "refresh_messages"
	EventNotifications        = "notifications"
	EventRefreshNotifications = "refresh_notifications"
	EventLeftRoom             = "left_room"
	EventUploadURL            = "upload_url"
	EventRoomNotified         = "room_notified"
)

type AllowedEvent struct {
	Type    string `json:"type"`
	Allowed bool   `json:"allowed"`
}

func NewAllowedEvent(allowed bool) AllowedEvent {
	return AllowedEvent{Type: EventAllowed, Allowed: allowed}
}

type MembersEvent struct {
	Type    string   `json:"type"`
	Members []string `json:"members"`
}

func NewMembersEvent(displayNames []string) MembersEvent {
	return MembersEvent{Type: EventMembers, Members: displayNames}
}

type JoinRequestsEvent struct {
	Type         string              `json:"type"`
	JoinRequests []JoinRequestRecord `json:"join_requests"`
}

func NewJoinRequestsEvent(requests []JoinRequestRecord) JoinRequestsEvent {
	return JoinRequestsEvent{Type: EventJoinRequests, JoinRequests: requests}
}

type PrivacyEvent struct {
	Type    string `json:"type"`
	Privacy bool   `json:"privacy"`
}

func NewPrivacyEvent(private bool) PrivacyEvent {
	return PrivacyEvent{Type: EventPrivacy, Privacy: private}
}

type DisplayNameEvent struct {
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

func NewDisplayNameEvent(name string) DisplayNameEvent {
	return DisplayNameEvent{Type: EventDisplayName, DisplayName: name}
}

type MessagesEvent struct {
	Type     string          `json:"type"`
	Messages []MessageRecord `json:"messages"`
	Page     int             `json:"page"`
}

func NewMessagesEvent(messages []MessageRecord, page int) MessagesEvent {
	return MessagesEvent{Type: EventMessages, Messages: messages, Page: page}
}

type NewMessageEvent struct {
	Type       string        `json:"type"`
	NewMessage MessageRecord `json:"new_message"`
}

func NewNewMessageEvent(msg MessageRecord) NewMessageEvent {
	return NewMessageEvent{Type: EventNewMessage, NewMessage: msg}
}

type NotificationsEvent struct {
	Type          string               `json:"type"`
	Notifications []NotificationRecord `json:"notifications"`
}

func NewNotificationsEvent(notifications []NotificationRecord) NotificationsEvent {
	return NotificationsEvent{Type: EventNotifications, Notifications: notifications}
}

type UploadURLEvent struct {
	Type     string `json:"type"`
	URL      string `json:"url"`
	BlobName string `json:"blob_name"`
}

func NewUploadURLEvent(url, blobName string) UploadURLEvent {
	return UploadURLEvent{Type: EventUploadURL, URL: url, BlobName: blobName}
}

type RoomNotifiedEvent struct {
	Type     string `json:"type"`
	Uploader string `json:"uploader"`
}

func NewRoomNotifiedEvent(uploader string) RoomNotifiedEvent {
	return RoomNotifiedEvent{Type: EventRoomNotified, Uploader: uploader}
}

// RefreshEvent covers the payload-less refresh_* and left_room signals.
type RefreshEvent struct {
	Type string `json:"type"`
}

func NewRefreshEvent(eventType string) RefreshEvent {
	return RefreshEvent{Type: eventType}
}
