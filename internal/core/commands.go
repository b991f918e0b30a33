package core

import "encoding/json"

// Inbound wire commands carry a "command" discriminator plus the payload
// fields of that command. The session managers switch over the closed
// constant set; unknown commands are logged and dropped.

const (
	CmdFetchAllowedStatus    = "fetch_allowed_status"
	CmdUpdatePrivacy         = "update_privacy"
	CmdFetchPrivacy          = "fetch_privacy"
	CmdFetchJoinRequests     = "fetch_join_requests"
	CmdFetchMembers          = "fetch_members"
	CmdFetchDisplayName      = "fetch_display_name"
	CmdRejectUser            = "reject_user"
	CmdApproveUser           = "approve_user"
	CmdApproveAllUsers       = "approve_all_users"
	CmdUpdateDisplayName     = "update_display_name"
	CmdSendMessage           = "send_message"
	CmdFetchMessages         = "fetch_messages"
	CmdFetchMessagesUpToPage = "fetch_messages_up_to_page"
	CmdFetchUploadURL        = "fetch_upload_url"
	CmdReadRoomNotification  = "read_room_notification"
	CmdEditMessage           = "edit_message"
	CmdExitRoom              = "exit_room"
	CmdFetchNotifications    = "fetch_notifications"
)

type Command struct {
	Command string `json:"command"`

	Privacy       *bool  `json:"privacy,omitempty"`
	Name          string `json:"name,omitempty"`
	Username      string `json:"username,omitempty"`
	Message       string `json:"message,omitempty"`
	DryFilename   string `json:"dry_filename,omitempty"`
	WetFilename   string `json:"wet_filename,omitempty"`
	Page          int    `json:"page,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
	EditedMessage string `json:"edited_message,omitempty"`
	RoomID        string `json:"room_id,omitempty"`
}

// ParseCommand decodes one inbound frame.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	err := json.Unmarshal(data, &cmd)
	return cmd, err
}
