package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
)

// RoomSession drives one connection's lifecycle inside one room:
// connect, admission, command dispatch, disconnect. One instance per
// (connection, room). It holds no shared mutable state of its own; all
// shared state lives behind the store and every mutation is an
// independent atomic call, so commands from the same connection may run
// concurrently.
type RoomSession struct {
	eng      *Engine
	roomID   domain.RoomID
	username string
	conn     core.SignalConnection
	log      zerolog.Logger
}

func (e *Engine) NewRoomSession(username string, roomID domain.RoomID, conn core.SignalConnection) *RoomSession {
	return &RoomSession{
		eng:      e,
		roomID:   roomID,
		username: username,
		conn:     conn,
		log: log.With().
			Str("module", "app.room").
			Str("room", string(roomID)).
			Str("user", username).
			Logger(),
	}
}

// RoomID reports the session's room, which may have been generated
// during Connect when the client asked for a fresh one.
func (s *RoomSession) RoomID() domain.RoomID { return s.roomID }

// Connect resolves admission and either synchronizes the client with
// full room state or parks it behind a join request. The socket is
// subscribed to the room group either way, so a pending client observes
// refresh_allowed_status once approved.
func (s *RoomSession) Connect(ctx context.Context) error {
	if _, err := s.eng.Store.GetOrCreateUser(ctx, s.username); err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}
	room, err := s.eng.Store.GetOrCreateRoom(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("get or create room: %w", err)
	}
	s.roomID = room.ID

	s.eng.Broadcast.Subscribe(core.RoomGroup(s.roomID), s.conn)

	admission, err := EvaluateAccess(ctx, s.eng.Store, s.username, s.roomID)
	if err != nil {
		return err
	}
	if admission == PendingApproval {
		s.reply(core.NewAllowedEvent(false))
		if err := s.createJoinRequest(ctx); err != nil {
			return err
		}
		s.publishRoom(core.NewRefreshEvent(core.EventRefreshJoinRequests))
		s.log.Info().Msg("awaiting approval")
		return nil
	}

	added, err := s.eng.Store.AddMember(ctx, s.roomID, s.username)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if added {
		if err := s.eng.ledger().EnsureRow(ctx, s.username, s.roomID); err != nil {
			return err
		}
		s.publishRoom(core.NewRefreshEvent(core.EventRefreshMembers))
	} else {
		displayNames, _, err := s.memberNames(ctx)
		if err != nil {
			return err
		}
		s.reply(core.NewMembersEvent(displayNames))
	}

	if err := s.eng.ledger().MarkRead(ctx, s.username, s.roomID); err != nil {
		return err
	}
	s.publishUser(s.username, core.NewRefreshEvent(core.EventRefreshNotifications))

	if err := s.fetchMessages(ctx, 1); err != nil {
		return err
	}
	if err := s.fetchDisplayName(ctx); err != nil {
		return err
	}
	if err := s.fetchPrivacy(ctx); err != nil {
		return err
	}
	return s.fetchJoinRequests(ctx)
}

// Disconnect unsubscribes the socket. Membership survives; the
// reconnect flow re-synchronizes full state.
func (s *RoomSession) Disconnect() {
	s.eng.Broadcast.Unsubscribe(core.RoomGroup(s.roomID), s.conn)
}

// Dispatch runs one inbound command. Every command re-checks admission;
// only fetch_allowed_status is answered for non-admitted users.
func (s *RoomSession) Dispatch(ctx context.Context, cmd core.Command) {
	metrics.CommandsTotal.WithLabelValues(cmd.Command).Inc()

	admission, err := EvaluateAccess(ctx, s.eng.Store, s.username, s.roomID)
	if err != nil {
		s.log.Error().Err(err).Str("command", cmd.Command).Msg("admission check")
		return
	}
	admitted := admission == Admitted

	if cmd.Command == core.CmdFetchAllowedStatus {
		err = s.fetchAllowedStatus(ctx, admitted)
		if err != nil {
			s.log.Error().Err(err).Str("command", cmd.Command).Msg("command failed")
		}
		return
	}
	if !admitted {
		return
	}

	switch cmd.Command {
	case core.CmdUpdatePrivacy:
		err = s.updatePrivacy(ctx, cmd.Privacy)
	case core.CmdFetchPrivacy:
		err = s.fetchPrivacy(ctx)
	case core.CmdFetchJoinRequests:
		err = s.fetchJoinRequests(ctx)
	case core.CmdFetchMembers:
		err = s.fetchMembers(ctx)
	case core.CmdFetchDisplayName:
		err = s.fetchDisplayName(ctx)
	case core.CmdRejectUser:
		err = s.rejectUser(ctx, cmd.Username)
	case core.CmdApproveUser:
		err = s.approveUser(ctx, cmd.Username)
	case core.CmdApproveAllUsers:
		err = s.approveAllUsers(ctx)
	case core.CmdUpdateDisplayName:
		err = s.updateDisplayName(ctx, cmd.Name)
	case core.CmdSendMessage:
		err = s.sendMessage(ctx, cmd)
	case core.CmdFetchMessages:
		err = s.fetchMessages(ctx, cmd.Page)
	case core.CmdFetchMessagesUpToPage:
		err = s.fetchMessagesUpToPage(ctx, cmd.Page)
	case core.CmdFetchUploadURL:
		err = s.fetchUploadURL()
	case core.CmdReadRoomNotification:
		err = s.readRoomNotification(ctx)
	case core.CmdEditMessage:
		err = s.editMessage(ctx, domain.MessageID(cmd.MessageID), cmd.EditedMessage)
	default:
		s.log.Warn().Str("command", cmd.Command).Msg("unknown command")
	}
	if err != nil {
		s.log.Error().Err(err).Str("command", cmd.Command).Msg("command failed")
	}
}

func (s *RoomSession) reply(event any) {
	s.eng.reply(s.conn, event)
}

func (s *RoomSession) publishRoom(event any) {
	s.eng.publish(core.RoomGroup(s.roomID), event)
}

func (s *RoomSession) publishUser(username string, event any) {
	s.eng.publish(core.UserGroup(username), event)
}

func (s *RoomSession) createJoinRequest(ctx context.Context) error {
	err := s.eng.Store.CreateJoinRequest(ctx, s.username, s.roomID)
	if err != nil && !errors.Is(err, core.ErrConflict) {
		return fmt.Errorf("create join request: %w", err)
	}
	return nil
}

func (s *RoomSession) memberNames(ctx context.Context) (displayNames, usernames []string, err error) {
	members, err := s.eng.Store.RoomMembers(ctx, s.roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("room members: %w", err)
	}
	displayNames = make([]string, 0, len(members))
	usernames = make([]string, 0, len(members))
	for _, m := range members {
		displayNames = append(displayNames, m.DisplayName)
		usernames = append(usernames, m.Username)
	}
	return displayNames, usernames, nil
}

func (s *RoomSession) fetchAllowedStatus(ctx context.Context, allowed bool) error {
	s.reply(core.NewAllowedEvent(allowed))
	if !allowed {
		if err := s.createJoinRequest(ctx); err != nil {
			return err
		}
		s.publishRoom(core.NewRefreshEvent(core.EventRefreshJoinRequests))
	}
	return nil
}

func (s *RoomSession) updatePrivacy(ctx context.Context, privacy *bool) error {
	if privacy == nil {
		s.log.Warn().Msg("update_privacy without flag")
		return nil
	}
	if err := s.eng.Store.SetRoomPrivacy(ctx, s.roomID, *privacy); err != nil {
		return fmt.Errorf("set privacy: %w", err)
	}
	s.publishRoom(core.NewRefreshEvent(core.EventRefreshPrivacy))
	return nil
}

func (s *RoomSession) fetchPrivacy(ctx context.Context) error {
	room, err := s.eng.Store.GetRoom(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	s.reply(core.NewPrivacyEvent(room.Private))
	return nil
}

func (s *RoomSession) fetchJoinRequests(ctx context.Context) error {
	requests, err := s.eng.Store.JoinRequests(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("join requests: %w", err)
	}
	s.reply(core.NewJoinRequestsEvent(requests))
	return nil
}

// fetchMembers also lets a removed user discover on their own that they
// left: no membership plus a public room signals left_room.
func (s *RoomSession) fetchMembers(ctx context.Context) error {
	displayNames, usernames, err := s.memberNames(ctx)
	if err != nil {
		return err
	}
	s.reply(core.NewMembersEvent(displayNames))

	room, err := s.eng.Store.GetRoom(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	member := false
	for _, name := range usernames {
		if name == s.username {
			member = true
			break
		}
	}
	if !member && !room.Private {
		s.reply(core.NewRefreshEvent(core.EventLeftRoom))
	}
	return nil
}

func (s *RoomSession) rejectUser(ctx context.Context, username string) error {
	if err := s.eng.Store.DeleteJoinRequest(ctx, username, s.roomID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("delete join request: %w", err)
	}
	s.publishRoom(core.NewRefreshEvent(core.EventRefreshJoinRequests))
	return nil
}

func (s *RoomSession) approveUser(ctx context.Context, username string) error {
	if _, err := s.eng.Store.AddMember(ctx, s.roomID, username); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if err := s.eng.ledger().EnsureRow(ctx, username, s.roomID); err != nil {
		return err
	}
	if err := s.eng.Store.DeleteJoinRequest(ctx, username, s.roomID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("delete join request: %w", err)
	}
	s.publishUser(username, core.NewRefreshEvent(core.EventRefreshNotifications))
	s.publishApprovalState()
	s.log.Info().Str("approved", username).Msg("user approved")
	return nil
}

func (s *RoomSession) approveAllUsers(ctx context.Context) error {
	approved, err := s.eng.Store.ApproveAllJoinRequests(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("approve all: %w", err)
	}
	for _, username := range approved {
		s.publishUser(username, core.NewRefreshEvent(core.EventRefreshNotifications))
	}
	s.publishApprovalState()
	s.log.Info().Int("approved", len(approved)).Msg("all users approved")
	return nil
}

// publishApprovalState pushes the aggregate room state every approval
// changes: requests, members, admission and privacy.
func (s *RoomSession) publishApprovalState() {
	s.publishRoom(core.NewRefreshEvent(core.EventRefreshJoinRequests))
	s.publishRoom(core.NewRefreshEvent(core.EventRefreshMembers))
	s.publishRoom(core.NewRefreshEvent(core.EventRefreshAllowedStatus))
	s.publishRoom(core.NewRefreshEvent(core.EventRefreshPrivacy))
}

func (s *RoomSession) fetchDisplayName(ctx context.Context) error {
	room, err := s.eng.Store.GetRoom(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("get room: %w", err)
	}
	s.reply(core.NewDisplayNameEvent(room.DisplayName))
	return nil
}

// updateDisplayName renames the room. Empty or whitespace-only input is
// answered with the current name instead of being persisted.
func (s *RoomSession) updateDisplayName(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return s.fetchDisplayName(ctx)
	}
	if err := s.eng.Store.SetRoomDisplayName(ctx, s.roomID, name); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	_, usernames, err := s.memberNames(ctx)
	if err != nil {
		return err
	}
	for _, username := range usernames {
		s.publishUser(username, core.NewRefreshEvent(core.EventRefreshNotifications))
	}
	s.publishRoom(core.NewDisplayNameEvent(name))
	return nil
}

// sendMessage creates a message from literal text or a transcribed
// recording. Transcription failures abort the command before anything
// is committed.
func (s *RoomSession) sendMessage(ctx context.Context, cmd core.Command) error {
	content := strings.TrimSpace(cmd.Message)
	voice := cmd.DryFilename != "" && cmd.WetFilename != ""
	if content == "" && !voice {
		return nil
	}

	var audioRef string
	if voice {
		audioURL, err := s.eng.Blobs.DownloadURL(cmd.DryFilename)
		if err != nil {
			return fmt.Errorf("sign recording download: %w", err)
		}
		tctx, cancel := context.WithTimeout(ctx, s.eng.TranscribeTimeout)
		defer cancel()
		content, err = s.eng.Transcriber.Transcribe(tctx, audioURL)
		if err != nil {
			return fmt.Errorf("transcribe: %w", err)
		}
		audioRef = cmd.WetFilename
	}

	msg := &domain.Message{
		ID:        domain.NewMessageID(),
		RoomID:    s.roomID,
		Creator:   s.username,
		Content:   content,
		AudioRef:  audioRef,
		CreatedAt: time.Now(),
	}
	if err := s.eng.Store.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	if err := s.eng.ledger().OnMessage(ctx, s.roomID, msg); err != nil {
		return err
	}

	records, err := s.eng.pager().record(ctx, []*domain.Message{msg})
	if err != nil {
		return err
	}
	s.publishRoom(core.NewNewMessageEvent(records[0]))

	_, usernames, err := s.memberNames(ctx)
	if err != nil {
		return err
	}
	for _, username := range usernames {
		s.publishUser(username, core.NewRefreshEvent(core.EventRefreshNotifications))
	}
	metrics.MessagesSent.Inc()
	return nil
}

// editMessage applies the edit only when the caller authored the
// message, but recomputes and fires the refresh broadcasts either way.
func (s *RoomSession) editMessage(ctx context.Context, id domain.MessageID, content string) error {
	msg, err := s.eng.Store.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get message: %w", err)
	}
	if msg.Creator == s.username {
		if err := s.eng.Store.EditMessage(ctx, id, content, time.Now()); err != nil {
			return fmt.Errorf("edit message: %w", err)
		}
	} else {
		s.log.Warn().Str("message", string(id)).Msg("edit by non-author ignored")
	}

	s.publishRoom(core.NewRefreshEvent(core.EventRefreshMessages))
	holders, err := s.eng.Store.NotificationHolders(ctx, id)
	if err != nil {
		return fmt.Errorf("notification holders: %w", err)
	}
	for _, username := range holders {
		s.publishUser(username, core.NewRefreshEvent(core.EventRefreshNotifications))
	}
	return nil
}

func (s *RoomSession) fetchMessages(ctx context.Context, page int) error {
	records, err := s.eng.pager().Page(ctx, s.roomID, page)
	if err != nil {
		return err
	}
	s.reply(core.NewMessagesEvent(records, page))
	return nil
}

func (s *RoomSession) fetchMessagesUpToPage(ctx context.Context, page int) error {
	records, err := s.eng.pager().UpToPage(ctx, s.roomID, page)
	if err != nil {
		return err
	}
	s.reply(core.NewMessagesEvent(records, page))
	return nil
}

func (s *RoomSession) fetchUploadURL() error {
	name := blobName(s.roomID, s.username)
	url, err := s.eng.Blobs.UploadURL(name)
	if err != nil {
		return fmt.Errorf("sign upload: %w", err)
	}
	s.reply(core.NewUploadURLEvent(url, name))
	return nil
}

func (s *RoomSession) readRoomNotification(ctx context.Context) error {
	if err := s.eng.ledger().MarkRead(ctx, s.username, s.roomID); err != nil {
		return err
	}
	s.publishUser(s.username, core.NewRefreshEvent(core.EventRefreshNotifications))
	return nil
}
