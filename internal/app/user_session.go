package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
)

// ErrIdentityMismatch means the connection claimed an identity other
// than the authenticated one. The only error that terminates a session.
var ErrIdentityMismatch = errors.New("claimed identity does not match authenticated identity")

// UserSession is the per-user channel, one per open connection,
// independent of which rooms are open. It receives login-scoped events:
// notifications and cross-room display-name propagation.
type UserSession struct {
	eng      *Engine
	username string
	conn     core.SignalConnection
	log      zerolog.Logger
}

// NewUserSession accepts the connection only when the claimed identity
// matches the authenticated one.
func (e *Engine) NewUserSession(identity, claimed string, conn core.SignalConnection) (*UserSession, error) {
	if claimed != identity {
		return nil, ErrIdentityMismatch
	}
	return &UserSession{
		eng:      e,
		username: identity,
		conn:     conn,
		log: log.With().
			Str("module", "app.user").
			Str("user", identity).
			Logger(),
	}, nil
}

// Connect subscribes the socket to the user's personal address and
// pushes the aggregated notification list and current display name.
func (s *UserSession) Connect(ctx context.Context) error {
	user, err := s.eng.Store.GetOrCreateUser(ctx, s.username)
	if err != nil {
		return fmt.Errorf("get or create user: %w", err)
	}
	s.eng.Broadcast.Subscribe(core.UserGroup(s.username), s.conn)

	if err := s.pushNotifications(ctx); err != nil {
		return err
	}
	s.reply(core.NewDisplayNameEvent(user.DisplayName))
	return nil
}

func (s *UserSession) Disconnect() {
	s.eng.Broadcast.Unsubscribe(core.UserGroup(s.username), s.conn)
}

func (s *UserSession) Dispatch(ctx context.Context, cmd core.Command) {
	metrics.CommandsTotal.WithLabelValues(cmd.Command).Inc()

	var err error
	switch cmd.Command {
	case core.CmdExitRoom:
		err = s.exitRoom(ctx, domain.RoomID(cmd.RoomID))
	case core.CmdUpdateDisplayName:
		err = s.updateDisplayName(ctx, cmd.Name)
	case core.CmdFetchNotifications:
		err = s.pushNotifications(ctx)
	default:
		s.log.Warn().Str("command", cmd.Command).Msg("unknown command")
	}
	if err != nil {
		s.log.Error().Err(err).Str("command", cmd.Command).Msg("command failed")
	}
}

func (s *UserSession) reply(event any) {
	s.eng.reply(s.conn, event)
}

// pushNotifications addresses the personal group rather than the single
// socket so every simultaneously open device converges.
func (s *UserSession) pushNotifications(ctx context.Context) error {
	records, err := s.eng.ledger().Aggregate(ctx, s.username)
	if err != nil {
		return err
	}
	s.eng.publish(core.UserGroup(s.username), core.NewNotificationsEvent(records))
	return nil
}

// exitRoom removes membership and the room's notification row, garbage
// collecting the room once nobody is left in it or waiting on it.
func (s *UserSession) exitRoom(ctx context.Context, roomID domain.RoomID) error {
	if err := s.eng.Store.RemoveMember(ctx, roomID, s.username); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("remove member: %w", err)
	}
	if err := s.eng.ledger().Remove(ctx, s.username, roomID); err != nil {
		return err
	}

	members, err := s.eng.Store.RoomMembers(ctx, roomID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("room members: %w", err)
	}
	requests, err := s.eng.Store.JoinRequests(ctx, roomID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("join requests: %w", err)
	}
	if len(members) == 0 && len(requests) == 0 {
		if err := s.eng.Store.DeleteRoom(ctx, roomID); err != nil && !errors.Is(err, core.ErrNotFound) {
			return fmt.Errorf("delete room: %w", err)
		}
		metrics.RoomsCollected.Inc()
		s.log.Info().Str("room", string(roomID)).Msg("room collected")
	}

	s.eng.publish(core.RoomGroup(roomID), core.NewRefreshEvent(core.EventRefreshMembers))
	s.eng.publish(core.RoomGroup(roomID), core.NewRefreshEvent(core.EventRefreshAllowedStatus))
	return s.pushNotifications(ctx)
}

// updateDisplayName renames the user and propagates the change to every
// room they belong to or wait on, and to every user whose notifications
// reference their messages.
func (s *UserSession) updateDisplayName(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		user, err := s.eng.Store.GetUser(ctx, s.username)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		s.reply(core.NewDisplayNameEvent(user.DisplayName))
		return nil
	}

	if err := s.eng.Store.SetUserDisplayName(ctx, s.username, name); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}

	memberOf, err := s.eng.Store.RoomsOfUser(ctx, s.username)
	if err != nil {
		return fmt.Errorf("rooms of user: %w", err)
	}
	pendingIn, err := s.eng.Store.JoinRequestRoomsOfUser(ctx, s.username)
	if err != nil {
		return fmt.Errorf("join request rooms: %w", err)
	}
	rooms := make(map[domain.RoomID]struct{}, len(memberOf)+len(pendingIn))
	for _, id := range memberOf {
		rooms[id] = struct{}{}
	}
	for _, id := range pendingIn {
		rooms[id] = struct{}{}
	}
	for id := range rooms {
		s.eng.publish(core.RoomGroup(id), core.NewRefreshEvent(core.EventRefreshMembers))
		s.eng.publish(core.RoomGroup(id), core.NewRefreshEvent(core.EventRefreshJoinRequests))
		s.eng.publish(core.RoomGroup(id), core.NewRefreshEvent(core.EventRefreshMessages))
	}

	notified, err := s.eng.Store.UsersNotifiedBy(ctx, s.username)
	if err != nil {
		return fmt.Errorf("users notified by: %w", err)
	}
	for _, username := range notified {
		s.eng.publish(core.UserGroup(username), core.NewRefreshEvent(core.EventRefreshNotifications))
	}

	s.eng.publish(core.UserGroup(s.username), core.NewDisplayNameEvent(name))
	return nil
}
