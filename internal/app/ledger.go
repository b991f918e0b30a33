package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
)

// Ledger maintains the one-row-per-(user, room) notification table.
// Uniqueness is enforced by the store; a conflicting create means some
// concurrent writer already satisfied the invariant and is a no-op.
type Ledger struct {
	Store core.Store
}

// EnsureRow creates the (user, room) notification if absent, defaulted
// to the room's latest message.
func (l *Ledger) EnsureRow(ctx context.Context, username string, roomID domain.RoomID) error {
	var messageID domain.MessageID
	latest, err := l.Store.LatestMessage(ctx, roomID)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("latest message: %w", err)
	}
	if latest != nil {
		messageID = latest.ID
	}
	if err := l.Store.EnsureNotification(ctx, username, roomID, messageID); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil
		}
		return fmt.Errorf("ensure notification: %w", err)
	}
	return nil
}

// OnMessage points every member's row at the new message, unread for
// everyone except the author.
func (l *Ledger) OnMessage(ctx context.Context, roomID domain.RoomID, msg *domain.Message) error {
	members, err := l.Store.RoomMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room members: %w", err)
	}
	for _, member := range members {
		read := member.Username == msg.Creator
		if err := l.Store.SetNotificationMessage(ctx, member.Username, roomID, msg.ID, read); err != nil {
			return fmt.Errorf("set notification for %s: %w", member.Username, err)
		}
	}
	return nil
}

// MarkRead flips the row read when the owning user opens the room.
func (l *Ledger) MarkRead(ctx context.Context, username string, roomID domain.RoomID) error {
	if err := l.Store.MarkNotificationRead(ctx, username, roomID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (l *Ledger) Remove(ctx context.Context, username string, roomID domain.RoomID) error {
	if err := l.Store.DeleteNotification(ctx, username, roomID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// Touch bumps the row's timestamp without a message reference.
func (l *Ledger) Touch(ctx context.Context, username string, roomID domain.RoomID, at time.Time, read bool) error {
	return l.Store.TouchNotification(ctx, username, roomID, at, read)
}

// Aggregate returns the user's rows sorted unread-before-read, then
// most recent first. The store guarantees at most one row per room.
func (l *Ledger) Aggregate(ctx context.Context, username string) ([]core.NotificationRecord, error) {
	rows, err := l.Store.NotificationsOfUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("notifications of user: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SortKey.After(rows[j].SortKey)
	})
	sort.SliceStable(rows, func(i, j int) bool {
		return !rows[i].Read && rows[j].Read
	})
	return rows, nil
}
