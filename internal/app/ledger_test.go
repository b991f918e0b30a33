package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/domain"
)

func TestLedgerEnsureRowDefaultsToLatestMessage(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")

	msg := &domain.Message{
		ID:        domain.NewMessageID(),
		RoomID:    roomID,
		Creator:   "alice",
		Content:   "hello there",
		CreatedAt: time.Now(),
	}
	require.NoError(t, r.store.CreateMessage(ctx, msg))

	_, err := r.store.GetOrCreateUser(ctx, "bob")
	require.NoError(t, err)
	ledger := r.eng.ledger()
	require.NoError(t, ledger.EnsureRow(ctx, "bob", roomID))

	rows, err := r.store.NotificationsOfUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "hello there", rows[0].Content)
	require.False(t, rows[0].Read)
}

func TestLedgerEnsureRowIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")

	ledger := r.eng.ledger()
	require.NoError(t, ledger.EnsureRow(ctx, "alice", roomID))
	require.NoError(t, ledger.EnsureRow(ctx, "alice", roomID))

	rows, err := r.store.NotificationsOfUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestLedgerOnMessageMarksOnlyAuthorRead(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice", "bob", "carol")

	msg := &domain.Message{
		ID:        domain.NewMessageID(),
		RoomID:    roomID,
		Creator:   "bob",
		Content:   "ping",
		CreatedAt: time.Now(),
	}
	require.NoError(t, r.store.CreateMessage(ctx, msg))
	require.NoError(t, r.eng.ledger().OnMessage(ctx, roomID, msg))

	for _, tc := range []struct {
		username string
		read     bool
	}{
		{"alice", false},
		{"bob", true},
		{"carol", false},
	} {
		rows, err := r.store.NotificationsOfUser(ctx, tc.username)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, tc.read, rows[0].Read, "user %s", tc.username)
		require.Equal(t, "ping", rows[0].Content)
	}
}

func TestLedgerAggregateOrdersUnreadFirstThenRecent(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	base := time.Now()

	roomA := r.seedRoom(ctx, false, "alice")
	roomB := r.seedRoom(ctx, false, "alice")
	roomC := r.seedRoom(ctx, false, "alice")

	require.NoError(t, r.store.TouchNotification(ctx, "alice", roomA, base.Add(5*time.Minute), false))
	require.NoError(t, r.store.TouchNotification(ctx, "alice", roomB, base.Add(10*time.Minute), true))
	require.NoError(t, r.store.TouchNotification(ctx, "alice", roomC, base.Add(1*time.Minute), false))

	rows, err := r.eng.ledger().Aggregate(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Unread rows first, each block most recent first.
	require.Equal(t, roomA, rows[0].RoomID)
	require.Equal(t, roomC, rows[1].RoomID)
	require.Equal(t, roomB, rows[2].RoomID)
	require.False(t, rows[0].Read)
	require.False(t, rows[1].Read)
	require.True(t, rows[2].Read)
}

func TestLedgerMarkReadAndRemoveTolerateMissingRows(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")

	ledger := r.eng.ledger()
	require.NoError(t, ledger.MarkRead(ctx, "nobody", roomID))
	require.NoError(t, ledger.Remove(ctx, "nobody", roomID))
}
