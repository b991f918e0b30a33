package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateAccess(t *testing.T) {
	ctx := context.Background()

	t.Run("member of private room is admitted", func(t *testing.T) {
		r := newRig()
		roomID := r.seedRoom(ctx, true, "alice")

		admission, err := EvaluateAccess(ctx, r.store, "alice", roomID)
		require.NoError(t, err)
		require.Equal(t, Admitted, admission)
	})

	t.Run("stranger in public room is admitted", func(t *testing.T) {
		r := newRig()
		roomID := r.seedRoom(ctx, false, "alice")
		_, err := r.store.GetOrCreateUser(ctx, "bob")
		require.NoError(t, err)

		admission, err := EvaluateAccess(ctx, r.store, "bob", roomID)
		require.NoError(t, err)
		require.Equal(t, Admitted, admission)
	})

	t.Run("stranger in private room is pending", func(t *testing.T) {
		r := newRig()
		roomID := r.seedRoom(ctx, true, "alice")
		_, err := r.store.GetOrCreateUser(ctx, "bob")
		require.NoError(t, err)

		admission, err := EvaluateAccess(ctx, r.store, "bob", roomID)
		require.NoError(t, err)
		require.Equal(t, PendingApproval, admission)
	})

	t.Run("evaluation has no side effects", func(t *testing.T) {
		r := newRig()
		roomID := r.seedRoom(ctx, true, "alice")
		_, err := r.store.GetOrCreateUser(ctx, "bob")
		require.NoError(t, err)

		_, err = EvaluateAccess(ctx, r.store, "bob", roomID)
		require.NoError(t, err)

		requests, err := r.store.JoinRequests(ctx, roomID)
		require.NoError(t, err)
		require.Empty(t, requests)

		isMember, err := r.store.IsMember(ctx, roomID, "bob")
		require.NoError(t, err)
		require.False(t, isMember)
	})
}
