package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/domain"
)

func seedMessages(t *testing.T, r *rig, roomID domain.RoomID, n int) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		msg := &domain.Message{
			ID:        domain.NewMessageID(),
			RoomID:    roomID,
			Creator:   "alice",
			Content:   fmt.Sprintf("msg %02d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, r.store.CreateMessage(ctx, msg))
	}
}

func TestPagerFirstPageIsNewestTenOldestFirst(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")
	seedMessages(t, r, roomID, 25)

	records, err := r.eng.pager().Page(ctx, roomID, 1)
	require.NoError(t, err)
	require.Len(t, records, 10)
	require.Equal(t, "msg 15", records[0].Content)
	require.Equal(t, "msg 24", records[9].Content)
}

func TestPagerLastPartialPage(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")
	seedMessages(t, r, roomID, 25)

	records, err := r.eng.pager().Page(ctx, roomID, 3)
	require.NoError(t, err)
	require.Len(t, records, 5)
	require.Equal(t, "msg 00", records[0].Content)
	require.Equal(t, "msg 04", records[4].Content)
}

func TestPagerOutOfRangePagesAreEmpty(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")
	seedMessages(t, r, roomID, 25)

	for _, page := range []int{0, -3, 4, 100} {
		records, err := r.eng.pager().Page(ctx, roomID, page)
		require.NoError(t, err)
		require.Empty(t, records, "page %d", page)
	}
}

func TestPagerUpToPageIsChronologicalUnion(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")
	seedMessages(t, r, roomID, 25)

	records, err := r.eng.pager().UpToPage(ctx, roomID, 2)
	require.NoError(t, err)
	require.Len(t, records, 20)
	require.Equal(t, "msg 05", records[0].Content)
	require.Equal(t, "msg 24", records[19].Content)
}

func TestPagerUpToPageStopsAtFirstEmptyPage(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")
	seedMessages(t, r, roomID, 12)

	records, err := r.eng.pager().UpToPage(ctx, roomID, 100)
	require.NoError(t, err)
	require.Len(t, records, 12)
	require.Equal(t, "msg 00", records[0].Content)
	require.Equal(t, "msg 11", records[11].Content)
}

func TestPagerRecordsJoinDisplayNamesAndSignAudio(t *testing.T) {
	ctx := context.Background()
	r := newRig()
	roomID := r.seedRoom(ctx, false, "alice")
	require.NoError(t, r.store.SetUserDisplayName(ctx, "alice", "Alice A."))

	msg := &domain.Message{
		ID:        domain.NewMessageID(),
		RoomID:    roomID,
		Creator:   "alice",
		Content:   "voice note",
		AudioRef:  "room/alice/clip.ogg",
		CreatedAt: time.Now(),
	}
	require.NoError(t, r.store.CreateMessage(ctx, msg))

	records, err := r.eng.pager().Page(ctx, roomID, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "alice", records[0].CreatorUsername)
	require.Equal(t, "Alice A.", records[0].CreatorDisplayName)
	require.Equal(t, "https://blobs.test/down/room/alice/clip.ogg", records[0].AudioURL)
	require.NotEmpty(t, records[0].CreatedAt)
	require.Empty(t, records[0].EditedAt)
}
