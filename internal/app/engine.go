// Package app implements the realtime room synchronization engine: the
// session state machines, access control, the notification ledger and
// the message pager. Transport, persistence, blob storage and
// transcription are collaborators injected through internal/core.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/metrics"
)

const (
	DefaultPageSize          = 10
	DefaultTranscribeTimeout = 30 * time.Second
)

// Engine bundles the collaborators every session needs.
type Engine struct {
	Store       core.Store
	Broadcast   core.Broadcaster
	Blobs       core.BlobSigner
	Transcriber core.Transcriber

	PageSize          int
	TranscribeTimeout time.Duration
}

func NewEngine(store core.Store, broadcast core.Broadcaster, blobs core.BlobSigner, transcriber core.Transcriber) *Engine {
	return &Engine{
		Store:             store,
		Broadcast:         broadcast,
		Blobs:             blobs,
		Transcriber:       transcriber,
		PageSize:          DefaultPageSize,
		TranscribeTimeout: DefaultTranscribeTimeout,
	}
}

func (e *Engine) pager() *Pager {
	return &Pager{Store: e.Store, Blobs: e.Blobs, Size: e.PageSize}
}

func (e *Engine) ledger() *Ledger {
	return &Ledger{Store: e.Store}
}

// publish fans an event out to a group, fire and forget.
func (e *Engine) publish(key core.GroupKey, event any) {
	metrics.BroadcastsTotal.Inc()
	e.Broadcast.Publish(key, event)
}

// reply addresses the requesting connection alone.
func (e *Engine) reply(conn core.SignalConnection, event any) {
	b, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.engine").Msg("reply marshal")
		return
	}
	if err := conn.TrySend(b); err != nil {
		metrics.DroppedFrames.Inc()
		log.Debug().Err(err).Str("module", "app.engine").Msg("reply dropped")
	}
}

// NotifyUpload applies a storage object-finalize event: it bumps every
// member's notification (read only for the uploader) and announces the
// upload to the room group. Events older than the last processed one
// are ignored.
func (e *Engine) NotifyUpload(ctx context.Context, roomID domain.RoomID, uploader string, at time.Time) error {
	applied, err := e.Store.SetRoomUpload(ctx, roomID, uploader, at)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	if !applied {
		log.Debug().Str("module", "app.engine").Str("room", string(roomID)).Msg("stale upload event ignored")
		return nil
	}
	members, err := e.Store.RoomMembers(ctx, roomID)
	if err != nil {
		return fmt.Errorf("room members: %w", err)
	}
	for _, member := range members {
		read := member.Username == uploader
		if err := e.Store.TouchNotification(ctx, member.Username, roomID, at, read); err != nil {
			return fmt.Errorf("touch notification: %w", err)
		}
		e.publish(core.UserGroup(member.Username), core.NewRefreshEvent(core.EventRefreshNotifications))
	}
	e.publish(core.RoomGroup(roomID), core.NewRoomNotifiedEvent(uploader))
	return nil
}

// blobName builds the storage object name for a room-scoped recording.
func blobName(roomID domain.RoomID, username string) string {
	return fmt.Sprintf("%s/%s/%s.ogg", roomID, username, ulid.Make())
}
