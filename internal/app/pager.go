package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
)

// Pager paginates a room's message history. Pages are numbered from 1
// and internally ordered newest-created-first; each returned page is
// reversed to oldest-first for display continuity. A page past the end
// is an empty result, not an error.
type Pager struct {
	Store core.Store
	Blobs core.BlobSigner
	Size  int
}

func (p *Pager) Page(ctx context.Context, roomID domain.RoomID, page int) ([]core.MessageRecord, error) {
	if page < 1 {
		return nil, nil
	}
	msgs, err := p.Store.MessagesPage(ctx, roomID, page, p.Size)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("messages page %d: %w", page, err)
	}
	return p.record(ctx, reverse(msgs))
}

// UpToPage is the chronological union of pages 1..page, stopping at the
// first empty page. Used for initial backfill on connect.
func (p *Pager) UpToPage(ctx context.Context, roomID domain.RoomID, page int) ([]core.MessageRecord, error) {
	var accumulated []core.MessageRecord
	for n := 1; n <= page; n++ {
		records, err := p.Page(ctx, roomID, n)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		// Each later page is older, so it goes in front.
		accumulated = append(records, accumulated...)
	}
	return accumulated, nil
}

func reverse(msgs []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

// record shapes messages for the wire, joining creator display names
// and signing audio download URLs.
func (p *Pager) record(ctx context.Context, msgs []*domain.Message) ([]core.MessageRecord, error) {
	displayNames := make(map[string]string)
	records := make([]core.MessageRecord, 0, len(msgs))
	for _, msg := range msgs {
		name, ok := displayNames[msg.Creator]
		if !ok {
			user, err := p.Store.GetUser(ctx, msg.Creator)
			if err != nil {
				return nil, fmt.Errorf("get creator %s: %w", msg.Creator, err)
			}
			name = user.DisplayName
			displayNames[msg.Creator] = name
		}
		record := core.MessageRecord{
			ID:                 msg.ID,
			CreatorUsername:    msg.Creator,
			CreatorDisplayName: name,
			Content:            msg.Content,
			CreatedAt:          msg.CreatedAt.Format(domain.WireTimeFormat),
		}
		if msg.EditedAt != nil {
			record.EditedAt = msg.EditedAt.Format(domain.WireTimeFormat)
		}
		if msg.AudioRef != "" && p.Blobs != nil {
			url, err := p.Blobs.DownloadURL(msg.AudioRef)
			if err != nil {
				return nil, fmt.Errorf("sign download for %s: %w", msg.AudioRef, err)
			}
			record.AudioURL = url
		}
		records = append(records, record)
	}
	return records, nil
}
