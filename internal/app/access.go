package app

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/core"
	"github.com/parleyhq/parley/internal/domain"
)

// Admission is the access control verdict for a (user, room) pair.
type Admission int

const (
	Admitted Admission = iota
	PendingApproval
)

func (a Admission) String() string {
	if a == Admitted {
		return "admitted"
	}
	return "pending_approval"
}

// EvaluateAccess admits members of a room unconditionally and everyone
// else only when the room is not private. It has no side effects; the
// caller is responsible for creating the join request on
// PendingApproval.
func EvaluateAccess(ctx context.Context, store core.Store, username string, roomID domain.RoomID) (Admission, error) {
	room, err := store.GetRoom(ctx, roomID)
	if err != nil {
		return PendingApproval, fmt.Errorf("get room: %w", err)
	}
	member, err := store.IsMember(ctx, roomID, username)
	if err != nil {
		return PendingApproval, fmt.Errorf("membership check: %w", err)
	}
	if member || !room.Private {
		return Admitted, nil
	}
	return PendingApproval, nil
}
