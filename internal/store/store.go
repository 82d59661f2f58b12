package store

import (
	"context"
	"errors"
	"time"

	"github.com/gearmarket/chat-relay/internal/protocol"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is the client-side durable chat store: an append-only,
// room-indexed message log plus the per-room read checkpoints the
// unread ledger persists across sessions.
//
// Append must be idempotent on (roomId, id) so the optimistic local
// write and the inbound network write commute; nothing in the core
// flows ever updates or deletes a message.
type Store interface {
	// Append inserts the message; a message already present for the
	// same (roomId, id) is left untouched.
	Append(ctx context.Context, m protocol.Message) error

	// ListByRoom returns the room's messages ordered by ascending
	// timestamp, insertion order breaking ties.
	ListByRoom(ctx context.Context, roomID string) ([]protocol.Message, error)

	// ListAllRooms returns the full message set grouped by room, each
	// room's slice ordered as in ListByRoom.
	ListAllRooms(ctx context.Context) (map[string][]protocol.Message, error)

	// LastChecked returns the persisted read checkpoint per room.
	LastChecked(ctx context.Context) (map[string]time.Time, error)

	// SetLastChecked upserts the given checkpoints in one transaction.
	SetLastChecked(ctx context.Context, checkpoints map[string]time.Time) error

	Close() error
}
