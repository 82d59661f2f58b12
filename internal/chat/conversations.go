package chat

import (
	"context"
	"errors"
	"sort"

	"github.com/gearmarket/chat-relay/internal/listing"
	"github.com/gearmarket/chat-relay/internal/protocol"
	"github.com/gearmarket/chat-relay/internal/store"
	"github.com/gearmarket/chat-relay/pkg/log"
)

// Conversation is one row of the conversation-list view, rebuilt from
// the message store; there is no separate rooms table.
type Conversation struct {
	RoomID          string
	ListingID       string
	ListingTitle    string
	CounterpartID   string
	CounterpartName string
	LastMessage     protocol.Message
}

// Conversations reconstructs the visible conversation list for selfID,
// most recent first. Rooms whose listing no longer resolves are dropped
// from the list; their local messages are retained, never deleted.
// A nil resolver skips listing resolution and keeps every room.
func Conversations(ctx context.Context, st store.Store, selfID string, resolver listing.Resolver) ([]Conversation, error) {
	byRoom, err := st.ListAllRooms(ctx)
	if err != nil {
		return nil, err
	}

	var out []Conversation
	for roomID, msgs := range byRoom {
		if len(msgs) == 0 {
			continue
		}

		room, ok := protocol.ParseRoomID(roomID)
		if !ok {
			continue
		}
		counterpart := room.Counterpart(selfID)
		if counterpart == "" {
			continue
		}

		c := Conversation{
			RoomID:        roomID,
			ListingID:     room.ListingID,
			CounterpartID: counterpart,
			LastMessage:   msgs[len(msgs)-1],
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Sender == counterpart {
				c.CounterpartName = msgs[i].SenderName
				break
			}
		}

		if resolver != nil {
			lst, err := resolver.Resolve(ctx, room.ListingID)
			if err != nil {
				if errors.Is(err, listing.ErrListingNotFound) {
					l := log.Ctx(ctx)
					l.Debug().Str(log.FieldRoomID, roomID).Str(log.FieldListingID, room.ListingID).Msg("listing gone, hiding conversation")
					continue
				}
				return nil, err
			}
			c.ListingTitle = lst.Title
		}

		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessage.Time().After(out[j].LastMessage.Time())
	})
	return out, nil
}
