package chat

import (
	"context"
	"testing"
	"time"

	"github.com/gearmarket/chat-relay/internal/listing"
	"github.com/gearmarket/chat-relay/internal/protocol"
)

// mapResolver resolves listings from a fixed set.
type mapResolver struct {
	listings map[string]*listing.Listing
}

func (r *mapResolver) Resolve(ctx context.Context, id string) (*listing.Listing, error) {
	if l, ok := r.listings[id]; ok {
		return l, nil
	}
	return nil, listing.ErrListingNotFound
}

func TestConversations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	add := func(room, id, sender, name string, ts time.Time) {
		t.Helper()
		err := st.Append(ctx, protocol.Message{
			ID: id, RoomID: room, Sender: sender, SenderName: name,
			Content: "c-" + id, Timestamp: protocol.Now(ts),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	add("listing_42_u1_u2", "a1", "u2", "Bob", base)
	add("listing_42_u1_u2", "a2", "u1", "Ann", base.Add(time.Hour))
	add("listing_7_u1_u3", "b1", "u3", "Cleo", base.Add(2*time.Hour))
	add("listing_9_u1_u4", "c1", "u4", "Dee", base.Add(3*time.Hour)) // listing 9 is gone
	add("listing_5_u5_u6", "d1", "u5", "Eve", base)                  // u1 is not a participant

	resolver := &mapResolver{listings: map[string]*listing.Listing{
		"42": {ID: "42", Title: "2014 Golf GTI", SellerID: "u1"},
		"7":  {ID: "7", Title: "Old pickup", SellerID: "u3"},
	}}

	convs, err := Conversations(ctx, st, "u1", resolver)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}

	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2: %+v", len(convs), convs)
	}

	// Most recent first.
	if convs[0].RoomID != "listing_7_u1_u3" {
		t.Errorf("first conversation = %s, want listing_7_u1_u3", convs[0].RoomID)
	}
	if convs[0].ListingTitle != "Old pickup" || convs[0].CounterpartName != "Cleo" {
		t.Errorf("unexpected first conversation: %+v", convs[0])
	}

	if convs[1].RoomID != "listing_42_u1_u2" {
		t.Errorf("second conversation = %s", convs[1].RoomID)
	}
	if convs[1].CounterpartID != "u2" || convs[1].CounterpartName != "Bob" {
		t.Errorf("counterpart fields wrong: %+v", convs[1])
	}
	if convs[1].LastMessage.ID != "a2" {
		t.Errorf("last message = %s, want a2", convs[1].LastMessage.ID)
	}

	// The hidden room's messages are retained, not deleted.
	kept, err := st.ListByRoom(ctx, "listing_9_u1_u4")
	if err != nil || len(kept) != 1 {
		t.Fatalf("hidden room lost its messages: %v, %v", kept, err)
	}
}

func TestConversationsWithoutResolver(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.Append(ctx, protocol.Message{
		ID: "m1", RoomID: "listing_42_u1_u2", Sender: "u2", SenderName: "Bob",
		Content: "hi", Timestamp: protocol.Now(time.Now()),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	convs, err := Conversations(ctx, st, "u1", nil)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].ListingTitle != "" {
		t.Fatalf("nil resolver should keep rooms untitled: %+v", convs)
	}
}
