package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gearmarket/chat-relay/internal/protocol"
	"github.com/gearmarket/chat-relay/internal/store"
)

const (
	self    = "u1"
	peer    = "u2"
	roomID  = "listing_42_u1_u2"
	roomID2 = "listing_43_u1_u3"
)

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendMsg(t *testing.T, s store.Store, room, id, sender string, ts time.Time) {
	t.Helper()
	err := s.Append(context.Background(), protocol.Message{
		ID:         id,
		RoomID:     room,
		Sender:     sender,
		SenderName: sender,
		Content:    "hello",
		Timestamp:  protocol.Now(ts),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestRecomputeCountsCounterpartMessages(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetLastChecked(ctx, map[string]time.Time{roomID: t0}); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}

	appendMsg(t, s, roomID, "m1", peer, t0.Add(1*time.Second))
	appendMsg(t, s, roomID, "m2", peer, t0.Add(2*time.Second))
	appendMsg(t, s, roomID, "m3", self, t0.Add(3*time.Second)) // own message, never unread
	appendMsg(t, s, roomID, "m4", peer, t0.Add(5*time.Second))
	appendMsg(t, s, roomID, "m0", peer, t0.Add(-time.Minute)) // before checkpoint

	a := NewAggregator(s, self)
	a.Recompute(ctx)

	total, rooms := a.Unread()
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	u := rooms[roomID]
	if u.Count != 3 {
		t.Fatalf("room count = %d, want 3", u.Count)
	}
	if u.CounterpartID != peer {
		t.Errorf("counterpart = %q, want %q", u.CounterpartID, peer)
	}
	if u.ListingID != "42" {
		t.Errorf("listing = %q, want 42", u.ListingID)
	}
	if !u.LastMessage.Equal(t0.Add(5 * time.Second)) {
		t.Errorf("last message = %v, want %v", u.LastMessage, t0.Add(5*time.Second))
	}
}

func TestRecomputeDefaultsToEpoch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	appendMsg(t, s, roomID, "m1", peer, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	a := NewAggregator(s, self)
	a.Recompute(ctx)

	total, _ := a.Unread()
	if total != 1 {
		t.Fatalf("total = %d, want 1 (no checkpoint means everything is unread)", total)
	}
}

func TestMarkRoomAsReadZeroesAndPersists(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	appendMsg(t, s, roomID, "m1", peer, now.Add(-2*time.Minute))
	appendMsg(t, s, roomID2, "n1", "u3", now.Add(-time.Minute))

	a := NewAggregator(s, self)
	a.Recompute(ctx)

	total, _ := a.Unread()
	if total != 2 {
		t.Fatalf("total before mark = %d, want 2", total)
	}

	if err := a.MarkRoomAsRead(ctx, roomID); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	total, rooms := a.Unread()
	if total != 1 {
		t.Fatalf("total after mark = %d, want 1", total)
	}
	if _, ok := rooms[roomID]; ok {
		t.Fatalf("marked room still has an unread entry")
	}

	// A fresh aggregator on the same store simulates a process restart:
	// the checkpoint must come back from persistence.
	restarted := NewAggregator(s, self)
	restarted.Recompute(ctx)

	total, rooms = restarted.Unread()
	if total != 1 {
		t.Fatalf("total after restart = %d, want 1", total)
	}
	if _, ok := rooms[roomID]; ok {
		t.Fatalf("checkpoint for %s did not survive restart", roomID)
	}
	if rooms[roomID2].Count != 1 {
		t.Fatalf("unrelated room lost its unread count")
	}
}

func TestMarkAllAsRead(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	appendMsg(t, s, roomID, "m1", peer, now.Add(-2*time.Minute))
	appendMsg(t, s, roomID2, "n1", "u3", now.Add(-time.Minute))

	a := NewAggregator(s, self)
	a.Recompute(ctx)

	if err := a.MarkAllAsRead(ctx); err != nil {
		t.Fatalf("mark all: %v", err)
	}

	total, rooms := a.Unread()
	if total != 0 || len(rooms) != 0 {
		t.Fatalf("after mark all: total=%d rooms=%d, want 0/0", total, len(rooms))
	}

	restarted := NewAggregator(s, self)
	restarted.Recompute(ctx)
	total, _ = restarted.Unread()
	if total != 0 {
		t.Fatalf("total after restart = %d, want 0", total)
	}
}

func TestOnLiveNotificationIncrements(t *testing.T) {
	s := openStore(t)

	a := NewAggregator(s, self)

	ts := protocol.Now(time.Now())
	a.OnLiveNotification(protocol.NotificationFrame{
		Type:        protocol.EventNotification,
		SenderID:    "u3",
		SenderName:  "Uma",
		RoomID:      roomID2,
		ListingID:   "43",
		RecipientID: self,
		Timestamp:   ts,
	})

	total, rooms := a.Unread()
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	u := rooms[roomID2]
	if u.Count != 1 || u.CounterpartName != "Uma" || u.ListingID != "43" {
		t.Fatalf("unexpected live entry: %+v", u)
	}
}

func TestOnLiveNotificationIgnoresOtherRecipients(t *testing.T) {
	s := openStore(t)

	a := NewAggregator(s, self)
	a.OnLiveNotification(protocol.NotificationFrame{
		RecipientID: "someone-else",
		RoomID:      roomID2,
	})

	total, _ := a.Unread()
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
}

func TestRecomputeKeepsCountsOnStoreError(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	appendMsg(t, s, roomID, "m1", peer, time.Now().UTC().Add(-time.Minute))

	a := NewAggregator(s, self)
	a.Recompute(ctx)
	total, _ := a.Unread()
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}

	// A closed store makes reconciliation fail; stale counts stay.
	s.Close()
	a.Recompute(ctx)

	total, _ = a.Unread()
	if total != 1 {
		t.Fatalf("total after failed recompute = %d, want previous value 1", total)
	}
}

// A recompute that moves counts between rooms while the total and room
// count stay equal must still fire the change callback.
func TestRecomputeFiresOnRedistribution(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	appendMsg(t, s, roomID, "a1", peer, base)
	appendMsg(t, s, roomID2, "b1", "u3", base.Add(time.Minute))

	var calls int
	a := NewAggregator(s, self, WithOnChange(func() { calls++ }))

	a.Recompute(ctx)
	if total, _ := a.Unread(); total != 2 {
		t.Fatalf("total = %d, want 2", total)
	}

	// One message synced straight into the store, while a notification
	// for the other room arrived live and its message never synced:
	// the distribution flips but total and room count do not move.
	appendMsg(t, s, roomID2, "b2", "u3", base.Add(2*time.Minute))
	a.OnLiveNotification(protocol.NotificationFrame{
		Type:        protocol.EventNotification,
		SenderID:    peer,
		SenderName:  peer,
		RoomID:      roomID,
		ListingID:   "42",
		RecipientID: self,
		Timestamp:   protocol.Now(base.Add(3 * time.Minute)),
	})

	before := calls
	a.Recompute(ctx)
	if calls == before {
		t.Fatalf("change callback not fired on redistributed counts")
	}

	total, rooms := a.Unread()
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if rooms[roomID].Count != 1 || rooms[roomID2].Count != 2 {
		t.Fatalf("unexpected distribution: %+v", rooms)
	}
}
