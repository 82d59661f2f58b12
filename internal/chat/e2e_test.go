package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gearmarket/chat-relay/internal/config"
	"github.com/gearmarket/chat-relay/internal/notify"
	"github.com/gearmarket/chat-relay/internal/registry"
	"github.com/gearmarket/chat-relay/internal/relay"
)

func startRelay(t *testing.T) (*relay.Hub, string) {
	t.Helper()

	cfg := config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 8192,
	}
	hub := relay.NewHub(cfg, registry.NewMemoryRegistry())
	go hub.Run()

	handler := relay.NewWSHandler(hub, cfg)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Two users chat about a listing end to end: buyer u1 opens a chat with
// seller u2 about listing 42, both over real websockets through the
// relay, each with their own local store.
func TestTwoPartyConversation(t *testing.T) {
	hub, url := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeA := newTestStore(t)
	storeB := newTestStore(t)

	connA := NewConn(url)
	connA.Start(ctx)
	defer connA.Close()
	connB := NewConn(url)
	connB.Start(ctx)
	defer connB.Close()

	waitUntil(t, "both clients connected", func() bool {
		return connA.Connected() && connB.Connected()
	})

	sessionA := NewSession(connA, storeA, User{ID: "u1", Name: "Ann"}, "42", "u2")
	sessionB := NewSession(connB, storeB, User{ID: "u2", Name: "Bob"}, "42", "u1")

	if sessionA.RoomID() != "listing_42_u1_u2" {
		t.Fatalf("buyer room id = %q", sessionA.RoomID())
	}
	if sessionB.RoomID() != sessionA.RoomID() {
		t.Fatalf("participants derived different rooms: %q vs %q", sessionA.RoomID(), sessionB.RoomID())
	}

	sessionA.Open()
	defer sessionA.Close()
	sessionB.Open()
	defer sessionB.Close()

	waitUntil(t, "both members joined", func() bool {
		return hub.RoomMemberCount(sessionA.RoomID()) == 2
	})

	if _, err := sessionA.Send(ctx, "Is this still available?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitUntil(t, "seller received the question", func() bool {
		msgs, err := sessionB.Messages(ctx)
		return err == nil && len(msgs) == 1
	})
	msgs, _ := sessionB.Messages(ctx)
	if msgs[0].Sender != "u1" || msgs[0].Content != "Is this still available?" {
		t.Fatalf("seller stored wrong message: %+v", msgs[0])
	}

	if _, err := sessionB.Send(ctx, "Yes!"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	waitUntil(t, "buyer received the reply", func() bool {
		msgs, err := sessionA.Messages(ctx)
		return err == nil && len(msgs) == 2
	})
	msgs, _ = sessionA.Messages(ctx)
	if msgs[0].Sender != "u1" || msgs[1].Sender != "u2" {
		t.Fatalf("buyer's messages out of order: %+v", msgs)
	}

	// The relay echoed A's own message back; dedup kept one copy.
	msgsA, _ := sessionA.Messages(ctx)
	if len(msgsA) != 2 {
		t.Fatalf("buyer has %d messages, want 2", len(msgsA))
	}
}

// A message in a room the recipient is not viewing arrives as a badge
// update through the notification path, not as a store write.
func TestOutOfRoomNotificationFeedsAggregator(t *testing.T) {
	hub, url := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storeA := newTestStore(t)
	storeB := newTestStore(t)

	connA := NewConn(url)
	connA.Start(ctx)
	defer connA.Close()
	connB := NewConn(url)
	connB.Start(ctx)
	defer connB.Close()

	waitUntil(t, "both clients connected", func() bool {
		return connA.Connected() && connB.Connected()
	})

	agg := notify.NewAggregator(storeB, "u2")

	// u2 is viewing the listing 7 conversation with u3, not listing 42.
	active := NewSession(connB, storeB, User{ID: "u2", Name: "Bob"}, "7", "u3", WithNotifier(agg))
	active.Open()
	defer active.Close()

	sender := NewSession(connA, storeA, User{ID: "u1", Name: "Ann"}, "42", "u2")
	sender.Open()
	defer sender.Close()

	waitUntil(t, "u2 registered", func() bool {
		_, ok := hub.LookupUser(ctx, "u2")
		return ok
	})

	if _, err := sender.Send(ctx, "ping about listing 42"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitUntil(t, "badge incremented", func() bool {
		total, _ := agg.Unread()
		return total == 1
	})

	_, rooms := agg.Unread()
	u, ok := rooms["listing_42_u1_u2"]
	if !ok {
		t.Fatalf("unread entry missing: %+v", rooms)
	}
	if u.CounterpartID != "u1" || u.ListingID != "42" {
		t.Fatalf("unexpected unread entry: %+v", u)
	}

	// The message itself was not written to u2's store: that only
	// happens through the message channel when the room is opened.
	stored, _ := storeB.ListByRoom(ctx, "listing_42_u1_u2")
	if len(stored) != 0 {
		t.Fatalf("notification must not write messages, got %v", stored)
	}
}
