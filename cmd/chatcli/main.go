// chatcli is a terminal chat client against the relay: it wires the
// local store, shared connection, session controller and unread
// aggregator together the same way the marketplace UI does.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gearmarket/chat-relay/internal/chat"
	"github.com/gearmarket/chat-relay/internal/listing"
	"github.com/gearmarket/chat-relay/internal/notify"
	"github.com/gearmarket/chat-relay/internal/store"
	"github.com/gearmarket/chat-relay/pkg/log"
)

func main() {
	var (
		serverURL  = flag.String("server", "ws://localhost:5000/ws", "relay websocket URL")
		dbPath     = flag.String("db", "", "local chat database path (default ./data/chat-<user>.db)")
		userID     = flag.String("user", "", "user id (required)")
		userName   = flag.String("name", "", "display name (defaults to user id)")
		listingID  = flag.String("listing", "", "listing id to chat about (required)")
		peerID     = flag.String("peer", "", "counterpart user id (required)")
		listingDSN = flag.String("listing-dsn", "", "optional Postgres DSN of the marketplace listings database")
		pretty     = flag.Bool("pretty", true, "human-readable log output")
	)
	flag.Parse()

	if *userID == "" || *listingID == "" || *peerID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *userName == "" {
		*userName = *userID
	}
	if *dbPath == "" {
		*dbPath = fmt.Sprintf("./data/chat-%s.db", *userID)
	}

	log.Init(log.Config{Level: "warn", Pretty: *pretty, ServiceName: "chatcli"})
	l := log.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewSQLiteStore(ctx, *dbPath)
	if err != nil {
		l.Fatal().Err(err).Str("path", *dbPath).Msg("failed to open local chat store")
	}
	defer st.Close()

	var resolver listing.Resolver
	if *listingDSN != "" {
		r, err := listing.NewGormResolver(*listingDSN)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to connect to listings database")
		}
		resolver = r
	}

	conn := chat.NewConn(*serverURL)
	conn.Start(ctx)
	defer conn.Close()

	var agg *notify.Aggregator
	agg = notify.NewAggregator(st, *userID, notify.WithOnChange(func() {
		total, _ := agg.Unread()
		if total > 0 {
			fmt.Printf("\r[%d unread in other conversations]\n> ", total)
		}
	}))
	go agg.Run(ctx)

	user := chat.User{ID: *userID, Name: *userName}

	var session *chat.Session
	session = chat.NewSession(conn, st, user, *listingID, *peerID,
		chat.WithNotifier(agg),
		chat.WithOnChange(func() { printLatest(ctx, session) }),
	)
	session.Open()
	defer session.Close()

	fmt.Printf("room %s (you: %s, peer: %s)\n", session.RoomID(), *userID, *peerID)
	printHistory(ctx, session)

	conn.On(chat.TopicConnect, func([]byte) { fmt.Print("\r[connected]\n> ") })
	conn.On(chat.TopicDisconnect, func([]byte) { fmt.Print("\r[connection lost, reconnecting...]\n> ") })

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := scanner.Text()
		switch line {
		case "/quit":
			return
		case "/read":
			if err := agg.MarkRoomAsRead(ctx, session.RoomID()); err != nil {
				fmt.Printf("mark read failed: %v\n", err)
			}
		case "/conversations":
			printConversations(ctx, st, *userID, resolver)
		case "":
		default:
			if _, err := session.Send(ctx, line); err != nil {
				fmt.Printf("not sent: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}

func printHistory(ctx context.Context, s *chat.Session) {
	msgs, err := s.Messages(ctx)
	if err != nil {
		fmt.Printf("failed to load messages: %v\n", err)
		return
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.SenderName, m.Content)
	}
}

func printLatest(ctx context.Context, s *chat.Session) {
	if s == nil {
		return
	}
	msgs, err := s.Messages(ctx)
	if err != nil || len(msgs) == 0 {
		return
	}
	m := msgs[len(msgs)-1]
	fmt.Printf("\r[%s] %s: %s\n> ", m.Timestamp, m.SenderName, m.Content)
}

func printConversations(ctx context.Context, st store.Store, selfID string, resolver listing.Resolver) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	convs, err := chat.Conversations(ctx, st, selfID, resolver)
	if err != nil {
		fmt.Printf("failed to build conversation list: %v\n", err)
		return
	}
	for _, c := range convs {
		title := c.ListingTitle
		if title == "" {
			title = c.ListingID
		}
		fmt.Printf("%s | %s (%s): %s\n", title, c.CounterpartName, c.CounterpartID, c.LastMessage.Content)
	}
}
