package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gearmarket/chat-relay/internal/protocol"
	"github.com/gearmarket/chat-relay/internal/store"
	"github.com/gearmarket/chat-relay/pkg/log"
)

// User is the local identity a session acts as. The display name is
// denormalized into each message at send time and never re-resolved.
type User struct {
	ID   string
	Name string
}

// Notifier receives out-of-room message notifications. The process-wide
// unread aggregator implements it.
type Notifier interface {
	OnLiveNotification(f protocol.NotificationFrame)
}

// DefaultSentIDCap bounds the sent-id dedup set. The relay echoes every
// broadcast back to the sender, so the session keeps recently sent ids
// to drop its own echo; the cap keeps long-lived sessions from growing
// without bound.
const DefaultSentIDCap = 4096

// Session is the per-room chat controller: it joins the room over the
// shared transport, merges inbound messages into the local store, and
// sends with an optimistic local write.
type Session struct {
	user      User
	roomID    string
	transport Transport
	store     store.Store
	sent      *lru.Cache[string, struct{}]
	notifier  Notifier
	onChange  func()
	unsubs    []Unsubscribe
}

// SessionOption tweaks a Session.
type SessionOption func(*Session)

// WithNotifier forwards notifications for other rooms to n.
func WithNotifier(n Notifier) SessionOption {
	return func(s *Session) { s.notifier = n }
}

// WithOnChange registers a callback invoked after the room's stored
// messages change, so a UI can reload.
func WithOnChange(fn func()) SessionOption {
	return func(s *Session) { s.onChange = fn }
}

// NewSession builds the controller for the conversation about a listing
// between user and counterpartID. Both sides derive the identical room
// id independently.
func NewSession(t Transport, st store.Store, user User, listingID, counterpartID string, opts ...SessionOption) *Session {
	sent, _ := lru.New[string, struct{}](DefaultSentIDCap)
	s := &Session{
		user:      user,
		roomID:    protocol.RoomID(listingID, user.ID, counterpartID),
		transport: t,
		store:     st,
		sent:      sent,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RoomID returns the derived conversation id.
func (s *Session) RoomID() string {
	return s.roomID
}

// Connected reports transport connectivity for the UI's "connecting"
// indicator.
func (s *Session) Connected() bool {
	return s.transport.Connected()
}

// Open registers the user, joins the room and attaches the inbound
// listeners. The shared transport is joined by reference; other views
// keep their own references.
func (s *Session) Open() {
	s.transport.SetUser(s.user.ID)
	s.transport.Join(s.roomID)

	s.unsubs = append(s.unsubs,
		s.transport.On(protocol.EventReceiveMessage, s.handleReceive),
		s.transport.On(protocol.EventNotification, s.handleNotification),
	)
}

// Close detaches the listeners and leaves the room. It never tears down
// the shared transport.
func (s *Session) Close() {
	for _, u := range s.unsubs {
		u()
	}
	s.unsubs = nil
	s.transport.Leave(s.roomID)
}

// Messages loads the room's messages from the local store in
// chronological order.
func (s *Session) Messages(ctx context.Context) ([]protocol.Message, error) {
	return s.store.ListByRoom(ctx, s.roomID)
}

// Send validates, persists locally, then publishes. The local write is
// the commit point: Send succeeds once the message is durable, even
// with the transport down, and a lost publish is never surfaced here.
func (s *Session) Send(ctx context.Context, content string) (protocol.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return protocol.Message{}, ErrEmptyMessage
	}
	if s.user.ID == "" {
		return protocol.Message{}, ErrNoUser
	}
	if s.roomID == "" {
		return protocol.Message{}, ErrNoRoom
	}

	msg := protocol.Message{
		ID:         protocol.NewMessageID(),
		RoomID:     s.roomID,
		Sender:     s.user.ID,
		SenderName: s.user.Name,
		Content:    content,
		Timestamp:  protocol.Now(time.Now()),
	}

	// Remember the id before anything else so the relay's echo of our
	// own broadcast is recognized and dropped.
	s.sent.Add(msg.ID, struct{}{})

	if err := s.store.Append(ctx, msg); err != nil {
		return protocol.Message{}, err
	}
	s.changed()

	if err := s.transport.Publish(protocol.SendMessageFrame{
		Type:    protocol.EventSendMessage,
		RoomID:  s.roomID,
		Message: msg,
	}); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldRoomID, s.roomID).Str(log.FieldMessageID, msg.ID).Msg("publish failed, message kept locally")
	}

	return msg, nil
}

func (s *Session) handleReceive(data []byte) {
	var frame protocol.ReceiveMessageFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	msg := frame.Message

	// The relay delivers to the sender too; our own echo is already
	// stored.
	if msg.Sender == s.user.ID && s.sent.Contains(msg.ID) {
		return
	}

	if msg.RoomID == "" {
		msg.RoomID = s.roomID
	}
	if msg.RoomID != s.roomID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Append(ctx, msg); err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoomID, s.roomID).Str(log.FieldMessageID, msg.ID).Msg("failed to store inbound message")
		return
	}
	s.changed()
}

func (s *Session) handleNotification(data []byte) {
	var frame protocol.NotificationFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}

	if frame.RecipientID != s.user.ID {
		return
	}
	// The active room's messages arrive on the message channel and are
	// already visible; only other rooms need a badge.
	if frame.RoomID == s.roomID {
		return
	}

	if s.notifier != nil {
		s.notifier.OnLiveNotification(frame)
	}
}

func (s *Session) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
