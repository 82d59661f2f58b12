package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/gearmarket/chat-relay/internal/protocol"
	"github.com/gearmarket/chat-relay/pkg/log"
)

// ErrNotConnected is returned when a publish is attempted while the
// transport is down.
var ErrNotConnected = errors.New("chat: not connected to relay")

// Lifecycle topics emitted by Conn alongside the wire events.
const (
	TopicConnect      = "connect"
	TopicConnectError = "connect_error"
	TopicDisconnect   = "disconnect"
)

// Transport is what a Session needs from the shared connection. Conn
// implements it; tests substitute fakes.
type Transport interface {
	Connected() bool
	SetUser(userID string)
	Join(roomID string)
	Leave(roomID string)
	Publish(frame interface{}) error
	On(topic string, fn func(data []byte)) Unsubscribe
}

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 10 * time.Second

// Conn is the process-wide relay connection shared by every room view.
// Room subscriptions are reference-counted; user registration and all
// current joins are replayed on every reconnect because the relay keeps
// no per-connection state across connections.
type Conn struct {
	url         string
	dialTimeout time.Duration
	emitter     *Emitter

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	userID    string
	rooms     map[string]int // roomID -> refcount

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// ConnOption tweaks a Conn.
type ConnOption func(*Conn)

// WithDialTimeout overrides the per-attempt connect timeout.
func WithDialTimeout(d time.Duration) ConnOption {
	return func(c *Conn) { c.dialTimeout = d }
}

func NewConn(url string, opts ...ConnOption) *Conn {
	c := &Conn{
		url:         url,
		dialTimeout: DefaultDialTimeout,
		emitter:     NewEmitter(),
		rooms:       make(map[string]int),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins connecting and keeps the connection alive with
// exponential backoff until ctx is cancelled or Close is called.
func (c *Conn) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	for {
		if ctx.Err() != nil {
			return
		}

		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l := log.L()
			l.Warn().Err(err).Str("url", c.url).Msg("relay connection failed")
			return
		}

		c.mu.Lock()
		c.ws = ws
		c.connected = true
		c.mu.Unlock()

		c.replayState()
		c.emitter.Emit(TopicConnect, nil)

		c.readLoop(ctx, ws)

		c.mu.Lock()
		c.connected = false
		c.ws = nil
		c.mu.Unlock()

		c.emitter.Emit(TopicDisconnect, nil)

		if ctx.Err() != nil {
			return
		}
		l := log.L()
		l.Info().Str("url", c.url).Msg("relay connection lost, reconnecting")
	}
}

// dial retries with exponential backoff until a connection is made or
// ctx is cancelled. Each attempt is individually bounded by the dial
// timeout.
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn

	policy := backoff.WithContext(newDialBackoff(), ctx)
	err := backoff.Retry(func() error {
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()

		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
		if err != nil {
			c.emitter.Emit(TopicConnectError, nil)
			return err
		}
		ws = conn
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func newDialBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry until cancelled
	return b
}

// replayState re-issues registerUser and joinRoom for every current
// subscription; the relay forgets both on disconnect.
func (c *Conn) replayState() {
	c.mu.Lock()
	userID := c.userID
	rooms := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	c.mu.Unlock()

	if userID != "" {
		c.write(protocol.RegisterUserFrame{Type: protocol.EventRegisterUser, UserID: userID})
	}
	for _, roomID := range rooms {
		c.write(protocol.JoinRoomFrame{Type: protocol.EventJoinRoom, RoomID: roomID})
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			return
		}

		var base protocol.Envelope
		if err := json.Unmarshal(data, &base); err != nil {
			continue
		}
		c.emitter.Emit(base.Type, data)
	}
}

// Connected reports whether the transport currently holds a live
// connection.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetUser records the identity to register; if connected it registers
// immediately, and every reconnect re-registers.
func (c *Conn) SetUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	connected := c.connected
	c.mu.Unlock()

	if connected && userID != "" {
		c.write(protocol.RegisterUserFrame{Type: protocol.EventRegisterUser, UserID: userID})
	}
}

// Join adds a reference to the room subscription, issuing joinRoom on
// the first reference.
func (c *Conn) Join(roomID string) {
	c.mu.Lock()
	c.rooms[roomID]++
	first := c.rooms[roomID] == 1
	connected := c.connected
	c.mu.Unlock()

	if first && connected {
		c.write(protocol.JoinRoomFrame{Type: protocol.EventJoinRoom, RoomID: roomID})
	}
}

// Leave drops a reference, issuing leaveRoom when the last reference
// goes away. The shared connection itself stays up for other views.
func (c *Conn) Leave(roomID string) {
	c.mu.Lock()
	n, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return
	}
	n--
	last := n <= 0
	if last {
		delete(c.rooms, roomID)
	} else {
		c.rooms[roomID] = n
	}
	connected := c.connected
	c.mu.Unlock()

	if last && connected {
		c.write(protocol.LeaveRoomFrame{Type: protocol.EventLeaveRoom, RoomID: roomID})
	}
}

// Publish sends a frame to the relay, failing fast when disconnected.
func (c *Conn) Publish(frame interface{}) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.write(frame)
}

// On registers an event handler; wire topics carry the raw frame.
func (c *Conn) On(topic string, fn func(data []byte)) Unsubscribe {
	return c.emitter.On(topic, fn)
}

func (c *Conn) write(frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the connection and stops reconnecting.
func (c *Conn) Close() {
	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		ws.Close()
	}

	if c.cancel != nil {
		<-c.done
	}
}
