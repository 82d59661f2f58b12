package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gearmarket/chat-relay/internal/config"
	"github.com/gearmarket/chat-relay/internal/registry"
	"github.com/gearmarket/chat-relay/pkg/log"
)

// Hub owns the connection table and room memberships. It never inspects
// message payloads; routing decisions live in the handler.
type Hub struct {
	clients    map[string]*Client            // connID -> client
	rooms      map[string]map[string]*Client // roomID -> connID -> client
	registry   registry.Registry
	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomBroadcast
	direct     chan *directedSend
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

type roomBroadcast struct {
	RoomID  string
	Message []byte
}

type directedSend struct {
	ConnID  string
	Message []byte
}

func NewHub(cfg config.WebSocketConfig, reg registry.Registry) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		registry:   reg,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomBroadcast, 256),
		direct:     make(chan *directedSend, 256),
		config:     cfg,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldConnID, client.ID).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for roomID, members := range h.rooms {
					delete(members, client.ID)
					if len(members) == 0 {
						delete(h.rooms, roomID)
					}
				}
				delete(h.clients, client.ID)
				close(client.Send)
			}
			h.mu.Unlock()
			h.registry.DeregisterConn(context.Background(), client.ID)
			l := log.L()
			l.Debug().Str(log.FieldConnID, client.ID).Msg("client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			members, ok := h.rooms[msg.RoomID]
			if ok {
				for _, client := range members {
					select {
					case client.Send <- msg.Message:
					default:
						go h.removeClient(client)
					}
				}
			}
			h.mu.RUnlock()

		case msg := <-h.direct:
			h.mu.RLock()
			client, ok := h.clients[msg.ConnID]
			h.mu.RUnlock()
			if !ok {
				continue
			}
			select {
			case client.Send <- msg.Message:
			default:
				go h.removeClient(client)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// JoinRoom adds the connection to a room. Idempotent.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]*Client)
	}
	h.rooms[roomID][client.ID] = client
	l := log.L()
	l.Info().Str(log.FieldConnID, client.ID).Str(log.FieldRoomID, roomID).Msg("client joined room")
}

// LeaveRoom removes the connection from a room. Idempotent; a no-op if
// the connection was never a member.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[roomID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	l := log.L()
	l.Info().Str(log.FieldConnID, client.ID).Str(log.FieldRoomID, roomID).Msg("client left room")
}

// RegisterUser associates the connection with a user id, last
// registration winning.
func (h *Hub) RegisterUser(ctx context.Context, client *Client, userID string) error {
	return h.registry.Register(ctx, userID, client.ID)
}

// BroadcastToRoom delivers the frame to every current member of the
// room, the sender included.
func (h *Hub) BroadcastToRoom(roomID string, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	h.broadcast <- &roomBroadcast{RoomID: roomID, Message: data}
	return nil
}

// SendToConn delivers the frame to one specific connection, joined to
// the room or not. Returns false if the connection is gone. Delivery
// goes through the hub loop so it cannot race the loop closing the
// client's send channel on unregister.
func (h *Hub) SendToConn(connID string, frame interface{}) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}

	h.mu.RLock()
	_, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	h.direct <- &directedSend{ConnID: connID, Message: data}
	return true
}

// LookupUser resolves a registered user to their current connection.
func (h *Hub) LookupUser(ctx context.Context, userID string) (string, bool) {
	return h.registry.Lookup(ctx, userID)
}

// RoomMemberCount reports how many connections are joined to the room.
func (h *Hub) RoomMemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) removeClient(client *Client) {
	h.unregister <- client
}
