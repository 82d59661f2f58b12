package relay

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gearmarket/chat-relay/internal/config"
	"github.com/gearmarket/chat-relay/internal/protocol"
	"github.com/gearmarket/chat-relay/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades websocket connections and dispatches the chat
// relay events. The relay asserts nothing about identity: userId is
// whatever the client claims.
type WSHandler struct {
	hub   *Hub
	wsCfg config.WebSocketConfig
}

func NewWSHandler(h *Hub, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:   h,
		wsCfg: wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldRemote, r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)

	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleFrame)
}

func (h *WSHandler) handleFrame(client *Client, raw []byte) {
	var base protocol.Envelope
	if err := json.Unmarshal(raw, &base); err != nil {
		client.SendFrame(protocol.NewErrorFrame(protocol.ErrCodeBadRequest, "invalid frame"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case protocol.EventRegisterUser:
		var frame protocol.RegisterUserFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.UserID == "" {
			client.SendFrame(protocol.NewErrorFrame(protocol.ErrCodeBadRequest, "invalid registerUser frame"))
			return
		}
		if err := h.hub.RegisterUser(ctx, client, frame.UserID); err != nil {
			l := log.L()
			l.Error().Err(err).Str(log.FieldConnID, client.ID).Str(log.FieldUserID, frame.UserID).Msg("user registration failed")
		}

	case protocol.EventJoinRoom:
		var frame protocol.JoinRoomFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
			client.SendFrame(protocol.NewErrorFrame(protocol.ErrCodeBadRequest, "invalid joinRoom frame"))
			return
		}
		h.hub.JoinRoom(client, frame.RoomID)

	case protocol.EventLeaveRoom:
		var frame protocol.LeaveRoomFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
			client.SendFrame(protocol.NewErrorFrame(protocol.ErrCodeBadRequest, "invalid leaveRoom frame"))
			return
		}
		h.hub.LeaveRoom(client, frame.RoomID)

	case protocol.EventSendMessage:
		var frame protocol.SendMessageFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.RoomID == "" {
			client.SendFrame(protocol.NewErrorFrame(protocol.ErrCodeBadRequest, "invalid sendMessage frame"))
			return
		}
		h.handleSendMessage(ctx, client, frame)

	case protocol.EventPing:
		client.SendFrame(map[string]string{"type": protocol.EventPong})

	default:
		client.SendFrame(protocol.NewErrorFrame(protocol.ErrCodeBadRequest, "unknown frame type"))
	}
}

// handleSendMessage rebroadcasts the message verbatim to every member
// of the room, the sender's connection included, then best-effort
// pushes a notification to the recipient's registered connection even
// when that connection is not joined to the room.
func (h *WSHandler) handleSendMessage(ctx context.Context, client *Client, frame protocol.SendMessageFrame) {
	msg := frame.Message
	if len(msg.Content) > protocol.MaxContentBytes {
		client.SendFrame(protocol.NewErrorFrame(protocol.ErrCodeMessageTooLarge, "message content too large"))
		return
	}

	if msg.ID == "" {
		msg.ID = protocol.NewMessageID()
	}
	if msg.RoomID == "" {
		msg.RoomID = frame.RoomID
	}

	out := protocol.ReceiveMessageFrame{
		Type:    protocol.EventReceiveMessage,
		Message: msg,
	}
	if err := h.hub.BroadcastToRoom(frame.RoomID, out); err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldRoomID, frame.RoomID).Msg("broadcast failed")
		return
	}

	h.notifyRecipient(ctx, client, frame.RoomID, msg)
}

func (h *WSHandler) notifyRecipient(ctx context.Context, sender *Client, roomID string, msg protocol.Message) {
	room, ok := protocol.ParseRoomID(roomID)
	if !ok {
		return
	}
	recipientID := room.Counterpart(msg.Sender)
	if recipientID == "" {
		return
	}

	connID, ok := h.hub.LookupUser(ctx, recipientID)
	if !ok || connID == sender.ID {
		return
	}

	h.hub.SendToConn(connID, protocol.NotificationFrame{
		Type:        protocol.EventNotification,
		SenderID:    msg.Sender,
		SenderName:  msg.SenderName,
		RoomID:      roomID,
		ListingID:   room.ListingID,
		RecipientID: recipientID,
		Timestamp:   msg.Timestamp,
	})
}

func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
}
