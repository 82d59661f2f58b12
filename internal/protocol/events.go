package protocol

// Event names carried in the "type" field of every frame. The camelCase
// strings are load-bearing: they are what existing clients emit and
// listen for, and must not be renamed.
const (
	// client -> server
	EventRegisterUser = "registerUser"
	EventJoinRoom     = "joinRoom"
	EventLeaveRoom    = "leaveRoom"
	EventSendMessage  = "sendMessage"
	EventPing         = "ping"

	// server -> client
	EventReceiveMessage = "receiveMessage"
	EventNotification   = "newMessageNotification"
	EventError          = "error"
	EventPong           = "pong"
)

// Error codes carried in error frames.
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeMessageTooLarge = "MESSAGE_TOO_LARGE"
)

// Envelope is the base structure of every frame; Type selects the
// concrete payload.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> server frames.

type RegisterUserFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type JoinRoomFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type LeaveRoomFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type SendMessageFrame struct {
	Type    string  `json:"type"`
	RoomID  string  `json:"roomId"`
	Message Message `json:"message"`
}

// Server -> client frames.

type ReceiveMessageFrame struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// NotificationFrame alerts a registered user about a message in a room
// their connection is not necessarily joined to.
type NotificationFrame struct {
	Type        string `json:"type"`
	SenderID    string `json:"senderId"`
	SenderName  string `json:"senderName"`
	RoomID      string `json:"roomId"`
	ListingID   string `json:"listingId"`
	RecipientID string `json:"recipientId"`
	Timestamp   string `json:"timestamp"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{
		Type:    EventError,
		Code:    code,
		Message: message,
	}
}
