package protocol

import (
	"crypto/rand"
	"encoding/base32"
	"strconv"
	"strings"
	"time"
)

// MaxContentBytes bounds the plain-text body of a chat message.
const MaxContentBytes = 4096

// Message is a single chat message. The id is generated by the sending
// client and is the sole deduplication key; the timestamp is the sending
// client's clock, there is no server-authoritative time.
type Message struct {
	ID         string `json:"id"`
	RoomID     string `json:"roomId"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  string `json:"timestamp"`
}

// NewMessageID generates a client-side message id: unix milliseconds plus
// a random suffix, unique per sender with overwhelming probability.
func NewMessageID() string {
	var buf [6]byte
	rand.Read(buf[:])
	suffix := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:]))
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + suffix
}

// Time parses the message timestamp. A zero time is returned for
// malformed timestamps so broken input sorts first rather than failing.
func (m Message) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Now formats t the way message timestamps travel on the wire.
func Now(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
