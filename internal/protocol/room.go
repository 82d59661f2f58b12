package protocol

import (
	"fmt"
	"strings"
)

// RoomID derives the conversation id for a listing and its two
// participants. The participant ids are ordered lexicographically so
// both sides compute the identical string without coordination. The
// exact format is the only room-addressing mechanism and is shared with
// the web clients: listing_{listingId}_{lowId}_{highId}.
func RoomID(listingID, userA, userB string) string {
	low, high := userA, userB
	if low > high {
		low, high = high, low
	}
	return fmt.Sprintf("listing_%s_%s_%s", listingID, low, high)
}

// Room is the decomposed form of a room id.
type Room struct {
	ListingID string
	LowID     string
	HighID    string
}

// ParseRoomID splits a room id back into listing and participants.
// Participant ids never contain underscores (they are uuids or numeric
// ids), so the last two segments are unambiguous; everything between
// the prefix and them belongs to the listing id.
func ParseRoomID(roomID string) (Room, bool) {
	rest, ok := strings.CutPrefix(roomID, "listing_")
	if !ok {
		return Room{}, false
	}
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 {
		return Room{}, false
	}
	high := rest[i+1:]
	rest = rest[:i]
	j := strings.LastIndexByte(rest, '_')
	if j <= 0 {
		return Room{}, false
	}
	low := rest[j+1:]
	listing := rest[:j]
	if listing == "" || low == "" || high == "" {
		return Room{}, false
	}
	return Room{ListingID: listing, LowID: low, HighID: high}, true
}

// Counterpart returns the participant that is not userID, or "" when
// userID is not a participant of the room.
func (r Room) Counterpart(userID string) string {
	switch userID {
	case r.LowID:
		return r.HighID
	case r.HighID:
		return r.LowID
	default:
		return ""
	}
}
