package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrInvalidParticipants is returned when a participant pair is built from
// an empty identifier or from the same identifier twice.
var ErrInvalidParticipants = errors.New("invalid participants")

// roomNamespace scopes the deterministic room identities.
var roomNamespace = uuid.MustParse("8f4d2c1e-6a3b-5e7f-9c0d-1b2a3c4d5e6f")

// Slot identifies which unread counter of a Room belongs to a participant.
type Slot int

const (
	// SlotA is bound to the lexicographically first participant.
	SlotA Slot = iota
	// SlotB is bound to the lexicographically second participant.
	SlotB
)

// ParticipantPair is the canonical, sorted pair of user identifiers of a room.
// The same two users always produce the same pair regardless of argument order.
type ParticipantPair [2]string

// NewParticipantPair sorts a and b into their canonical order.
func NewParticipantPair(a, b string) (ParticipantPair, error) {
	if a == "" || b == "" || a == b {
		return ParticipantPair{}, ErrInvalidParticipants
	}
	if b < a {
		a, b = b, a
	}
	return ParticipantPair{a, b}, nil
}

// Contains reports whether userID is one of the two participants.
func (p ParticipantPair) Contains(userID string) bool {
	return p[0] == userID || p[1] == userID
}

// Slot returns the unread slot of userID. ok is false for non-participants.
func (p ParticipantPair) Slot(userID string) (slot Slot, ok bool) {
	switch userID {
	case p[0]:
		return SlotA, true
	case p[1]:
		return SlotB, true
	}
	return SlotA, false
}

// Other returns the participant that is not userID.
func (p ParticipantPair) Other(userID string) string {
	if p[0] == userID {
		return p[1]
	}
	return p[0]
}

// Array returns the pair in the form stored in Room.Participants.
func (p ParticipantPair) Array() pq.StringArray {
	return pq.StringArray{p[0], p[1]}
}

// RoomIDFor derives the room identity from the canonical pair, so that two
// concurrent first contacts between the same users converge on one room.
func RoomIDFor(p ParticipantPair) string {
	return uuid.NewSHA1(roomNamespace, []byte(p[0]+"\x00"+p[1])).String()
}

// Room represents the persistent record of a two-party conversation.
type Room struct {
	// RoomID is the unique identifier of the room.
	RoomID string `gorm:"primaryKey" json:"room_id"`
	// Participants holds the canonical sorted pair. It never changes after creation.
	Participants pq.StringArray `gorm:"type:text[];not null;index:idx_room_participants,type:gin" json:"participants"`
	// LastMessage is a text snapshot of the latest message in the room.
	LastMessage string `gorm:"type:text;not null;default:''" json:"last_message"`
	// LastMessageAt is the creation time of the latest message.
	LastMessageAt time.Time `json:"last_message_at"`
	// UnreadCountA counts messages unread by Participants[0].
	UnreadCountA int `gorm:"not null;default:0" json:"unread_count_a"`
	// UnreadCountB counts messages unread by Participants[1].
	UnreadCountB int `gorm:"not null;default:0" json:"unread_count_b"`
	// CreatedAt is the time the room was first created.
	CreatedAt time.Time `json:"created_at"`
}

// NewRoom builds an empty room for the pair, keyed by RoomIDFor.
func NewRoom(p ParticipantPair) *Room {
	return &Room{
		RoomID:       RoomIDFor(p),
		Participants: p.Array(),
		LastMessage:  "",
	}
}

// Pair returns the typed participant pair of the room.
func (r *Room) Pair() ParticipantPair {
	var p ParticipantPair
	copy(p[:], r.Participants)
	return p
}

// UnreadFor returns the unread counter belonging to userID.
func (r *Room) UnreadFor(userID string) int {
	slot, ok := r.Pair().Slot(userID)
	if !ok {
		return 0
	}
	if slot == SlotA {
		return r.UnreadCountA
	}
	return r.UnreadCountB
}
