package models

// ChangeKind names the write that produced a ChangeEvent.
type ChangeKind string

const (
	ChangeRoomCreated    ChangeKind = "room_created"
	ChangeMessageAdded   ChangeKind = "message_added"
	ChangeMessageUpdated ChangeKind = "message_updated"
	ChangeRoomUpdated    ChangeKind = "room_updated"
	ChangeProfileSaved   ChangeKind = "profile_saved"
)

// ProfilesTopic carries a signal after every profile save.
const ProfilesTopic = "profiles"

// ChangeEvent is published on a topic after every store write.
// Subscribers only use it as a signal and re-read the full query.
type ChangeEvent struct {
	Kind      ChangeKind `json:"kind"`
	RoomID    string     `json:"room_id"`
	MessageID string     `json:"message_id,omitempty"`
	UserID    string     `json:"user_id,omitempty"`
}

// RoomTopic is the change topic of a room's message sequence.
func RoomTopic(roomID string) string {
	return "room:" + roomID + ":messages"
}

// UserTopic is the change topic of the rooms a user participates in.
func UserTopic(userID string) string {
	return "user:" + userID + ":rooms"
}
