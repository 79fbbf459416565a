package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrRoomNotFound is returned when a write targets a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotParticipant is returned when sender and receiver are not the room's two participants.
	ErrNotParticipant = errors.New("sender and receiver are not the room participants")
	// ErrInvalidMessage is returned when a message misses its room, sender or receiver.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrProfileNotFound is returned by the profile lookup for unknown users.
	ErrProfileNotFound = errors.New("profile not found")
)

// Store is the set of document-store primitives the messaging core relies on.
// Lookups return (nil, nil) when the document does not exist.
type Store interface {
	// CreateRoom creates the room unless a room with the same id exists.
	// created reports whether this call wrote it.
	CreateRoom(ctx context.Context, room *models.Room) (created bool, err error)
	// FindRoomByParticipants queries a room by equality on its canonical pair.
	FindRoomByParticipants(ctx context.Context, pair models.ParticipantPair) (*models.Room, error)
	// FindRoomsByParticipant queries every room whose participants contain userID.
	FindRoomsByParticipant(ctx context.Context, userID string) ([]models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)

	// AddMessage appends msg to its room. The store assigns MessageID and CreatedAt,
	// sets the status to sent, refreshes the room summary and increments the
	// receiver's unread counter.
	AddMessage(ctx context.Context, msg *models.Message) error
	// CreateRoomWithMessage creates room unless it exists and appends msg to
	// it atomically. When the message is rejected no room is left behind.
	CreateRoomWithMessage(ctx context.Context, room *models.Room, msg *models.Message) (created bool, err error)
	// ListMessages returns the room transcript ordered by CreatedAt, oldest first.
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)

	// MarkMessageRead advances a message to read on behalf of its receiver and
	// decrements the reader's unread counter. changed is false when the message
	// was already read or reader is not its receiver.
	MarkMessageRead(ctx context.Context, roomID, messageID, readerID string) (changed bool, err error)
	// MarkDelivered advances every sent message of receiverID in the room to delivered.
	MarkDelivered(ctx context.Context, roomID, receiverID string) (int64, error)

	// Watch signals on C after every write affecting topic.
	Watch(ctx context.Context, topic string) (*Watch, error)
}

// ProfileStore serves display profiles. Every save signals
// models.ProfilesTopic.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	SaveProfile(ctx context.Context, profile *models.Profile) error
	ListNotifiableProfiles(ctx context.Context) ([]models.Profile, error)
	Watch(ctx context.Context, topic string) (*Watch, error)
}

// Service is the PostgreSQL (documents) and Redis (change notifications,
// profile cache) implementation of Store and ProfileStore.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client

	// ProfileTTL bounds how long a cached profile is served from Redis.
	ProfileTTL time.Duration

	log zerolog.Logger
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client, profileTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		DB:         db,
		Redis:      rdb,
		ProfileTTL: profileTTL,
		log:        logging.Component(log, "storage"),
	}
}

// Migrate creates or updates the tables of every document type.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.Room{}, &models.Message{}, &models.Profile{})
}

// prepareMessage stamps the server-owned fields of a new message.
func prepareMessage(msg *models.Message, now time.Time) error {
	if msg.RoomID == "" || msg.SenderID == "" || msg.ReceiverID == "" || msg.SenderID == msg.ReceiverID {
		return ErrInvalidMessage
	}
	msg.MessageID = uuid.NewString()
	msg.CreatedAt = now.UTC()
	msg.Status = models.StatusSent
	if msg.ContentType == "" {
		msg.ContentType = models.ContentText
	}
	return nil
}

func unreadColumn(slot models.Slot) string {
	if slot == models.SlotA {
		return "unread_count_a"
	}
	return "unread_count_b"
}

// publish fans a change event out to topics. A failed publish leaves
// subscribers stalled until the next successful one.
func (s *Service) publish(ctx context.Context, ev models.ChangeEvent, topics ...string) {
	if s.Redis == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal change event")
		return
	}
	for _, topic := range topics {
		if err := s.Redis.Publish(ctx, topic, payload).Err(); err != nil {
			s.log.Error().Err(err).Str("topic", topic).Str("kind", string(ev.Kind)).Msg("publish change event")
		}
	}
}

// CreateRoom inserts the room, doing nothing if its id already exists.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room) (bool, error) {
	res := s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(room)
	if res.Error != nil {
		return false, fmt.Errorf("create room %s: %w", room.RoomID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	pair := room.Pair()
	s.publish(ctx, models.ChangeEvent{Kind: models.ChangeRoomCreated, RoomID: room.RoomID},
		models.UserTopic(pair[0]), models.UserTopic(pair[1]))
	return true, nil
}

// FindRoomByParticipants queries the room whose participant array equals the pair.
func (s *Service) FindRoomByParticipants(ctx context.Context, pair models.ParticipantPair) (*models.Room, error) {
	var room models.Room
	err := s.DB.WithContext(ctx).Where("participants = ?", pair.Array()).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find room by participants: %w", err)
	}
	return &room, nil
}

// FindRoomsByParticipant queries every room whose participant array contains userID.
func (s *Service) FindRoomsByParticipant(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	if err := s.DB.WithContext(ctx).
		Where("? = ANY(participants)", userID).
		Order("last_message_at desc").
		Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("find rooms of %s: %w", userID, err)
	}
	return rooms, nil
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return &room, nil
}

// appendMessage inserts msg and refreshes its room inside tx. The room row
// is locked so concurrent sends serialise on the counters.
func appendMessage(tx *gorm.DB, msg *models.Message) error {
	var room models.Room
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("room_id = ?", msg.RoomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRoomNotFound
	}
	if err != nil {
		return err
	}

	pair := room.Pair()
	slot, ok := pair.Slot(msg.ReceiverID)
	if !ok || pair.Other(msg.ReceiverID) != msg.SenderID {
		return ErrNotParticipant
	}

	if err := tx.Create(msg).Error; err != nil {
		return err
	}

	col := unreadColumn(slot)
	return tx.Model(&models.Room{}).Where("room_id = ?", msg.RoomID).Updates(map[string]interface{}{
		"last_message":    msg.Summary(),
		"last_message_at": msg.CreatedAt,
		col:               gorm.Expr(col + " + 1"),
	}).Error
}

func (s *Service) publishMessageAdded(ctx context.Context, msg *models.Message) {
	s.publish(ctx, models.ChangeEvent{Kind: models.ChangeMessageAdded, RoomID: msg.RoomID, MessageID: msg.MessageID},
		models.RoomTopic(msg.RoomID), models.UserTopic(msg.SenderID), models.UserTopic(msg.ReceiverID))
}

// AddMessage stores the message and refreshes the room summary in one transaction.
func (s *Service) AddMessage(ctx context.Context, msg *models.Message) error {
	if err := prepareMessage(msg, time.Now()); err != nil {
		return err
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendMessage(tx, msg)
	})
	if err != nil {
		return fmt.Errorf("add message to room %s: %w", msg.RoomID, err)
	}

	s.publishMessageAdded(ctx, msg)
	return nil
}

// CreateRoomWithMessage inserts the room unless it exists and appends msg,
// all in one transaction: a rejected message rolls the new room back.
func (s *Service) CreateRoomWithMessage(ctx context.Context, room *models.Room, msg *models.Message) (bool, error) {
	msg.RoomID = room.RoomID
	if err := prepareMessage(msg, time.Now()); err != nil {
		return false, err
	}

	created := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(room)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
		return appendMessage(tx, msg)
	})
	if err != nil {
		return false, fmt.Errorf("create room %s with first message: %w", room.RoomID, err)
	}

	if created {
		pair := room.Pair()
		s.publish(ctx, models.ChangeEvent{Kind: models.ChangeRoomCreated, RoomID: room.RoomID},
			models.UserTopic(pair[0]), models.UserTopic(pair[1]))
	}
	s.publishMessageAdded(ctx, msg)
	return created, nil
}

// ListMessages loads the transcript, sorting by creation time ascending.
func (s *Service) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at asc").Order("message_id asc").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages of room %s: %w", roomID, err)
	}
	return msgs, nil
}

// MarkMessageRead sets the message status to read and decrements the reader's
// unread counter, never below zero. Re-applying it is a no-op.
func (s *Service) MarkMessageRead(ctx context.Context, roomID, messageID, readerID string) (bool, error) {
	changed := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Message{}).
			Where("message_id = ? AND room_id = ? AND receiver_id = ? AND status IN ?",
				messageID, roomID, readerID, models.StatusRead.Below()).
			Update("status", models.StatusRead)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		changed = true

		var room models.Room
		if err := tx.Where("room_id = ?", roomID).First(&room).Error; err != nil {
			return err
		}
		slot, ok := room.Pair().Slot(readerID)
		if !ok {
			return ErrNotParticipant
		}
		col := unreadColumn(slot)
		return tx.Model(&models.Room{}).Where("room_id = ?", roomID).
			Update(col, gorm.Expr("GREATEST("+col+" - 1, 0)")).Error
	})
	if err != nil {
		return false, fmt.Errorf("mark message %s read: %w", messageID, err)
	}

	if changed {
		s.publish(ctx, models.ChangeEvent{Kind: models.ChangeMessageUpdated, RoomID: roomID, MessageID: messageID},
			models.RoomTopic(roomID))
		s.publish(ctx, models.ChangeEvent{Kind: models.ChangeRoomUpdated, RoomID: roomID},
			models.UserTopic(readerID))
	}
	return changed, nil
}

// MarkDelivered moves the receiver's sent messages of a room to delivered.
func (s *Service) MarkDelivered(ctx context.Context, roomID, receiverID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("room_id = ? AND receiver_id = ? AND status = ?", roomID, receiverID, models.StatusSent).
		Update("status", models.StatusDelivered)
	if res.Error != nil {
		return 0, fmt.Errorf("mark delivered in room %s: %w", roomID, res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, models.ChangeEvent{Kind: models.ChangeMessageUpdated, RoomID: roomID},
			models.RoomTopic(roomID))
	}
	return res.RowsAffected, nil
}
