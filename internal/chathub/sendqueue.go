package chathub

import (
	"context"
	"fmt"
	"portalchat/backend/internal/config"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FileRef points at an already uploaded attachment.
type FileRef struct {
	URL  string `json:"url" validate:"required,url"`
	Name string `json:"name" validate:"required"`
}

// SendInput is one composer submission: text, a file, or both.
type SendInput struct {
	Text string   `json:"text" validate:"required_without=File"`
	File *FileRef `json:"file,omitempty" validate:"omitempty"`
}

// OptimisticSendQueue shows a message the moment it is composed and
// reconciles it with the stored copy once the write lands. Sends are
// independent: one failing leaves the others untouched.
type OptimisticSendQueue struct {
	store      storage.Store
	resolver   *RoomResolver
	transcript *Transcript
	validate   *validator.Validate
	maxLen     int
	log        zerolog.Logger

	senderID   string
	receiverID string

	// onRoom runs after every stored message, onChange after every
	// transcript mutation.
	onRoom   func(roomID string) error
	onChange func()
	now      func() time.Time

	resolveMu sync.Mutex
	roomID    string
	fresh     *models.Room // set while the room is not stored yet
}

func (q *OptimisticSendQueue) input(in SendInput) (SendInput, error) {
	in.Text = strings.TrimSpace(in.Text)
	if err := q.validate.Struct(in); err != nil {
		return in, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if in.File != nil {
		if err := q.validate.Struct(in.File); err != nil {
			return in, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
	}
	if err := q.validate.Var(in.Text, fmt.Sprintf("max=%d", q.maxLen)); err != nil {
		return in, fmt.Errorf("%w: text longer than %d characters", ErrInvalidMessage, q.maxLen)
	}
	return in, nil
}

// room returns the conversation's room id. Before the room exists it also
// returns the unsaved room the write must create. The lookup runs once;
// concurrent first sends share it.
func (q *OptimisticSendQueue) room(ctx context.Context) (string, *models.Room, error) {
	q.resolveMu.Lock()
	defer q.resolveMu.Unlock()

	if q.roomID != "" {
		return q.roomID, nil, nil
	}
	if q.fresh != nil {
		return q.fresh.RoomID, q.fresh, nil
	}
	id, fresh, err := q.resolver.Prepare(ctx, q.senderID, q.receiverID)
	if err != nil {
		return "", nil, err
	}
	if fresh == nil {
		q.roomID = id
	}
	q.fresh = fresh
	return id, fresh, nil
}

// SetRoom seeds the room id when the room is already known.
func (q *OptimisticSendQueue) SetRoom(roomID string) {
	q.resolveMu.Lock()
	defer q.resolveMu.Unlock()
	q.roomID = roomID
	q.fresh = nil
}

// Send validates in, shows it as waiting, then stores it. On failure the
// echo is removed and the error is returned. The first send creates the
// room together with the message.
func (q *OptimisticSendQueue) Send(ctx context.Context, in SendInput) (models.Message, error) {
	in, err := q.input(in)
	if err != nil {
		return models.Message{}, err
	}

	tempID := config.TempIDPrefix + uuid.NewString()
	echo := models.Message{
		MessageID:   tempID,
		SenderID:    q.senderID,
		ReceiverID:  q.receiverID,
		Content:     in.Text,
		ContentType: models.ContentText,
		CreatedAt:   q.now().UTC(),
		Status:      models.StatusWaiting,
	}
	if in.File != nil {
		echo.ContentType = models.ContentFile
		echo.FileURL = in.File.URL
		echo.FileName = in.File.Name
	}
	q.transcript.AddPending(echo)
	q.onChange()

	log := q.log.With().Str("temp_id", tempID).Logger()

	roomID, fresh, err := q.room(ctx)
	if err != nil {
		q.fail(tempID)
		log.Error().Err(err).Msg("send failed: room unavailable")
		return models.Message{}, err
	}

	stored := echo
	stored.MessageID = ""
	stored.RoomID = roomID
	if fresh != nil {
		var created bool
		created, err = q.store.CreateRoomWithMessage(ctx, models.NewRoom(fresh.Pair()), &stored)
		if err == nil && created {
			log.Info().Str("room_id", roomID).Msg("room created")
		}
	} else {
		err = q.store.AddMessage(ctx, &stored)
	}
	if err != nil {
		q.fail(tempID)
		err = storeError("add message", err)
		log.Error().Err(err).Str("room_id", roomID).Msg("send failed")
		return models.Message{}, err
	}

	if fresh != nil {
		q.SetRoom(roomID)
	}
	q.transcript.Confirm(tempID, stored.MessageID)
	if err := q.onRoom(roomID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("attach transcript stream")
	}
	q.onChange()
	log.Debug().Str("room_id", roomID).Str("message_id", stored.MessageID).Msg("message sent")
	return stored, nil
}

func (q *OptimisticSendQueue) fail(tempID string) {
	q.transcript.Discard(tempID)
	q.onChange()
}
