package chathub

import (
	"context"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"

	"github.com/rs/zerolog"
)

// MessageStream serves live transcripts. Every update carries the whole
// ordered transcript, never a diff.
type MessageStream struct {
	store storage.Store
	log   zerolog.Logger
}

func NewMessageStream(store storage.Store, log zerolog.Logger) *MessageStream {
	return &MessageStream{
		store: store,
		log:   logging.Component(log, "stream"),
	}
}

// Subscribe registers for changes to the room, then emits the current
// transcript and a fresh one after every change. A failed read is logged
// and the stream waits for the next change.
func (s *MessageStream) Subscribe(ctx context.Context, roomID string) (*Subscription[[]models.Message], error) {
	w, err := s.store.Watch(ctx, models.RoomTopic(roomID))
	if err != nil {
		return nil, storeError("watch room", err)
	}

	log := s.log.With().Str("room_id", roomID).Logger()
	return watchQuery(ctx, w, func(ctx context.Context) ([]models.Message, bool) {
		msgs, err := s.store.ListMessages(ctx, roomID)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(storeError("list messages", err)).Msg("transcript refresh failed")
			}
			return nil, false
		}
		return msgs, true
	}), nil
}
