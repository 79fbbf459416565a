package chathub

import (
	"context"
	"fmt"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"

	"github.com/rs/zerolog"
)

// RoomResolver maps an unordered pair of users to their single room.
type RoomResolver struct {
	store storage.Store
	log   zerolog.Logger
}

// NewRoomResolver створює резолвер кімнат поверх store.
func NewRoomResolver(store storage.Store, log zerolog.Logger) *RoomResolver {
	return &RoomResolver{
		store: store,
		log:   logging.Component(log, "resolver"),
	}
}

// Lookup finds the room of a and b without creating it.
func (r *RoomResolver) Lookup(ctx context.Context, a, b string) (string, bool, error) {
	pair, err := models.NewParticipantPair(a, b)
	if err != nil {
		return "", false, err
	}
	room, err := r.store.FindRoomByParticipants(ctx, pair)
	if err != nil {
		return "", false, storeError("lookup room", err)
	}
	if room == nil {
		return "", false, nil
	}
	return room.RoomID, true, nil
}

// Prepare returns the room of a and b if it exists. Otherwise it returns the
// unsaved room that the first message must create, with its final id.
func (r *RoomResolver) Prepare(ctx context.Context, a, b string) (roomID string, fresh *models.Room, err error) {
	pair, err := models.NewParticipantPair(a, b)
	if err != nil {
		return "", nil, err
	}
	room, err := r.store.FindRoomByParticipants(ctx, pair)
	if err != nil {
		return "", nil, storeError("lookup room", err)
	}
	if room != nil {
		return room.RoomID, nil, nil
	}
	fresh = models.NewRoom(pair)
	return fresh.RoomID, fresh, nil
}

// Resolve returns the room of a and b, creating it on first contact.
// The result does not depend on argument order.
func (r *RoomResolver) Resolve(ctx context.Context, a, b string) (string, error) {
	pair, err := models.NewParticipantPair(a, b)
	if err != nil {
		return "", err
	}

	room, err := r.store.FindRoomByParticipants(ctx, pair)
	if err != nil {
		return "", storeError("resolve room", err)
	}
	if room != nil {
		return room.RoomID, nil
	}

	// Кімнати ще немає: створюємо з детермінованим ID.
	room = models.NewRoom(pair)
	created, err := r.store.CreateRoom(ctx, room)
	if err != nil {
		return "", storeError("create room", err)
	}
	if created {
		r.log.Info().Str("room_id", room.RoomID).Strs("participants", pair[:]).Msg("room created")
		return room.RoomID, nil
	}

	// Someone else created it between our query and our write.
	existing, err := r.store.FindRoomByParticipants(ctx, pair)
	if err != nil {
		return "", storeError("re-read room", err)
	}
	if existing == nil {
		return "", fmt.Errorf("room %s vanished after creation race: %w", room.RoomID, ErrStoreUnavailable)
	}
	r.log.Debug().Str("room_id", existing.RoomID).Msg("lost room creation race")
	return existing.RoomID, nil
}
