package chathub

import (
	"context"
	"errors"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// profileFanOut bounds concurrent profile lookups per feed refresh.
const profileFanOut = 8

// ProfileLookup resolves display profiles.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// UnreadEntry is one room with unread messages for the viewer.
type UnreadEntry struct {
	RoomID        string         `json:"room_id"`
	Peer          models.Profile `json:"peer"`
	Unread        int            `json:"unread"`
	LastMessage   string         `json:"last_message"`
	LastMessageAt time.Time      `json:"last_message_at"`
}

// FeedOptions tunes an unread feed subscription.
type FeedOptions struct {
	// MarkDelivered advances incoming sent messages of every listed room
	// to delivered. Set it for feeds backing an online client.
	MarkDelivered bool
}

// RoomListAggregator builds the viewer's unread feed.
type RoomListAggregator struct {
	store        storage.Store
	profiles     ProfileLookup
	systemUserID string
	log          zerolog.Logger
}

func NewRoomListAggregator(store storage.Store, profiles ProfileLookup, systemUserID string, log zerolog.Logger) *RoomListAggregator {
	return &RoomListAggregator{
		store:        store,
		profiles:     profiles,
		systemUserID: systemUserID,
		log:          logging.Component(log, "roomlist"),
	}
}

// Subscribe emits the full unread feed of userID now and after every change
// to any of the user's rooms.
func (a *RoomListAggregator) Subscribe(ctx context.Context, userID string, opts FeedOptions) (*Subscription[[]UnreadEntry], error) {
	w, err := a.store.Watch(ctx, models.UserTopic(userID))
	if err != nil {
		return nil, storeError("watch rooms", err)
	}

	log := a.log.With().Str("user_id", userID).Logger()
	return watchQuery(ctx, w, func(ctx context.Context) ([]UnreadEntry, bool) {
		entries, err := a.Unread(ctx, userID)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("unread feed refresh failed")
			}
			return nil, false
		}
		if opts.MarkDelivered {
			a.markDelivered(ctx, log, userID, entries)
		}
		return entries, true
	}), nil
}

// Unread reads the current unread feed of userID once, newest room first.
func (a *RoomListAggregator) Unread(ctx context.Context, userID string) ([]UnreadEntry, error) {
	rooms, err := a.store.FindRoomsByParticipant(ctx, userID)
	if err != nil {
		return nil, storeError("list rooms", err)
	}

	entries := make([]UnreadEntry, 0, len(rooms))
	peers := make([]string, 0, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		pair := room.Pair()
		if !pair.Contains(userID) {
			continue
		}
		peer := pair.Other(userID)
		if peer == userID || peer == a.systemUserID {
			continue
		}
		unread := room.UnreadFor(userID)
		if unread <= 0 {
			continue
		}
		entries = append(entries, UnreadEntry{
			RoomID:        room.RoomID,
			Unread:        unread,
			LastMessage:   room.LastMessage,
			LastMessageAt: room.LastMessageAt,
		})
		peers = append(peers, peer)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(profileFanOut)
	for i := range entries {
		g.Go(func() error {
			entries[i].Peer = a.profile(gctx, peers[i])
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastMessageAt.Equal(entries[j].LastMessageAt) {
			return entries[i].RoomID < entries[j].RoomID
		}
		return entries[i].LastMessageAt.After(entries[j].LastMessageAt)
	})
	return entries, nil
}

// profile never fails: an unknown or unreachable profile yields a placeholder.
func (a *RoomListAggregator) profile(ctx context.Context, userID string) models.Profile {
	return lookupProfile(ctx, a.profiles, a.log, userID)
}

func (a *RoomListAggregator) markDelivered(ctx context.Context, log zerolog.Logger, userID string, entries []UnreadEntry) {
	for _, e := range entries {
		n, err := a.store.MarkDelivered(ctx, e.RoomID, userID)
		if err != nil {
			log.Warn().Err(storeError("mark delivered", err)).Str("room_id", e.RoomID).Msg("delivery update failed")
			continue
		}
		if n > 0 {
			log.Debug().Str("room_id", e.RoomID).Int64("count", n).Msg("messages delivered")
		}
	}
}

func lookupProfile(ctx context.Context, profiles ProfileLookup, log zerolog.Logger, userID string) models.Profile {
	if profiles == nil {
		return models.FallbackProfile(userID)
	}
	p, err := profiles.GetProfile(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrProfileNotFound) {
			log.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		}
		return models.FallbackProfile(userID)
	}
	return *p
}
