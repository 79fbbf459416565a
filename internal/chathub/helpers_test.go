package chathub_test

import (
	"context"
	"errors"
	"portalchat/backend/internal/chathub"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"

	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

var errBoom = errors.New("boom")

// faultyStore wraps the in-memory store with call counters and switchable failures.
type faultyStore struct {
	*storage.MemoryStore

	failAdd   atomic.Bool
	failFind  atomic.Bool
	readFails atomic.Int32 // MarkMessageRead calls left to fail

	finds   atomic.Int32
	creates atomic.Int32
	adds    atomic.Int32
	reads   atomic.Int32

	// addGate, when set, holds every message write until it is closed.
	addGate chan struct{}
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *faultyStore) FindRoomByParticipants(ctx context.Context, pair models.ParticipantPair) (*models.Room, error) {
	s.finds.Add(1)
	if s.failFind.Load() {
		return nil, errBoom
	}
	return s.MemoryStore.FindRoomByParticipants(ctx, pair)
}

func (s *faultyStore) CreateRoom(ctx context.Context, room *models.Room) (bool, error) {
	s.creates.Add(1)
	return s.MemoryStore.CreateRoom(ctx, room)
}

func (s *faultyStore) AddMessage(ctx context.Context, msg *models.Message) error {
	s.adds.Add(1)
	if s.addGate != nil {
		<-s.addGate
	}
	if s.failAdd.Load() {
		return errBoom
	}
	return s.MemoryStore.AddMessage(ctx, msg)
}

// CreateRoomWithMessage counts a create only when the room was written.
func (s *faultyStore) CreateRoomWithMessage(ctx context.Context, room *models.Room, msg *models.Message) (bool, error) {
	s.adds.Add(1)
	if s.addGate != nil {
		<-s.addGate
	}
	if s.failAdd.Load() {
		return false, errBoom
	}
	created, err := s.MemoryStore.CreateRoomWithMessage(ctx, room, msg)
	if created {
		s.creates.Add(1)
	}
	return created, err
}

func (s *faultyStore) MarkMessageRead(ctx context.Context, roomID, messageID, readerID string) (bool, error) {
	s.reads.Add(1)
	if s.readFails.Add(-1) >= 0 {
		return false, errBoom
	}
	return s.MemoryStore.MarkMessageRead(ctx, roomID, messageID, readerID)
}

func testOptions() chathub.Options {
	return chathub.Options{
		SystemUserID:       "system",
		StatusWriteTimeout: time.Second,
		ReconcileWindow:    time.Minute,
		MaxMessageLength:   20,
	}
}

func newTestHub(t *testing.T, store storage.Store, profiles chathub.ProfileLookup) *chathub.Hub {
	t.Helper()
	hub := chathub.NewHub(store, profiles, testOptions(), zerolog.Nop())
	t.Cleanup(hub.Shutdown)
	return hub
}

// seedRoom creates the room of a and b and returns it.
func seedRoom(t *testing.T, store storage.Store, a, b string) *models.Room {
	t.Helper()
	pair, err := models.NewParticipantPair(a, b)
	require.NoError(t, err)
	room := models.NewRoom(pair)
	_, err = store.CreateRoom(context.Background(), room)
	require.NoError(t, err)
	return room
}

// seedMessage stores a message from sender to receiver in room.
func seedMessage(t *testing.T, store storage.Store, room *models.Room, sender, receiver, text string) models.Message {
	t.Helper()
	msg := models.Message{RoomID: room.RoomID, SenderID: sender, ReceiverID: receiver, Content: text}
	require.NoError(t, store.AddMessage(context.Background(), &msg))
	return msg
}

func roomOf(t *testing.T, store storage.Store, a, b string) *models.Room {
	t.Helper()
	pair, err := models.NewParticipantPair(a, b)
	require.NoError(t, err)
	room, err := store.FindRoomByParticipants(context.Background(), pair)
	require.NoError(t, err)
	return room
}

func messages(t *testing.T, store storage.Store, roomID string) []models.Message {
	t.Helper()
	msgs, err := store.ListMessages(context.Background(), roomID)
	require.NoError(t, err)
	return msgs
}
