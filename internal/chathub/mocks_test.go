package chathub_test

import (
	"context"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"

	"github.com/stretchr/testify/mock"
)

// MockStore is a testify mock of storage.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateRoom(ctx context.Context, room *models.Room) (bool, error) {
	args := m.Called(ctx, room)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) FindRoomByParticipants(ctx context.Context, pair models.ParticipantPair) (*models.Room, error) {
	args := m.Called(ctx, pair)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *MockStore) FindRoomsByParticipant(ctx context.Context, userID string) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Room), args.Error(1)
}

func (m *MockStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *MockStore) AddMessage(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockStore) CreateRoomWithMessage(ctx context.Context, room *models.Room, msg *models.Message) (bool, error) {
	args := m.Called(ctx, room, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockStore) MarkMessageRead(ctx context.Context, roomID, messageID, readerID string) (bool, error) {
	args := m.Called(ctx, roomID, messageID, readerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) MarkDelivered(ctx context.Context, roomID, receiverID string) (int64, error) {
	args := m.Called(ctx, roomID, receiverID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Watch(ctx context.Context, topic string) (*storage.Watch, error) {
	args := m.Called(ctx, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Watch), args.Error(1)
}

// MockProfiles is a testify mock of chathub.ProfileLookup.
type MockProfiles struct {
	mock.Mock
}

func (m *MockProfiles) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}
