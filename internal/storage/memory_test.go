package storage_test

import (
	"context"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFixture struct {
	ctx   context.Context
	store *storage.MemoryStore
	room  *models.Room
}

func newMemFixture(t *testing.T) *memFixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := storage.NewMemoryStore()
	pair, err := models.NewParticipantPair("8", "1")
	require.NoError(t, err)
	room := models.NewRoom(pair)
	created, err := store.CreateRoom(ctx, room)
	require.NoError(t, err)
	require.True(t, created)

	return &memFixture{ctx: ctx, store: store, room: room}
}

func (f *memFixture) send(t *testing.T, from, to, text string) models.Message {
	msg := models.Message{RoomID: f.room.RoomID, SenderID: from, ReceiverID: to, Content: text}
	require.NoError(t, f.store.AddMessage(f.ctx, &msg))
	return msg
}

func signalled(w *storage.Watch) bool {
	select {
	case <-w.C:
		return true
	case <-time.After(200 * time.Millisecond):
		return false
	}
}

func TestMemoryStore_CreateRoomIsIdempotent(t *testing.T) {
	f := newMemFixture(t)

	created, err := f.store.CreateRoom(f.ctx, models.NewRoom(f.room.Pair()))

	require.NoError(t, err)
	assert.False(t, created, "second create with the same id must not write")

	found, err := f.store.FindRoomByParticipants(f.ctx, models.ParticipantPair{"1", "8"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, f.room.RoomID, found.RoomID)
}

func TestMemoryStore_FindRoomMissing(t *testing.T) {
	f := newMemFixture(t)

	room, err := f.store.FindRoomByParticipants(f.ctx, models.ParticipantPair{"1", "9"})
	assert.NoError(t, err)
	assert.Nil(t, room)

	room, err = f.store.GetRoom(f.ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, room)
}

func TestMemoryStore_AddMessageUpdatesRoom(t *testing.T) {
	f := newMemFixture(t)

	msg := f.send(t, "1", "8", "hello")

	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, models.ContentText, msg.ContentType)
	assert.False(t, msg.CreatedAt.IsZero())

	room, err := f.store.GetRoom(f.ctx, f.room.RoomID)
	require.NoError(t, err)
	assert.Equal(t, "hello", room.LastMessage)
	assert.Equal(t, msg.CreatedAt, room.LastMessageAt)
	assert.Equal(t, 1, room.UnreadFor("8"), "receiver's slot is incremented")
	assert.Equal(t, 0, room.UnreadFor("1"), "sender never sees own message as unread")
}

func TestMemoryStore_AddMessageRejects(t *testing.T) {
	f := newMemFixture(t)

	tests := []struct {
		name string
		msg  models.Message
		want error
	}{
		{name: "unknown room", msg: models.Message{RoomID: "nope", SenderID: "1", ReceiverID: "8"}, want: storage.ErrRoomNotFound},
		{name: "outsider", msg: models.Message{RoomID: f.room.RoomID, SenderID: "3", ReceiverID: "8"}, want: storage.ErrNotParticipant},
		{name: "missing receiver", msg: models.Message{RoomID: f.room.RoomID, SenderID: "1"}, want: storage.ErrInvalidMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.store.AddMessage(f.ctx, &tt.msg)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	msgs, err := f.store.ListMessages(f.ctx, f.room.RoomID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStore_ListMessagesOrdered(t *testing.T) {
	f := newMemFixture(t)
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	storage.SetClock(f.store, func() time.Time { return fixed })

	first := f.send(t, "1", "8", "one")
	second := f.send(t, "8", "1", "two")
	third := f.send(t, "1", "8", "three")

	msgs, err := f.store.ListMessages(f.ctx, f.room.RoomID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{first.MessageID, second.MessageID, third.MessageID},
		[]string{msgs[0].MessageID, msgs[1].MessageID, msgs[2].MessageID})
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt), "createdAt is strictly increasing")
	assert.True(t, msgs[1].CreatedAt.Before(msgs[2].CreatedAt))
}

func TestMemoryStore_MarkMessageRead(t *testing.T) {
	f := newMemFixture(t)
	msg := f.send(t, "1", "8", "hello")

	changed, err := f.store.MarkMessageRead(f.ctx, f.room.RoomID, msg.MessageID, "1")
	require.NoError(t, err)
	assert.False(t, changed, "only the receiver may read a message")

	changed, err = f.store.MarkMessageRead(f.ctx, f.room.RoomID, msg.MessageID, "8")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.store.MarkMessageRead(f.ctx, f.room.RoomID, msg.MessageID, "8")
	require.NoError(t, err)
	assert.False(t, changed, "re-applying read is a no-op")

	room, _ := f.store.GetRoom(f.ctx, f.room.RoomID)
	assert.Equal(t, 0, room.UnreadFor("8"), "counter decremented exactly once")

	msgs, _ := f.store.ListMessages(f.ctx, f.room.RoomID)
	assert.Equal(t, models.StatusRead, msgs[0].Status)
}

func TestMemoryStore_MarkDelivered(t *testing.T) {
	f := newMemFixture(t)
	f.send(t, "1", "8", "a")
	f.send(t, "1", "8", "b")
	f.send(t, "8", "1", "c")

	n, err := f.store.MarkDelivered(f.ctx, f.room.RoomID, "8")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = f.store.MarkDelivered(f.ctx, f.room.RoomID, "8")
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, _ := f.store.ListMessages(f.ctx, f.room.RoomID)
	assert.Equal(t, models.StatusDelivered, msgs[0].Status)
	assert.Equal(t, models.StatusDelivered, msgs[1].Status)
	assert.Equal(t, models.StatusSent, msgs[2].Status)
}

func TestMemoryStore_WatchSignalsAndDetaches(t *testing.T) {
	f := newMemFixture(t)
	topic := models.RoomTopic(f.room.RoomID)

	w, err := f.store.Watch(f.ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.WatcherCount(topic))

	f.send(t, "1", "8", "hello")
	assert.True(t, signalled(w))

	w.Close()
	w.Close()
	assert.Equal(t, 0, f.store.WatcherCount(topic))
}

func TestMemoryStore_WatchEndsWithContext(t *testing.T) {
	f := newMemFixture(t)
	topic := models.UserTopic("8")
	ctx, cancel := context.WithCancel(f.ctx)

	_, err := f.store.Watch(ctx, topic)
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool { return f.store.WatcherCount(topic) == 0 },
		time.Second, 10*time.Millisecond)
}

func TestMemoryStore_RoomsByParticipant(t *testing.T) {
	f := newMemFixture(t)
	other, _ := models.NewParticipantPair("1", "3")
	_, err := f.store.CreateRoom(f.ctx, models.NewRoom(other))
	require.NoError(t, err)

	rooms, err := f.store.FindRoomsByParticipant(f.ctx, "1")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	rooms, err = f.store.FindRoomsByParticipant(f.ctx, "3")
	require.NoError(t, err)
	assert.Len(t, rooms, 1)
}

func TestMemoryStore_Profiles(t *testing.T) {
	f := newMemFixture(t)

	_, err := f.store.GetProfile(f.ctx, "1")
	assert.ErrorIs(t, err, storage.ErrProfileNotFound)

	require.NoError(t, f.store.SaveProfile(f.ctx, &models.Profile{UserID: "1", FullName: " Ada ", TelegramChatID: 42}))
	require.NoError(t, f.store.SaveProfile(f.ctx, &models.Profile{UserID: "8", FullName: "Grace"}))

	p, err := f.store.GetProfile(f.ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FullName)

	linked, err := f.store.ListNotifiableProfiles(f.ctx)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "1", linked[0].UserID)
}

func TestMemoryStore_CreateRoomWithMessage(t *testing.T) {
	f := newMemFixture(t)
	pair, err := models.NewParticipantPair("1", "3")
	require.NoError(t, err)

	msg := models.Message{SenderID: "3", ReceiverID: "1", Content: "first"}
	created, err := f.store.CreateRoomWithMessage(f.ctx, models.NewRoom(pair), &msg)

	require.NoError(t, err)
	assert.True(t, created)
	room, err := f.store.FindRoomByParticipants(f.ctx, pair)
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, room.RoomID, msg.RoomID)
	assert.Equal(t, 1, room.UnreadFor("1"))

	again := models.Message{SenderID: "1", ReceiverID: "3", Content: "second"}
	created, err = f.store.CreateRoomWithMessage(f.ctx, models.NewRoom(pair), &again)
	require.NoError(t, err)
	assert.False(t, created, "existing room is reused")
	msgs, _ := f.store.ListMessages(f.ctx, room.RoomID)
	assert.Len(t, msgs, 2)
}

func TestMemoryStore_CreateRoomWithMessageRollsBack(t *testing.T) {
	f := newMemFixture(t)
	pair, err := models.NewParticipantPair("1", "3")
	require.NoError(t, err)
	topic := models.UserTopic("1")
	w, err := f.store.Watch(f.ctx, topic)
	require.NoError(t, err)
	defer w.Close()

	// The sender is not one of the pair.
	msg := models.Message{SenderID: "8", ReceiverID: "1", Content: "hi"}
	created, err := f.store.CreateRoomWithMessage(f.ctx, models.NewRoom(pair), &msg)

	assert.ErrorIs(t, err, storage.ErrNotParticipant)
	assert.False(t, created)
	room, err := f.store.FindRoomByParticipants(f.ctx, pair)
	require.NoError(t, err)
	assert.Nil(t, room, "rejected message leaves no room behind")
	assert.False(t, signalled(w))
}

func TestMemoryStore_SaveProfileSignals(t *testing.T) {
	f := newMemFixture(t)
	w, err := f.store.Watch(f.ctx, models.ProfilesTopic)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, f.store.SaveProfile(f.ctx, &models.Profile{UserID: "1", TelegramChatID: 42}))

	assert.True(t, signalled(w))
}
