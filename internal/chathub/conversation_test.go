package chathub_test

import (
	"context"
	"fmt"
	"portalchat/backend/internal/chathub"
	"portalchat/backend/internal/models"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, hub *chathub.Hub, viewer, peer string) *chathub.Conversation {
	t.Helper()
	conv, err := hub.OpenConversation(context.Background(), chathub.Session{ViewerID: viewer}, peer)
	require.NoError(t, err)
	t.Cleanup(conv.Close)
	return conv
}

func TestConversation_FirstContact(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := newFaultyStore()
	require.NoError(t, store.SaveProfile(ctx, &models.Profile{UserID: alice, FullName: "Alice Archer"}))
	hub := newTestHub(t, store, store)

	conv := open(t, hub, alice, bob)
	assert.Equal(t, chathub.StateStreaming, conv.State())
	assert.Empty(t, conv.RoomID())
	assert.Nil(t, roomOf(t, store, alice, bob), "opening does not create the room")

	// Act
	msg, err := conv.Send(ctx, chathub.SendInput{Text: "  hi bob "})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "hi bob", msg.Content)
	room := roomOf(t, store, alice, bob)
	require.NotNil(t, room)
	assert.Equal(t, room.RoomID, conv.RoomID())
	assert.Equal(t, 1, room.UnreadFor(bob))

	assert.Eventually(t, func() bool {
		views := conv.Snapshot()
		return len(views) == 1 && views[0].ID == msg.MessageID && !views[0].Pending
	}, waitFor, tick)
	assert.Equal(t, "Alice Archer", conv.Snapshot()[0].Title)
}

func TestConversation_PeerReadsAndSenderSeesRead(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	hub := newTestHub(t, store, store)
	aliceConv := open(t, hub, alice, bob)

	msg, err := aliceConv.Send(ctx, chathub.SendInput{Text: "ping"})
	require.NoError(t, err)

	bobConv := open(t, hub, bob, alice)
	assert.Eventually(t, func() bool {
		views := bobConv.Snapshot()
		return len(views) == 1 && views[0].Position == chathub.PositionLeft
	}, waitFor, tick)

	assert.Eventually(t, func() bool {
		views := aliceConv.Snapshot()
		return len(views) == 1 && views[0].ID == msg.MessageID && views[0].Status == models.StatusRead
	}, waitFor, tick)
	assert.Equal(t, 0, roomOf(t, store, alice, bob).UnreadFor(bob))
}

func TestConversation_EchoVisibleWhileWriting(t *testing.T) {
	store := newFaultyStore()
	store.addGate = make(chan struct{})
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)

	done := make(chan error, 1)
	go func() {
		_, err := conv.Send(context.Background(), chathub.SendInput{Text: "hold on"})
		done <- err
	}()

	assert.Eventually(t, func() bool {
		views := conv.Snapshot()
		return len(views) == 1 && views[0].Pending && views[0].Status == models.StatusWaiting &&
			strings.HasPrefix(views[0].ID, "tmp-")
	}, waitFor, tick)

	close(store.addGate)
	require.NoError(t, <-done)
	assert.Eventually(t, func() bool {
		views := conv.Snapshot()
		return len(views) == 1 && !views[0].Pending && views[0].Status.Rank() >= models.StatusSent.Rank()
	}, waitFor, tick)
}

func TestConversation_FailedSendDiscardsEcho(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)

	store.failAdd.Store(true)
	_, err := conv.Send(ctx, chathub.SendInput{Text: "lost"})

	assert.ErrorIs(t, err, chathub.ErrStoreUnavailable)
	assert.Empty(t, conv.Snapshot())
	assert.Nil(t, roomOf(t, store, alice, bob), "failed first send leaves no room")
	assert.Empty(t, conv.RoomID())

	// Later sends are unaffected.
	store.failAdd.Store(false)
	_, err = conv.Send(ctx, chathub.SendInput{Text: "kept"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		views := conv.Snapshot()
		return len(views) == 1 && views[0].Text == "kept"
	}, waitFor, tick)
}

func TestConversation_RepeatedTextStaysVisible(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)

	_, err := conv.Send(ctx, chathub.SendInput{Text: "ok"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		views := conv.Snapshot()
		return len(views) == 1 && !views[0].Pending
	}, waitFor, tick)

	store.addGate = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := conv.Send(ctx, chathub.SendInput{Text: "ok"})
		done <- err
	}()

	assert.Eventually(t, func() bool {
		views := conv.Snapshot()
		return len(views) == 2 && views[1].Pending
	}, waitFor, tick, "second send must show while its write is held")

	close(store.addGate)
	require.NoError(t, <-done)
	assert.Eventually(t, func() bool {
		views := conv.Snapshot()
		return len(views) == 2 && !views[0].Pending && !views[1].Pending
	}, waitFor, tick)
}

func TestConversation_ResolveFailureDiscardsEcho(t *testing.T) {
	store := newFaultyStore()
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)

	store.failFind.Store(true)
	_, err := conv.Send(context.Background(), chathub.SendInput{Text: "hi"})

	assert.ErrorIs(t, err, chathub.ErrStoreUnavailable)
	assert.Empty(t, conv.Snapshot())
	assert.Zero(t, store.adds.Load())
}

func TestConversation_ConcurrentSendsResolveOnce(t *testing.T) {
	store := newFaultyStore()
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := conv.Send(context.Background(), chathub.SendInput{Text: fmt.Sprintf("msg %d", i)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), store.creates.Load())
	assert.Equal(t, int32(2), store.finds.Load(), "one lookup on open, one resolution on first send")
	assert.Eventually(t, func() bool {
		views := conv.Snapshot()
		if len(views) != 5 {
			return false
		}
		for _, v := range views {
			if v.Pending {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

func TestConversation_RejectsInvalidInput(t *testing.T) {
	hub := newTestHub(t, newFaultyStore(), nil)
	conv := open(t, hub, alice, bob)

	tests := []struct {
		name string
		in   chathub.SendInput
	}{
		{name: "empty", in: chathub.SendInput{}},
		{name: "blank", in: chathub.SendInput{Text: "   "}},
		{name: "too long", in: chathub.SendInput{Text: strings.Repeat("x", 21)}},
		{name: "file without url", in: chathub.SendInput{File: &chathub.FileRef{Name: "a.pdf"}}},
		{name: "file with bad url", in: chathub.SendInput{File: &chathub.FileRef{URL: "not a url", Name: "a.pdf"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := conv.Send(context.Background(), tt.in)
			assert.ErrorIs(t, err, chathub.ErrInvalidMessage)
		})
	}
	assert.Empty(t, conv.Snapshot())
}

func TestConversation_SendsFile(t *testing.T) {
	store := newFaultyStore()
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)

	msg, err := conv.Send(context.Background(), chathub.SendInput{
		File: &chathub.FileRef{URL: "https://files.example/cv.pdf", Name: "cv.pdf"},
	})

	require.NoError(t, err)
	assert.Equal(t, models.ContentFile, msg.ContentType)
	assert.Equal(t, "cv.pdf", roomOf(t, store, alice, bob).LastMessage)
}

func TestConversation_Close(t *testing.T) {
	store := newFaultyStore()
	seedRoom(t, store, alice, bob)
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)
	topic := models.RoomTopic(conv.RoomID())
	require.Equal(t, 1, store.WatcherCount(topic))
	require.Equal(t, 1, hub.OpenConversations())

	conv.Close()
	conv.Close()

	assert.Equal(t, chathub.StateClosed, conv.State())
	assert.Equal(t, 0, store.WatcherCount(topic))
	assert.Equal(t, 0, hub.OpenConversations())
	for range conv.Views() {
	}
	_, err := conv.Send(context.Background(), chathub.SendInput{Text: "late"})
	assert.ErrorIs(t, err, chathub.ErrConversationClosed)
}

func TestConversation_ViewsDeliverRenderings(t *testing.T) {
	store := newFaultyStore()
	room := seedRoom(t, store, alice, bob)
	hub := newTestHub(t, store, nil)
	conv := open(t, hub, alice, bob)

	seedMessage(t, store, room, bob, alice, "yo")

	deadline := time.After(waitFor)
	for {
		select {
		case views := <-conv.Views():
			if len(views) == 1 {
				assert.Equal(t, "yo", views[0].Text)
				return
			}
		case <-deadline:
			t.Fatal("rendering never arrived")
		}
	}
}

func TestHub_OpenConversationErrors(t *testing.T) {
	store := newFaultyStore()
	hub := newTestHub(t, store, nil)

	_, err := hub.OpenConversation(context.Background(), chathub.Session{ViewerID: alice}, alice)
	assert.ErrorIs(t, err, models.ErrInvalidParticipants)

	_, err = hub.OpenConversation(context.Background(), chathub.Session{}, bob)
	assert.ErrorIs(t, err, chathub.ErrNoViewer)

	store.failFind.Store(true)
	_, err = hub.OpenConversation(context.Background(), chathub.Session{ViewerID: alice}, bob)
	assert.ErrorIs(t, err, chathub.ErrStoreUnavailable)
	assert.Zero(t, hub.OpenConversations())
}

func TestHub_ShutdownClosesConversations(t *testing.T) {
	hub := chathub.NewHub(newFaultyStore(), nil, testOptions(), zerolog.Nop())
	a, err := hub.OpenConversation(context.Background(), chathub.Session{ViewerID: alice}, bob)
	require.NoError(t, err)
	c, err := hub.OpenConversation(context.Background(), chathub.Session{ViewerID: carol}, bob)
	require.NoError(t, err)

	hub.Shutdown()

	assert.Equal(t, chathub.StateClosed, a.State())
	assert.Equal(t, chathub.StateClosed, c.State())
	assert.Zero(t, hub.OpenConversations())
	assert.Error(t, hub.Context().Err())
}

func TestNewSession(t *testing.T) {
	s, err := chathub.NewSession(alice)
	require.NoError(t, err)
	assert.Equal(t, alice, s.ViewerID)

	_, err = chathub.NewSession("")
	assert.ErrorIs(t, err, chathub.ErrNoViewer)
}
