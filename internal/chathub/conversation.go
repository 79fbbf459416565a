package chathub

import (
	"context"
	"portalchat/backend/internal/models"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ConversationState is the lifecycle position of a Conversation.
type ConversationState int32

const (
	StateClosed ConversationState = iota
	StateResolving
	StateStreaming
)

func (s ConversationState) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StateStreaming:
		return "streaming"
	}
	return "closed"
}

// Conversation is the viewer's open direct conversation with one peer.
// It renders the merged transcript, marks incoming messages read and
// sends composed messages optimistically.
type Conversation struct {
	hub     *Hub
	session Session
	peerID  string
	log     zerolog.Logger

	state atomic.Int32
	ctx   context.Context
	stop  context.CancelFunc

	transcript *Transcript
	tracker    *StatusTracker
	queue      *OptimisticSendQueue

	mu     sync.Mutex
	roomID string
	sub    *Subscription[[]models.Message]
	closed bool

	viewMu      sync.Mutex
	views       chan []MessageView
	viewsClosed bool

	consumers sync.WaitGroup
	closeOnce sync.Once
}

func (c *Conversation) setState(s ConversationState) { c.state.Store(int32(s)) }

// State returns the current lifecycle state.
func (c *Conversation) State() ConversationState { return ConversationState(c.state.Load()) }

// Session returns the session that opened the conversation.
func (c *Conversation) Session() Session { return c.session }

// PeerID returns the other participant.
func (c *Conversation) PeerID() string { return c.peerID }

// RoomID returns the room id, or "" while the room does not exist yet.
func (c *Conversation) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// Views delivers the rendered transcript after every change. Only the
// newest undelivered rendering is kept. The channel is closed by Close.
func (c *Conversation) Views() <-chan []MessageView { return c.views }

// Snapshot renders the transcript as it stands.
func (c *Conversation) Snapshot() []MessageView { return c.transcript.Views() }

// Send composes a message from the viewer to the peer. The first send
// creates the room.
func (c *Conversation) Send(ctx context.Context, in SendInput) (models.Message, error) {
	if c.State() == StateClosed {
		return models.Message{}, ErrConversationClosed
	}
	return c.queue.Send(ctx, in)
}

// attach starts streaming roomID. It is a no-op once streaming or closed.
func (c *Conversation) attach(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.sub != nil {
		return nil
	}
	sub, err := c.hub.Stream.Subscribe(c.ctx, roomID)
	if err != nil {
		return err
	}
	c.roomID = roomID
	c.sub = sub

	c.consumers.Add(1)
	go c.consume(sub)
	c.log.Debug().Str("room_id", roomID).Msg("transcript stream attached")
	return nil
}

func (c *Conversation) consume(sub *Subscription[[]models.Message]) {
	defer c.consumers.Done()
	for msgs := range sub.Updates() {
		c.transcript.Apply(msgs)
		c.tracker.Observe(c.ctx, msgs)
		c.render()
	}
}

func (c *Conversation) render() {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	if c.viewsClosed {
		return
	}
	select {
	case <-c.views:
	default:
	}
	c.views <- c.transcript.Views()
}

// Close detaches the stream, drains pending read writes and closes Views.
// It is safe to call more than once.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateClosed)

		c.mu.Lock()
		c.closed = true
		sub := c.sub
		c.mu.Unlock()

		c.stop()
		if sub != nil {
			sub.Close()
		}
		c.consumers.Wait()
		c.tracker.Wait()

		c.viewMu.Lock()
		c.viewsClosed = true
		close(c.views)
		c.viewMu.Unlock()

		c.hub.forget(c)
		c.log.Debug().Msg("conversation closed")
	})
}
