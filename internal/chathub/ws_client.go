package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 16 << 10
	sendTimeout  = 15 * time.Second
)

// Frame types written to the socket.
const (
	FrameTranscript = "transcript"
	FrameUnread     = "unread"
	FrameSent       = "sent"
	FrameSendFailed = "send_failed"
)

// Frame is one server-to-client message.
type Frame struct {
	Type      string        `json:"type"`
	Ref       string        `json:"ref,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	Messages  []MessageView `json:"messages,omitempty"`
	Rooms     []UnreadEntry `json:"rooms,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ComposerFrame is one client-to-server send. Ref is echoed back in the
// matching sent or send_failed frame.
type ComposerFrame struct {
	Ref string `json:"ref"`
	SendInput
}

// WebSocketClient implements Client.
// It serves either one conversation (composer frames in, transcript frames
// out) or the unread feed (unread frames out).
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan Frame

	conversation *Conversation
	feed         *Subscription[[]UnreadEntry]
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sendMu    sync.Mutex
	closing   bool
	sends     sync.WaitGroup
	closeOnce sync.Once
}

func newWebSocketClient(hub *Hub, conn *websocket.Conn, userID, kind string) *WebSocketClient {
	ctx, cancel := context.WithCancel(hub.Context())
	return &WebSocketClient{
		UserID: userID,
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan Frame, 16),
		log:    hub.log.With().Str("component", "ws").Str("kind", kind).Str("user_id", userID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewConversationClient serves conv over conn. The client owns conv.
func NewConversationClient(hub *Hub, conn *websocket.Conn, conv *Conversation) *WebSocketClient {
	c := newWebSocketClient(hub, conn, conv.Session().ViewerID, "conversation")
	c.conversation = conv
	return c
}

// NewNotificationClient serves feed over conn. The client owns feed.
func NewNotificationClient(hub *Hub, conn *websocket.Conn, s Session, feed *Subscription[[]UnreadEntry]) *WebSocketClient {
	c := newWebSocketClient(hub, conn, s.ViewerID, "notifications")
	c.feed = feed
	return c
}

func (c *WebSocketClient) GetUserID() string { return c.UserID }

// Run registers the client and starts its pumps.
func (c *WebSocketClient) Run() {
	c.Hub.Register(c)
	go c.writePump()
	go c.readPump()
	go c.forward()
}

// Close closes the owned conversation or feed, waits for in-flight sends
// and closes the connection.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() {
		c.sendMu.Lock()
		c.closing = true
		c.sendMu.Unlock()

		c.cancel()
		c.sends.Wait()
		if c.conversation != nil {
			c.conversation.Close()
		}
		if c.feed != nil {
			c.feed.Close()
		}

		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.Conn.Close()
		c.Hub.Unregister(c)
	})
}

func (c *WebSocketClient) enqueue(f Frame) bool {
	select {
	case c.Send <- f:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// forward turns conversation renderings or feed snapshots into frames.
func (c *WebSocketClient) forward() {
	if c.conversation != nil {
		for views := range c.conversation.Views() {
			if !c.enqueue(Frame{Type: FrameTranscript, Messages: views}) {
				return
			}
		}
		return
	}
	for rooms := range c.feed.Updates() {
		if !c.enqueue(Frame{Type: FrameUnread, Rooms: rooms}) {
			return
		}
	}
}

func (c *WebSocketClient) readPump() {
	defer c.Close()

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if c.conversation == nil {
			continue
		}

		var in ComposerFrame
		if err := json.Unmarshal(data, &in); err != nil {
			c.log.Debug().Err(err).Msg("malformed composer frame")
			c.enqueue(Frame{Type: FrameSendFailed, Error: "malformed frame"})
			continue
		}

		c.sendMu.Lock()
		if c.closing {
			c.sendMu.Unlock()
			return
		}
		c.sends.Add(1)
		c.sendMu.Unlock()

		// Кожне відправлення незалежне від інших.
		go c.compose(in)
	}
}

func (c *WebSocketClient) compose(in ComposerFrame) {
	defer c.sends.Done()

	// A send outlives the connection that issued it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), sendTimeout)
	defer cancel()

	msg, err := c.conversation.Send(ctx, in.SendInput)
	if err != nil {
		c.enqueue(Frame{Type: FrameSendFailed, Ref: in.Ref, Error: err.Error()})
		return
	}
	c.enqueue(Frame{Type: FrameSent, Ref: in.Ref, MessageID: msg.MessageID})
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case frame := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if err := json.NewEncoder(w).Encode(frame); err != nil {
				c.log.Error().Err(err).Str("type", frame.Type).Msg("encode frame")
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
