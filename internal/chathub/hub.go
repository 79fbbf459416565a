package chathub

import (
	"context"
	"errors"
	"portalchat/backend/internal/config"
	"portalchat/backend/internal/logging"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ErrNoViewer is returned for a session without a user id.
var ErrNoViewer = errors.New("session has no viewer")

// Session carries the identity of the signed-in viewer. Everything a
// session opens is closed when its owner closes.
type Session struct {
	ViewerID string
}

func NewSession(viewerID string) (Session, error) {
	if viewerID == "" {
		return Session{}, ErrNoViewer
	}
	return Session{ViewerID: viewerID}, nil
}

// Options tunes the messaging core.
type Options struct {
	SystemUserID       string
	StatusWriteTimeout time.Duration
	ReconcileWindow    time.Duration
	MaxMessageLength   int
}

// OptionsFromConfig copies the messaging tunables out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SystemUserID:       cfg.SystemUserID,
		StatusWriteTimeout: cfg.StatusWriteTimeout,
		ReconcileWindow:    cfg.ReconcileWindow,
		MaxMessageLength:   cfg.MaxMessageLength,
	}
}

func (o Options) withDefaults() Options {
	if o.SystemUserID == "" {
		o.SystemUserID = config.DefaultSystemUserID
	}
	if o.StatusWriteTimeout <= 0 {
		o.StatusWriteTimeout = config.DefaultStatusWriteTimeout
	}
	if o.ReconcileWindow <= 0 {
		o.ReconcileWindow = config.DefaultReconcileWindow
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = config.DefaultMaxMessageLength
	}
	return o
}

// Hub wires the messaging components to one store and tracks everything
// opened through it.
type Hub struct {
	Resolver *RoomResolver
	Stream   *MessageStream
	RoomList *RoomListAggregator

	store    storage.Store
	profiles ProfileLookup
	opts     Options
	validate *validator.Validate
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	clients       map[Client]struct{}
	conversations map[*Conversation]struct{}
}

// NewHub builds the messaging core. profiles may be nil, in which case
// every title falls back to the user id.
func NewHub(store storage.Store, profiles ProfileLookup, opts Options, log zerolog.Logger) *Hub {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		Resolver:      NewRoomResolver(store, log),
		Stream:        NewMessageStream(store, log),
		RoomList:      NewRoomListAggregator(store, profiles, opts.SystemUserID, log),
		store:         store,
		profiles:      profiles,
		opts:          opts,
		validate:      validator.New(),
		log:           logging.Component(log, "hub"),
		ctx:           ctx,
		cancel:        cancel,
		clients:       make(map[Client]struct{}),
		conversations: make(map[*Conversation]struct{}),
	}
}

// Context is cancelled by Shutdown. Long-lived subscriptions hang off it.
func (h *Hub) Context() context.Context { return h.ctx }

// Profile returns the display profile of userID, or a placeholder.
func (h *Hub) Profile(ctx context.Context, userID string) models.Profile {
	return lookupProfile(ctx, h.profiles, h.log, userID)
}

// OpenConversation opens the session viewer's conversation with peerID.
// The room is looked up but not created; the first send creates it.
func (h *Hub) OpenConversation(ctx context.Context, s Session, peerID string) (*Conversation, error) {
	if s.ViewerID == "" {
		return nil, ErrNoViewer
	}
	if _, err := models.NewParticipantPair(s.ViewerID, peerID); err != nil {
		return nil, err
	}

	convCtx, stop := context.WithCancel(h.ctx)
	c := &Conversation{
		hub:     h,
		session: s,
		peerID:  peerID,
		log:     h.log.With().Str("user_id", s.ViewerID).Str("peer_id", peerID).Logger(),
		ctx:     convCtx,
		stop:    stop,
		views:   make(chan []MessageView, 1),
	}
	c.setState(StateResolving)

	roomID, found, err := h.Resolver.Lookup(ctx, s.ViewerID, peerID)
	if err != nil {
		stop()
		return nil, err
	}

	titles := map[string]string{
		s.ViewerID: h.Profile(ctx, s.ViewerID).DisplayName(),
		peerID:     h.Profile(ctx, peerID).DisplayName(),
	}
	c.transcript = NewTranscript(s.ViewerID, titles, h.opts.ReconcileWindow)
	c.tracker = NewStatusTracker(h.store, s.ViewerID, h.opts.StatusWriteTimeout, h.log)
	c.transcript.SetReadLocally(c.tracker.Recorded)
	c.queue = &OptimisticSendQueue{
		store:      h.store,
		resolver:   h.Resolver,
		transcript: c.transcript,
		validate:   h.validate,
		maxLen:     h.opts.MaxMessageLength,
		log:        logging.Component(c.log, "sendqueue"),
		senderID:   s.ViewerID,
		receiverID: peerID,
		onRoom:     c.attach,
		onChange:   c.render,
		now:        time.Now,
	}

	if found {
		c.queue.SetRoom(roomID)
		if err := c.attach(roomID); err != nil {
			stop()
			return nil, err
		}
	}

	h.mu.Lock()
	h.conversations[c] = struct{}{}
	h.mu.Unlock()

	c.setState(StateStreaming)
	c.render()
	c.log.Debug().Bool("room_exists", found).Msg("conversation opened")
	return c, nil
}

func (h *Hub) forget(c *Conversation) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conversations, c)
}

// OpenConversations returns the number of conversations not yet closed.
func (h *Hub) OpenConversations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conversations)
}

// Register tracks a connected client until it unregisters.
func (h *Hub) Register(c Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Str("user_id", c.GetUserID()).Int("clients", n).Msg("client registered")
}

func (h *Hub) Unregister(c Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		h.log.Info().Str("user_id", c.GetUserID()).Msg("client unregistered")
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every client and conversation opened through the hub.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	convs := make([]*Conversation, 0, len(h.conversations))
	for c := range h.conversations {
		convs = append(convs, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	for _, c := range convs {
		c.Close()
	}
	h.cancel()
	h.log.Info().Int("clients", len(clients)).Int("conversations", len(convs)).Msg("hub shut down")
}
