package chathub

import (
	"context"
	"fmt"
	"portalchat/backend/internal/models"
	"portalchat/backend/internal/storage"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StatusTracker marks incoming messages read as the viewer sees them.
// Each message gets at most one in-flight write; a failed write is
// forgotten so the next transcript update retries it.
type StatusTracker struct {
	store    storage.Store
	viewerID string
	timeout  time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	recorded map[string]struct{}
	inflight sync.WaitGroup
}

func NewStatusTracker(store storage.Store, viewerID string, timeout time.Duration, log zerolog.Logger) *StatusTracker {
	return &StatusTracker{
		store:    store,
		viewerID: viewerID,
		timeout:  timeout,
		log:      log.With().Str("component", "status").Str("user_id", viewerID).Logger(),
		recorded: make(map[string]struct{}),
	}
}

// Observe records every unread incoming message of msgs as read and
// starts the store write for it. It returns the number of writes started.
func (t *StatusTracker) Observe(ctx context.Context, msgs []models.Message) int {
	var todo []models.Message

	t.mu.Lock()
	for _, m := range msgs {
		if m.ReceiverID != t.viewerID || m.Status == models.StatusRead {
			continue
		}
		if _, ok := t.recorded[m.MessageID]; ok {
			continue
		}
		t.recorded[m.MessageID] = struct{}{}
		todo = append(todo, m)
	}
	t.mu.Unlock()

	// Writes outlive the update that triggered them; Wait drains them.
	base := context.WithoutCancel(ctx)
	for _, m := range todo {
		t.inflight.Add(1)
		go t.markRead(base, m)
	}
	return len(todo)
}

func (t *StatusTracker) markRead(ctx context.Context, m models.Message) {
	defer t.inflight.Done()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if _, err := t.store.MarkMessageRead(ctx, m.RoomID, m.MessageID, t.viewerID); err != nil {
		t.mu.Lock()
		delete(t.recorded, m.MessageID)
		t.mu.Unlock()

		t.log.Warn().
			Err(fmt.Errorf("%w: %w", ErrStatusWriteFailed, err)).
			Str("room_id", m.RoomID).
			Str("message_id", m.MessageID).
			Msg("mark read failed, will retry on next update")
	}
}

// Recorded reports whether a read write was issued for messageID and has
// not failed.
func (t *StatusTracker) Recorded(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.recorded[messageID]
	return ok
}

// Wait blocks until every started write has finished.
func (t *StatusTracker) Wait() {
	t.inflight.Wait()
}
