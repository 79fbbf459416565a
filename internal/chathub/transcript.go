package chathub

import (
	"portalchat/backend/internal/models"
	"sync"
	"time"
)

// Position places a message on the viewer's side or the peer's side.
type Position string

const (
	PositionLeft  Position = "left"
	PositionRight Position = "right"
)

// MessageView is one render-ready transcript row.
type MessageView struct {
	ID       string               `json:"id"`
	Position Position             `json:"position"`
	Status   models.MessageStatus `json:"status"`
	Date     time.Time            `json:"date"`
	Title    string               `json:"title"`
	Text     string               `json:"text"`
	Type     models.ContentType   `json:"type"`
	FileURL  string               `json:"file_url,omitempty"`
	FileName string               `json:"file_name,omitempty"`
	Pending  bool                 `json:"pending"`
}

// pendingEntry is a local echo. seen holds the stored ids present when the
// echo was added; none of them can be its stored copy.
type pendingEntry struct {
	msg      models.Message // MessageID holds the temporary id
	serverID string
	seen     map[string]struct{}
}

// Transcript merges the authoritative transcript with the viewer's local
// echoes so that every send is visible exactly once.
type Transcript struct {
	viewerID string
	titles   map[string]string
	window   time.Duration

	mu            sync.Mutex
	authoritative []models.Message
	present       map[string]struct{}
	pending       []*pendingEntry
	shown         map[string]models.MessageStatus
	confirmed     map[string]struct{} // server ids already bound to an echo
	readLocally   func(messageID string) bool
}

// NewTranscript builds an empty transcript. titles maps user ids to display
// names; window bounds how far apart an echo and its stored copy may be.
func NewTranscript(viewerID string, titles map[string]string, window time.Duration) *Transcript {
	return &Transcript{
		viewerID:  viewerID,
		titles:    titles,
		window:    window,
		present:   make(map[string]struct{}),
		shown:     make(map[string]models.MessageStatus),
		confirmed: make(map[string]struct{}),
	}
}

// AddPending inserts a local echo keyed by its temporary id.
func (t *Transcript) AddPending(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Apply swaps present for a new map, so holding it is a snapshot.
	t.pending = append(t.pending, &pendingEntry{msg: msg, seen: t.present})
}

// SetReadLocally makes incoming messages for which recorded reports true
// render as read before the store confirms it.
func (t *Transcript) SetReadLocally(recorded func(messageID string) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readLocally = recorded
}

// Confirm binds an echo to the id the store assigned.
func (t *Transcript) Confirm(tempID, serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.confirmed[serverID] = struct{}{}
	for i, p := range t.pending {
		if p.msg.MessageID != tempID {
			continue
		}
		if _, ok := t.present[serverID]; ok {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
		p.serverID = serverID
		return
	}
}

// Discard drops an echo whose write failed.
func (t *Transcript) Discard(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.pending {
		if p.msg.MessageID == tempID {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// Apply replaces the authoritative transcript. Echoes whose server id is
// now present are dropped.
func (t *Transcript) Apply(msgs []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.authoritative = msgs
	t.present = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		t.present[m.MessageID] = struct{}{}
	}

	kept := t.pending[:0]
	for _, p := range t.pending {
		if _, ok := t.present[p.serverID]; ok && p.serverID != "" {
			continue
		}
		kept = append(kept, p)
	}
	t.pending = kept
}

// PendingCount returns the number of echoes not yet replaced by their stored copy.
func (t *Transcript) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Views renders the merged transcript: stored messages in order, followed
// by the echoes that have no stored counterpart yet.
func (t *Transcript) Views() []MessageView {
	t.mu.Lock()
	defer t.mu.Unlock()

	claimed := make(map[string]struct{})
	for _, p := range t.pending {
		if p.serverID != "" {
			claimed[p.serverID] = struct{}{}
		}
	}

	var echoes []*pendingEntry
	for _, p := range t.pending {
		if p.serverID != "" {
			echoes = append(echoes, p)
			continue
		}
		if id, ok := t.match(p, claimed); ok {
			claimed[id] = struct{}{}
			continue
		}
		echoes = append(echoes, p)
	}

	views := make([]MessageView, 0, len(t.authoritative)+len(echoes))
	for _, m := range t.authoritative {
		views = append(views, t.render(m, m.MessageID, false))
	}
	for _, p := range echoes {
		if p.serverID != "" {
			m := p.msg
			m.Status = models.StatusSent
			views = append(views, t.render(m, p.serverID, false))
			continue
		}
		views = append(views, t.render(p.msg, p.msg.MessageID, true))
	}
	return views
}

// match pairs an unconfirmed echo with the first unclaimed stored message
// of the same sender and content created within the window. Messages that
// were already stored when the echo appeared, or that another echo was
// confirmed as, never match it.
func (t *Transcript) match(p *pendingEntry, claimed map[string]struct{}) (string, bool) {
	for _, m := range t.authoritative {
		if _, ok := claimed[m.MessageID]; ok {
			continue
		}
		if _, ok := p.seen[m.MessageID]; ok {
			continue
		}
		if _, ok := t.confirmed[m.MessageID]; ok {
			continue
		}
		if m.SenderID != p.msg.SenderID || m.Content != p.msg.Content || m.FileURL != p.msg.FileURL {
			continue
		}
		d := m.CreatedAt.Sub(p.msg.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= t.window {
			return m.MessageID, true
		}
	}
	return "", false
}

// render builds the row for m under id. Callers hold t.mu.
func (t *Transcript) render(m models.Message, id string, pending bool) MessageView {
	status := m.Status
	if !pending {
		if m.ReceiverID == t.viewerID && t.readLocally != nil && t.readLocally(id) {
			status = status.Max(models.StatusRead)
		}
		status = status.Max(t.shown[id])
		t.shown[id] = status
	}

	pos := PositionLeft
	if m.SenderID == t.viewerID {
		pos = PositionRight
	}
	title, ok := t.titles[m.SenderID]
	if !ok || title == "" {
		title = m.SenderID
	}

	return MessageView{
		ID:       id,
		Position: pos,
		Status:   status,
		Date:     m.CreatedAt,
		Title:    title,
		Text:     m.Content,
		Type:     m.ContentType,
		FileURL:  m.FileURL,
		FileName: m.FileName,
		Pending:  pending,
	}
}
