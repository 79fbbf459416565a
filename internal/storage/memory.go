package storage

import (
	"context"
	"portalchat/backend/internal/models"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store and ProfileStore with the same
// semantics as Service. It backs development runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	rooms    map[string]*models.Room
	messages map[string][]models.Message
	profiles map[string]models.Profile
	watchers map[string]map[chan struct{}]struct{}

	now func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]*models.Room),
		messages: make(map[string][]models.Message),
		profiles: make(map[string]models.Profile),
		watchers: make(map[string]map[chan struct{}]struct{}),
		now:      time.Now,
	}
}

// signal wakes every watcher of the topics. Callers hold s.mu.
func (s *MemoryStore) signal(topics ...string) {
	for _, topic := range topics {
		for sig := range s.watchers[topic] {
			notify(sig)
		}
	}
}

func copyRoom(r *models.Room) *models.Room {
	out := *r
	out.Participants = append(out.Participants[:0:0], r.Participants...)
	return &out
}

func (s *MemoryStore) CreateRoom(ctx context.Context, room *models.Room) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.RoomID]; ok {
		return false, nil
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now().UTC()
	}
	s.rooms[room.RoomID] = copyRoom(room)

	pair := room.Pair()
	s.signal(models.UserTopic(pair[0]), models.UserTopic(pair[1]))
	return true, nil
}

func (s *MemoryStore) FindRoomByParticipants(ctx context.Context, pair models.ParticipantPair) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rooms {
		if r.Pair() == pair {
			return copyRoom(r), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindRoomsByParticipant(ctx context.Context, userID string) ([]models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []models.Room
	for _, r := range s.rooms {
		if r.Pair().Contains(userID) {
			rooms = append(rooms, *copyRoom(r))
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].LastMessageAt.After(rooms[j].LastMessageAt)
	})
	return rooms, nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return copyRoom(r), nil
}

func (s *MemoryStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg)
}

func (s *MemoryStore) CreateRoomWithMessage(ctx context.Context, room *models.Room, msg *models.Message) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.rooms[room.RoomID]
	if !exists {
		if room.CreatedAt.IsZero() {
			room.CreatedAt = s.now().UTC()
		}
		s.rooms[room.RoomID] = copyRoom(room)
	}
	msg.RoomID = room.RoomID
	if err := s.appendLocked(msg); err != nil {
		if !exists {
			delete(s.rooms, room.RoomID)
		}
		return false, err
	}
	return !exists, nil
}

// appendLocked validates and stores msg. Callers hold s.mu. Nothing is
// changed when it returns an error.
func (s *MemoryStore) appendLocked(msg *models.Message) error {
	now := s.now()
	// Keep createdAt strictly increasing within a room so ordering is total.
	if prev := s.messages[msg.RoomID]; len(prev) > 0 {
		if last := prev[len(prev)-1].CreatedAt; !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}
	if err := prepareMessage(msg, now); err != nil {
		return err
	}

	room, ok := s.rooms[msg.RoomID]
	if !ok {
		return ErrRoomNotFound
	}
	pair := room.Pair()
	slot, ok := pair.Slot(msg.ReceiverID)
	if !ok || pair.Other(msg.ReceiverID) != msg.SenderID {
		return ErrNotParticipant
	}

	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], *msg)
	room.LastMessage = msg.Summary()
	room.LastMessageAt = msg.CreatedAt
	if slot == models.SlotA {
		room.UnreadCountA++
	} else {
		room.UnreadCountB++
	}

	s.signal(models.RoomTopic(msg.RoomID), models.UserTopic(msg.SenderID), models.UserTopic(msg.ReceiverID))
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[roomID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) MarkMessageRead(ctx context.Context, roomID, messageID, readerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[roomID]
	for i := range msgs {
		m := &msgs[i]
		if m.MessageID != messageID {
			continue
		}
		if m.ReceiverID != readerID || !m.Status.CanAdvanceTo(models.StatusRead) {
			return false, nil
		}
		m.Status = models.StatusRead

		if room, ok := s.rooms[roomID]; ok {
			slot, _ := room.Pair().Slot(readerID)
			if slot == models.SlotA && room.UnreadCountA > 0 {
				room.UnreadCountA--
			} else if slot == models.SlotB && room.UnreadCountB > 0 {
				room.UnreadCountB--
			}
		}
		s.signal(models.RoomTopic(roomID), models.UserTopic(readerID))
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, roomID, receiverID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	msgs := s.messages[roomID]
	for i := range msgs {
		if msgs[i].ReceiverID == receiverID && msgs[i].Status == models.StatusSent {
			msgs[i].Status = models.StatusDelivered
			n++
		}
	}
	if n > 0 {
		s.signal(models.RoomTopic(roomID))
	}
	return n, nil
}

// Watch registers a signal channel for topic until ctx ends or the watch is closed.
func (s *MemoryStore) Watch(ctx context.Context, topic string) (*Watch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig := make(chan struct{}, 1)

	s.mu.Lock()
	if s.watchers[topic] == nil {
		s.watchers[topic] = make(map[chan struct{}]struct{})
	}
	s.watchers[topic][sig] = struct{}{}
	s.mu.Unlock()

	unregister := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers[topic], sig)
		if len(s.watchers[topic]) == 0 {
			delete(s.watchers, topic)
		}
	}
	stopAfter := context.AfterFunc(ctx, unregister)

	return newWatch(sig, func() {
		if stopAfter() {
			unregister()
		}
	}), nil
}

// WatcherCount reports the live watches on topic.
func (s *MemoryStore) WatcherCount(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers[topic])
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

func (s *MemoryStore) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if err := profile.BeforeSave(nil); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = *profile
	s.signal(models.ProfilesTopic)
	return nil
}

func (s *MemoryStore) ListNotifiableProfiles(ctx context.Context) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Profile
	for _, p := range s.profiles {
		if p.TelegramChatID != 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
