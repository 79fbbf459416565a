package storage

import "time"

// SetClock replaces the store clock in tests.
func SetClock(s *MemoryStore, now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
