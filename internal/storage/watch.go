package storage

import (
	"context"
	"fmt"
	"sync"
)

// Watch is a live subscription to one change topic. Every change sends a
// signal on C; signals coalesce while the consumer is busy, so a consumer
// re-reading its query once per signal never misses the latest state.
type Watch struct {
	C <-chan struct{}

	stop func()
	once sync.Once
}

func newWatch(c <-chan struct{}, stop func()) *Watch {
	return &Watch{C: c, stop: stop}
}

// Close detaches the watch. It is safe to call more than once.
func (w *Watch) Close() {
	if w == nil {
		return
	}
	w.once.Do(w.stop)
}

func notify(sig chan struct{}) {
	select {
	case sig <- struct{}{}:
	default:
	}
}

// Watch subscribes to the Redis Pub/Sub channel named after topic.
// The subscription is confirmed before Watch returns, so no write
// committed afterwards can be missed.
func (s *Service) Watch(ctx context.Context, topic string) (*Watch, error) {
	if s.Redis == nil {
		return nil, fmt.Errorf("watch %s: no redis client configured", topic)
	}

	ctx, cancel := context.WithCancel(ctx)
	pubsub := s.Redis.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("watch %s: %w", topic, err)
	}

	sig := make(chan struct{}, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				notify(sig)
			}
		}
	}()

	return newWatch(sig, func() {
		cancel()
		<-done
	}), nil
}
