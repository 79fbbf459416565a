package chathub

import (
	"context"
	"portalchat/backend/internal/storage"
	"sync"
)

// Subscription delivers whole snapshots of a live query. Only the newest
// undelivered snapshot is kept: a slow consumer skips intermediate states
// but always ends up on the latest one.
type Subscription[T any] struct {
	updates chan T
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Updates is closed once the subscription has stopped.
func (s *Subscription[T]) Updates() <-chan T { return s.updates }

// Done is closed once the producer goroutine has exited.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Close detaches the subscription and waits for its producer to exit.
// It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// publish replaces any undelivered snapshot with v. Only the producer
// goroutine calls it, so the send below never blocks.
func (s *Subscription[T]) publish(v T) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
}

// watchQuery runs load once immediately and again after every signal on w
// until ctx ends or the subscription is closed. A false ok from load skips
// the emission; the next signal retries.
func watchQuery[T any](ctx context.Context, w *storage.Watch, load func(context.Context) (T, bool)) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		updates: make(chan T, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.updates)
		defer w.Close()

		for {
			if v, ok := load(ctx); ok && ctx.Err() == nil {
				sub.publish(v)
			}
			select {
			case <-ctx.Done():
				return
			case <-w.C:
			}
		}
	}()

	return sub
}
