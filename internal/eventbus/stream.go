package eventbus

import (
	"context"
	"sync"

	"github.com/rickgao/signal-relay/internal/queue"
)

const subscriberQueueSize = 16

// Stream is a live broadcast of values of type T with a last-value slot.
type Stream[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	last   T
	has    bool
	closed bool
}

// NewStream creates an empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		subs: make(map[*Subscription[T]]struct{}),
	}
}

// Publish records v as the current value and hands it to every attached subscriber. It never
// blocks on slow subscribers. Publishing on a closed stream is a no-op.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.last = v
	s.has = true

	// Queue pushes are non-blocking, so holding the lock keeps every subscriber's order
	// identical under concurrent publishers.
	for sub := range s.subs {
		sub.q.Push(v)
	}
}

// Current returns the most recently published value, if any.
func (s *Stream[T]) Current() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.has
}

// Subscribe attaches a new subscriber. It receives only values published after this call.
// On a closed stream the subscription is returned already finished.
func (s *Stream[T]) Subscribe() *Subscription[T] {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription[T]{
		stream: s,
		q:      queue.New[T](subscriberQueueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		sub.q.Close()
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// SubscriberCount returns the number of attached subscribers.
func (s *Stream[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close detaches every subscriber. Values already queued are still delivered, after which
// subscriber channels close.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.q.Close()
	}
	s.subs = make(map[*Subscription[T]]struct{})
}

func (s *Stream[T]) detach(sub *Subscription[T]) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Subscription is one observer's view of a Stream. Read it either with Next or through C,
// not both.
type Subscription[T any] struct {
	stream *Stream[T]
	q      *queue.Queue[T]
	ctx    context.Context
	cancel context.CancelFunc

	pumpOnce  sync.Once
	c         chan T
	closeOnce sync.Once
}

// Next blocks for the next value. It returns false once the subscription or stream is closed
// and drained, or when ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, bool) {
	select {
	case <-s.ctx.Done():
		var zero T
		return zero, false
	default:
	}

	ctx, cancel := mergeDone(ctx, s.ctx)
	defer cancel()
	return s.q.Pop(ctx)
}

// C returns a channel carrying every value in order. It closes when the subscription or the
// stream is closed.
func (s *Subscription[T]) C() <-chan T {
	s.pumpOnce.Do(func() {
		s.c = make(chan T)
		go s.pump()
	})
	return s.c
}

// Pending returns the number of values queued but not yet read.
func (s *Subscription[T]) Pending() int {
	return s.q.Len()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.stream.detach(s)
		s.q.Close()
		s.cancel()
	})
}

func (s *Subscription[T]) pump() {
	defer close(s.c)

	for {
		v, ok := s.q.Pop(s.ctx)
		if !ok {
			return
		}
		select {
		case s.c <- v:
		case <-s.ctx.Done():
			return
		}
	}
}

// mergeDone returns a context cancelled when either parent is done.
func mergeDone(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
