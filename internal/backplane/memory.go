package backplane

import (
	"context"
	"fmt"
	"sync"

	"github.com/rickgao/signal-relay/internal/queue"
)

// MemoryNetwork is an in-process stand-in for a shared broker. Memory adapters created from the
// same network on the same channel see each other's publications.
type MemoryNetwork struct {
	mu   sync.RWMutex
	subs map[string]map[*queue.Queue[Message]]struct{}
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		subs: make(map[string]map[*queue.Queue[Message]]struct{}),
	}
}

// Adapter returns a new backplane attached to channel.
func (n *MemoryNetwork) Adapter(channel string) *Memory {
	return &Memory{network: n, channel: channel}
}

func (n *MemoryNetwork) publish(channel string, msg Message) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for q := range n.subs[channel] {
		q.Push(msg)
	}
}

func (n *MemoryNetwork) attach(channel string, q *queue.Queue[Message]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs[channel] == nil {
		n.subs[channel] = make(map[*queue.Queue[Message]]struct{})
	}
	n.subs[channel][q] = struct{}{}
}

func (n *MemoryNetwork) detach(channel string, q *queue.Queue[Message]) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.subs[channel], q)
	if len(n.subs[channel]) == 0 {
		delete(n.subs, channel)
	}
}

// Subscribers returns the number of active subscriptions on channel.
func (n *MemoryNetwork) Subscribers(channel string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs[channel])
}

// Memory is a Backplane backed by a MemoryNetwork.
type Memory struct {
	network *MemoryNetwork
	channel string

	mu     sync.Mutex
	down   bool
	closed bool
}

// NewMemory creates a backplane on its own private network.
func NewMemory(channel string) *Memory {
	return NewMemoryNetwork().Adapter(channel)
}

// SetDown simulates losing the broker: while down, Publish fails with ErrUnavailable.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

// Publish delivers msg to every subscriber on the channel.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	closed, down := m.closed, m.down
	m.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if down {
		return fmt.Errorf("%w: memory channel %q is down", ErrUnavailable, m.channel)
	}

	m.network.publish(m.channel, msg)
	return nil
}

// Subscribe calls h for each message until ctx is done.
func (m *Memory) Subscribe(ctx context.Context, h Handler) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}

	q := queue.New[Message](64)
	m.network.attach(m.channel, q)
	defer func() {
		m.network.detach(m.channel, q)
		q.Close()
	}()

	for {
		msg, ok := q.Pop(ctx)
		if !ok {
			return nil
		}
		h(msg)
	}
}

// Close marks the adapter closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
