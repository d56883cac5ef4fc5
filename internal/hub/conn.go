package hub

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/signal-relay/internal/model"
	"github.com/rickgao/signal-relay/internal/queue"
)

const sendQueueSize = 64

// conn is the transport-independent half of a client connection: an id and an unbounded
// outbound queue that Send never blocks on.
type conn struct {
	id        uuid.UUID
	transport string
	out       *queue.Queue[model.Envelope]
	lastSeen  atomic.Int64
}

func newConn(id uuid.UUID, transport string) *conn {
	c := &conn{
		id:        id,
		transport: transport,
		out:       queue.New[model.Envelope](sendQueueSize),
	}
	c.touch()
	return c
}

func (c *conn) ID() uuid.UUID     { return c.id }
func (c *conn) Transport() string { return c.transport }

func (c *conn) Send(env model.Envelope) bool {
	return c.out.Push(env)
}

func (c *conn) close() {
	c.out.Close()
}

func (c *conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *conn) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}
