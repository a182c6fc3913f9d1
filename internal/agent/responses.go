package agent

import (
	"context"
	"sync"

	"github.com/danmuck/agentctl/internal/protocol/packet"
)

// Reply is one slot on the response channel. Payload is a response exactly
// as read, kind byte included. Err is set instead when the agent's frame in
// that slot could not be delivered (ErrMalformedResponse) or the request
// was refused locally (ErrRequestTooLarge).
type Reply struct {
	Payload []byte
	Err     error
}

// Responses is the application end of the response channel.
type Responses struct {
	ch        chan Reply
	closed    chan struct{}
	closeOnce sync.Once
	limits    packet.Limits
}

func newResponses(capacity int, limits packet.Limits) *Responses {
	return &Responses{
		ch:     make(chan Reply, capacity),
		closed: make(chan struct{}),
		limits: limits,
	}
}

// C is closed by the engine when Run returns.
func (r *Responses) C() <-chan Reply {
	return r.ch
}

// Recv returns the next reply's payload, or its Err.
func (r *Responses) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-r.closed:
		return nil, ErrResponsesClosed
	default:
	}
	select {
	case reply, ok := <-r.ch:
		if !ok {
			return nil, ErrEngineStopped
		}
		return reply.Payload, reply.Err
	case <-r.closed:
		return nil, ErrResponsesClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tells the engine nobody is listening; its next forward fails Run
// with ErrResponsesClosed.
func (r *Responses) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
	})
}

func (r *Responses) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
