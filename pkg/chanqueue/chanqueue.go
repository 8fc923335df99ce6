// Package chanqueue is a byte-message queue built on a buffered Go channel.
// It is slot-bounded rather than byte-bounded: senders block after slots
// resident messages regardless of their sizes, and the limit cannot be
// resized. It exists as a comparison baseline for the linked msgchan
// implementation.
package chanqueue

import (
	"context"
	"sync/atomic"
)

type ChanQueue struct {
	ch          chan []byte
	queuedBytes atomic.Int64
}

func New(slots uint64) *ChanQueue {
	// Enforce a minimum of 1 slot. A zero-capacity Go channel is an
	// unbuffered synchronization primitive, not a zero-capacity buffer.
	if slots < 1 {
		slots = 1
	}
	return &ChanQueue{ch: make(chan []byte, slots)}
}

// Send copies p into the queue, blocking while all slots are occupied.
func (q *ChanQueue) Send(ctx context.Context, p []byte) error {
	buf := append([]byte(nil), p...)
	select {
	case q.ch <- buf:
		q.queuedBytes.Add(int64(len(buf)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available.
func (q *ChanQueue) Receive(ctx context.Context) ([]byte, error) {
	select {
	case p := <-q.ch:
		q.queuedBytes.Add(-int64(len(p)))
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryReceive is the non-blocking form of Receive.
func (q *ChanQueue) TryReceive() ([]byte, bool) {
	select {
	case p := <-q.ch:
		q.queuedBytes.Add(-int64(len(p)))
		return p, true
	default:
		return nil, false
	}
}

// QueuedBytes returns an approximate byte total across queued messages.
// The counter is updated outside the channel operation itself, so brief
// over- or under-counts are possible under contention.
func (q *ChanQueue) QueuedBytes() uint64 {
	v := q.queuedBytes.Load()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// Len returns the number of queued messages.
func (q *ChanQueue) Len() int {
	return len(q.ch)
}
