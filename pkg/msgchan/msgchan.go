// Package msgchan implements a capacity-bounded, strictly FIFO byte-message
// channel between concurrent writers and readers. Writers block while the
// channel is full, readers block while it is empty, and every blocking wait
// is interruptible through a context.
//
// Two independent limits bound the channel: a fixed per-message byte cap and
// a runtime-adjustable aggregate byte cap across all queued messages. A
// single mutex guards all shared state; the admission check and the enqueue
// (and likewise the empty check and the dequeue) always happen under one
// lock hold, so concurrent senders can never jointly overshoot the
// aggregate limit.
package msgchan

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

const (
	// DefaultMaxMessageSize is the per-message byte cap (4 KiB), fixed for
	// the lifetime of a channel.
	DefaultMaxMessageSize = 4096

	// DefaultCapacity is the aggregate byte cap across all queued messages
	// (2 MiB), adjustable at runtime through SetCapacity.
	DefaultCapacity = 2 * 1024 * 1024
)

var (
	// ErrTooLarge reports a single message bigger than the per-message cap.
	// It is returned before any blocking or state change.
	ErrTooLarge = errors.New("msgchan: message exceeds the per-message size limit")

	// ErrRejected reports a SetCapacity value that does not strictly exceed
	// the bytes currently queued.
	ErrRejected = errors.New("msgchan: capacity does not exceed currently queued bytes")

	// ErrClosed reports an operation against a closed channel.
	ErrClosed = errors.New("msgchan: channel is closed")

	// ErrExhausted is the resource-exhaustion kind used by endpoint status
	// translation. The channel itself never produces it: a failed Go
	// allocation is not a recoverable error.
	ErrExhausted = errors.New("msgchan: out of resources")
)

// message is an immutable byte payload. The payload is copied from the
// caller at send time so the queue never aliases caller memory.
type message struct {
	payload []byte
}

// node is a singly linked holder of one message, owned exclusively by the
// queue until a receive detaches it and hands the payload to the caller.
type node struct {
	msg  message
	next *node
}

// Channel is a bounded blocking FIFO of byte messages. The zero value is not
// usable; construct with New.
type Channel struct {
	mu             sync.Mutex
	head           *node
	tail           *node
	length         int
	queuedBytes    uint64
	capacity       uint64
	maxMessageSize int
	closed         bool

	// Broadcast signals, realized as close-and-replace channels so waiters
	// can select against context cancellation. A wake is a hint only:
	// every waiter re-checks its predicate under the lock.
	notEmpty chan struct{}
	notFull  chan struct{}

	enqueued  uint64
	dequeued  uint64
	highWater uint64
}

// Option configures a Channel at construction time.
type Option func(*Channel)

// WithCapacity sets the initial aggregate byte limit. Values below 1 fall
// back to DefaultCapacity.
func WithCapacity(n uint64) Option {
	return func(c *Channel) {
		if n < 1 {
			n = DefaultCapacity
		}
		c.capacity = n
	}
}

// WithMaxMessageSize sets the fixed per-message byte cap. Values below 1
// fall back to DefaultMaxMessageSize.
func WithMaxMessageSize(n int) Option {
	return func(c *Channel) {
		if n < 1 {
			n = DefaultMaxMessageSize
		}
		c.maxMessageSize = n
	}
}

// New creates an empty channel with the default limits, then applies opts.
func New(opts ...Option) *Channel {
	c := &Channel{
		capacity:       DefaultCapacity,
		maxMessageSize: DefaultMaxMessageSize,
		notEmpty:       make(chan struct{}),
		notFull:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send copies p into the channel, blocking while admitting it would push the
// queued byte total over the aggregate limit. A message longer than the
// per-message cap is rejected immediately with ErrTooLarge, without blocking
// and without touching queue state. If ctx is cancelled while blocked, the
// context's error is returned and the message has not been enqueued.
func (c *Channel) Send(ctx context.Context, p []byte) error {
	if len(p) > c.maxMessageSize {
		return ErrTooLarge
	}
	need := uint64(len(p))

	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return ErrClosed
		}
		if c.queuedBytes+need <= c.capacity {
			break
		}
		wait := c.notFull
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	// Admission and enqueue under the same lock hold.
	c.enqueueLocked(p)
	c.mu.Unlock()
	return nil
}

// TrySend is the non-blocking form of Send. It reports false when the
// message would not currently be admitted.
func (c *Channel) TrySend(p []byte) (bool, error) {
	if len(p) > c.maxMessageSize {
		return false, ErrTooLarge
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if c.queuedBytes+uint64(len(p)) > c.capacity {
		return false, nil
	}
	c.enqueueLocked(p)
	return true, nil
}

// Receive blocks until a message is available, then returns its full
// payload. Ownership of the returned slice transfers to the caller. If ctx
// is cancelled while blocked, the context's error is returned and the queue
// is unchanged.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	for c.head == nil {
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		wait := c.notEmpty
		c.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
	}
	p := c.dequeueLocked()
	c.mu.Unlock()
	return p, nil
}

// ReceiveLimit behaves like Receive but applies the legacy delivery rule:
// at most max bytes are delivered and the remainder of the message is
// discarded, not kept for a later receive. Delivery additionally stops at
// the first zero byte of the payload, an artifact of the null-terminated
// text handling this channel is bug-compatible with.
func (c *Channel) ReceiveLimit(ctx context.Context, max int) ([]byte, error) {
	p, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return truncate(p, max), nil
}

// TryReceive is the non-blocking form of Receive. It reports false when the
// channel is currently empty.
func (c *Channel) TryReceive() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		return nil, false
	}
	return c.dequeueLocked(), true
}

// SetCapacity changes the aggregate byte limit. The new limit must strictly
// exceed the bytes queued at the instant of the check; it is NOT compared
// against the previous limit, so a channel may shrink its capacity as long
// as already-queued data still fits. On rejection the channel is unchanged
// and ErrRejected is returned; SetCapacity never blocks.
func (c *Channel) SetCapacity(n uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if n <= c.queuedBytes {
		return ErrRejected
	}
	c.capacity = n
	// The limit may have grown; blocked senders re-check their predicate.
	c.broadcastLocked(&c.notFull)
	return nil
}

// Close tears the channel down: the node chain is unlinked so payloads
// become collectable, and every blocked sender and receiver is woken to
// return ErrClosed. Close is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for n := c.head; n != nil; {
		next := n.next
		n.next = nil
		n.msg.payload = nil
		n = next
	}
	c.head, c.tail = nil, nil
	c.length = 0
	c.queuedBytes = 0
	c.broadcastLocked(&c.notEmpty)
	c.broadcastLocked(&c.notFull)
	return nil
}

// Capacity returns the current aggregate byte limit.
func (c *Channel) Capacity() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// MaxMessageSize returns the fixed per-message byte cap.
func (c *Channel) MaxMessageSize() int {
	return c.maxMessageSize
}

// QueuedBytes returns the byte total across all queued messages.
func (c *Channel) QueuedBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuedBytes
}

// FreeBytes returns how many more bytes the channel admits before senders
// block.
func (c *Channel) FreeBytes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queuedBytes >= c.capacity {
		return 0
	}
	return c.capacity - c.queuedBytes
}

// Len returns the number of queued messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.length
}

// Stats is a point-in-time snapshot of the channel counters.
type Stats struct {
	Enqueued    uint64 // messages admitted since creation
	Dequeued    uint64 // messages handed to receivers since creation
	QueuedBytes uint64 // bytes currently resident
	Capacity    uint64 // aggregate limit at snapshot time
	HighWater   uint64 // largest QueuedBytes ever observed
}

// Stats returns a consistent snapshot of the channel counters, taken under
// a single lock hold.
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Enqueued:    c.enqueued,
		Dequeued:    c.dequeued,
		QueuedBytes: c.queuedBytes,
		Capacity:    c.capacity,
		HighWater:   c.highWater,
	}
}

// enqueueLocked links a freshly copied message at the tail and signals
// receivers. Caller holds c.mu and has already passed admission.
func (c *Channel) enqueueLocked(p []byte) {
	n := &node{msg: message{payload: append([]byte(nil), p...)}}
	if c.tail == nil {
		c.head, c.tail = n, n
	} else {
		c.tail.next = n
		c.tail = n
	}
	c.length++
	c.queuedBytes += uint64(len(p))
	c.enqueued++
	if c.queuedBytes > c.highWater {
		c.highWater = c.queuedBytes
	}
	c.broadcastLocked(&c.notEmpty)
}

// dequeueLocked detaches the head node and signals senders. Caller holds
// c.mu and has verified the queue is non-empty.
func (c *Channel) dequeueLocked() []byte {
	n := c.head
	c.head = n.next
	if c.head == nil {
		c.tail = nil
	}
	n.next = nil
	c.length--
	c.queuedBytes -= uint64(len(n.msg.payload))
	c.dequeued++
	c.broadcastLocked(&c.notFull)
	return n.msg.payload
}

// broadcastLocked wakes every waiter parked on the given signal and arms a
// fresh one for the next wait round. Caller holds c.mu.
func (c *Channel) broadcastLocked(sig *chan struct{}) {
	close(*sig)
	*sig = make(chan struct{})
}

// truncate applies the legacy delivery rule to a dequeued payload.
func truncate(p []byte, max int) []byte {
	if max < 0 {
		max = 0
	}
	if max < len(p) {
		p = p[:max]
	}
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return p
}
