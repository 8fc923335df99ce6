package queue

import "context"

// ChannelValidationInterface is the contract every benched byte-channel
// implementation must satisfy. The bench and the integrity tests only ever
// talk to implementations through these methods.
type ChannelValidationInterface interface {
	// Send copies p into the channel and blocks while the channel is full,
	// until ctx is cancelled.
	Send(ctx context.Context, p []byte) error

	// Receive removes and returns the oldest message, blocking while the
	// channel is empty, until ctx is cancelled.
	Receive(ctx context.Context) ([]byte, error)

	// TryReceive removes and returns the oldest message without blocking.
	// It reports false if no message is available.
	TryReceive() ([]byte, bool)

	// QueuedBytes returns the byte total across currently queued messages.
	QueuedBytes() uint64

	// Len returns how many messages are currently queued.
	Len() int
}
