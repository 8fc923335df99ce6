package msgchan

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
)

// TestConcurrentAdmissionSafety spawns N senders each carrying
// capacity/(N-1) bytes against an empty channel. At most N-1 of them can be
// admitted before the rest block; the aggregate limit must never be
// overshot even though all senders pass through the admission check
// concurrently.
func TestConcurrentAdmissionSafety(t *testing.T) {
	defer leaktest.Check(t)()

	const (
		capacity   = 1000
		numSenders = 5
	)
	payload := make([]byte, capacity/(numSenders-1)) // 250 bytes each
	for i := range payload {
		payload[i] = 1
	}

	c := New(WithCapacity(capacity))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	wg.Add(numSenders)
	for i := 0; i < numSenders; i++ {
		go func() {
			defer wg.Done()
			if err := c.Send(ctx, payload); err == nil {
				admitted.Add(1)
			}
		}()
	}

	// Let every sender reach its admission decision.
	time.Sleep(200 * time.Millisecond)

	require.LessOrEqual(t, admitted.Load(), int64(numSenders-1))
	require.LessOrEqual(t, c.QueuedBytes(), uint64(capacity))
	require.Equal(t, uint64(capacity), c.QueuedBytes(),
		"expected exactly %d senders admitted", numSenders-1)

	// Draining one message admits the last sender.
	_, err := c.Receive(context.Background())
	require.NoError(t, err)

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("remaining sender never admitted after space freed")
	}
	require.Equal(t, int64(numSenders), admitted.Load())
	require.NoError(t, c.Close())
}

// TestCapacityInvariantUnderContention hammers the channel with producers,
// consumers and resizers while sampling the queued byte total. The capacity
// invariant must hold at every observation point.
func TestCapacityInvariantUnderContention(t *testing.T) {
	defer leaktest.Check(t)()

	const (
		numProducers = 8
		numConsumers = 8
		perProducer  = 500
	)

	c := New(WithCapacity(4096), WithMaxMessageSize(512))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var produced, consumed atomic.Int64

	var prodWg sync.WaitGroup
	prodWg.Add(numProducers)
	for i := 0; i < numProducers; i++ {
		go func(id int) {
			defer prodWg.Done()
			payload := make([]byte, 64+id)
			for i := range payload {
				payload[i] = byte(id + 1)
			}
			for j := 0; j < perProducer; j++ {
				if err := c.Send(ctx, payload); err != nil {
					t.Errorf("producer %d: %v", id, err)
					return
				}
				produced.Add(1)
			}
		}(i)
	}

	total := int64(numProducers * perProducer)
	var consWg sync.WaitGroup
	consWg.Add(numConsumers)
	for i := 0; i < numConsumers; i++ {
		go func() {
			defer consWg.Done()
			for {
				if consumed.Load() >= total {
					return
				}
				if _, ok := c.TryReceive(); ok {
					consumed.Add(1)
				} else {
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Millisecond):
					}
				}
			}
		}()
	}

	// A resizer raising and lowering the limit concurrently. Every accepted
	// value still exceeds whatever was queued at its decision point.
	resizeDone := make(chan struct{})
	go func() {
		defer close(resizeDone)
		limits := []uint64{8192, 4096, 16384, 6144}
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if consumed.Load() >= total {
				return
			}
			err := c.SetCapacity(limits[i%len(limits)])
			if err != nil && err != ErrRejected {
				t.Errorf("resize: %v", err)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	// Sample the invariant while the storm runs. The snapshot is taken
	// under one lock hold, so queued bytes and capacity are consistent.
	for i := 0; i < 100; i++ {
		s := c.Stats()
		require.LessOrEqual(t, s.QueuedBytes, s.Capacity,
			"queued bytes ran away from the capacity")
		time.Sleep(time.Millisecond)
	}

	prodWg.Wait()
	consWg.Wait()
	<-resizeDone

	require.Equal(t, total, produced.Load())
	require.Equal(t, total, consumed.Load())
	require.Equal(t, 0, c.Len())
	require.NoError(t, c.Close())
}

// TestSingleProducerSingleConsumerOrder verifies strict FIFO delivery while
// producer and consumer run concurrently and the channel cycles between
// full and empty many times.
func TestSingleProducerSingleConsumerOrder(t *testing.T) {
	defer leaktest.Check(t)()

	const numMessages = 5000

	// Tiny capacity forces constant blocking on both sides.
	c := New(WithCapacity(64), WithMaxMessageSize(16))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	go func() {
		var buf [8]byte
		for i := 0; i < numMessages; i++ {
			buf[0] = byte(i)
			buf[1] = byte(i >> 8)
			buf[2] = byte(i >> 16)
			buf[3] = byte(i >> 24)
			if err := c.Send(ctx, buf[:]); err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < numMessages; i++ {
		p, err := c.Receive(ctx)
		require.NoError(t, err)
		got := int(p[0]) | int(p[1])<<8 | int(p[2])<<16 | int(p[3])<<24
		require.Equal(t, i, got, "FIFO violation at message %d", i)
	}
	require.Equal(t, 0, c.Len())
	require.NoError(t, c.Close())
}

// TestManyWaitersSingleSlot has many receivers racing for messages that
// arrive one at a time. Each wake is only a hint; exactly one waiter may win
// each message and the rest must keep waiting.
func TestManyWaitersSingleSlot(t *testing.T) {
	defer leaktest.Check(t)()

	const (
		numReceivers = 16
		numMessages  = 200
	)

	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var received atomic.Int64
	var wg sync.WaitGroup
	wg.Add(numReceivers)
	for i := 0; i < numReceivers; i++ {
		go func() {
			defer wg.Done()
			for {
				_, err := c.Receive(ctx)
				if err != nil {
					return
				}
				received.Add(1)
			}
		}()
	}

	for i := 0; i < numMessages; i++ {
		require.NoError(t, c.Send(ctx, []byte("m")))
	}

	deadline := time.Now().Add(10 * time.Second)
	for received.Load() < numMessages && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, int64(numMessages), received.Load())

	// Shut the stragglers down.
	require.NoError(t, c.Close())
	wg.Wait()
}
