package testbench

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osmsg/GoMsgChan/internal/queue"
)

// Config describes one concurrency scenario: how many producers, how many
// consumers, and how large each message payload is.
type Config struct {
	NumProducers int
	NumConsumers int
	PayloadSize  int
}

// RunTimedTest spawns producers and consumers that run for the specified
// duration, measuring how many messages are actually sent/received in that
// window. Once the window expires, producers stop and consumers drain any
// remaining messages in the channel.
// Returns the total messages produced, total consumed, and the actual
// elapsed time.
func RunTimedTest(
	ch queue.ChannelValidationInterface,
	cfg Config,
	testDuration time.Duration,
) (producedCount int64, consumedCount int64, elapsed time.Duration) {

	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	var totalProduced int64
	var totalConsumed int64

	start := time.Now()

	var prodWg sync.WaitGroup
	prodWg.Add(cfg.NumProducers)

	// productionDone flips to 1 when the test window expires.
	var productionDone int32
	go func() {
		<-ctx.Done()
		atomic.StoreInt32(&productionDone, 1)
	}()

	payloadSize := cfg.PayloadSize
	if payloadSize < 1 {
		payloadSize = 64
	}

	// Spawn producers. Sends use a background context so a send that is
	// mid-flight when the window closes still completes; the drain phase
	// below frees any producer blocked on a full channel.
	for i := 0; i < cfg.NumProducers; i++ {
		go func(id int) {
			defer prodWg.Done()
			payload := make([]byte, payloadSize)
			for i := range payload {
				payload[i] = byte(id + 1)
			}
			for atomic.LoadInt32(&productionDone) == 0 {
				if err := ch.Send(context.Background(), payload); err != nil {
					return
				}
				atomic.AddInt64(&totalProduced, 1)
			}
		}(i)
	}

	// Spawn consumers.
	for i := 0; i < cfg.NumConsumers; i++ {
		go func() {
			for {
				// If production is done, drain remaining messages.
				if atomic.LoadInt32(&productionDone) == 1 {
					for {
						if _, ok := ch.TryReceive(); ok {
							atomic.AddInt64(&totalConsumed, 1)
						} else {
							break
						}
					}
					return
				}
				if _, ok := ch.TryReceive(); ok {
					atomic.AddInt64(&totalConsumed, 1)
				} else {
					time.Sleep(time.Microsecond)
				}
			}
		}()
	}

	// Wait for the window to expire, then for all producers to finish.
	<-ctx.Done()
	prodWg.Wait()

	// Give consumers a short period to drain the remaining messages.
	time.Sleep(100 * time.Millisecond)

	elapsed = time.Since(start)
	producedCount = atomic.LoadInt64(&totalProduced)
	consumedCount = atomic.LoadInt64(&totalConsumed)
	return producedCount, consumedCount, elapsed
}
