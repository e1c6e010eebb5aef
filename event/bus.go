// Package event carries IBC events from chain monitors to the relay engine.
package event

import (
	"sync"

	"github.com/wenyuanhust/forcerelay/ibc"
)

// Batch is the unit a monitor broadcasts: every IBC event it extracted
// from one contiguous block range of a single chain, in on-chain order.
type Batch struct {
	ChainID    string
	TrackingID string
	Height     ibc.Height
	Events     []ibc.EventWithHeight
}

// subscriberBuffer bounds how far a subscriber may fall behind before
// batches are dropped for it. Monitors must never block on a slow consumer.
const subscriberBuffer = 512

// Bus fans monitor batches out to any number of subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   []chan *Batch
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber. The returned channel is closed
// when the bus shuts down.
func (b *Bus) Subscribe() <-chan *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Batch, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Subscribers reports how many subscribers are currently registered.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast delivers the batch to every live subscriber. A subscriber with
// a full buffer misses the batch; it can recover through the restore path
// of its monitor.
func (b *Bus) Broadcast(batch *Batch) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- batch:
		default:
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
