// Package monitoring carries the gateway's observability side channels.
//
// DESIGN: The usage feed is an in-process pub/sub of committed ledger
// entries, consumed by the WebSocket live tail. Publishing never blocks the
// settlement path: a slow subscriber drops records instead of stalling
// billing.
package monitoring

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/relaymeter/llm-gateway/internal/store"
)

const subscriberBuffer = 16

// Feed fans committed usage records out to live subscribers.
type Feed struct {
	mu   sync.Mutex
	subs map[chan store.UsageRecord]struct{}
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan store.UsageRecord]struct{})}
}

// Subscribe registers a new subscriber and returns its channel.
func (f *Feed) Subscribe() chan store.UsageRecord {
	ch := make(chan store.UsageRecord, subscriberBuffer)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (f *Feed) Unsubscribe(ch chan store.UsageRecord) {
	f.mu.Lock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
}

// Publish delivers a record to every subscriber without blocking.
func (f *Feed) Publish(rec store.UsageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- rec:
		default:
			log.Debug().Int64("record", rec.ID).Msg("usage feed subscriber lagging, dropping record")
		}
	}
}
