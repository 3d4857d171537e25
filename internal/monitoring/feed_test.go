package monitoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymeter/llm-gateway/internal/monitoring"
	"github.com/relaymeter/llm-gateway/internal/store"
)

func TestFeed_DeliversToAllSubscribers(t *testing.T) {
	f := monitoring.NewFeed()
	a := f.Subscribe()
	b := f.Subscribe()

	f.Publish(store.UsageRecord{ID: 1, Model: "m"})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, int64(1), (<-a).ID)
	assert.Equal(t, "m", (<-b).Model)
}

func TestFeed_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	f := monitoring.NewFeed()
	slow := f.Subscribe()

	// Overfill the subscriber buffer; the excess is dropped, not queued.
	for i := 0; i < 64; i++ {
		f.Publish(store.UsageRecord{ID: int64(i)})
	}
	assert.Equal(t, 16, len(slow))
}

func TestFeed_UnsubscribeClosesChannel(t *testing.T) {
	f := monitoring.NewFeed()
	ch := f.Subscribe()
	f.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	f.Publish(store.UsageRecord{ID: 9})

	// Double unsubscribe is a no-op.
	f.Unsubscribe(ch)
}
