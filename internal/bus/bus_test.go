package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapebridge/scrapebridge/internal/event"
)

func logEvent(i int) event.Log {
	return event.Log{
		Stream:  event.StreamStdout,
		Message: fmt.Sprintf("line %d", i),
		Time:    time.Unix(int64(i), 0),
	}
}

// TestPublishPreservesOrder verifies a subscriber that keeps up observes
// exactly the published sequence, in order.
func TestPublishPreservesOrder(t *testing.T) {
	t.Parallel()

	b := New(16, zap.NewNop())
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		b.Publish(logEvent(i))
	}
	for i := 0; i < 10; i++ {
		evt := <-sub.Events()
		require.Equal(t, logEvent(i), evt)
	}
	require.Empty(t, sub.Events())
}

// TestOverflowDropsOldest verifies a slow subscriber keeps a strict suffix of
// the published sequence and never blocks the publisher.
func TestOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	b := New(4, zap.NewNop())
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	start := time.Now()
	for i := 0; i < 20; i++ {
		b.Publish(logEvent(i))
	}
	require.Less(t, time.Since(start), time.Second)

	var got []event.Event
	for len(sub.Events()) > 0 {
		got = append(got, <-sub.Events())
	}
	require.Len(t, got, 4)
	for i, evt := range got {
		require.Equal(t, logEvent(16+i), evt)
	}
}

// TestUnsubscribeDiscardsFurtherPublishes ensures a closed subscriber stops
// receiving without affecting others.
func TestUnsubscribeDiscardsFurtherPublishes(t *testing.T) {
	t.Parallel()

	b := New(8, zap.NewNop())
	closed := b.Subscribe()
	open := b.Subscribe()
	defer b.Unsubscribe(open)

	b.Unsubscribe(closed)
	b.Publish(logEvent(1))

	require.Empty(t, closed.Events())
	require.Len(t, open.Events(), 1)
}

// TestConcurrentPublishSubscribe exercises the subscriber set under
// concurrent churn; the race detector is the real assertion here.
func TestConcurrentPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := New(8, zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Publish(logEvent(i))
		}
	}()
	for i := 0; i < 50; i++ {
		sub := b.Subscribe()
		b.Unsubscribe(sub)
	}
	<-done
}
