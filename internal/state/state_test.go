package state

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapebridge/scrapebridge/internal/bus"
	"github.com/scrapebridge/scrapebridge/internal/event"
	"github.com/scrapebridge/scrapebridge/internal/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestState(t *testing.T, cfg Config) (*RunState, *bus.Subscriber) {
	t.Helper()
	b := bus.New(64, zap.NewNop())
	st := New(cfg, b, &fakeClock{now: time.Unix(1000, 0)})
	sub := b.Subscribe()
	t.Cleanup(func() { b.Unsubscribe(sub) })
	return st, sub
}

// TestAppendLogRingEviction verifies the log history is a FIFO ring of fixed
// capacity.
func TestAppendLogRingEviction(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{LogCapacity: 3})
	for i := 0; i < 5; i++ {
		st.AppendLog(event.Log{Stream: event.StreamStdout, Message: fmt.Sprintf("m%d", i)})
	}
	snap := st.Snapshot()
	require.Len(t, snap.Logs, 3)
	require.Equal(t, "m2", snap.Logs[0].Message)
	require.Equal(t, "m4", snap.Logs[2].Message)
}

// TestAppendLogBroadcasts pairs every mutation with a broadcast of the same
// event.
func TestAppendLogBroadcasts(t *testing.T) {
	t.Parallel()

	st, sub := newTestState(t, Config{})
	entry := st.AppendLog(event.Log{Stream: event.StreamStderr, Message: "boom"})
	require.False(t, entry.Time.IsZero())

	evt := <-sub.Events()
	require.Equal(t, entry, evt)
}

// TestApplyProgressDerivesDefaults covers pending and percent derivation.
func TestApplyProgressDerivesDefaults(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{})
	p := st.ApplyProgress(protocol.Progress{Total: 10, Completed: 4, Active: 2})
	require.Equal(t, 4, p.Pending)
	require.InDelta(t, 40.0, p.Percent, 0.001)
}

// TestApplyProgressPercentClamped verifies worker-supplied percent values
// are clamped to [0,100].
func TestApplyProgressPercentClamped(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{})

	over := 150.0
	p := st.ApplyProgress(protocol.Progress{Total: 10, Percent: &over})
	require.Equal(t, 100.0, p.Percent)

	under := -5.0
	p = st.ApplyProgress(protocol.Progress{Total: 10, Percent: &under})
	require.Equal(t, 0.0, p.Percent)

	p = st.ApplyProgress(protocol.Progress{Total: 0})
	require.Equal(t, 100.0, p.Percent)
}

// TestApplyProgressStickyStartedAt keeps the first startedAt across events
// that omit it, until reset.
func TestApplyProgressStickyStartedAt(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{})
	st.ApplyProgress(protocol.Progress{Total: 5, StartedAt: "2025-03-01T12:00:00Z"})
	p := st.ApplyProgress(protocol.Progress{Total: 5, Completed: 2})
	require.Equal(t, "2025-03-01T12:00:00Z", p.StartedAt)

	st.Reset()
	p = st.ApplyProgress(protocol.Progress{Total: 5})
	require.Empty(t, p.StartedAt)
}

// TestApplyDownloadDedupToFront verifies re-registering a path is idempotent
// by id and moves the entry to the front with fresh attributes.
func TestApplyDownloadDedupToFront(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{})
	st.ApplyDownload(event.FileInput{Path: "/d/a.pdf", MIME: "application/pdf", SizeBytes: 1})
	st.ApplyDownload(event.FileInput{Path: "/d/b.pdf", MIME: "application/pdf", SizeBytes: 2})
	st.ApplyDownload(event.FileInput{Path: "/d/a.pdf", MIME: "application/pdf", SizeBytes: 3})

	snap := st.Snapshot()
	require.Len(t, snap.Downloads, 2)
	require.Equal(t, event.FileID("/d/a.pdf"), snap.Downloads[0].ID)
	require.Equal(t, int64(3), snap.Downloads[0].SizeBytes)
	require.Equal(t, event.FileID("/d/b.pdf"), snap.Downloads[1].ID)
}

// TestApplyDownloadCapacityEviction silently drops the oldest entry when the
// deque is full.
func TestApplyDownloadCapacityEviction(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{DownloadCapacity: 2})
	st.ApplyDownload(event.FileInput{Path: "/d/1", MIME: "application/pdf"})
	st.ApplyDownload(event.FileInput{Path: "/d/2", MIME: "application/pdf"})
	st.ApplyDownload(event.FileInput{Path: "/d/3", MIME: "application/pdf"})

	snap := st.Snapshot()
	require.Len(t, snap.Downloads, 2)
	require.Equal(t, event.FileID("/d/3"), snap.Downloads[0].ID)
	require.Equal(t, event.FileID("/d/2"), snap.Downloads[1].ID)
}

// TestFilePathResolvesRegisteredIDs only resolves ids minted by the registry.
func TestFilePathResolvesRegisteredIDs(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{})
	evt := st.ApplyDownload(event.FileInput{Path: "/d/a.pdf", MIME: "application/pdf"})

	path, ok := st.FilePath(evt.File.ID)
	require.True(t, ok)
	require.Equal(t, "/d/a.pdf", path)

	_, ok = st.FilePath("bogus")
	require.False(t, ok)
}

// TestResetClearsRunScopedState clears progress and downloads but keeps the
// log history and status.
func TestResetClearsRunScopedState(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{})
	st.AppendLog(event.Log{Stream: event.StreamStdout, Message: "kept"})
	st.SetStatus(event.Status{Status: event.StatusRunning, PID: 1})
	evt := st.ApplyDownload(event.FileInput{Path: "/d/a.pdf", MIME: "application/pdf"})
	st.ApplyProgress(protocol.Progress{Total: 5, Completed: 5})

	st.Reset()
	snap := st.Snapshot()
	require.Len(t, snap.Logs, 1)
	require.Equal(t, event.StatusRunning, snap.Status)
	require.Empty(t, snap.Downloads)
	require.Zero(t, snap.Progress.Total)
	require.Equal(t, "idle", snap.Progress.Stage)

	_, ok := st.FilePath(evt.File.ID)
	require.False(t, ok)
}

// TestSnapshotIsACopy mutating the aggregate after a snapshot must not leak
// into the copy handed to a subscriber.
func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	st, _ := newTestState(t, Config{})
	st.AppendLog(event.Log{Stream: event.StreamStdout, Message: "first"})
	snap := st.Snapshot()
	st.AppendLog(event.Log{Stream: event.StreamStdout, Message: "second"})

	require.Len(t, snap.Logs, 1)
	require.Equal(t, "first", snap.Logs[0].Message)
}
