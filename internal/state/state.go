// Package state holds the aggregate view of the current worker run: recent
// log lines, the latest progress report, the download registry, and the
// supervisor status. One instance exists per process, constructor-injected
// into every component that reads or mutates it.
package state

import (
	"sync"

	"github.com/scrapebridge/scrapebridge/internal/bus"
	"github.com/scrapebridge/scrapebridge/internal/clock"
	"github.com/scrapebridge/scrapebridge/internal/event"
	"github.com/scrapebridge/scrapebridge/internal/protocol"
)

const (
	defaultLogCapacity      = 500
	defaultDownloadCapacity = 300
)

// Config bounds the aggregate's history buffers.
type Config struct {
	// LogCapacity caps the log ring; oldest entries are evicted first.
	LogCapacity int
	// DownloadCapacity caps the download registry deque.
	DownloadCapacity int
	// BaseDir anchors relative paths derived for downloaded files.
	BaseDir string
}

// RunState is the process-wide run aggregate. Every mutation publishes the
// corresponding event to the bus while still holding the state lock, so the
// broadcast a subscriber sees is never ahead of or behind the stored state.
type RunState struct {
	mu  sync.Mutex
	bus *bus.Bus
	clk clock.Clock
	cfg Config

	logs      []event.Log
	progress  event.Progress
	downloads []event.FileDescriptor
	registry  map[string]string
	status    event.RunStatus
}

// Snapshot is a consistent copy of the aggregate for new subscribers and the
// status endpoint.
type Snapshot struct {
	Status    event.RunStatus
	Logs      []event.Log
	Progress  event.Progress
	Downloads []event.FileDescriptor
}

// New constructs a RunState publishing through b.
func New(cfg Config, b *bus.Bus, clk clock.Clock) *RunState {
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = defaultLogCapacity
	}
	if cfg.DownloadCapacity <= 0 {
		cfg.DownloadCapacity = defaultDownloadCapacity
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &RunState{
		bus:      b,
		clk:      clk,
		cfg:      cfg,
		registry: make(map[string]string),
		status:   event.StatusIdle,
	}
	s.progress = event.Progress{Stage: "idle", Time: clk.Now()}
	return s
}

// AppendLog records a log line in the ring and broadcasts it. A zero Time is
// stamped with the current clock.
func (s *RunState) AppendLog(entry event.Log) event.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Time.IsZero() {
		entry.Time = s.clk.Now()
	}
	if len(s.logs) >= s.cfg.LogCapacity {
		s.logs = append(s.logs[1:], entry)
	} else {
		s.logs = append(s.logs, entry)
	}
	s.bus.Publish(entry)
	return entry
}

// ApplyProgress folds a progress payload into the aggregate and broadcasts
// the resulting event. Pending defaults to the unaccounted remainder, percent
// to completed/total (100 for an empty run) and is clamped to [0,100], and
// startedAt sticks across events that omit it.
func (s *RunState) ApplyProgress(p protocol.Progress) event.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := max(p.Total-p.Completed-p.Active, 0)
	if p.Pending != nil {
		pending = *p.Pending
	}
	percent := 100.0
	if p.Percent != nil {
		percent = *p.Percent
	} else if p.Total != 0 {
		percent = float64(p.Completed) / float64(p.Total) * 100
	}
	percent = min(max(percent, 0), 100)

	startedAt := p.StartedAt
	if startedAt == "" {
		startedAt = s.progress.StartedAt
	}

	s.progress = event.Progress{
		Total:         p.Total,
		Completed:     p.Completed,
		Active:        p.Active,
		Pending:       pending,
		Percent:       percent,
		StartedAt:     startedAt,
		Stage:         p.Stage,
		Current:       p.Current,
		LastCompleted: p.LastCompleted,
		Message:       p.Message,
		Time:          s.clk.Now(),
	}
	s.bus.Publish(s.progress)
	return s.progress
}

// ApplyDownload upserts a downloaded file into the registry and broadcasts
// it. Re-registering a known path replaces the stale entry and moves the file
// to the front; the deque silently evicts its oldest entry when full.
func (s *RunState) ApplyDownload(in event.FileInput) event.Download {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc := event.NewFileDescriptor(in, s.cfg.BaseDir, s.clk.Now())
	s.registry[desc.ID] = in.Path

	for i, existing := range s.downloads {
		if existing.ID == desc.ID {
			s.downloads = append(s.downloads[:i], s.downloads[i+1:]...)
			break
		}
	}
	s.downloads = append([]event.FileDescriptor{desc}, s.downloads...)
	if len(s.downloads) > s.cfg.DownloadCapacity {
		s.downloads = s.downloads[:s.cfg.DownloadCapacity]
	}

	evt := event.Download{File: desc, Time: desc.DownloadedAt}
	s.bus.Publish(evt)
	return evt
}

// SetStatus stores the supervisor status and broadcasts the transition.
func (s *RunState) SetStatus(st event.Status) event.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Time.IsZero() {
		st.Time = s.clk.Now()
	}
	s.status = st.Status
	s.bus.Publish(st)
	return st
}

// Reset clears progress and downloads at the start of a new run. Status and
// the log history survive; the log ring spans runs.
func (s *RunState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = event.Progress{Stage: "idle", Time: s.clk.Now()}
	s.downloads = nil
	s.registry = make(map[string]string)
}

// Status returns the current supervisor status.
func (s *RunState) Status() event.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot copies the aggregate for replay to a new subscriber.
func (s *RunState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Status:    s.status,
		Logs:      make([]event.Log, len(s.logs)),
		Progress:  s.progress,
		Downloads: make([]event.FileDescriptor, len(s.downloads)),
	}
	copy(snap.Logs, s.logs)
	copy(snap.Downloads, s.downloads)
	return snap
}

// FilePath resolves a registered file id to its path on disk.
func (s *RunState) FilePath(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.registry[id]
	return path, ok
}
