package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scrapebridge/scrapebridge/internal/event"
)

// stream serves one Server-Sent-Events session. The session subscribes
// first, then replays the current state snapshot, then drains its mailbox in
// arrival order. An idle connection receives a comment keepalive so
// intermediaries don't cut it; keepalives are never recorded anywhere.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := s.writeSnapshot(w); err != nil {
		return
	}
	flusher.Flush()

	interval := s.cfg.KeepAlive()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	idle := time.NewTimer(interval)
	defer idle.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-sub.Events():
			if err := writeSSE(w, evt); err != nil {
				s.logger.Debug("stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-idle.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(interval)
	}
}

// writeSnapshot replays the aggregate so a new observer reconstructs full
// current state before any live event: logs in original order, then status,
// then progress, then every registered download.
func (s *Server) writeSnapshot(w io.Writer) error {
	snap := s.state.Snapshot()
	for _, entry := range snap.Logs {
		if err := writeSSE(w, entry); err != nil {
			return err
		}
	}
	if err := writeSSE(w, event.Status{Status: snap.Status, Time: s.clk.Now()}); err != nil {
		return err
	}
	if err := writeSSE(w, snap.Progress); err != nil {
		return err
	}
	for _, file := range snap.Downloads {
		if err := writeSSE(w, event.Download{File: file, Time: file.DownloadedAt}); err != nil {
			return err
		}
	}
	return nil
}

func writeSSE(w io.Writer, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.EventKind(), data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
