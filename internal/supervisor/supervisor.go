// Package supervisor owns the worker process lifecycle: single-flight spawn,
// stream pumping through the line protocol into the run state, and exit
// observation.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scrapebridge/scrapebridge/internal/event"
	"github.com/scrapebridge/scrapebridge/internal/metrics"
	"github.com/scrapebridge/scrapebridge/internal/protocol"
	"github.com/scrapebridge/scrapebridge/internal/state"
)

// ErrBusy is returned by Start while a previous run is still in flight.
var ErrBusy = errors.New("worker is already running")

const (
	defaultGracePeriod = 5 * time.Second
	maxLineBytes       = 1024 * 1024
)

// Spawn failure reasons surfaced in the error status event.
const (
	ReasonWorkerNotFound = "worker-not-found"
	ReasonSpawnFailed    = "spawn-failed"
)

// Config describes how to invoke the worker executable.
type Config struct {
	// Command is the interpreter or binary, e.g. "node".
	Command string
	// Script is an optional script path passed as the first argument.
	Script string
	// WorkDir is the working directory for the worker process.
	WorkDir string
	// GracePeriod bounds how long Shutdown waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	// Env entries are appended to the inherited environment if not already set.
	Env map[string]string
}

// Supervisor runs at most one worker at a time and settles its terminal
// status before accepting the next run.
type Supervisor struct {
	cfg    Config
	state  *state.RunState
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cmd     *exec.Cmd
	done    chan struct{}
}

// New constructs a Supervisor.
func New(cfg Config, st *state.RunState, logger *zap.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, state: st, logger: logger}
}

// Running reports whether a run is currently in flight.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start accepts a run request, spawns the worker, and returns once the
// process is up. A second Start while a run is in flight returns ErrBusy.
// Spawn failures are returned to the caller and also broadcast as an error
// status carrying a machine-readable reason.
func (s *Supervisor) Start(req RunRequest) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	s.running = true
	s.mu.Unlock()

	s.state.Reset()
	args := BuildArgs(req)
	s.state.SetStatus(event.Status{Status: event.StatusStarting, Args: args})

	cmd := s.buildCommand(args)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return s.failSpawn(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return s.failSpawn(err)
	}
	if err := cmd.Start(); err != nil {
		return s.failSpawn(err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.cmd = cmd
	s.done = done
	s.mu.Unlock()

	s.state.SetStatus(event.Status{Status: event.StatusRunning, PID: cmd.Process.Pid})
	s.logger.Info("worker started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("args", args))

	var pumps sync.WaitGroup
	pumps.Add(2)
	go s.pump(stdout, event.StreamStdout, &pumps)
	go s.pump(stderr, event.StreamStderr, &pumps)

	go s.monitor(cmd, &pumps, done)
	return nil
}

func (s *Supervisor) buildCommand(args []string) *exec.Cmd {
	argv := args
	if s.cfg.Script != "" {
		argv = append([]string{s.cfg.Script}, args...)
	}
	cmd := exec.Command(s.cfg.Command, argv...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = mergeEnv(os.Environ(), s.cfg.Env)
	return cmd
}

func (s *Supervisor) failSpawn(err error) error {
	reason := ReasonSpawnFailed
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		reason = ReasonWorkerNotFound
	}
	s.state.AppendLog(event.Log{
		Stream:  event.StreamStderr,
		Message: "failed to start worker: " + err.Error(),
	})
	s.state.SetStatus(event.Status{Status: event.StatusError, Reason: reason})
	metrics.RunCompleted("spawn_error")
	s.logger.Error("worker spawn failed", zap.String("reason", reason), zap.Error(err))

	s.mu.Lock()
	s.running = false
	s.cmd = nil
	s.mu.Unlock()
	return err
}

// pump reads one output stream line by line until it closes. Read errors end
// the pump but never the worker; the process exit is authoritative.
func (s *Supervisor) pump(r io.Reader, origin event.Stream, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		s.dispatch(scanner.Text(), origin)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("stream pump ended early",
			zap.String("stream", string(origin)), zap.Error(err))
		// Keep consuming so the worker never blocks writing to a full pipe;
		// the remainder of the stream is discarded.
		if _, copyErr := io.Copy(io.Discard, r); copyErr != nil {
			s.logger.Debug("stream drain failed", zap.Error(copyErr))
		}
	}
}

func (s *Supervisor) dispatch(raw string, origin event.Stream) {
	line, ok := protocol.Classify(raw, origin)
	if !ok {
		return
	}
	switch l := line.(type) {
	case protocol.Raw:
		s.state.AppendLog(event.Log{Stream: l.Stream, Message: l.Text})
	case protocol.Log:
		s.state.AppendLog(event.Log{
			Stream:  l.Stream,
			Message: l.Message,
			Level:   l.Level,
			Context: l.Context,
			URL:     l.URL,
		})
	case protocol.Progress:
		s.state.ApplyProgress(l)
	case protocol.Download:
		s.state.ApplyDownload(l.File)
	}
}

// monitor joins both pumps, reaps the process, and settles the run.
func (s *Supervisor) monitor(cmd *exec.Cmd, pumps *sync.WaitGroup, done chan struct{}) {
	pumps.Wait()
	err := cmd.Wait()

	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if err != nil && code == 0 {
		code = -1
	}

	outcome := "success"
	if code != 0 {
		outcome = "failed"
	}
	metrics.RunCompleted(outcome)
	s.logger.Info("worker exited", zap.Int("code", code))

	exitCode := code
	s.state.SetStatus(event.Status{Status: event.StatusFinished, ExitCode: &exitCode})

	s.mu.Lock()
	s.running = false
	s.cmd = nil
	s.done = nil
	s.mu.Unlock()
	close(done)
}

// Shutdown asks an in-flight worker to terminate, escalating to SIGKILL once
// the grace period elapses. It returns when the run has settled or ctx ends.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Warn("signal worker failed", zap.Error(err))
	}
	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.GracePeriod):
	case <-ctx.Done():
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("kill worker failed", zap.Error(err))
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mergeEnv(base []string, defaults map[string]string) []string {
	present := make(map[string]struct{}, len(base))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				present[kv[:i]] = struct{}{}
				break
			}
		}
	}
	merged := base
	for key, value := range defaults {
		if _, ok := present[key]; ok {
			continue
		}
		merged = append(merged, key+"="+value)
	}
	return merged
}
