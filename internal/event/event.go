// Package event defines the typed events broadcast by the bridge.
package event

import (
	"encoding/json"
	"time"
)

// Kind discriminates event variants on the wire.
type Kind string

// Supported event kinds.
const (
	KindLog      Kind = "log"
	KindProgress Kind = "progress"
	KindDownload Kind = "download"
	KindStatus   Kind = "status"
)

// Stream identifies which worker output stream a log line came from.
type Stream string

// Worker output streams.
const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// RunStatus is the supervisor lifecycle state.
type RunStatus string

// Supervisor lifecycle states.
const (
	StatusIdle     RunStatus = "idle"
	StatusStarting RunStatus = "starting"
	StatusRunning  RunStatus = "running"
	StatusFinished RunStatus = "finished"
	StatusError    RunStatus = "error"
)

// Event is the closed union of broadcastable variants. Every event carries a
// timestamp and is immutable once constructed.
type Event interface {
	EventKind() Kind
}

// Log is a single worker output line, structured or passthrough.
type Log struct {
	Stream  Stream    `json:"stream"`
	Message string    `json:"message"`
	Level   string    `json:"level,omitempty"`
	Context string    `json:"context,omitempty"`
	URL     string    `json:"url,omitempty"`
	Time    time.Time `json:"time"`
}

// EventKind implements Event.
func (Log) EventKind() Kind { return KindLog }

// MarshalJSON injects the wire discriminator.
func (l Log) MarshalJSON() ([]byte, error) {
	type alias Log
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindLog, alias(l)})
}

// Progress is the worker's rolling completion report.
type Progress struct {
	Total         int       `json:"total"`
	Completed     int       `json:"completed"`
	Active        int       `json:"active"`
	Pending       int       `json:"pending"`
	Percent       float64   `json:"percent"`
	StartedAt     string    `json:"startedAt,omitempty"`
	Stage         string    `json:"stage,omitempty"`
	Current       string    `json:"current,omitempty"`
	LastCompleted string    `json:"lastCompleted,omitempty"`
	Message       string    `json:"message,omitempty"`
	Time          time.Time `json:"time"`
}

// EventKind implements Event.
func (Progress) EventKind() Kind { return KindProgress }

// MarshalJSON injects the wire discriminator.
func (p Progress) MarshalJSON() ([]byte, error) {
	type alias Progress
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindProgress, alias(p)})
}

// Download announces a file the worker finished writing to disk.
type Download struct {
	File FileDescriptor `json:"file"`
	Time time.Time      `json:"time"`
}

// EventKind implements Event.
func (Download) EventKind() Kind { return KindDownload }

// MarshalJSON injects the wire discriminator.
func (d Download) MarshalJSON() ([]byte, error) {
	type alias Download
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindDownload, alias(d)})
}

// Status reports a supervisor state transition. PID is set while running,
// ExitCode once the worker exits, Reason when a spawn fails.
type Status struct {
	Status   RunStatus `json:"status"`
	Args     []string  `json:"args,omitempty"`
	PID      int       `json:"pid,omitempty"`
	ExitCode *int      `json:"code,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
}

// EventKind implements Event.
func (Status) EventKind() Kind { return KindStatus }

// MarshalJSON injects the wire discriminator.
func (s Status) MarshalJSON() ([]byte, error) {
	type alias Status
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindStatus, alias(s)})
}
