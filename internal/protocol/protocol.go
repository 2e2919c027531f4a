// Package protocol parses the worker's line-oriented output into typed
// payloads. The worker is untrusted input: anything that is not a well-formed
// structured message degrades to a raw passthrough line instead of an error.
package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/scrapebridge/scrapebridge/internal/event"
)

// Line is the closed union of classification results.
type Line interface {
	line()
}

// Raw is a line outside the structured protocol, carried verbatim.
type Raw struct {
	Stream event.Stream
	Text   string
}

func (Raw) line() {}

// Log is a structured log message.
type Log struct {
	Stream  event.Stream
	Message string
	Level   string
	Context string
	URL     string
}

func (Log) line() {}

// Progress is a structured progress report. Pending and Percent are pointers
// so the aggregator can tell "absent" from zero when applying defaults.
type Progress struct {
	Total         int
	Completed     int
	Active        int
	Pending       *int
	Percent       *float64
	StartedAt     string
	Stage         string
	Current       string
	LastCompleted string
	Message       string
}

func (Progress) line() {}

// Download is a structured download announcement.
type Download struct {
	File event.FileInput
}

func (Download) line() {}

// Classify parses one raw output line. It returns false for lines that yield
// no event: blank lines, structured logs without a message, and download
// messages missing a file path.
func Classify(raw string, origin event.Stream) (Line, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil || payload == nil {
		return Raw{Stream: origin, Text: strings.TrimRight(raw, " \t\r\n")}, true
	}

	switch payload["type"] {
	case "log":
		return classifyLog(payload)
	case "progress":
		return classifyProgress(payload), true
	case "download":
		return classifyDownload(payload)
	default:
		return Raw{Stream: origin, Text: strings.TrimRight(raw, " \t\r\n")}, true
	}
}

func classifyLog(payload map[string]any) (Line, bool) {
	message, ok := payload["message"].(string)
	if !ok {
		// Consumed by the protocol but carries nothing to show.
		return nil, false
	}
	level := ""
	if _, present := payload["level"]; present {
		level = asString(payload["level"])
		if level == "" {
			level = "info"
		}
	}
	stream := event.Stream(asString(payload["stream"]))
	if stream == "" {
		derived := asString(payload["level"])
		if derived == "warn" || derived == "error" {
			stream = event.StreamStderr
		} else {
			stream = event.StreamStdout
		}
	}
	return Log{
		Stream:  stream,
		Message: message,
		Level:   level,
		Context: asString(payload["context"]),
		URL:     asString(payload["url"]),
	}, true
}

func classifyProgress(payload map[string]any) Progress {
	p := Progress{
		Total:         asInt(payload["total"]),
		Completed:     asInt(payload["completed"]),
		Active:        asInt(payload["active"]),
		StartedAt:     asString(payload["startedAt"]),
		Stage:         asString(payload["stage"]),
		Current:       asString(payload["current"]),
		LastCompleted: asString(payload["lastCompleted"]),
		Message:       asString(payload["message"]),
	}
	if pending := asInt(payload["pending"]); pending != 0 {
		p.Pending = &pending
	}
	if percent := asFloat(payload["percent"]); percent != 0 {
		p.Percent = &percent
	}
	return p
}

func classifyDownload(payload map[string]any) (Line, bool) {
	fileRaw, ok := payload["file"].(map[string]any)
	if !ok {
		return nil, false
	}
	encoded, err := json.Marshal(fileRaw)
	if err != nil {
		return nil, false
	}
	var input event.FileInput
	if err := json.Unmarshal(encoded, &input); err != nil {
		// Field types may disagree with the contract; salvage what decodes.
		input = event.FileInput{Path: asString(fileRaw["path"])}
	}
	if input.Path == "" {
		return nil, false
	}
	return Download{File: input}, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	case bool:
		if n {
			return 1
		}
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return parsed
		}
	}
	return 0
}
