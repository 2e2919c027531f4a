// Package courses lists the courses the worker can download. The worker is
// invoked in a one-shot listing mode; results are cached briefly because the
// listing spawns a full worker process.
package courses

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrapebridge/scrapebridge/internal/clock"
	"github.com/scrapebridge/scrapebridge/internal/event"
	"github.com/scrapebridge/scrapebridge/internal/state"
)

const (
	defaultTimeout  = 2 * time.Minute
	defaultCacheTTL = 5 * time.Minute
)

// Course is one entry of the normalized course catalog.
type Course struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// Config describes how to invoke the worker's listing mode and the fallbacks
// used when it fails.
type Config struct {
	Command          string
	Script           string
	WorkDir          string
	Timeout          time.Duration
	CacheTTL         time.Duration
	CoursesFile      string
	DefaultCourseURL string
}

// Service loads and caches the course catalog.
type Service struct {
	cfg    Config
	st     *state.RunState
	clk    clock.Clock
	logger *zap.Logger

	mu       sync.Mutex
	cached   []Course
	cachedAt time.Time
}

// New constructs a Service.
func New(cfg Config, st *state.RunState, clk clock.Clock, logger *zap.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, st: st, clk: clk, logger: logger}
}

// List returns the course catalog, from cache when fresh unless force is set.
// Worker failures fall back to the previous catalog, then the configured
// courses file, then the configured default course URL. Failures are recorded
// in the run log so the dashboard surfaces them; List itself never errors.
func (s *Service) List(ctx context.Context, force bool) []Course {
	s.mu.Lock()
	cached := s.cached
	fresh := len(cached) > 0 && s.clk.Now().Sub(s.cachedAt) < s.cfg.CacheTTL
	s.mu.Unlock()
	if fresh && !force {
		return cached
	}

	courses, err := s.listFromWorker(ctx)
	if err != nil {
		s.reportFailure(err)
		if len(cached) > 0 {
			return cached
		}
		return s.fallback()
	}

	s.mu.Lock()
	s.cached = courses
	s.cachedAt = s.clk.Now()
	s.mu.Unlock()
	return courses
}

func (s *Service) listFromWorker(ctx context.Context) ([]Course, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	argv := []string{"--listCourses"}
	if s.cfg.Script != "" {
		argv = append([]string{s.cfg.Script}, argv...)
	}
	cmd := exec.CommandContext(ctx, s.cfg.Command, argv...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = append(os.Environ(), "BRIDGE_SILENT_LOGS=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("course listing timed out: %w", ctx.Err())
		}
		detail := bytes.TrimSpace(stderr.Bytes())
		if len(detail) == 0 {
			detail = bytes.TrimSpace(stdout.Bytes())
		}
		if len(detail) > 0 {
			return nil, fmt.Errorf("course listing failed: %s: %w", detail, err)
		}
		return nil, fmt.Errorf("course listing failed: %w", err)
	}

	payload := bytes.TrimSpace(stdout.Bytes())
	if len(payload) == 0 {
		return nil, fmt.Errorf("course listing returned no data")
	}
	return parseCatalog(payload)
}

// parseCatalog accepts either {"courses": [...]} or a bare array.
func parseCatalog(payload []byte) ([]Course, error) {
	var wrapped struct {
		Courses []map[string]any `json:"courses"`
	}
	if err := json.Unmarshal(payload, &wrapped); err == nil && wrapped.Courses != nil {
		return normalize(wrapped.Courses), nil
	}
	var bare []map[string]any
	if err := json.Unmarshal(payload, &bare); err == nil {
		return normalize(bare), nil
	}
	return nil, fmt.Errorf("course listing response has an unknown format")
}

func normalize(raw []map[string]any) []Course {
	courses := make([]Course, 0, len(raw))
	for _, item := range raw {
		if item == nil {
			continue
		}
		course := Course{
			ID:          firstString(item, "courseId", "id", "course_id"),
			Title:       firstString(item, "title", "name"),
			URL:         firstString(item, "url"),
			Description: firstString(item, "description", "summary", "shortname"),
		}
		if course.Title == "" {
			course.Title = "Untitled course"
		}
		courses = append(courses, course)
	}
	return courses
}

func (s *Service) fallback() []Course {
	if s.cfg.CoursesFile != "" {
		if data, err := os.ReadFile(s.cfg.CoursesFile); err == nil {
			var raw []map[string]any
			if err := json.Unmarshal(data, &raw); err == nil {
				return normalize(raw)
			}
			s.reportFailure(fmt.Errorf("courses file is invalid: %w", err))
		}
	}
	if s.cfg.DefaultCourseURL != "" {
		return []Course{{
			ID:          "default",
			Title:       "Default course",
			URL:         s.cfg.DefaultCourseURL,
			Description: "Course from the configured default URL",
		}}
	}
	return []Course{}
}

func (s *Service) reportFailure(err error) {
	s.logger.Warn("course listing failed", zap.Error(err))
	if s.st != nil {
		s.st.AppendLog(event.Log{
			Stream:  event.StreamStderr,
			Message: err.Error(),
		})
	}
}

func firstString(item map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := item[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
