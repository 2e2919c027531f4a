package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrapebridge/scrapebridge/internal/api"
	"github.com/scrapebridge/scrapebridge/internal/bus"
	"github.com/scrapebridge/scrapebridge/internal/clock"
	"github.com/scrapebridge/scrapebridge/internal/config"
	"github.com/scrapebridge/scrapebridge/internal/courses"
	"github.com/scrapebridge/scrapebridge/internal/logging"
	"github.com/scrapebridge/scrapebridge/internal/metrics"
	"github.com/scrapebridge/scrapebridge/internal/state"
	"github.com/scrapebridge/scrapebridge/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()
	eventBus := bus.New(cfg.Stream.MailboxSize, logger)
	runState := state.New(state.Config{
		LogCapacity:      cfg.History.LogCapacity,
		DownloadCapacity: cfg.History.DownloadCapacity,
		BaseDir:          cfg.Worker.WorkDir,
	}, eventBus, clk)
	sup := supervisor.New(supervisor.Config{
		Command:     cfg.Worker.Command,
		Script:      cfg.Worker.Script,
		WorkDir:     cfg.Worker.WorkDir,
		GracePeriod: cfg.GracePeriod(),
		Env: map[string]string{
			"BRIDGE_LOG_FORMAT":   "structured",
			"BRIDGE_UI_LOG_LEVEL": "info",
		},
	}, runState, logger)
	catalog := courses.New(courses.Config{
		Command:          cfg.Worker.Command,
		Script:           cfg.Worker.Script,
		WorkDir:          cfg.Worker.WorkDir,
		Timeout:          cfg.CourseTimeout(),
		CoursesFile:      cfg.Worker.CoursesFile,
		DefaultCourseURL: cfg.Worker.DefaultCourseURL,
	}, runState, clk, logger)
	server := api.NewServer(runState, eventBus, sup, catalog, clk, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", zap.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		// Failing to bind the listener is the one fatal startup error.
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker shutdown failed", zap.Error(err))
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
