package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/tarpit/internal/config"
	"github.com/antoniostano/tarpit/internal/frequency"
	"github.com/antoniostano/tarpit/internal/httpapi"
	"github.com/antoniostano/tarpit/internal/markov"
	"github.com/antoniostano/tarpit/internal/observability"
	"github.com/antoniostano/tarpit/internal/session"
	"github.com/antoniostano/tarpit/internal/window"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tarpit HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	windows, err := window.NewStore(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("window store init failed: %w", err)
	}
	defer windows.Close()
	if mem, ok := windows.(*window.MemoryStore); ok {
		logger.Warn("REDIS_URL not set; frequency windows are kept in process memory")
		mem.StartJanitor(ctx, time.Minute)
	}

	store, err := markov.NewStore(ctx, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("markov store init failed: %w", err)
	}
	defer store.Close()
	logger.Info("markov store ready", "mode", markov.StoreMode(store))

	sessions := session.NewManager(cfg.WSMaxDuration+time.Minute, 10*time.Minute)
	sessions.SetExpireHook(func(s *session.Session) {
		logger.Warn("trickle session expired without closing", "session_id", s.ID, "ip", s.ClientIP, "paragraphs", s.Paragraphs)
	})
	sessions.StartJanitor(ctx, 30*time.Second)

	deps := httpapi.Deps{
		Frequency: frequency.NewTracker(windows, frequency.Config{
			KeyPrefix: cfg.FreqKeyPrefix,
			Window:    cfg.FreqWindow,
			TTL:       cfg.FreqTTL,
		}, frequency.WithLogger(logger)),
		Text:     newGenerator(cfg, store, metrics, logger),
		Windows:  windows,
		Markov:   store,
		Sessions: sessions,
		Metrics:  metrics,
		Logger:   logger,
	}
	if cfg.HopLimitEnabled() {
		deps.Hops = frequency.NewTracker(windows, frequency.Config{
			KeyPrefix: cfg.FreqKeyPrefix + "hops:",
			Window:    cfg.HopWindow,
			TTL:       cfg.HopWindow,
		}, frequency.WithLogger(logger))
	}

	api := httpapi.New(cfg, deps)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", cfg.BindAddr,
			"hop_limit", cfg.MaxHops,
			"stream_delay_min", cfg.StreamMinDelay,
			"stream_delay_max", cfg.StreamMaxDelay,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	logger.Info("shutdown complete")
	return nil
}

func newGenerator(cfg config.Config, store markov.TransitionReader, metrics *observability.Metrics, logger *slog.Logger) *markov.Generator {
	return markov.NewGenerator(store, markov.GeneratorConfig{
		TopK:    cfg.MarkovTopK,
		Timeout: cfg.GenerationTimeout,
	}, markov.WithGeneratorLogger(logger), markov.WithGeneratorMetrics(metrics))
}
