package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/raeldev/apihub/internal/auth"
	"github.com/raeldev/apihub/internal/catalog"
	"github.com/raeldev/apihub/internal/chat"
	"github.com/raeldev/apihub/internal/config"
	"github.com/raeldev/apihub/internal/quota"
	"github.com/raeldev/apihub/internal/secrets"
	"github.com/raeldev/apihub/internal/server"
	"github.com/raeldev/apihub/internal/storage"
	"github.com/raeldev/apihub/internal/store"
	"github.com/raeldev/apihub/internal/task"
	"github.com/raeldev/apihub/internal/telemetry"
	"github.com/raeldev/apihub/internal/upstream"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub HTTP server",
		Long:  "Starts the HTTP server, the session and task sweepers, and the config watcher, then runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address override")
	return cmd
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("config ok: addr=%s backend=%s models=%d\n",
				cfg.Server.Addr, cfg.Storage.Backend, len(cfg.Chat.Models))
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath, newSecretResolver())
}

// newSecretResolver picks a resolver for references in the config file.
// vault(...) refs are served when VAULT_ADDR is set; env(...) refs always work.
func newSecretResolver() secrets.Resolver {
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		return secrets.NewVaultResolver(addr, os.Getenv("VAULT_TOKEN"))
	}
	return secrets.NewEnvResolver()
}

func newHubLogger(cfg *config.Config) *slog.Logger {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	handler := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(level)).Handler()

	// Owner key must never surface in log output.
	return slog.New(secrets.NewRedactor(handler, cfg.Tasks.OwnerKey))
}

func newUploader(cfg *config.Config) (storage.Uploader, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Uploader(context.Background(), cfg.Storage.S3Bucket,
			storage.WithS3Prefix(cfg.Storage.S3Prefix),
			storage.WithS3PublicURL(cfg.Storage.S3PublicURL))
	default:
		return storage.NewCatboxUploader(cfg.Storage.CatboxURL), nil
	}
}

func runServe(cfg *config.Config) error {
	logger := newHubLogger(cfg)

	connector := upstream.NewHTTPConnector(upstream.WithReferer(cfg.Chat.PageURL))

	registryOpts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithIdleMax(cfg.Chat.IdleMax),
	}
	if len(cfg.Chat.Models) > 0 {
		registryOpts = append(registryOpts, chat.WithModels(cfg.Chat.Models))
	}
	registry := chat.NewRegistry(connector, cfg.Chat.PageURL, cfg.Chat.AjaxURL, registryOpts...)

	counter := quota.New(
		quota.WithLimit(cfg.Quota.DailyLimit),
		quota.WithWindow(cfg.Quota.Window))

	uploader, err := newUploader(cfg)
	if err != nil {
		return fmt.Errorf("storage backend: %w", err)
	}

	jobs := task.NewHTTPJobClient(cfg.Tasks.JobBaseURL)
	tracker := task.NewTracker(connector, jobs, uploader, counter,
		task.WithOwnerKey(cfg.Tasks.OwnerKey),
		task.WithResultBase(cfg.Tasks.ResultBaseURL),
		task.WithPolling(cfg.Tasks.PollInterval, cfg.Tasks.MaxPollAttempts),
		task.WithRetention(cfg.Tasks.Retention),
		task.WithTrackerLogger(logger))

	manifest, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("endpoint catalog: %w", err)
	}

	limiter := auth.NewRateLimiter(auth.RateLimitConfig{
		RequestsPerSecond: float64(cfg.Server.RateLimit),
		Burst:             cfg.Server.RateBurst,
	})

	srv := server.NewServer(registry, tracker, counter, manifest,
		server.WithOwnerKey(cfg.Tasks.OwnerKey),
		server.WithRateLimiter(limiter),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		server.WithLogger(logger))

	sweeper := store.NewSweeper(logger)
	if err := sweeper.Schedule(cfg.Chat.SweepSpec, "chat_sessions", registry.Sweep); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	if err := sweeper.Schedule(cfg.Tasks.SweepSpec, "tasks", tracker.Sweep); err != nil {
		return fmt.Errorf("schedule task sweep: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sweeper.Start()
		<-ctx.Done()
		sweeper.Stop()
		return nil
	})

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, newSecretResolver(), logger, func(next *config.Config) {
			// Quota limits apply live; everything else needs a restart.
			counter.SetLimits(next.Quota.DailyLimit, next.Quota.Window)
			logger.Info("applied reloaded quota limits",
				"daily_limit", next.Quota.DailyLimit, "window", next.Quota.Window.String())
		})
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		g.Go(func() error {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		tracker.Wait()
		return nil
	})

	return g.Wait()
}
