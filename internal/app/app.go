// Package app assembles the service: configuration, stores, Telegram
// client, services, router, and the webhook server.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/assistant"
	"github.com/yerzhan-dev/manybot/internal/bot"
	"github.com/yerzhan-dev/manybot/internal/config"
	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/server"
	"github.com/yerzhan-dev/manybot/internal/services/broadcast"
	"github.com/yerzhan-dev/manybot/internal/services/registration"
	"github.com/yerzhan-dev/manybot/internal/services/schedule"
	"github.com/yerzhan-dev/manybot/internal/services/session"
	"github.com/yerzhan-dev/manybot/internal/store"
	"github.com/yerzhan-dev/manybot/internal/store/file"
	"github.com/yerzhan-dev/manybot/internal/store/postgres"
	"github.com/yerzhan-dev/manybot/internal/telegram"
	"github.com/yerzhan-dev/manybot/internal/vault"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

// Run wires everything together and blocks until a shutdown signal or
// a fatal server error.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: local JSON files always, Postgres in front when
	// configured. The primary being down at startup is not fatal; the
	// failover store retries it per call.
	var primary store.Backend
	if cfg.Database.Enabled() {
		pg, err := postgres.New(ctx, &cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to set up postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Warn("postgres migration failed, continuing on fallback", zap.Error(err))
		}
		primary = pg
	}
	st := store.NewFailover(primary, file.New(cfg.Storage.DataDir), log)
	reg := registry.New(st)

	v, err := vault.New(cfg.Crypto.Key)
	if err != nil {
		return fmt.Errorf("failed to set up vault: %w", err)
	}
	if v.Passthrough() {
		log.Warn("no token encryption key configured, credentials are stored in clear")
	}

	api := telegram.NewClient(cfg.Telegram.APIEndpoint)

	registrations := registration.NewService(reg, v, api, cfg.Telegram.BaseURL, log)
	broadcasts := broadcast.NewEngine(reg, v, api, cfg.Broadcast.Workers, log)
	sessions := session.NewManager(cfg.Session.TTL)

	runner, err := schedule.NewRunner(reg, api, cfg.Telegram.ParentToken, log)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	defer func() { _ = runner.Shutdown() }()

	var asst bot.Assistant
	if cfg.Assistant.APIKey != "" {
		a, err := assistant.New(ctx, cfg.Assistant.APIKey, cfg.Assistant.Model, log)
		if err != nil {
			return fmt.Errorf("failed to create assistant: %w", err)
		}
		asst = a
	}

	if cfg.Telegram.BootstrapAdminID != 0 {
		if err := reg.AddAdmin(ctx, cfg.Telegram.BootstrapAdminID); err != nil {
			return fmt.Errorf("failed to seed bootstrap admin: %w", err)
		}
	}

	router := bot.NewRouter(bot.Deps{
		Registry:      reg,
		Sessions:      sessions,
		Registrations: registrations,
		Broadcasts:    broadcasts,
		Schedules:     runner,
		Assistant:     asst,
		API:           api,
		Vault:         v,
		ParentToken:   cfg.Telegram.ParentToken,
		Log:           log,
	})

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := runner.Every(time.Minute, "session-sweeper", func() {
		if removed := sessions.CleanupExpired(); removed > 0 {
			log.Debug("swept expired sessions", zap.Int("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("failed to arm session sweeper: %w", err)
	}

	installParentWebhook(ctx, cfg, api, log)

	srv := server.New(cfg.Server, router, cfg.Telegram.ParentToken, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		// Start returns once in-flight requests have drained; leaving
		// before that would cut them off mid-response.
		return <-serverErr
	case err := <-serverErr:
		cancel()
		return err
	}
}

// installParentWebhook points the parent bot at our own webhook URL.
// Failure leaves the service up; Telegram just cannot reach it until
// the webhook is fixed by hand.
func installParentWebhook(ctx context.Context, cfg *config.Config, api telegram.API, log logger.Logger) {
	hookCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	url := strings.TrimSuffix(cfg.Telegram.BaseURL, "/") + "/" + cfg.Telegram.ParentToken
	if err := api.SetWebhook(hookCtx, cfg.Telegram.ParentToken, url); err != nil {
		log.Warn("failed to install parent webhook", zap.Error(err))
		return
	}
	log.Info("parent webhook installed")
}
