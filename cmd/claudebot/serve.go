package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/claudebot/internal/agent"
	"github.com/ashureev/claudebot/internal/api"
	"github.com/ashureev/claudebot/internal/bot"
	"github.com/ashureev/claudebot/internal/coordinator"
	"github.com/ashureev/claudebot/internal/identity"
	"github.com/ashureev/claudebot/internal/store"
)

const (
	shutdownTimeout  = 10 * time.Second
	runDrainTimeout  = 15 * time.Second
	healthCheckLimit = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.Open(cfg.Session.Backend, cfg.Session.File, cfg.Session.DBPath, logger)
	if err != nil {
		slog.Error("Failed to open session store", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		slog.Error("Session store health check failed", "error", err)
		return err
	}
	slog.Info("Session store ready", "backend", cfg.Session.Backend)

	allow, err := identity.ParseAllowlist(cfg.Telegram.AdminIDs)
	if err != nil {
		slog.Error("Invalid TELEGRAM_ADMIN_IDS", "error", err)
		return err
	}
	allow.LogMode(logger)

	transcript, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		return err
	}
	defer func() { _ = transcript.Close() }()

	runtime := agent.NewCLIRuntime(cfg.Agent.Binary, logger)
	coord := coordinator.New(runtime, repo, coordinator.Config{
		AllowedTools:   cfg.Agent.AllowedTools,
		PermissionMode: cfg.Agent.PermissionMode,
		DefaultWorkDir: cfg.Agent.WorkDir,
	}, logger, coordinator.WithTranscript(transcript))

	client, err := bot.NewClient(cfg.Telegram.Token, logger)
	if err != nil {
		slog.Error("Failed to connect to Telegram", "error", err)
		return err
	}
	dispatcher := bot.NewDispatcher(coord, client, allow, logger)
	dispatcher.SetUsername(client.Username())

	mode := "polling"
	routerCfg := api.RouterConfig{}
	if cfg.UsesWebhook() {
		mode = "webhook"
		if err := client.SetWebhook(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			slog.Error("Failed to register webhook", "error", err)
			return err
		}
		routerCfg.Webhook = client.WebhookHandler(ctx, dispatcher.Dispatch)
		routerCfg.WebhookPath = cfg.Telegram.WebhookPath
		routerCfg.WebhookSecret = cfg.Telegram.WebhookSecret
	}
	routerCfg.Health = api.NewHealthHandler(repo, mode, healthCheckLimit)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr, "mode", mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "addr", cfg.GRPCHealthAddr, "error", err)
			return err
		}
		grpcHealth := api.NewGRPCHealth(repo, 0, logger)
		go func() {
			if err := grpcHealth.Serve(ctx, lis); err != nil {
				errCh <- fmt.Errorf("grpc health server: %w", err)
			}
		}()
	}

	if !cfg.UsesWebhook() {
		go func() {
			if err := client.Poll(ctx, dispatcher.Dispatch); err != nil {
				errCh <- fmt.Errorf("polling: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("Component failed", "error", runErr)
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	drained := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(runDrainTimeout):
		slog.Warn("Timed out waiting for in-flight runs")
	}

	slog.Info("Server stopped successfully")
	return runErr
}
