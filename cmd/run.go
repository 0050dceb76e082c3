package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lucyhq/lucy/internal/bootstrap"
	"github.com/lucyhq/lucy/internal/chat"
	"github.com/lucyhq/lucy/internal/config"
	"github.com/lucyhq/lucy/internal/gateway"
)

func runGateway() error {
	initLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", cfgPath, "error", err)
		return err
	}
	if port > 0 {
		cfg.Gateway.Port = port
	}

	release, err := gateway.AcquireLock(cfg.Gateway.StateDir, force)
	if err != nil {
		slog.Error("startup blocked", "error", err)
		return err
	}
	defer release()

	var chatClient chat.Client
	if !httpOnly {
		if cfg.Chat.BotToken == "" || cfg.Chat.AppToken == "" {
			err := fmt.Errorf("chat tokens missing; set LUCY_SLACK_BOT_TOKEN and LUCY_SLACK_APP_TOKEN or run with --http")
			slog.Error("startup blocked", "error", err)
			return err
		}
		chatClient = chat.NewSlackClient(cfg.Chat.BotToken, cfg.Chat.AppToken)
	}

	assetsDir := assetsDirFor(cfgPath)
	if created, err := bootstrap.EnsureAssets(assetsDir); err != nil {
		slog.Error("asset bootstrap failed", "error", err)
		return err
	} else if len(created) > 0 {
		slog.Info("seeded default assets", "dir", assetsDir, "files", created)
	}
	if cfg.Workspaces.SeedsDir != "" {
		if !filepath.IsAbs(cfg.Workspaces.SeedsDir) {
			cfg.Workspaces.SeedsDir = filepath.Join(filepath.Dir(cfgPath), cfg.Workspaces.SeedsDir)
		}
		if _, err := bootstrap.EnsureSeeds(cfg.Workspaces.SeedsDir); err != nil {
			slog.Error("seed bootstrap failed", "error", err)
			return err
		}
	}

	srv, err := gateway.New(cfg, chatClient, assetsDir)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("lucy starting", "version", Version, "http_only", httpOnly, "config", cfgPath)
	if err := srv.Run(ctx); err != nil {
		slog.Error("gateway exited", "error", err)
		return err
	}
	slog.Info("lucy stopped")
	return nil
}

// assetsDirFor locates the prompt assets next to the config file, falling
// back to ./assets.
func assetsDirFor(cfgPath string) string {
	candidate := filepath.Join(filepath.Dir(cfgPath), "assets")
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate
	}
	return "assets"
}
