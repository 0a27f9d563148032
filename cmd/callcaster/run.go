package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/callcaster/internal/app"
	"github.com/ent0n29/callcaster/internal/config"
	"github.com/ent0n29/callcaster/internal/logging"
	"github.com/ent0n29/callcaster/internal/policy"
	"github.com/ent0n29/callcaster/internal/setup"
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if strings.TrimSpace(flagControlFile) != "" {
		cfg.ControlFile = flagControlFile
	}
	if strings.TrimSpace(flagLogLevel) != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagNoBrowser {
		cfg.OpenBrowser = false
	}
	return cfg, nil
}

func runSetup(ctx context.Context, cfg config.Config, logger *zap.Logger) (config.ControlConfig, error) {
	if _, err := setup.Run(ctx, setup.Config{
		Addr:        cfg.SetupAddr,
		ControlFile: cfg.ControlFile,
		OpenBrowser: cfg.OpenBrowser,
		Logger:      logger,
	}); err != nil {
		return config.ControlConfig{}, fmt.Errorf("setup: %w", err)
	}
	// Read back what was persisted so a broken file fails here rather than at first use.
	cc, err := config.LoadControl(cfg.ControlFile)
	if err != nil {
		return config.ControlConfig{}, fmt.Errorf("saved configuration is unreadable: %w", err)
	}
	return cc, nil
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cc, err := config.LoadControl(cfg.ControlFile)
	switch {
	case errors.Is(err, config.ErrConfigMissing):
		logger.Info("no account configuration, starting setup", zap.String("control_file", cfg.ControlFile))
		cc, err = runSetup(ctx, cfg, logger)
		if err != nil {
			return err
		}
		logger.Info("configuration saved, starting agent")
	case err != nil:
		return err
	}
	logger.Info("account configuration loaded",
		zap.Int("api_id", cc.APIID),
		zap.String("session", policy.RedactSecret(cc.SessionToken)),
		zap.String("voice", cc.Voice),
	)

	built, err := app.Build(ctx, cfg, cc, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}

	runErr := built.Run(ctx)
	if runErr != nil {
		logger.Error("agent stopped with error", zap.Error(runErr))
	} else {
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := built.Close(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Serve the setup form and overwrite the saved account configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.New(cfg.LogLevel, cfg.LogFormat)
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cc, err := runSetup(ctx, cfg, logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s (api id %d, voice %s)\n", cfg.ControlFile, cc.APIID, cc.Voice)
		return nil
	},
}
