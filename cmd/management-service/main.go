package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "coachflow/cmd/management-service/docs"
	"coachflow/internal/config"
	"coachflow/internal/logger"
	"coachflow/pkg/logging"
)

var configFile string

// @title           Coachflow Automation API
// @version         1.0
// @description     REST API for managing automation rules: trigger events, conditions and the actions they dispatch

// @host      localhost:8084
// @BasePath  /api/v1

// @schemes   http https

func main() {
	serve := serveCmd()
	rootCmd := &cobra.Command{
		Use:   "management-service",
		Short: "Automation rule management API",
		Long:  "Management Service provides a REST API for creating, editing and toggling automation rules",
		RunE:  serve.RunE,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")
	rootCmd.AddCommand(serve)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the management service",
		RunE: func(cmd *cobra.Command, args []string) error {
			boot := logging.Bootstrap()
			defer boot.Sync()

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
			}
			if configFile == "" {
				boot.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
				return fmt.Errorf("config file is required")
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				boot.Errorw("Failed to load config", "path", configFile, "error", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				boot.Errorw("Failed to init logger", "error", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting management service", "port", cfg.Server.Port)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(context.WithoutCancel(ctx))
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}
