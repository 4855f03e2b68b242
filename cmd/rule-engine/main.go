package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"coachflow/internal/broker"
	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/pkg/bootstrap"
	"coachflow/pkg/logging"
	"coachflow/pkg/models"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rule-engine",
		Short: "Automation rule engine",
		Long:  "Rule engine consumes domain events, matches automation rules and dispatches their actions",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(topologyCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logger.Logger, error) {
	boot := logging.Bootstrap()
	defer boot.Sync()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			boot.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		boot.Errorw("Failed to load config", "path", configFile, "error", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		boot.Errorw("Failed to init logger", "error", err)
		return nil, nil, err
	}

	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the rule engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting rule engine",
				"broker", cfg.Broker.Type,
				"evaluate_conditions", cfg.Engine.EvaluateConditions,
			)

			err = bootstrap.Supervise(ctx, constants.ServiceRuleEngine, cfg.Engine.ReconnectDelay, log, func(ctx context.Context) error {
				app := NewApp(cfg, log)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
					defer cancel()
					if err := app.Shutdown(shutdownCtx); err != nil {
						log.Warnw("Shutdown finished with errors", "error", err)
					}
				}()

				if err := app.Initialize(ctx); err != nil {
					log.ErrorwCtx(ctx, "Failed to initialize rule engine", "error", err)
					return err
				}

				log.InfowCtx(ctx, "Rule engine running")
				return app.Run(ctx)
			})
			if err != nil {
				log.ErrorwCtx(ctx, "Rule engine stopped with error", "error", err)
				return err
			}

			log.InfowCtx(ctx, "Shutdown complete")
			return nil
		},
	}
}

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Declare broker exchanges, queues and topics, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), constants.InitTimeout)
			defer cancel()

			base := bootstrap.NewBase(cfg, log)
			if err := base.InitBroker(ctx, constants.ServiceRuleEngine, nil); err != nil {
				return err
			}
			defer base.ShutdownBroker()

			log.Infow("Broker topology declared", "broker", cfg.Broker.Type)
			return nil
		},
	}
}

func publishCmd() *cobra.Command {
	var (
		eventName string
		payload   string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a domain event to the events exchange",
		Example: `  rule-engine publish --config config.yaml --event lead_created --payload '{"leadId":"L1"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := buildEnvelope(eventName, payload)
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			body, err := json.Marshal(envelope)
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), constants.InitTimeout)
			defer cancel()

			client, err := broker.New(cfg.Broker, "rule-engine-cli", nil, log)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Producer.PublishEvent(ctx, envelope.EventName, body); err != nil {
				return err
			}

			log.Infow("Event published", "event_name", envelope.EventName)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventName, "event", "", "Event name, used as the routing key")
	cmd.Flags().StringVar(&payload, "payload", "{}", "Event payload as a JSON object")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func buildEnvelope(eventName, payload string) (*models.EventEnvelope, error) {
	fields := map[string]interface{}{}
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &fields); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}

	envelope := models.NewEventEnvelopeBuilder(eventName).WithPayload(fields).Build()
	if err := models.ValidateEventEnvelope(envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}
