package bootstrap

import (
	"context"
	"fmt"

	"coachflow/internal/broker"
	"coachflow/internal/config"
	"coachflow/internal/logger"
	"coachflow/internal/scheduler"
)

type Base struct {
	Config   *config.Config
	Logger   logger.Logger
	Broker   *broker.Client
	Producer broker.Producer
	Consumer broker.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker connects to the configured broker and declares its topology.
// delayed backs PublishDelayed on brokers without native delayed delivery.
func (b *Base) InitBroker(ctx context.Context, serviceName string, delayed scheduler.Store) error {
	client, err := broker.New(b.Config.Broker, serviceName, delayed, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}

	if client.Topology != nil {
		if err := client.Topology.DeclareTopology(ctx); err != nil {
			client.Close()
			return fmt.Errorf("failed to declare broker topology: %w", err)
		}
	}

	if serviceName != "" {
		client.Consumer.SetServiceName(serviceName)
	}

	b.Broker = client
	b.Producer = client.Producer
	b.Consumer = client.Consumer
	return nil
}

func (b *Base) ShutdownBroker() []error {
	if b.Broker == nil {
		return nil
	}
	errs := b.Broker.Close()
	b.Broker = nil
	b.Producer = nil
	b.Consumer = nil
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownBroker()...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
