package bootstrap

import (
	"context"
	"fmt"
	"time"

	"mqdiag/internal/broker"
	"mqdiag/internal/config"
	"mqdiag/internal/connection"
	"mqdiag/internal/diagnostics"
	"mqdiag/internal/logger"
	"mqdiag/internal/pipeline"
	"mqdiag/pkg/circuitbreaker"
	"mqdiag/pkg/ids"
	"mqdiag/pkg/metrics"
	"mqdiag/pkg/retry"
)

// Base owns the broker session and everything built on top of it.
type Base struct {
	Config  *config.Config
	Logger  logger.Logger
	Broker  *connection.Manager
	Breaker *circuitbreaker.Wrapper
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

// InitBroker creates the connection manager and connects. A nil dialer means
// the one selected by broker.type. Connect is retried up to
// broker.connect_attempts times with the reconnect backoff.
func (b *Base) InitBroker(ctx context.Context, dialer broker.Dialer) error {
	if dialer == nil {
		d, err := broker.NewDialer(b.Config.Broker, b.Logger)
		if err != nil {
			return fmt.Errorf("failed to create dialer: %w", err)
		}
		dialer = d
	}

	containerID := ids.NewContainerID(b.Config.Broker.ContainerPrefix)
	opts := connection.OptionsFromConfig(b.Config.Broker, b.Config.Publish, containerID)
	b.Broker = connection.NewManager(opts, dialer, b.Logger)

	if b.Config.CircuitBreaker.Enabled {
		b.Breaker = circuitbreaker.NewWrapper(circuitbreaker.FromConfig("broker-send", b.Config.CircuitBreaker))
	}

	attempts := b.Config.Broker.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := retry.Policy{
		MaxAttempts:     attempts,
		InitialInterval: b.Config.Broker.Reconnect.InitialDelay,
		MaxInterval:     b.Config.Broker.Reconnect.MaxDelay,
		Multiplier:      b.Config.Broker.Reconnect.Multiplier,
	}

	err := retry.RetryWithCallback(ctx, policy, func() error {
		return b.Broker.Connect(ctx)
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncConnectAttempt("initial", "retry")
		b.Logger.WarnwCtx(ctx, "Broker connect failed, retrying",
			"attempt", attempt,
			"next_delay", next,
			"error", err,
		)
	})
	if err != nil {
		return err
	}

	b.Logger.InfowCtx(ctx, "Broker connected",
		"broker", b.Config.Broker.Redacted().Address(),
		"type", b.Config.Broker.Type,
		"container_id", containerID,
	)
	return nil
}

func (b *Base) NewPublisher(filter pipeline.FilterService) *pipeline.Publisher {
	return pipeline.NewPublisher(b.Broker, filter, b.Breaker, pipeline.OptionsFromConfig(b.Config.Publish), b.Logger)
}

func (b *Base) NewProber() *diagnostics.Prober {
	return diagnostics.NewProber(b.Broker, b.Config.Diagnostics.ProbeWindow, b.Logger)
}

func (b *Base) NewVerifier() *diagnostics.Verifier {
	return diagnostics.NewVerifier(b.Broker, b.Logger)
}

func (b *Base) ShutdownBroker(ctx context.Context) []error {
	if b.Broker == nil {
		return nil
	}
	if err := b.Broker.Disconnect(ctx); err != nil {
		return []error{fmt.Errorf("broker disconnect error: %w", err)}
	}
	return nil
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownBroker(ctx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Shutdown complete")
	return nil
}
