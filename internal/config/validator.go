package config

import (
	"fmt"

	"mqdiag/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	errors = append(errors, validateBroker(cfg.Broker)...)
	errors = append(errors, validatePublish(cfg.Publish)...)
	errors = append(errors, validateDiagnostics(cfg.Diagnostics)...)
	errors = append(errors, validateFiltering(cfg.Filtering, cfg.Database)...)

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateBroker(cfg BrokerConfig) []error {
	var errs []error

	switch cfg.Type {
	case constants.BrokerTypeAMQP, constants.BrokerTypeRabbitMQ, constants.BrokerTypeMemory:
	case constants.BrokerTypeKafka:
		if len(cfg.Kafka.Brokers) == 0 && cfg.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   "broker.kafka.brokers",
				Message: "at least one broker or broker.host is required",
			})
		}
	case "":
		errs = append(errs, &ValidationError{Field: "broker.type", Message: "broker type is required"})
	default:
		errs = append(errs, &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unsupported broker type %q (amqp, rabbitmq, kafka, memory)", cfg.Type),
		})
	}

	if cfg.Type != constants.BrokerTypeMemory && cfg.Type != constants.BrokerTypeKafka {
		if cfg.Host == "" {
			errs = append(errs, &ValidationError{Field: "broker.host", Message: "host is required"})
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			errs = append(errs, &ValidationError{
				Field:   "broker.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
			})
		}
	}

	if cfg.ConnectTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "broker.connect_timeout", Message: "connect timeout must be positive"})
	}
	if cfg.ConnectAttempts < 1 {
		errs = append(errs, &ValidationError{Field: "broker.connect_attempts", Message: "must be at least 1"})
	}

	if cfg.Reconnect.Enabled {
		if cfg.Reconnect.InitialDelay <= 0 {
			errs = append(errs, &ValidationError{Field: "broker.reconnect.initial_delay", Message: "must be positive"})
		}
		if cfg.Reconnect.MaxDelay < cfg.Reconnect.InitialDelay {
			errs = append(errs, &ValidationError{
				Field:   "broker.reconnect.max_delay",
				Message: "must not be lower than initial_delay",
			})
		}
	}

	return errs
}

func validatePublish(cfg PublishConfig) []error {
	var errs []error
	if cfg.SettleMode != "settled" && cfg.SettleMode != "unsettled" {
		errs = append(errs, &ValidationError{
			Field:   "publish.settle_mode",
			Message: fmt.Sprintf("must be settled or unsettled, got %q", cfg.SettleMode),
		})
	}
	if cfg.TTL < 0 {
		errs = append(errs, &ValidationError{Field: "publish.ttl", Message: "must not be negative"})
	}
	return errs
}

func validateDiagnostics(cfg DiagnosticsConfig) []error {
	var errs []error
	if cfg.ProbeWindow <= 0 {
		errs = append(errs, &ValidationError{Field: "diagnostics.probe_window", Message: "must be positive"})
	}
	if cfg.VerifyTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "diagnostics.verify_timeout", Message: "must be positive"})
	}
	return errs
}

func validateFiltering(cfg FilteringConfig, db DatabaseConfig) []error {
	if !cfg.Enabled {
		return nil
	}

	var errs []error
	switch cfg.Source {
	case constants.FilterSourceStatic:
		for i, rule := range cfg.Rules {
			if err := validateRule(i, rule); err != nil {
				errs = append(errs, err)
			}
		}
	case constants.FilterSourcePostgres:
		if db.Postgres.Host == "" || db.Postgres.DBName == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.postgres",
				Message: "host and dbname are required when filtering.source is postgres",
			})
		}
	case constants.FilterSourceMongoDB:
		if db.MongoDB.URI == "" {
			errs = append(errs, &ValidationError{
				Field:   "database.mongodb.uri",
				Message: "uri is required when filtering.source is mongodb",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "filtering.source",
			Message: fmt.Sprintf("unsupported rule source %q", cfg.Source),
		})
	}

	if cfg.Fallback.OnError != constants.FallbackError && cfg.Fallback.OnError != constants.FallbackSkip {
		errs = append(errs, &ValidationError{
			Field:   "filtering.fallback.on_error",
			Message: fmt.Sprintf("must be error or skip, got %q", cfg.Fallback.OnError),
		})
	}

	return errs
}

func validateRule(i int, rule RuleConfig) error {
	field := fmt.Sprintf("filtering.rules[%d]", i)
	if rule.ID == "" {
		return &ValidationError{Field: field + ".id", Message: "rule id is required"}
	}
	switch rule.Action {
	case constants.FilterActionExclude, constants.FilterActionMask, constants.FilterActionInclude:
	default:
		return &ValidationError{
			Field:   field + ".action",
			Message: fmt.Sprintf("unknown action %q", rule.Action),
		}
	}
	if len(rule.Fields) == 0 {
		return &ValidationError{Field: field + ".fields", Message: "at least one field is required"}
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 || cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read and write timeouts must be positive",
		}
	}

	return nil
}
