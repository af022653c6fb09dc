package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"mqdiag/internal/constants"
)

// LoadConfig reads configFile (optional) and the environment into a validated Config.
// The ACTIVEMQ_* variables are honored as aliases for the broker connection settings.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVariables(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.type", constants.BrokerTypeAMQP)
	v.SetDefault("broker.host", constants.DefaultBrokerHost)
	v.SetDefault("broker.port", constants.DefaultBrokerPort)
	v.SetDefault("broker.username", constants.DefaultBrokerUser)
	v.SetDefault("broker.password", constants.DefaultBrokerPassword)
	v.SetDefault("broker.vhost", "")
	v.SetDefault("broker.tls", false)
	v.SetDefault("broker.container_prefix", constants.DefaultContainerPrefix)
	v.SetDefault("broker.connect_timeout", constants.DefaultConnectTimeout)
	v.SetDefault("broker.connect_attempts", 1)
	v.SetDefault("broker.heartbeat_interval", constants.DefaultHeartbeatInterval)
	v.SetDefault("broker.reconnect.enabled", true)
	v.SetDefault("broker.reconnect.initial_delay", constants.DefaultReconnectInitialDelay)
	v.SetDefault("broker.reconnect.max_delay", constants.DefaultReconnectMaxDelay)
	v.SetDefault("broker.reconnect.multiplier", constants.DefaultReconnectMultiplier)
	v.SetDefault("broker.kafka.brokers", []string{})
	v.SetDefault("broker.kafka.group_id", "")
	v.SetDefault("broker.kafka.batch_timeout", constants.KafkaBatchTimeout)
	v.SetDefault("broker.kafka.write_timeout", constants.KafkaWriteTimeout)

	v.SetDefault("publish.content_type", constants.ContentTypeJSON)
	v.SetDefault("publish.raw_content_type", constants.ContentTypeText)
	v.SetDefault("publish.settle_mode", "settled")
	v.SetDefault("publish.durable", true)
	v.SetDefault("publish.ttl", constants.DefaultMessageTTL)
	v.SetDefault("publish.default_queue", constants.DefaultQueue)

	v.SetDefault("diagnostics.probe_window", constants.DefaultProbeWindow)
	v.SetDefault("diagnostics.probe_candidates", constants.DefaultProbeCandidates)
	v.SetDefault("diagnostics.verify_timeout", constants.DefaultVerifyTimeout)
	v.SetDefault("diagnostics.verify_delay", constants.DefaultVerifyDelay)

	v.SetDefault("filtering.enabled", false)
	v.SetDefault("filtering.source", constants.FilterSourceStatic)
	v.SetDefault("filtering.reload.interval", constants.DefaultReloadInterval)
	v.SetDefault("filtering.fallback.on_error", constants.FallbackError)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.mongodb.uri", "")
	v.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)
	v.SetDefault("database.run_migrations", false)

	v.SetDefault("server.port", constants.DefaultHTTPPort)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.rps", constants.DefaultRateRPS)
	v.SetDefault("server.rate_limit.burst", constants.DefaultRateBurst)
	v.SetDefault("server.rate_limit.cleanup_interval", "1m")
	v.SetDefault("server.rate_limit.max_age", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("circuit_breaker.enabled", false)
	v.SetDefault("circuit_breaker.max_requests", 1)
	v.SetDefault("circuit_breaker.interval", "60s")
	v.SetDefault("circuit_breaker.timeout", "30s")
	v.SetDefault("circuit_breaker.failure_ratio", 0.6)
	v.SetDefault("circuit_breaker.min_requests", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "mqdiag")
	v.SetDefault("tracing.otlp.endpoint", "")
	v.SetDefault("tracing.otlp.insecure", true)
	v.SetDefault("tracing.sampler.type", "always")
	v.SetDefault("tracing.sampler.param", 1.0)
}

func bindEnvVariables(v *viper.Viper) error {
	bindings := map[string][]string{
		"broker.type":     {"BROKER_TYPE"},
		"broker.host":     {"BROKER_HOST", "ACTIVEMQ_HOST"},
		"broker.port":     {"BROKER_PORT", "ACTIVEMQ_PORT"},
		"broker.username": {"BROKER_USERNAME", "ACTIVEMQ_USER"},
		"broker.password": {"BROKER_PASSWORD", "ACTIVEMQ_PASS"},

		"database.postgres.host":     {"DATABASE_POSTGRES_HOST"},
		"database.postgres.port":     {"DATABASE_POSTGRES_PORT"},
		"database.postgres.user":     {"DATABASE_POSTGRES_USER"},
		"database.postgres.password": {"DATABASE_POSTGRES_PASSWORD"},
		"database.postgres.dbname":   {"DATABASE_POSTGRES_DBNAME"},
		"database.mongodb.uri":       {"DATABASE_MONGODB_URI"},

		"logging.level":         {"LOGGING_LEVEL"},
		"logging.format":        {"LOGGING_FORMAT"},
		"tracing.enabled":       {"TRACING_ENABLED"},
		"tracing.otlp.endpoint": {"TRACING_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
	}

	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}
}
