package config

import (
	"fmt"
	"time"
)

type Config struct {
	Broker         BrokerConfig         `mapstructure:"broker"`
	Publish        PublishConfig        `mapstructure:"publish"`
	Diagnostics    DiagnosticsConfig    `mapstructure:"diagnostics"`
	Filtering      FilteringConfig      `mapstructure:"filtering"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type BrokerConfig struct {
	Type              string          `mapstructure:"type"`
	Host              string          `mapstructure:"host"`
	Port              int             `mapstructure:"port"`
	Username          string          `mapstructure:"username"`
	Password          string          `mapstructure:"password"`
	VHost             string          `mapstructure:"vhost"`
	TLS               bool            `mapstructure:"tls"`
	ContainerPrefix   string          `mapstructure:"container_prefix"`
	ConnectTimeout    time.Duration   `mapstructure:"connect_timeout"`
	ConnectAttempts   int             `mapstructure:"connect_attempts"`
	HeartbeatInterval time.Duration   `mapstructure:"heartbeat_interval"`
	Reconnect         ReconnectConfig `mapstructure:"reconnect"`
	Kafka             KafkaConfig     `mapstructure:"kafka"`
}

// Redacted returns a copy that is safe to log.
func (c BrokerConfig) Redacted() BrokerConfig {
	if c.Password != "" {
		c.Password = "****"
	}
	return c
}

func (c BrokerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ReconnectConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	GroupID      string        `mapstructure:"group_id"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type PublishConfig struct {
	ContentType    string        `mapstructure:"content_type"`
	RawContentType string        `mapstructure:"raw_content_type"`
	SettleMode     string        `mapstructure:"settle_mode"` // "settled" (default) or "unsettled"
	Durable        bool          `mapstructure:"durable"`
	TTL            time.Duration `mapstructure:"ttl"`
	DefaultQueue   string        `mapstructure:"default_queue"`
}

type DiagnosticsConfig struct {
	ProbeWindow     time.Duration `mapstructure:"probe_window"`
	ProbeCandidates []string      `mapstructure:"probe_candidates"`
	VerifyTimeout   time.Duration `mapstructure:"verify_timeout"`
	VerifyDelay     time.Duration `mapstructure:"verify_delay"`
}

type FilteringConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Source   string         `mapstructure:"source"` // "static", "postgres", "mongodb"
	Rules    []RuleConfig   `mapstructure:"rules"`
	Reload   ReloadConfig   `mapstructure:"reload"`
	Fallback FallbackConfig `mapstructure:"fallback"`
}

type RuleConfig struct {
	ID        string   `mapstructure:"id"`
	Name      string   `mapstructure:"name"`
	Condition string   `mapstructure:"condition"`
	Action    string   `mapstructure:"action"`
	Fields    []string `mapstructure:"fields"`
	Priority  int      `mapstructure:"priority"`
	Enabled   bool     `mapstructure:"enabled"`
}

type FallbackConfig struct {
	OnError string `mapstructure:"on_error"` // "error" (default) or "skip"
}

type ReloadConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type ServerConfig struct {
	Port         int             `mapstructure:"port"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"` // always_on, always_off, traceidratio, parentbased_*
	Param float64 `mapstructure:"param"`
}
