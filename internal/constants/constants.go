package constants

import "time"

const (
	BrokerTypeAMQP     = "amqp"
	BrokerTypeRabbitMQ = "rabbitmq"
	BrokerTypeKafka    = "kafka"
	BrokerTypeMemory   = "memory"
)

const (
	DefaultBrokerHost      = "127.0.0.1"
	DefaultBrokerPort      = 5672
	DefaultBrokerUser      = "admin"
	DefaultBrokerPassword  = "admin"
	DefaultContainerPrefix = "mqdiag"
)

const (
	DefaultConnectTimeout        = 30 * time.Second
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultReconnectInitialDelay = 5 * time.Second
	DefaultReconnectMaxDelay     = 60 * time.Second
	DefaultReconnectMultiplier   = 2.0
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

const (
	HeaderContentType = "content-type"
	HeaderMessageID   = "message-id"
)

const (
	DefaultMessageTTL = time.Hour
)

const (
	DefaultQueue         = "freeswitch_events"
	DefaultProbeWindow   = 500 * time.Millisecond
	DefaultVerifyTimeout = 5 * time.Second
	DefaultVerifyDelay   = time.Second
	LinkCloseTimeout     = 2 * time.Second
)

// DefaultProbeCandidates lists the addressing spellings brokers commonly
// accept for the default queue. Each spelling is probed separately.
var DefaultProbeCandidates = []string{
	DefaultQueue,
	"queue." + DefaultQueue,
	"/queue/" + DefaultQueue,
	"queue://" + DefaultQueue,
	"test_queue",
}

const (
	FilterSourceStatic   = "static"
	FilterSourcePostgres = "postgres"
	FilterSourceMongoDB  = "mongodb"
)

const (
	FilterActionExclude = "exclude"
	FilterActionMask    = "mask"
	FilterActionInclude = "include"
	DefaultMaskValue    = "[REDACTED]"
)

const (
	FallbackSkip  = "skip"
	FallbackError = "error"
)

const (
	DefaultMongoDBName     = "mqdiag"
	DatabasePingTimeout    = 10 * time.Second
	PostgresMaxOpenConns   = 4
	PostgresConnMaxIdle    = 5 * time.Minute
	FilterRulesCollection  = "filter_rules"
	FilterRulesTable       = "filter_rules"
	DefaultReloadInterval  = 30 * time.Second
	MaxReloadJitterPercent = 10
)

const (
	DefaultHTTPPort  = 8080
	ShutdownTimeout  = 5 * time.Second
	DefaultRateRPS   = 20.0
	DefaultRateBurst = 40

	MaxRequestBodyBytes = 1 << 20
)
