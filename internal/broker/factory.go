package broker

import (
	"fmt"

	"mqdiag/internal/config"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
)

func NewDialer(cfg config.BrokerConfig, log logger.Logger) (Dialer, error) {
	switch cfg.Type {
	case constants.BrokerTypeAMQP:
		return NewAMQPDialer(log), nil
	case constants.BrokerTypeRabbitMQ:
		return NewRabbitMQDialer(log), nil
	case constants.BrokerTypeKafka:
		return NewKafkaDialer(cfg.Kafka, log), nil
	case constants.BrokerTypeMemory:
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// DialOptionsFromConfig maps broker config onto transport dial options.
func DialOptionsFromConfig(cfg config.BrokerConfig, containerID string) DialOptions {
	return DialOptions{
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		VHost:       cfg.VHost,
		TLS:         cfg.TLS,
		ContainerID: containerID,
		IdleTimeout: cfg.HeartbeatInterval,
		Brokers:     cfg.Kafka.Brokers,
	}
}
