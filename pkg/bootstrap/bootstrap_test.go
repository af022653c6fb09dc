package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqdiag/internal/broker"
	"mqdiag/internal/config"
	"mqdiag/internal/connection"
	"mqdiag/internal/constants"
	"mqdiag/internal/filtering"
	"mqdiag/internal/logger"
	apperrors "mqdiag/pkg/errors"
)

func testConfig() *config.Config {
	return &config.Config{
		Broker: config.BrokerConfig{
			Type:            constants.BrokerTypeMemory,
			Host:            "127.0.0.1",
			Port:            5672,
			ContainerPrefix: "bootstrap-test",
			ConnectTimeout:  200 * time.Millisecond,
			ConnectAttempts: 3,
			Reconnect: config.ReconnectConfig{
				InitialDelay: 10 * time.Millisecond,
				MaxDelay:     20 * time.Millisecond,
				Multiplier:   2,
			},
		},
		Diagnostics: config.DiagnosticsConfig{ProbeWindow: 100 * time.Millisecond},
	}
}

func TestInitBroker_Connects(t *testing.T) {
	base := NewBase(testConfig(), logger.NopLogger())
	mb := broker.NewMemoryBroker()

	require.NoError(t, base.InitBroker(context.Background(), mb))
	defer base.Shutdown(context.Background(), nil)

	assert.Equal(t, connection.StateOpen, base.Broker.State())
	assert.Nil(t, base.Breaker)

	record, err := base.NewPublisher(filtering.NopFilter{}).PublishRaw(context.Background(), "q", "hi")
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.True(t, base.NewVerifier().Verify(context.Background(), "q", time.Second))
}

func TestInitBroker_RetriesThenFails(t *testing.T) {
	base := NewBase(testConfig(), logger.NopLogger())
	mb := broker.NewMemoryBroker()
	mb.SetUnreachable(true)

	err := base.InitBroker(context.Background(), mb)
	require.Error(t, err)
	assert.True(t, apperrors.IsConnection(err))
	assert.Equal(t, 0, mb.Dials())
}

func TestInitFilter(t *testing.T) {
	cfg := testConfig()
	base := NewBase(cfg, logger.NopLogger())

	filter, svc, err := base.InitFilter(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, filtering.NopFilter{}, filter)
	assert.Nil(t, svc)

	cfg.Filtering = config.FilteringConfig{
		Enabled: true,
		Source:  constants.FilterSourceStatic,
		Rules: []config.RuleConfig{
			{ID: "ok", Action: constants.FilterActionExclude, Fields: []string{"a"}, Enabled: true},
			{ID: "bad", Action: constants.FilterActionMask, Condition: `event.`, Enabled: true},
		},
	}
	filter, svc, err = base.InitFilter(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, svc)
	assert.Equal(t, filter, svc)
	require.Len(t, svc.Rules(), 1)
	assert.Equal(t, "ok", svc.Rules()[0].ID)

	cfg.Filtering.Source = constants.FilterSourcePostgres
	_, _, err = base.InitFilter(context.Background(), nil, nil)
	assert.Error(t, err)
}
