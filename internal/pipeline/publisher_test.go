package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqdiag/internal/broker"
	"mqdiag/internal/config"
	"mqdiag/internal/connection"
	"mqdiag/internal/constants"
	"mqdiag/internal/filtering"
	"mqdiag/internal/logger"
	"mqdiag/pkg/circuitbreaker"
	apperrors "mqdiag/pkg/errors"
	"mqdiag/pkg/models"
)

func connectedManager(t *testing.T, mb *broker.MemoryBroker) *connection.Manager {
	t.Helper()
	m := connection.NewManager(connection.Options{
		Dial:           broker.DialOptions{Host: "127.0.0.1", Port: 5672, ContainerID: "pipeline-test"},
		ConnectTimeout: time.Second,
	}, mb, logger.NopLogger())
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Disconnect(context.Background()) })
	return m
}

func receiveOne(t *testing.T, m *connection.Manager, dest string) *broker.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := m.OpenReceiver(ctx, dest, broker.ReceiverOptions{AutoAccept: true})
	require.NoError(t, err)
	defer r.Close(context.Background())
	msg, err := r.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func TestPublish_StructuredEvent(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	p := NewPublisher(m, filtering.NopFilter{}, nil, Options{Durable: true, TTL: time.Hour}, logger.NopLogger())

	record, err := p.Publish(context.Background(), "q", `{"a":1}`)
	require.NoError(t, err)
	assert.True(t, record.Success)
	assert.Equal(t, `{"a":1}`, record.Payload)
	assert.Equal(t, constants.ContentTypeJSON, record.ContentType)
	assert.NotEmpty(t, record.MessageID)
	assert.False(t, record.SentAt.IsZero())

	msg := receiveOne(t, m, "q")
	assert.Equal(t, `{"a":1}`, string(msg.Body))
	assert.Equal(t, constants.ContentTypeJSON, msg.ContentType)
	assert.Equal(t, record.MessageID, msg.MessageID)
	assert.Equal(t, "q", msg.Address)
}

func TestPublish_DoubleEncodedEvent(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	p := NewPublisher(m, filtering.NopFilter{}, nil, Options{}, logger.NopLogger())

	record, err := p.Publish(context.Background(), "q", []byte(`"{\"event\":\"HEARTBEAT\",\"n\":12345678901234567890}"`))
	require.NoError(t, err)
	assert.Equal(t, `{"event":"HEARTBEAT","n":12345678901234567890}`, record.Payload)
}

func TestPublish_SerializesFilteredValue(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)

	svc, err := filtering.NewService(filtering.NewStaticRepository([]config.RuleConfig{
		{ID: "mask-secrets", Action: constants.FilterActionMask, Fields: []string{"password"}, Enabled: true},
	}), config.FilteringConfig{}, logger.NopLogger())
	require.NoError(t, err)
	require.NoError(t, svc.ReloadRules(context.Background()))

	p := NewPublisher(m, svc, nil, Options{}, logger.NopLogger())
	record, err := p.Publish(context.Background(), "q", map[string]interface{}{"user": "bob", "password": "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, `{"password":"[REDACTED]","user":"bob"}`, record.Payload)
}

func TestPublish_NormalizationFailureSendsNothing(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	p := NewPublisher(m, filtering.NopFilter{}, nil, Options{}, logger.NopLogger())

	record, err := p.Publish(context.Background(), "q", "{not json")
	require.Error(t, err)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageNormalize, perr.Stage)
	assert.Equal(t, "q", perr.Destination)
	assert.ErrorIs(t, err, apperrors.ErrNormalization)
	assert.False(t, record.Success)
	assert.Equal(t, "NORMALIZATION_ERROR", record.ErrorCode)
	assert.Equal(t, 0, mb.Depth("q"))
}

type failingFilter struct{ err error }

func (f failingFilter) FilterEvent(context.Context, interface{}, string) (models.FilterResult, error) {
	return models.FilterResult{}, f.err
}

func TestPublish_FilterFailure(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	p := NewPublisher(m, failingFilter{err: errors.New("rules store down")}, nil, Options{}, logger.NopLogger())

	_, err := p.Publish(context.Background(), "q", `{"a":1}`)
	require.Error(t, err)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageFilter, perr.Stage)
	assert.ErrorIs(t, err, apperrors.ErrFilter)
	assert.Contains(t, err.Error(), "rules store down")
	assert.Equal(t, 0, mb.Depth("q"))
}

func TestPublish_NotConnectedFailsFast(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connection.NewManager(connection.Options{}, mb, logger.NopLogger())
	p := NewPublisher(m, filtering.NopFilter{}, nil, Options{}, logger.NopLogger())

	start := time.Now()
	_, err := p.PublishRaw(context.Background(), "q", "hello")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StageSend, perr.Stage)
	assert.True(t, apperrors.IsNotConnected(err))
}

func TestPublish_DeniedDestinationIsSendError(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Deny("forbidden")
	m := connectedManager(t, mb)
	p := NewPublisher(m, filtering.NopFilter{}, nil, Options{}, logger.NopLogger())

	_, err := p.PublishRaw(context.Background(), "forbidden", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSend)
}

func TestPublishRaw_SendsTextVerbatim(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	p := NewPublisher(m, filtering.NopFilter{}, nil, Options{}, logger.NopLogger())

	record, err := p.PublishRaw(context.Background(), "q", `{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, constants.ContentTypeText, record.ContentType)

	msg := receiveOne(t, m, "q")
	assert.Equal(t, `{"a":1}`, string(msg.Body))
	assert.Equal(t, constants.ContentTypeText, msg.ContentType)
}

type stubSender struct {
	err   error
	sends int
}

func (s *stubSender) Address() string { return "q" }

func (s *stubSender) Send(context.Context, broker.Envelope) error {
	s.sends++
	return s.err
}

func (s *stubSender) Close(context.Context) error { return nil }

type stubProvider struct{ sender *stubSender }

func (p stubProvider) Sender(context.Context, string) (broker.Sender, error) {
	return p.sender, nil
}

func TestPublish_BreakerOpensAfterSendFailures(t *testing.T) {
	sender := &stubSender{err: errors.New("link detached")}
	breaker := circuitbreaker.NewWrapper(circuitbreaker.Config{
		Name:    "pipeline-test",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
	})
	p := NewPublisher(stubProvider{sender: sender}, filtering.NopFilter{}, breaker, Options{}, logger.NopLogger())

	_, err := p.PublishRaw(context.Background(), "q", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSend)
	assert.Contains(t, err.Error(), "link detached")

	_, err = p.PublishRaw(context.Background(), "q", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSend)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 1, sender.sends)
}
