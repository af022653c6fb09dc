package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqdiag/internal/broker"
	"mqdiag/internal/connection"
	"mqdiag/internal/filtering"
	"mqdiag/internal/logger"
	"mqdiag/internal/pipeline"
	"mqdiag/pkg/jsoncodec"
)

func connectedManager(t *testing.T, mb *broker.MemoryBroker) *connection.Manager {
	t.Helper()
	m := connection.NewManager(connection.Options{
		Dial:           broker.DialOptions{Host: "127.0.0.1", Port: 5672, ContainerID: "diag-test"},
		ConnectTimeout: time.Second,
	}, mb, logger.NopLogger())
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Disconnect(context.Background()) })
	return m
}

func TestProbe_GhostQueueIsInaccessible(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	p := NewProber(m, 500*time.Millisecond, logger.NopLogger())

	start := time.Now()
	accessible := p.Probe(context.Background(), []string{"ghost-queue"})
	assert.Empty(t, accessible)
	assert.Less(t, time.Since(start), 600*time.Millisecond)
	assert.Equal(t, 0, mb.OpenReceivers())
}

func TestProbe_ReportsAccessibleInOrder(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Declare("freeswitch_events", "/queue/freeswitch_events", "secret")
	mb.Deny("secret")
	m := connectedManager(t, mb)
	p := NewProber(m, 200*time.Millisecond, logger.NopLogger())

	accessible := p.Probe(context.Background(), []string{
		"/queue/freeswitch_events",
		"freeswitch_events",
		"queue://freeswitch_events",
		"secret",
		"freeswitch_events",
	})

	assert.Equal(t, []string{"/queue/freeswitch_events", "freeswitch_events"}, accessible)
	assert.Equal(t, 0, mb.OpenReceivers())
}

func TestProbe_LateAttachIsOmittedAndClosed(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Declare("slow")
	mb.SetAttachDelay(150 * time.Millisecond)
	m := connectedManager(t, mb)
	p := NewProber(m, 50*time.Millisecond, logger.NopLogger())

	accessible := p.Probe(context.Background(), []string{"slow"})
	assert.Empty(t, accessible)

	assert.Eventually(t, func() bool {
		return mb.OpenReceivers() == 0
	}, time.Second, 10*time.Millisecond)
}

type panickingOpener struct{ ok string }

func (o panickingOpener) OpenReceiver(ctx context.Context, source string, opts broker.ReceiverOptions) (broker.Receiver, error) {
	if source == o.ok {
		return nil, context.Canceled
	}
	panic("adapter bug")
}

func TestProbe_AdapterPanicIsInaccessible(t *testing.T) {
	p := NewProber(panickingOpener{ok: "q2"}, 200*time.Millisecond, logger.NopLogger())

	assert.NotPanics(t, func() {
		assert.Empty(t, p.Probe(context.Background(), []string{"q1", "q2"}))
	})
}

func TestProbe_NotConnected(t *testing.T) {
	m := connection.NewManager(connection.Options{}, broker.NewMemoryBroker(), logger.NopLogger())
	p := NewProber(m, 50*time.Millisecond, logger.NopLogger())

	assert.Empty(t, p.Probe(context.Background(), []string{"q"}))
}

func TestVerify_PublishThenVerify(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	pub := pipeline.NewPublisher(m, filtering.NopFilter{}, nil, pipeline.Options{}, logger.NopLogger())
	v := NewVerifier(m, logger.NopLogger())

	record, err := pub.PublishRaw(context.Background(), "q", `{"a":1}`)
	require.NoError(t, err)
	require.True(t, record.Success)

	start := time.Now()
	assert.True(t, v.Verify(context.Background(), "q", 2*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, mb.OpenReceivers())
}

func TestVerify_TimesOutWithoutMessage(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Declare("empty")
	m := connectedManager(t, mb)
	v := NewVerifier(m, logger.NopLogger())

	start := time.Now()
	result := v.Check(context.Background(), "empty", 100*time.Millisecond)
	assert.False(t, result.Delivered)
	assert.Contains(t, result.Error, "VERIFICATION_TIMEOUT")
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, mb.OpenReceivers())
}

func TestVerify_ReceiverErrorIsNotDelivered(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := connectedManager(t, mb)
	v := NewVerifier(m, logger.NopLogger())

	result := v.Check(context.Background(), "missing", time.Second)
	assert.False(t, result.Delivered)
	assert.Contains(t, result.Error, "not-found")
}

func TestVerify_ConnectionDropIsNotDelivered(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Declare("q")
	m := connectedManager(t, mb)
	v := NewVerifier(m, logger.NopLogger())

	go func() {
		time.Sleep(50 * time.Millisecond)
		mb.DropConnections(broker.ErrConnClosed)
	}()

	start := time.Now()
	assert.False(t, v.Verify(context.Background(), "q", 2*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSession_Run(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Declare("freeswitch_events")
	m := connectedManager(t, mb)
	pub := pipeline.NewPublisher(m, filtering.NopFilter{}, nil, pipeline.Options{}, logger.NopLogger())

	s := NewSession(
		NewProber(m, 100*time.Millisecond, logger.NopLogger()),
		NewVerifier(m, logger.NopLogger()),
		pub,
		SessionOptions{
			Candidates:    []string{"freeswitch_events", "test_queue"},
			VerifyDelay:   10 * time.Millisecond,
			VerifyTimeout: time.Second,
			Source:        "mqdiag-test",
		},
		logger.NopLogger(),
	)

	report, err := s.Run(context.Background(), "freeswitch_events")
	require.NoError(t, err)
	assert.Equal(t, []string{"freeswitch_events"}, report.Accessible)
	assert.True(t, report.Publish.Success)
	require.True(t, report.Verify.Delivered)

	var payload map[string]interface{}
	require.NoError(t, jsoncodec.Unmarshal([]byte(report.Verify.Body), &payload))
	assert.Equal(t, true, payload["test"])
	assert.Equal(t, "freeswitch_events", payload["queue"])
}
