package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialMemory(t *testing.T, b *MemoryBroker) Conn {
	t.Helper()
	conn, err := b.Dial(context.Background(), DialOptions{Host: "mem", Port: 1, ContainerID: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestMemoryBroker_SendAndReceive(t *testing.T) {
	b := NewMemoryBroker()
	conn := dialMemory(t, b)

	s, err := conn.OpenSender(context.Background(), "q", SettleModeSettled)
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), Envelope{
		Body:        `{"a":1}`,
		To:          "q",
		ContentType: "application/json",
		MessageID:   "m-1",
		Headers:     map[string]string{"traceparent": "00-abc"},
	}))
	assert.Equal(t, 1, b.Depth("q"))

	r, err := conn.OpenReceiver(context.Background(), "q", ReceiverOptions{AutoAccept: true})
	require.NoError(t, err)
	msg, err := r.Receive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, `{"a":1}`, string(msg.Body))
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "m-1", msg.MessageID)
	assert.Equal(t, "00-abc", msg.Headers["traceparent"])
	assert.Equal(t, 0, b.Depth("q"))
}

func TestMemoryBroker_ReceiveWaitsForMessage(t *testing.T) {
	b := NewMemoryBroker()
	b.Declare("q")
	conn := dialMemory(t, b)

	r, err := conn.OpenReceiver(context.Background(), "q", ReceiverOptions{AutoAccept: true})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s, _ := conn.OpenSender(context.Background(), "q", SettleModeSettled)
		_ = s.Send(context.Background(), Envelope{Body: "late"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := r.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", string(msg.Body))
}

func TestMemoryBroker_ReceiveHonorsContext(t *testing.T) {
	b := NewMemoryBroker()
	b.Declare("q")
	conn := dialMemory(t, b)

	r, err := conn.OpenReceiver(context.Background(), "q", ReceiverOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBroker_ReceiverNeedsExistingDestination(t *testing.T) {
	b := NewMemoryBroker()
	conn := dialMemory(t, b)

	_, err := conn.OpenReceiver(context.Background(), "ghost-queue", ReceiverOptions{})
	assert.ErrorContains(t, err, "not-found")
}

func TestMemoryBroker_Deny(t *testing.T) {
	b := NewMemoryBroker()
	b.Declare("secret")
	b.Deny("secret")
	conn := dialMemory(t, b)

	_, err := conn.OpenReceiver(context.Background(), "secret", ReceiverOptions{})
	assert.ErrorContains(t, err, "unauthorized")
	_, err = conn.OpenSender(context.Background(), "secret", SettleModeSettled)
	assert.ErrorContains(t, err, "unauthorized")
}

func TestMemoryBroker_DropConnections(t *testing.T) {
	b := NewMemoryBroker()
	conn := dialMemory(t, b)
	s, err := conn.OpenSender(context.Background(), "q", SettleModeSettled)
	require.NoError(t, err)

	cause := errors.New("amqp:connection:forced")
	b.DropConnections(cause)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not marked done")
	}
	assert.Equal(t, cause, conn.Err())
	assert.ErrorIs(t, s.Send(context.Background(), Envelope{Body: "x"}), ErrConnClosed)
}

func TestMemoryBroker_Unreachable(t *testing.T) {
	b := NewMemoryBroker()
	b.SetUnreachable(true)

	_, err := b.Dial(context.Background(), DialOptions{Host: "10.0.0.9", Port: 5672})
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 0, b.Dials())
}

func TestParseSettleMode(t *testing.T) {
	assert.Equal(t, SettleModeUnsettled, ParseSettleMode("unsettled"))
	assert.Equal(t, SettleModeSettled, ParseSettleMode("settled"))
	assert.Equal(t, SettleModeSettled, ParseSettleMode(""))
	assert.Equal(t, "settled", SettleModeSettled.String())
}
