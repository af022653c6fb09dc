package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqdiag/internal/broker"
	"mqdiag/internal/logger"
	apperrors "mqdiag/pkg/errors"
)

func testOptions() Options {
	return Options{
		Dial: broker.DialOptions{
			Host:        "127.0.0.1",
			Port:        5672,
			ContainerID: "mqdiag-test",
		},
		ConnectTimeout: 200 * time.Millisecond,
		Reconnect: ReconnectPolicy{
			Enabled:      false,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func newTestManager(t *testing.T, mb *broker.MemoryBroker, mutate func(*Options)) *Manager {
	t.Helper()
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	m := NewManager(opts, mb, logger.NopLogger())
	t.Cleanup(func() { _ = m.Disconnect(context.Background()) })
	return m
}

type stuckDialer struct {
	release chan struct{}
}

func (d stuckDialer) Dial(context.Context, broker.DialOptions) (broker.Conn, error) {
	<-d.release
	return nil, errors.New("released")
}

func TestManager_ConnectOpens(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, nil)

	assert.Equal(t, StateDisconnected, m.State())
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateOpen, m.State())

	// A second connect on an open manager is a no-op.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, mb.Dials())

	st := m.Status()
	assert.Equal(t, "open", st.State)
	assert.Equal(t, "mqdiag-test", st.ContainerID)
	assert.Equal(t, uint64(1), st.Generation)
}

func TestManager_ConnectUnreachable(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.SetUnreachable(true)
	m := newTestManager(t, mb, nil)

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, StateErrored, m.State())
	assert.NotEmpty(t, m.Status().LastError)
}

func TestManager_ConnectTimesOut(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.SetDialDelay(time.Minute)
	m := newTestManager(t, mb, func(o *Options) { o.ConnectTimeout = 50 * time.Millisecond })

	start := time.Now()
	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestManager_ConnectTimesOutWhenDialerIgnoresContext(t *testing.T) {
	d := stuckDialer{release: make(chan struct{})}
	defer close(d.release)

	opts := testOptions()
	opts.ConnectTimeout = 50 * time.Millisecond
	m := NewManager(opts, d, logger.NopLogger())

	start := time.Now()
	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))

	require.NoError(t, m.Disconnect(context.Background()))
	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, StateClosed, m.State())

	_, err := m.Sender(context.Background(), "q")
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
}

func TestManager_DisconnectBeforeConnect(t *testing.T) {
	m := newTestManager(t, broker.NewMemoryBroker(), nil)
	assert.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_DisconnectClosesReceivers(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Declare("q")
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))

	r, err := m.OpenReceiver(context.Background(), "q", broker.ReceiverOptions{AutoAccept: true})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Status().Receivers)

	require.NoError(t, m.Disconnect(context.Background()))

	_, err = r.Receive(context.Background())
	assert.Error(t, err)
	assert.NoError(t, r.Close(context.Background()))
}

func TestManager_ReceiverCloseUntracks(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Declare("q")
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))

	r, err := m.OpenReceiver(context.Background(), "q", broker.ReceiverOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Close(context.Background()))
	assert.Equal(t, 0, m.Status().Receivers)
}

func TestManager_DropWithoutReconnectFailsFast(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))

	_, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)

	mb.DropConnections(errors.New("amqp:connection:forced"))

	require.Eventually(t, func() bool {
		st := m.Status()
		return st.State == "errored" && st.Senders == 0
	}, time.Second, 5*time.Millisecond)

	_, err = m.Sender(context.Background(), "q")
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.Contains(t, m.Status().LastError, "forced")
}

func TestManager_ReconnectsAfterDrop(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, func(o *Options) { o.Reconnect.Enabled = true })
	require.NoError(t, m.Connect(context.Background()))

	first, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)

	mb.DropConnections(errors.New("broker restarted"))

	require.Eventually(t, func() bool {
		st := m.Status()
		return st.State == "open" && st.Generation == 2
	}, 2*time.Second, 5*time.Millisecond)

	second, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, mb.Dials())
	assert.GreaterOrEqual(t, m.Status().Reconnects, 1)
}

func TestManager_ReconnectRetriesUntilBrokerReturns(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, func(o *Options) { o.Reconnect.Enabled = true })
	require.NoError(t, m.Connect(context.Background()))

	mb.SetUnreachable(true)
	mb.DropConnections(nil)

	require.Eventually(t, func() bool { return m.Status().Reconnects >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, StateOpen, m.State())

	mb.SetUnreachable(false)
	require.Eventually(t, func() bool { return m.State() == StateOpen }, 2*time.Second, 5*time.Millisecond)
}

func TestManager_DisconnectStopsReconnectLoop(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, func(o *Options) {
		o.Reconnect.Enabled = true
		o.Reconnect.InitialDelay = time.Hour
		o.Reconnect.MaxDelay = time.Hour
	})
	require.NoError(t, m.Connect(context.Background()))
	mb.DropConnections(nil)
	require.Eventually(t, func() bool { return m.State() == StateErrored }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = m.Disconnect(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on the reconnect loop")
	}
	assert.Equal(t, StateClosed, m.State())
}

func TestManager_ConnectAfterDisconnect(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect(context.Background()))

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, uint64(2), m.Status().Generation)
}

func TestManager_ConcurrentConnectAndSend(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Sender(context.Background(), "q")
			if assert.NoError(t, err) {
				assert.NoError(t, s.Send(context.Background(), broker.Envelope{Body: "{}"}))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, mb.Depth("q"))
}
