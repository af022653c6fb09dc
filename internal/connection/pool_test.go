package connection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqdiag/internal/broker"
	"mqdiag/internal/logger"
	apperrors "mqdiag/pkg/errors"
)

func TestPool_ReturnsCachedSender(t *testing.T) {
	m := newTestManager(t, broker.NewMemoryBroker(), nil)
	require.NoError(t, m.Connect(context.Background()))

	first, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)
	second, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, m.Status().Senders)
}

func TestPool_NewSenderAfterReconnect(t *testing.T) {
	m := newTestManager(t, broker.NewMemoryBroker(), nil)
	require.NoError(t, m.Connect(context.Background()))

	first, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)
	second, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)
	require.Same(t, first, second)

	require.NoError(t, m.Disconnect(context.Background()))
	require.NoError(t, m.Connect(context.Background()))

	third, err := m.Sender(context.Background(), "q")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestPool_DistinctSpellingsAreDistinctSenders(t *testing.T) {
	m := newTestManager(t, broker.NewMemoryBroker(), nil)
	require.NoError(t, m.Connect(context.Background()))

	for _, dest := range []string{"q", "/queue/q", "queue://q"} {
		_, err := m.Sender(context.Background(), dest)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.Status().Senders)
}

func TestPool_NotConnected(t *testing.T) {
	m := newTestManager(t, broker.NewMemoryBroker(), nil)

	s, err := m.Sender(context.Background(), "q")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
}

func TestPool_OpenFailureIsSendError(t *testing.T) {
	mb := broker.NewMemoryBroker()
	mb.Deny("locked")
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))

	_, err := m.Sender(context.Background(), "locked")
	assert.ErrorIs(t, err, apperrors.ErrSend)
	assert.Equal(t, 0, m.Status().Senders)
}

func TestPool_ConcurrentGetCreatesOneSender(t *testing.T) {
	mb := broker.NewMemoryBroker()
	m := newTestManager(t, mb, nil)
	require.NoError(t, m.Connect(context.Background()))

	const workers = 32
	senders := make([]broker.Sender, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Sender(context.Background(), "fresh")
			assert.NoError(t, err)
			senders[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range senders[1:] {
		assert.Same(t, senders[0], s)
	}
	assert.Equal(t, 1, m.Status().Senders)
}

type fixedSource struct {
	conn broker.Conn
}

func (f fixedSource) ActiveConn() (broker.Conn, error) { return f.conn, nil }

// closingSource reports the connection as open once, then as gone.
type closingSource struct {
	conn  broker.Conn
	calls int
}

func (s *closingSource) ActiveConn() (broker.Conn, error) {
	s.calls++
	if s.calls > 1 {
		return nil, apperrors.ErrNotConnected
	}
	return s.conn, nil
}

func TestPool_DisconnectBetweenChecksCachesNothing(t *testing.T) {
	mb := broker.NewMemoryBroker()
	conn, err := mb.Dial(context.Background(), broker.DialOptions{})
	require.NoError(t, err)

	p := NewPool(&closingSource{conn: conn}, broker.SettleModeSettled, logger.NopLogger())
	_, err = p.Get(context.Background(), "q")

	assert.ErrorIs(t, err, apperrors.ErrNotConnected)
	assert.Equal(t, 0, p.Len())
}

func TestPool_ResetClosesSenders(t *testing.T) {
	mb := broker.NewMemoryBroker()
	conn, err := mb.Dial(context.Background(), broker.DialOptions{})
	require.NoError(t, err)

	p := NewPool(fixedSource{conn: conn}, broker.SettleModeSettled, logger.NopLogger())
	s, err := p.Get(context.Background(), "q")
	require.NoError(t, err)

	p.Reset(context.Background())
	assert.Equal(t, 0, p.Len())
	assert.ErrorIs(t, s.Send(context.Background(), broker.Envelope{Body: "x"}), broker.ErrLinkClosed)
}
