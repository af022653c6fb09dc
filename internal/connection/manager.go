// Package connection owns the broker session: connecting under a timeout,
// watching for drops, reconnecting with backoff and tearing down every link
// that hangs off the session.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mqdiag/internal/broker"
	"mqdiag/internal/config"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
	apperrors "mqdiag/pkg/errors"
	"mqdiag/pkg/metrics"
	"mqdiag/pkg/retry"
)

const linkCloseTimeout = constants.LinkCloseTimeout

var errClosing = errors.New("connection manager is closing")

type ReconnectPolicy struct {
	Enabled      bool
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

type Options struct {
	Dial           broker.DialOptions
	ConnectTimeout time.Duration
	Reconnect      ReconnectPolicy
	SettleMode     broker.SettleMode
}

func OptionsFromConfig(cfg config.BrokerConfig, publish config.PublishConfig, containerID string) Options {
	return Options{
		Dial:           broker.DialOptionsFromConfig(cfg, containerID),
		ConnectTimeout: cfg.ConnectTimeout,
		Reconnect: ReconnectPolicy{
			Enabled:      cfg.Reconnect.Enabled,
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
		},
		SettleMode: broker.ParseSettleMode(publish.SettleMode),
	}
}

// Status is a point-in-time view of the manager, used by health checks and the API.
type Status struct {
	State       string `json:"state"`
	ContainerID string `json:"container_id"`
	Address     string `json:"address"`
	Generation  uint64 `json:"generation"`
	Reconnects  int    `json:"reconnects"`
	Senders     int    `json:"senders"`
	Receivers   int    `json:"receivers"`
	LastError   string `json:"last_error,omitempty"`
}

type Manager struct {
	opts   Options
	dialer broker.Dialer
	logger logger.Logger
	pool   *Pool

	mu         sync.RWMutex
	state      State
	conn       broker.Conn
	lastErr    error
	generation uint64
	reconnects int
	receivers  map[*trackedReceiver]struct{}
	closing    chan struct{}
	shutdown   bool

	wg sync.WaitGroup
}

func NewManager(opts Options, dialer broker.Dialer, log logger.Logger) *Manager {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if opts.Reconnect.Multiplier <= 1 {
		opts.Reconnect.Multiplier = constants.DefaultReconnectMultiplier
	}

	m := &Manager{
		opts:      opts,
		dialer:    dialer,
		logger:    log.With("container_id", opts.Dial.ContainerID),
		state:     StateDisconnected,
		receivers: make(map[*trackedReceiver]struct{}),
		closing:   make(chan struct{}),
	}
	m.pool = NewPool(m, opts.SettleMode, m.logger)
	metrics.SetConnectionState(int(StateDisconnected))
	return m
}

// Connect performs one connect attempt. It fails with a connection error when
// the transport reports one or when no session opens within ConnectTimeout.
// Connecting an already open manager is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		m.mu.Unlock()
		return apperrors.ErrConnection.WithMessage("connect already in progress")
	}
	if m.shutdown {
		m.closing = make(chan struct{})
		m.shutdown = false
	}
	closing := m.closing
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.logger.Infow("Connecting to broker",
		"address", m.address(),
		"timeout", m.opts.ConnectTimeout.String(),
	)

	conn, err := m.dial(ctx, closing)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		metrics.IncConnectAttempt("initial", "error")
		m.lastErr = err
		if !m.shutdown {
			m.setStateLocked(StateErrored)
		}
		m.logger.Errorw("Broker connection failed",
			"address", m.address(),
			"error", err,
		)
		return err
	}
	metrics.IncConnectAttempt("initial", "success")

	if m.shutdown || m.closing != closing {
		_ = conn.Close()
		return apperrors.ErrNotConnected.WithMessage("disconnected while connecting")
	}
	if m.state == StateOpen && m.conn != nil {
		_ = conn.Close()
		return nil
	}

	m.attachLocked(conn, closing)
	m.logger.Infow("Broker connection open",
		"address", m.address(),
		"generation", m.generation,
	)
	return nil
}

// dial races the transport handshake against ConnectTimeout and Disconnect.
// A session that opens after the race is lost is closed in the background.
func (m *Manager) dial(ctx context.Context, closing <-chan struct{}) (broker.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	go func() {
		select {
		case <-closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	type result struct {
		conn broker.Conn
		err  error
	}
	results := make(chan result, 1)
	go func() {
		conn, err := m.dialer.Dial(ctx, m.opts.Dial)
		results <- result{conn: conn, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, apperrors.ErrConnection.
				WithMessage(fmt.Sprintf("connect to %s failed", m.address())).
				WithCause(r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if late := <-results; late.conn != nil {
				_ = late.conn.Close()
			}
		}()
		msg := fmt.Sprintf("connect to %s cancelled", m.address())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("connect to %s timed out after %s", m.address(), m.opts.ConnectTimeout)
		}
		return nil, apperrors.ErrConnection.WithMessage(msg).WithCause(ctx.Err())
	}
}

func (m *Manager) attachLocked(conn broker.Conn, closing chan struct{}) {
	m.conn = conn
	m.generation++
	m.lastErr = nil
	m.setStateLocked(StateOpen)

	m.wg.Add(1)
	go m.watch(conn, closing)
}

func (m *Manager) watch(conn broker.Conn, closing chan struct{}) {
	defer m.wg.Done()

	select {
	case <-closing:
		return
	case <-conn.Done():
	}

	m.handleDrop(conn)

	if m.opts.Reconnect.Enabled {
		m.reconnect(closing)
	}
}

// handleDrop records a session lost outside of Disconnect and tears down its links.
func (m *Manager) handleDrop(conn broker.Conn) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.lastErr = conn.Err()
	if m.lastErr == nil {
		m.lastErr = errors.New("connection closed by peer")
	}
	m.setStateLocked(StateErrored)
	receivers := m.detachReceiversLocked()
	cause := m.lastErr
	m.mu.Unlock()

	m.logger.Warnw("Broker connection lost",
		"address", m.address(),
		"error", cause,
		"reconnect", m.opts.Reconnect.Enabled,
	)

	ctx, cancel := context.WithTimeout(context.Background(), linkCloseTimeout)
	defer cancel()
	m.pool.Reset(ctx)
	closeReceivers(ctx, receivers)
	_ = conn.Close()
}

func (m *Manager) reconnect(closing chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(m.opts.Reconnect.InitialDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return
	}

	policy := retry.Policy{
		InitialInterval: m.opts.Reconnect.InitialDelay,
		MaxInterval:     m.opts.Reconnect.MaxDelay,
		Multiplier:      m.opts.Reconnect.Multiplier,
	}

	err := retry.RetryWithCallback(ctx, policy, func() error {
		return m.reconnectOnce(ctx, closing)
	}, func(attempt int, err error, next time.Duration) {
		m.logger.Warnw("Reconnect attempt failed",
			"attempt", attempt,
			"error", err,
			"next_delay", next.String(),
		)
	})
	if err != nil && !errors.Is(err, errClosing) && ctx.Err() == nil {
		m.logger.Errorw("Reconnect abandoned", "error", err)
	}
}

func (m *Manager) reconnectOnce(ctx context.Context, closing chan struct{}) error {
	m.mu.Lock()
	if m.shutdown || m.closing != closing {
		m.mu.Unlock()
		return retry.NewFatalError(errClosing)
	}
	if m.state == StateOpen {
		m.mu.Unlock()
		return nil
	}
	m.reconnects++
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	conn, err := m.dial(ctx, closing)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		metrics.IncConnectAttempt("reconnect", "error")
		m.lastErr = err
		if !m.shutdown {
			m.setStateLocked(StateErrored)
		}
		return err
	}
	metrics.IncConnectAttempt("reconnect", "success")

	if m.shutdown || m.closing != closing {
		_ = conn.Close()
		return retry.NewFatalError(errClosing)
	}
	if m.state == StateOpen && m.conn != nil {
		_ = conn.Close()
		return nil
	}

	m.attachLocked(conn, closing)
	m.logger.Infow("Broker connection re-established",
		"address", m.address(),
		"generation", m.generation,
	)
	return nil
}

// Disconnect closes every sender and receiver, then the session. It is safe
// to call more than once and on a manager that never connected.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	close(m.closing)
	conn := m.conn
	m.conn = nil
	receivers := m.detachReceiversLocked()
	m.setStateLocked(StateClosed)
	m.mu.Unlock()

	m.pool.Reset(ctx)
	closeReceivers(ctx, receivers)

	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil {
			err = apperrors.ErrConnection.WithMessage("failed to close session").WithCause(cerr)
		}
	}

	m.wg.Wait()

	m.logger.Infow("Broker connection closed", "address", m.address())
	return err
}

// ActiveConn returns the open connection or a NotConnected error.
func (m *Manager) ActiveConn() (broker.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateOpen || m.conn == nil {
		return nil, m.notConnectedLocked()
	}
	select {
	case <-m.conn.Done():
		return nil, m.notConnectedLocked()
	default:
	}
	return m.conn, nil
}

func (m *Manager) notConnectedLocked() error {
	err := apperrors.ErrNotConnected.WithDetail("state", m.state.String())
	if m.lastErr != nil {
		return err.WithCause(m.lastErr)
	}
	return err
}

// Sender returns the pooled sender for destination.
func (m *Manager) Sender(ctx context.Context, destination string) (broker.Sender, error) {
	return m.pool.Get(ctx, destination)
}

// OpenReceiver attaches a receiver that is closed automatically on teardown.
func (m *Manager) OpenReceiver(ctx context.Context, source string, opts broker.ReceiverOptions) (broker.Receiver, error) {
	conn, err := m.ActiveConn()
	if err != nil {
		return nil, err
	}

	r, err := conn.OpenReceiver(ctx, source, opts)
	if err != nil {
		return nil, err
	}

	tr := &trackedReceiver{Receiver: r, manager: m}
	m.mu.Lock()
	m.receivers[tr] = struct{}{}
	m.mu.Unlock()
	return tr, nil
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) ContainerID() string {
	return m.opts.Dial.ContainerID
}

func (m *Manager) Status() Status {
	// Read before m.mu: Pool.Get holds the pool lock while calling ActiveConn.
	senders := m.pool.Len()

	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		State:       m.state.String(),
		ContainerID: m.opts.Dial.ContainerID,
		Address:     m.address(),
		Generation:  m.generation,
		Reconnects:  m.reconnects,
		Senders:     senders,
		Receivers:   len(m.receivers),
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debugw("Connection state changed",
		"from", m.state.String(),
		"to", s.String(),
	)
	m.state = s
	metrics.SetConnectionState(int(s))
}

func (m *Manager) detachReceiversLocked() []*trackedReceiver {
	out := make([]*trackedReceiver, 0, len(m.receivers))
	for r := range m.receivers {
		out = append(out, r)
	}
	m.receivers = make(map[*trackedReceiver]struct{})
	return out
}

func (m *Manager) untrack(r *trackedReceiver) {
	m.mu.Lock()
	delete(m.receivers, r)
	m.mu.Unlock()
}

func (m *Manager) address() string {
	if len(m.opts.Dial.Brokers) > 0 {
		return fmt.Sprint(m.opts.Dial.Brokers)
	}
	return fmt.Sprintf("%s:%d", m.opts.Dial.Host, m.opts.Dial.Port)
}

func closeReceivers(ctx context.Context, receivers []*trackedReceiver) {
	for _, r := range receivers {
		_ = r.closeLink(ctx)
	}
}

type trackedReceiver struct {
	broker.Receiver
	manager *Manager

	once sync.Once
	err  error
}

func (r *trackedReceiver) Close(ctx context.Context) error {
	r.manager.untrack(r)
	return r.closeLink(ctx)
}

func (r *trackedReceiver) closeLink(ctx context.Context) error {
	r.once.Do(func() {
		r.err = r.Receiver.Close(ctx)
	})
	return r.err
}
