package broker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	amqp "github.com/Azure/go-amqp"

	"mqdiag/internal/logger"
)

// AMQPDialer speaks AMQP 1.0 (ActiveMQ, Artemis, Qpid, Service Bus).
type AMQPDialer struct {
	logger logger.Logger
}

func NewAMQPDialer(log logger.Logger) *AMQPDialer {
	return &AMQPDialer{logger: log}
}

func (d *AMQPDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	scheme := "amqp"
	if opts.TLS {
		scheme = "amqps"
	}
	addr := fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)))

	connOpts := &amqp.ConnOptions{
		ContainerID: opts.ContainerID,
		IdleTimeout: opts.IdleTimeout,
		SASLType:    amqp.SASLTypeAnonymous(),
	}
	if opts.Username != "" {
		connOpts.SASLType = amqp.SASLTypePlain(opts.Username, opts.Password)
	}
	if opts.VHost != "" {
		connOpts.HostName = opts.VHost
	}

	conn, err := amqp.Dial(ctx, addr, connOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to begin session: %w", err)
	}

	d.logger.Debugw("AMQP session opened",
		"address", addr,
		"container_id", opts.ContainerID,
	)

	c := &amqpConn{conn: conn, session: session, done: make(chan struct{})}
	go c.watch()
	return c, nil
}

type amqpConn struct {
	conn    *amqp.Conn
	session *amqp.Session

	mu      sync.Mutex
	done    chan struct{}
	err     error
	once    sync.Once
	closing atomic.Bool
}

// watch turns the transport closing underneath us (idle timeout, peer close,
// TCP reset) into a terminated connection.
func (c *amqpConn) watch() {
	<-c.conn.Done()
	if c.closing.Load() {
		c.terminate(nil)
		return
	}
	err := c.conn.Err()
	if err == nil {
		err = errors.New("amqp connection closed by peer")
	}
	c.terminate(err)
}

func (c *amqpConn) OpenSender(ctx context.Context, address string, mode SettleMode) (Sender, error) {
	settle := amqp.SenderSettleModeSettled
	if mode == SettleModeUnsettled {
		settle = amqp.SenderSettleModeUnsettled
	}
	s, err := c.session.NewSender(ctx, address, &amqp.SenderOptions{SettlementMode: &settle})
	if err != nil {
		return nil, c.observe(err)
	}
	return &amqpSender{conn: c, sender: s, address: address}, nil
}

func (c *amqpConn) OpenReceiver(ctx context.Context, address string, opts ReceiverOptions) (Receiver, error) {
	credit := int32(opts.Credit)
	if credit <= 0 {
		credit = 1
	}
	r, err := c.session.NewReceiver(ctx, address, &amqp.ReceiverOptions{Credit: credit})
	if err != nil {
		return nil, c.observe(err)
	}
	return &amqpReceiver{conn: c, receiver: r, address: address, autoAccept: opts.AutoAccept}, nil
}

func (c *amqpConn) Done() <-chan struct{} {
	return c.done
}

func (c *amqpConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *amqpConn) Close() error {
	c.closing.Store(true)
	err := c.conn.Close()
	c.terminate(nil)
	return err
}

// observe marks the connection dead when err shows the session or
// connection is gone, then returns err unchanged.
func (c *amqpConn) observe(err error) error {
	var connErr *amqp.ConnError
	var sessErr *amqp.SessionError
	if errors.As(err, &connErr) || errors.As(err, &sessErr) {
		c.terminate(err)
	}
	return err
}

func (c *amqpConn) terminate(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		close(c.done)
	})
}

type amqpSender struct {
	conn    *amqpConn
	sender  *amqp.Sender
	address string
}

func (s *amqpSender) Address() string { return s.address }

func (s *amqpSender) Send(ctx context.Context, env Envelope) error {
	to := env.To
	if to == "" {
		to = s.address
	}

	msg := &amqp.Message{
		Value: env.Body,
		Header: &amqp.MessageHeader{
			Durable: env.Durable,
			TTL:     env.TTL,
		},
		Properties: &amqp.MessageProperties{
			To: &to,
		},
	}
	if env.ContentType != "" {
		ct := env.ContentType
		msg.Properties.ContentType = &ct
	}
	if env.MessageID != "" {
		msg.Properties.MessageID = env.MessageID
	}
	if !env.CreationTime.IsZero() {
		created := env.CreationTime
		msg.Properties.CreationTime = &created
	}
	if len(env.Headers) > 0 {
		msg.ApplicationProperties = make(map[string]any, len(env.Headers))
		for k, v := range env.Headers {
			msg.ApplicationProperties[k] = v
		}
	}

	if err := s.sender.Send(ctx, msg, nil); err != nil {
		return s.conn.observe(err)
	}
	return nil
}

func (s *amqpSender) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}

type amqpReceiver struct {
	conn       *amqpConn
	receiver   *amqp.Receiver
	address    string
	autoAccept bool
}

func (r *amqpReceiver) Address() string { return r.address }

func (r *amqpReceiver) Receive(ctx context.Context) (*Message, error) {
	msg, err := r.receiver.Receive(ctx, nil)
	if err != nil {
		return nil, r.conn.observe(err)
	}
	if r.autoAccept {
		if err := r.receiver.AcceptMessage(ctx, msg); err != nil {
			return nil, r.conn.observe(err)
		}
	}
	return convertAMQPMessage(r.address, msg), nil
}

func (r *amqpReceiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}

func convertAMQPMessage(address string, msg *amqp.Message) *Message {
	out := &Message{Address: address, Headers: make(map[string]string)}

	switch v := msg.Value.(type) {
	case string:
		out.Body = []byte(v)
	case []byte:
		out.Body = v
	case nil:
		out.Body = bytes.Join(msg.Data, nil)
	default:
		out.Body = []byte(fmt.Sprint(v))
	}

	if p := msg.Properties; p != nil {
		if p.ContentType != nil {
			out.ContentType = *p.ContentType
		}
		if p.MessageID != nil {
			out.MessageID = fmt.Sprint(p.MessageID)
		}
		if p.To != nil {
			out.Address = *p.To
		}
	}
	for k, v := range msg.ApplicationProperties {
		out.Headers[k] = fmt.Sprint(v)
	}
	return out
}
