package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
)

// RabbitMQDialer speaks AMQP 0-9-1. Destinations are queue names routed
// through the default exchange.
type RabbitMQDialer struct {
	logger logger.Logger
}

func NewRabbitMQDialer(log logger.Logger) *RabbitMQDialer {
	return &RabbitMQDialer{logger: log}
}

func (d *RabbitMQDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	scheme := "amqp"
	if opts.TLS {
		scheme = "amqps"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Path:   "/",
	}
	if opts.Username != "" {
		u.User = url.UserPassword(opts.Username, opts.Password)
	}

	dialTimeout := constants.DefaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		dialTimeout = time.Until(deadline)
	}

	cfg := amqp091.Config{
		Heartbeat:  opts.IdleTimeout,
		Vhost:      opts.VHost,
		Properties: amqp091.Table{"connection_name": opts.ContainerID},
		Dial:       amqp091.DefaultDial(dialTimeout),
	}
	if cfg.Vhost == "" {
		cfg.Vhost = "/"
	}
	if opts.TLS {
		cfg.TLSClientConfig = &tls.Config{ServerName: opts.Host, MinVersion: tls.VersionTLS12}
	}

	type result struct {
		conn *amqp091.Connection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := amqp091.DialConfig(u.String(), cfg)
		ch <- result{conn: conn, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.conn != nil {
				_ = late.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.Redacted(), res.err)
	}

	c := &rabbitConn{conn: res.conn, done: make(chan struct{})}
	closed := res.conn.NotifyClose(make(chan *amqp091.Error, 1))
	go c.watch(closed)

	d.logger.Debugw("RabbitMQ connection opened",
		"address", u.Redacted(),
		"container_id", opts.ContainerID,
	)
	return c, nil
}

type rabbitConn struct {
	conn *amqp091.Connection

	mu   sync.Mutex
	done chan struct{}
	err  error
}

func (c *rabbitConn) watch(closed <-chan *amqp091.Error) {
	amqpErr, ok := <-closed
	c.mu.Lock()
	if ok && amqpErr != nil {
		c.err = amqpErr
	}
	c.mu.Unlock()
	close(c.done)
}

func (c *rabbitConn) OpenSender(_ context.Context, address string, mode SettleMode) (Sender, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if mode == SettleModeUnsettled {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}
	return &rabbitSender{ch: ch, address: address, confirm: mode == SettleModeUnsettled}, nil
}

func (c *rabbitConn) OpenReceiver(_ context.Context, address string, opts ReceiverOptions) (Receiver, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	// A passive declare fails (and closes the channel) when the queue is
	// missing or not accessible.
	if _, err := ch.QueueDeclarePassive(address, false, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue %q not accessible: %w", address, err)
	}

	credit := opts.Credit
	if credit <= 0 {
		credit = 1
	}
	if err := ch.Qos(credit, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(address, "", opts.AutoAccept, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to consume %q: %w", address, err)
	}
	return &rabbitReceiver{ch: ch, address: address, deliveries: deliveries}, nil
}

func (c *rabbitConn) Done() <-chan struct{} {
	return c.done
}

func (c *rabbitConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *rabbitConn) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

type rabbitSender struct {
	ch      *amqp091.Channel
	address string
	confirm bool
}

func (s *rabbitSender) Address() string { return s.address }

func (s *rabbitSender) Send(ctx context.Context, env Envelope) error {
	msg := amqp091.Publishing{
		ContentType:  env.ContentType,
		MessageId:    env.MessageID,
		Timestamp:    env.CreationTime,
		Body:         []byte(env.Body),
		DeliveryMode: amqp091.Transient,
	}
	if env.Durable {
		msg.DeliveryMode = amqp091.Persistent
	}
	if env.TTL > 0 {
		msg.Expiration = strconv.FormatInt(env.TTL.Milliseconds(), 10)
	}
	if len(env.Headers) > 0 {
		msg.Headers = make(amqp091.Table, len(env.Headers))
		for k, v := range env.Headers {
			msg.Headers[k] = v
		}
	}

	if !s.confirm {
		return s.ch.PublishWithContext(ctx, "", s.address, false, false, msg)
	}

	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, "", s.address, false, false, msg)
	if err != nil {
		return err
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", env.MessageID)
	}
	return nil
}

func (s *rabbitSender) Close(context.Context) error {
	if s.ch.IsClosed() {
		return nil
	}
	return s.ch.Close()
}

type rabbitReceiver struct {
	ch         *amqp091.Channel
	address    string
	deliveries <-chan amqp091.Delivery
}

func (r *rabbitReceiver) Address() string { return r.address }

func (r *rabbitReceiver) Receive(ctx context.Context) (*Message, error) {
	select {
	case d, ok := <-r.deliveries:
		if !ok {
			return nil, ErrLinkClosed
		}
		msg := &Message{
			Body:        d.Body,
			Address:     r.address,
			ContentType: d.ContentType,
			MessageID:   d.MessageId,
			Headers:     make(map[string]string, len(d.Headers)),
		}
		for k, v := range d.Headers {
			msg.Headers[k] = fmt.Sprint(v)
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *rabbitReceiver) Close(context.Context) error {
	if r.ch.IsClosed() {
		return nil
	}
	return r.ch.Close()
}
