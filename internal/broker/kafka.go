package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"mqdiag/internal/config"
	"mqdiag/internal/constants"
	"mqdiag/internal/logger"
)

// KafkaDialer maps destinations onto topics. A "session" is a control
// connection to one seed broker; writers and readers dial on their own.
type KafkaDialer struct {
	cfg    config.KafkaConfig
	logger logger.Logger
}

func NewKafkaDialer(cfg config.KafkaConfig, log logger.Logger) *KafkaDialer {
	return &KafkaDialer{cfg: cfg, logger: log}
}

func (d *KafkaDialer) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	brokers := opts.Brokers
	if len(brokers) == 0 {
		brokers = []string{net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))}
	}

	dialer := &kafka.Dialer{
		ClientID:  opts.ContainerID,
		Timeout:   constants.DefaultConnectTimeout,
		DualStack: true,
	}
	transport := &kafka.Transport{ClientID: opts.ContainerID}
	if opts.Username != "" {
		mechanism := plain.Mechanism{Username: opts.Username, Password: opts.Password}
		dialer.SASLMechanism = mechanism
		transport.SASL = mechanism
	}

	var (
		control *kafka.Conn
		lastErr error
	)
	for _, addr := range brokers {
		control, lastErr = dialer.DialContext(ctx, "tcp", addr)
		if lastErr == nil {
			break
		}
		d.logger.Warnw("Kafka seed broker unreachable",
			"broker", addr,
			"error", lastErr,
		)
	}
	if control == nil {
		return nil, fmt.Errorf("failed to reach any kafka broker %v: %w", brokers, lastErr)
	}

	groupPrefix := d.cfg.GroupID
	if groupPrefix == "" {
		groupPrefix = opts.ContainerID
	}

	d.logger.Debugw("Kafka control connection opened",
		"brokers", brokers,
		"client_id", opts.ContainerID,
	)

	return &kafkaConn{
		cfg:         d.cfg,
		brokers:     brokers,
		dialer:      dialer,
		transport:   transport,
		control:     control,
		groupPrefix: groupPrefix,
		done:        make(chan struct{}),
	}, nil
}

type kafkaConn struct {
	cfg         config.KafkaConfig
	brokers     []string
	dialer      *kafka.Dialer
	transport   *kafka.Transport
	groupPrefix string

	mu      sync.Mutex
	control *kafka.Conn
	done    chan struct{}
	err     error
	closed  bool
}

func (c *kafkaConn) OpenSender(ctx context.Context, address string, mode SettleMode) (Sender, error) {
	if err := c.alive(ctx); err != nil {
		return nil, err
	}

	acks := kafka.RequireNone
	if mode == SettleModeUnsettled {
		acks = kafka.RequireAll
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.brokers...),
		Topic:                  address,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           acks,
		BatchTimeout:           c.cfg.BatchTimeout,
		WriteTimeout:           c.cfg.WriteTimeout,
		Transport:              c.transport,
		AllowAutoTopicCreation: true,
	}
	return &kafkaSender{conn: c, writer: w, address: address}, nil
}

func (c *kafkaConn) OpenReceiver(ctx context.Context, address string, opts ReceiverOptions) (Receiver, error) {
	if err := c.alive(ctx); err != nil {
		return nil, err
	}

	partitions, err := c.readPartitions(ctx, address)
	if err != nil {
		return nil, c.observe(fmt.Errorf("topic %q not accessible: %w", address, err))
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("topic %q has no partitions", address)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupPrefix + "-" + address,
		Topic:       address,
		Dialer:      c.dialer,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return &kafkaReceiver{conn: c, reader: r, address: address, autoAccept: opts.AutoAccept}, nil
}

// readPartitions uses a connection of its own so the caller's deadline never
// lands on the shared control connection.
func (c *kafkaConn) readPartitions(ctx context.Context, topic string) ([]kafka.Partition, error) {
	var lastErr error
	for _, addr := range c.brokers {
		conn, err := c.dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		partitions, err := conn.ReadPartitions(topic)
		_ = conn.Close()
		return partitions, err
	}
	return nil, lastErr
}

func (c *kafkaConn) alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
		return nil
	}
}

// observe ends the session when err is a transport failure.
func (c *kafkaConn) observe(err error) error {
	if isTransportFailure(err) {
		c.terminate(err)
	}
	return err
}

// isTransportFailure reports whether err means the brokers are gone. Timeouts
// and cancellations only mean the caller stopped waiting.
func isTransportFailure(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	return false
}

func (c *kafkaConn) terminate(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = cause
	close(c.done)
}

func (c *kafkaConn) Done() <-chan struct{} {
	return c.done
}

func (c *kafkaConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *kafkaConn) Close() error {
	c.terminate(nil)
	return c.control.Close()
}

type kafkaSender struct {
	conn    *kafkaConn
	writer  *kafka.Writer
	address string
}

func (s *kafkaSender) Address() string { return s.address }

func (s *kafkaSender) Send(ctx context.Context, env Envelope) error {
	if err := s.conn.alive(ctx); err != nil {
		return err
	}

	headers := []kafka.Header{
		{Key: constants.HeaderContentType, Value: []byte(env.ContentType)},
		{Key: constants.HeaderMessageID, Value: []byte(env.MessageID)},
	}
	for k, v := range env.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	created := env.CreationTime
	if created.IsZero() {
		created = time.Now()
	}

	err := s.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(env.MessageID),
		Value:   []byte(env.Body),
		Headers: headers,
		Time:    created,
	})
	if err != nil {
		return s.conn.observe(fmt.Errorf("failed to write kafka message: %w", err))
	}
	return nil
}

func (s *kafkaSender) Close(context.Context) error {
	return s.writer.Close()
}

type kafkaReceiver struct {
	conn       *kafkaConn
	reader     *kafka.Reader
	address    string
	autoAccept bool
}

func (r *kafkaReceiver) Address() string { return r.address }

func (r *kafkaReceiver) Receive(ctx context.Context) (*Message, error) {
	m, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	if r.autoAccept {
		if err := r.reader.CommitMessages(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to commit kafka message: %w", err)
		}
	}

	msg := &Message{
		Body:    m.Value,
		Address: m.Topic,
		Headers: make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		switch h.Key {
		case constants.HeaderContentType:
			msg.ContentType = string(h.Value)
		case constants.HeaderMessageID:
			msg.MessageID = string(h.Value)
		default:
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg, nil
}

func (r *kafkaReceiver) Close(context.Context) error {
	return r.reader.Close()
}
