package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrConnClosed = errors.New("broker: connection closed")
	ErrLinkClosed = errors.New("broker: link closed")
)

// MemoryBroker is an in-process broker. Senders create destinations on
// first use; receivers only attach to destinations that already exist.
// The knobs let tests reproduce unreachable hosts, slow handshakes,
// unauthorized destinations and broker-side disconnects.
type MemoryBroker struct {
	mu          sync.Mutex
	queues      map[string]*memQueue
	denied      map[string]bool
	conns       map[*memConn]struct{}
	unreachable bool
	dialDelay   time.Duration
	attachDelay time.Duration
	dials       int
	receivers   int
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memQueue),
		denied: make(map[string]bool),
		conns:  make(map[*memConn]struct{}),
	}
}

// Declare creates destinations so receivers can attach before anything is sent.
func (b *MemoryBroker) Declare(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.queueLocked(name)
	}
}

// Deny makes every link attach on the named destinations fail.
func (b *MemoryBroker) Deny(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, name := range names {
		b.denied[name] = true
	}
}

func (b *MemoryBroker) SetUnreachable(unreachable bool) {
	b.mu.Lock()
	b.unreachable = unreachable
	b.mu.Unlock()
}

// SetDialDelay delays every handshake; dials still honor their context.
func (b *MemoryBroker) SetDialDelay(d time.Duration) {
	b.mu.Lock()
	b.dialDelay = d
	b.mu.Unlock()
}

// SetAttachDelay delays every receiver attach without watching the caller's
// context, like a broker that answers after the caller has stopped waiting.
func (b *MemoryBroker) SetAttachDelay(d time.Duration) {
	b.mu.Lock()
	b.attachDelay = d
	b.mu.Unlock()
}

// OpenReceivers reports receivers that have been opened and not yet closed.
func (b *MemoryBroker) OpenReceivers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.receivers
}

// DropConnections ends every open session as if the broker went away.
func (b *MemoryBroker) DropConnections(cause error) {
	b.mu.Lock()
	conns := make([]*memConn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.terminate(cause)
	}
}

// Dials reports how many handshakes succeeded.
func (b *MemoryBroker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Depth reports how many messages wait on a destination.
func (b *MemoryBroker) Depth(name string) int {
	b.mu.Lock()
	q, ok := b.queues[name]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

func (b *MemoryBroker) Dial(ctx context.Context, opts DialOptions) (Conn, error) {
	b.mu.Lock()
	unreachable, delay := b.unreachable, b.dialDelay
	b.mu.Unlock()

	if unreachable {
		return nil, fmt.Errorf("dial tcp %s:%d: connect: connection refused", opts.Host, opts.Port)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := &memConn{broker: b, containerID: opts.ContainerID, done: make(chan struct{})}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.dials++
	b.mu.Unlock()
	return c, nil
}

func (b *MemoryBroker) attach(address string, create bool) (*memQueue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.denied[address] {
		return nil, fmt.Errorf("amqp:unauthorized-access: not authorized to attach to %q", address)
	}
	if q, ok := b.queues[address]; ok {
		return q, nil
	}
	if !create {
		return nil, fmt.Errorf("amqp:not-found: no such destination %q", address)
	}
	return b.queueLocked(address), nil
}

func (b *MemoryBroker) queueLocked(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{signal: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) forget(c *memConn) {
	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
}

type memQueue struct {
	mu     sync.Mutex
	msgs   []Message
	signal chan struct{}
}

func (q *memQueue) push(m Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	close(q.signal)
	q.signal = make(chan struct{})
	q.mu.Unlock()
}

// pop returns the head message, or a channel closed on the next push.
func (q *memQueue) pop() (*Message, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.msgs) == 0 {
		return nil, q.signal
	}
	m := q.msgs[0]
	q.msgs = q.msgs[1:]
	return &m, nil
}

type memConn struct {
	broker      *MemoryBroker
	containerID string

	mu     sync.Mutex
	done   chan struct{}
	err    error
	closed bool
}

func (c *memConn) OpenSender(ctx context.Context, address string, _ SettleMode) (Sender, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	q, err := c.broker.attach(address, true)
	if err != nil {
		return nil, err
	}
	return &memSender{conn: c, address: address, queue: q}, nil
}

func (c *memConn) OpenReceiver(ctx context.Context, address string, opts ReceiverOptions) (Receiver, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	c.broker.mu.Lock()
	delay := c.broker.attachDelay
	c.broker.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	q, err := c.broker.attach(address, false)
	if err != nil {
		return nil, err
	}
	c.broker.mu.Lock()
	c.broker.receivers++
	c.broker.mu.Unlock()
	return &memReceiver{conn: c, address: address, queue: q, closed: make(chan struct{})}, nil
}

func (c *memConn) check(ctx context.Context) error {
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

func (c *memConn) Done() <-chan struct{} {
	return c.done
}

func (c *memConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *memConn) Close() error {
	c.terminate(nil)
	return nil
}

func (c *memConn) terminate(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	close(c.done)
	c.mu.Unlock()
	c.broker.forget(c)
}

type memSender struct {
	conn    *memConn
	address string
	queue   *memQueue

	mu     sync.Mutex
	closed bool
}

func (s *memSender) Address() string { return s.address }

func (s *memSender) Send(ctx context.Context, env Envelope) error {
	if err := s.conn.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrLinkClosed
	}

	headers := make(map[string]string, len(env.Headers))
	for k, v := range env.Headers {
		headers[k] = v
	}
	s.queue.push(Message{
		Body:        []byte(env.Body),
		Address:     env.To,
		ContentType: env.ContentType,
		MessageID:   env.MessageID,
		Headers:     headers,
	})
	return nil
}

func (s *memSender) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type memReceiver struct {
	conn    *memConn
	address string
	queue   *memQueue

	closeOnce sync.Once
	closed    chan struct{}
}

func (r *memReceiver) Address() string { return r.address }

func (r *memReceiver) Receive(ctx context.Context) (*Message, error) {
	for {
		select {
		case <-r.closed:
			return nil, ErrLinkClosed
		case <-r.conn.done:
			return nil, ErrConnClosed
		default:
		}

		msg, wait := r.queue.pop()
		if msg != nil {
			return msg, nil
		}

		select {
		case <-wait:
		case <-r.closed:
			return nil, ErrLinkClosed
		case <-r.conn.done:
			return nil, ErrConnClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *memReceiver) Close(context.Context) error {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.conn.broker.mu.Lock()
		r.conn.broker.receivers--
		r.conn.broker.mu.Unlock()
	})
	return nil
}
