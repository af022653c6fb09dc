package connection

import (
	"context"
	"sync"

	"mqdiag/internal/broker"
	"mqdiag/internal/logger"
	apperrors "mqdiag/pkg/errors"
	"mqdiag/pkg/metrics"
)

// ConnSource hands out the currently open connection.
type ConnSource interface {
	ActiveConn() (broker.Conn, error)
}

type pooledSender struct {
	sender broker.Sender
	conn   broker.Conn
}

// Pool caches one sender per destination string on the open connection.
// Destinations are not canonicalized: "q", "/queue/q" and "queue://q" get
// separate senders.
type Pool struct {
	source ConnSource
	mode   broker.SettleMode
	logger logger.Logger

	mu      sync.RWMutex
	senders map[string]*pooledSender
}

func NewPool(source ConnSource, mode broker.SettleMode, log logger.Logger) *Pool {
	return &Pool{
		source:  source,
		mode:    mode,
		logger:  log,
		senders: make(map[string]*pooledSender),
	}
}

// Get returns the cached sender for destination, creating it when missing or
// when the cached one belongs to an earlier connection. It fails with
// NotConnected when no connection is open.
func (p *Pool) Get(ctx context.Context, destination string) (broker.Sender, error) {
	conn, err := p.source.ActiveConn()
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	entry, ok := p.senders[destination]
	p.mu.RUnlock()
	if ok && entry.conn == conn {
		return entry.sender, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A Disconnect may have reset the pool since the first check.
	conn, err = p.source.ActiveConn()
	if err != nil {
		return nil, err
	}

	if entry, ok := p.senders[destination]; ok {
		if entry.conn == conn {
			return entry.sender, nil
		}
		delete(p.senders, destination)
		go p.closeSender(entry.sender)
	}

	sender, err := conn.OpenSender(ctx, destination, p.mode)
	if err != nil {
		return nil, apperrors.ErrSend.
			WithMessage("failed to open sender").
			WithDetail("destination", destination).
			WithCause(err)
	}

	p.senders[destination] = &pooledSender{sender: sender, conn: conn}
	metrics.SetSenderPoolSize(len(p.senders))
	p.logger.Infow("Sender pool grew",
		"destination", destination,
		"settle_mode", p.mode.String(),
		"pool_size", len(p.senders),
	)

	return sender, nil
}

// Len reports the number of cached senders.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.senders)
}

// Reset closes and forgets every cached sender.
func (p *Pool) Reset(ctx context.Context) {
	p.mu.Lock()
	senders := p.senders
	p.senders = make(map[string]*pooledSender)
	p.mu.Unlock()

	metrics.SetSenderPoolSize(0)
	for destination, entry := range senders {
		if err := entry.sender.Close(ctx); err != nil {
			p.logger.Debugw("Sender close failed",
				"destination", destination,
				"error", err,
			)
		}
	}
}

func (p *Pool) closeSender(s broker.Sender) {
	ctx, cancel := context.WithTimeout(context.Background(), linkCloseTimeout)
	defer cancel()
	_ = s.Close(ctx)
}
