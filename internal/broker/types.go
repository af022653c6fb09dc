// Package broker defines the transport capability the rest of mqdiag is
// written against, plus one adapter per supported broker protocol.
package broker

import (
	"context"
	"time"
)

// SettleMode selects whether a sender waits for broker acknowledgement.
type SettleMode int

const (
	// SettleModeSettled sends pre-settled (fire-and-forget).
	SettleModeSettled SettleMode = iota
	// SettleModeUnsettled waits for the broker to acknowledge each message.
	SettleModeUnsettled
)

func (m SettleMode) String() string {
	if m == SettleModeUnsettled {
		return "unsettled"
	}
	return "settled"
}

// ParseSettleMode maps a config value onto a SettleMode. Unknown values are settled.
func ParseSettleMode(s string) SettleMode {
	if s == "unsettled" {
		return SettleModeUnsettled
	}
	return SettleModeSettled
}

type DialOptions struct {
	Host        string
	Port        int
	Username    string
	Password    string
	VHost       string
	TLS         bool
	ContainerID string
	IdleTimeout time.Duration
	// Brokers overrides Host/Port for transports that take a seed list.
	Brokers []string
}

type ReceiverOptions struct {
	AutoAccept bool
	Credit     int
}

// Envelope is an outbound message. Body is sent verbatim.
type Envelope struct {
	Body         string
	To           string
	ContentType  string
	MessageID    string
	CreationTime time.Time
	Durable      bool
	TTL          time.Duration
	Headers      map[string]string
}

// Message is an inbound message.
type Message struct {
	Body        []byte
	Address     string
	ContentType string
	MessageID   string
	Headers     map[string]string
}

type Dialer interface {
	Dial(ctx context.Context, opts DialOptions) (Conn, error)
}

// Conn is one physical broker session. Done is closed when the session ends
// for any reason; Err then reports why (nil after a local Close).
type Conn interface {
	OpenSender(ctx context.Context, address string, mode SettleMode) (Sender, error)
	OpenReceiver(ctx context.Context, address string, opts ReceiverOptions) (Receiver, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Sender interface {
	Address() string
	Send(ctx context.Context, env Envelope) error
	Close(ctx context.Context) error
}

type Receiver interface {
	Address() string
	Receive(ctx context.Context) (*Message, error)
	Close(ctx context.Context) error
}
