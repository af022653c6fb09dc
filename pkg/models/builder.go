package models

import (
	"time"

	"mqdiag/internal/broker"
)

type EnvelopeBuilder struct {
	envelope broker.Envelope
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{envelope: broker.Envelope{Headers: make(map[string]string)}}
}

func (b *EnvelopeBuilder) To(destination string) *EnvelopeBuilder {
	b.envelope.To = destination
	return b
}

func (b *EnvelopeBuilder) WithBody(body string) *EnvelopeBuilder {
	b.envelope.Body = body
	return b
}

func (b *EnvelopeBuilder) WithContentType(contentType string) *EnvelopeBuilder {
	b.envelope.ContentType = contentType
	return b
}

func (b *EnvelopeBuilder) WithMessageID(id string) *EnvelopeBuilder {
	b.envelope.MessageID = id
	return b
}

func (b *EnvelopeBuilder) WithDurability(durable bool, ttl time.Duration) *EnvelopeBuilder {
	b.envelope.Durable = durable
	b.envelope.TTL = ttl
	return b
}

func (b *EnvelopeBuilder) WithHeader(key, value string) *EnvelopeBuilder {
	b.envelope.Headers[key] = value
	return b
}

func (b *EnvelopeBuilder) Headers() map[string]string {
	return b.envelope.Headers
}

func (b *EnvelopeBuilder) Build() broker.Envelope {
	if b.envelope.CreationTime.IsZero() {
		b.envelope.CreationTime = time.Now()
	}
	return b.envelope
}
