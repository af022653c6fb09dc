package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelopeBuilder(t *testing.T) {
	env := NewEnvelopeBuilder().
		To("/queue/events").
		WithBody(`{"a":1}`).
		WithContentType("application/json").
		WithMessageID("01J0").
		WithDurability(true, time.Hour).
		WithHeader("traceparent", "00-1").
		Build()

	assert.Equal(t, "/queue/events", env.To)
	assert.Equal(t, `{"a":1}`, env.Body)
	assert.True(t, env.Durable)
	assert.Equal(t, time.Hour, env.TTL)
	assert.Equal(t, "00-1", env.Headers["traceparent"])
	assert.False(t, env.CreationTime.IsZero())
}

func TestNewDiagnosticPayload(t *testing.T) {
	p := NewDiagnosticPayload("freeswitch_events", "mqdiag-debug")
	assert.True(t, p.Test)
	assert.Equal(t, "freeswitch_events", p.Queue)
	assert.WithinDuration(t, time.Now(), p.Timestamp, time.Minute)
}
