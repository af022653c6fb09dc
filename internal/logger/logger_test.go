package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"mqdiag/pkg/logging"
)

func TestContextFieldsPrecedeCallFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	ctx := logging.WithDestination(context.Background(), "orders")
	ctx = logging.WithMessageID(ctx, "01HZX")
	log.With("container_id", "mqdiag-1").InfowCtx(ctx, "sent", "size_bytes", 12)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "orders", fields["destination"])
	assert.Equal(t, "01HZX", fields["message_id"])
	assert.Equal(t, "mqdiag-1", fields["container_id"])
	assert.EqualValues(t, 12, fields["size_bytes"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestNewRejectsNothingForKnownFormats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		log, err := New("info", format)
		require.NoError(t, err, format)
		require.NotNil(t, log)
	}
}
