package ids

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID_Monotonic(t *testing.T) {
	prev := NewMessageID()
	for i := 0; i < 100; i++ {
		next := NewMessageID()
		_, err := ulid.ParseStrict(next)
		require.NoError(t, err)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestNewContainerID(t *testing.T) {
	id := NewContainerID("activemq-publisher")
	assert.True(t, strings.HasPrefix(id, fmt.Sprintf("activemq-publisher-%d-", os.Getpid())))

	generated := NewContainerID("")
	assert.True(t, strings.HasPrefix(generated, "mqdiag-"))
	assert.NotEqual(t, generated, NewContainerID(""))
}
