package ids

import (
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageID returns a time-sortable ULID string.
func NewMessageID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewContainerID returns an identifier unique to this process instance,
// shaped <prefix>-<pid>-<unix millis>.
func NewContainerID(prefix string) string {
	if prefix == "" {
		prefix = "mqdiag-" + uuid.NewString()[:8]
	}
	return fmt.Sprintf("%s-%d-%d", prefix, os.Getpid(), time.Now().UnixMilli())
}

// NewRequestID returns a random request identifier for HTTP tracing.
func NewRequestID() string {
	return uuid.NewString()
}
