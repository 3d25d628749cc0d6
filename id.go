package lagoon

import (
	"time"

	"github.com/google/uuid"
)

// NewCredential generates the opaque access secret injected into a sandbox
// at creation time (used as the VNC password). Never reused across
// sandboxes.
func NewCredential() string {
	return uuid.NewString()
}

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
