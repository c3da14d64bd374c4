package tunnel

import (
	"log/slog"

	"github.com/google/uuid"
)

// newSessionID mints a UUIDv7 to correlate every log line a single
// Multiplexer session emits, a span-id idiom for tagging one run of a
// long-lived, fallible operation across concurrent log output.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Time-based generation can only fail if the system random source
		// is broken; fall back to a random v4. uuid.New panics if the
		// random source is still failing.
		return uuid.New().String()
	}
	return id.String()
}

func sessionLogger(base *slog.Logger, sessionID string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("session", sessionID)
}
