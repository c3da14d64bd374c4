package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nightbridge-dev/wsmux/timeouts"
)

// TimeoutsFactory mints a fresh Timeouts for each auto-connected socket.
// Each Context must own an independent Timeouts source: sharing one across
// sockets would mean one socket's failure trips cancellation for every
// other socket sharing it.
type TimeoutsFactory func() *timeouts.Timeouts

// AutoConnectMap wraps a ListenerMap and dials a fixed target endpoint on
// first lookup of any given id. It implements Map directly (the server
// side never calls AddSocket itself).
//
// The lookup-then-insert pair is not atomic under the inner map's single
// mutex: GetSocket dials a candidate socket outside the lock, then
// attempts to insert it. If another goroutine won the race and already
// inserted under the same id, AddSocket fails with ErrDuplicateSocket; the
// candidate is discarded (closed) and the lookup retried. This is the
// discard-on-race policy: a fresh socket is only ever constructed on a
// miss, and a loser's socket is torn down rather than reused.
type AutoConnectMap struct {
	inner       *ListenerMap
	target      string
	newTimeouts TimeoutsFactory
	logger      *slog.Logger
	dial        DialFunc
}

var _ Map = (*AutoConnectMap)(nil)

// NewAutoConnectMap wraps inner, dialing target on demand.
func NewAutoConnectMap(inner *ListenerMap, target string, newTimeouts TimeoutsFactory, logger *slog.Logger) *AutoConnectMap {
	return &AutoConnectMap{inner: inner, target: target, newTimeouts: newTimeouts, logger: nonNil(logger), dial: defaultDial}
}

// WithDialFunc overrides the dialer used for auto-connected sockets.
// Intended for tests.
func (m *AutoConnectMap) WithDialFunc(d DialFunc) *AutoConnectMap {
	m.dial = d
	return m
}

// Resolve implements Map. ctx is honored: it is linked into the connect
// deadline for any socket this call ends up dialing, so a cancelled caller
// aborts its own connect attempt promptly.
func (m *AutoConnectMap) Resolve(ctx context.Context, id uint64) (*Context, error) {
	for {
		if sc, ok := m.inner.Get(id); ok {
			return sc, nil
		}

		candidate := NewLazy(id, m.target, m.newTimeouts(), m.logger).WithDialFunc(m.dial)
		// Force the connect now (outside any map lock) rather than lazily
		// on first Send/Receive, so a losing candidate never reaches the
		// caller half-connected.
		if err := candidate.ensureConnected(ctx); err != nil {
			return nil, err
		}

		if err := m.inner.AddSocket(id, candidate); err != nil {
			if errors.Is(err, ErrDuplicateSocket) {
				candidate.Dispose()
				continue
			}
			candidate.Dispose()
			return nil, fmt.Errorf("auto-connect: %w", err)
		}
		return candidate, nil
	}
}

// RemoveSocket deletes id from the underlying map, disposing its Context.
func (m *AutoConnectMap) RemoveSocket(id uint64) {
	m.inner.RemoveSocket(id)
}

// Snapshot defers to the underlying map.
func (m *AutoConnectMap) Snapshot() (*Snapshot, error) {
	return m.inner.Snapshot()
}

// Reset defers to the underlying map.
func (m *AutoConnectMap) Reset() {
	m.inner.Reset()
}
