// Package transport defines the duplex, message-preserving channel the
// multiplexer runs its frame protocol over, and a WebSocket-backed
// implementation of it. The multiplexer never imports gorilla/websocket
// directly; it only depends on this interface, kept deliberately narrow
// so the core engine's tests can swap in an in-process fake.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned once a Transport has failed or been closed; both
// directions become unusable at that point.
var ErrClosed = errors.New("transport: closed")

// Transport is an ordered, reliable, message-preserving duplex channel of
// binary frames, each up to frame.MaxMessageSize bytes.
type Transport interface {
	// Receive reads the next message into buf, returning the number of
	// bytes populated. It honors ctx's deadline.
	Receive(ctx context.Context, buf []byte) (int, error)

	// Send writes data as a single message, honoring ctx's deadline.
	Send(ctx context.Context, data []byte) error

	// Close releases the underlying connection. Idempotent.
	Close() error
}
