package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/nightbridge-dev/wsmux/timeouts"
)

// DialFunc dials a target endpoint. Swappable in tests; defaults to
// (&net.Dialer{}).DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Context wraps one TCP socket behind lazy connect, per-operation
// timeouts, and a cancellation that trips on the first I/O error. It is
// the unit the SocketMap keys by id.
type Context struct {
	id     uint64
	target string
	dial   DialFunc

	timeouts *timeouts.Timeouts
	logger   *slog.Logger

	connMu    sync.Mutex
	connected atomic.Bool
	conn      net.Conn
}

// NewConnected wraps an already-connected socket (the listener side's
// accept loop uses this: the TCP connection exists before the id is even
// assigned).
func NewConnected(id uint64, conn net.Conn, to *timeouts.Timeouts, logger *slog.Logger) *Context {
	c := &Context{id: id, conn: conn, timeouts: to, logger: nonNil(logger)}
	c.connected.Store(true)
	c.watchCancellation()
	return c
}

// NewLazy wraps a socket that will be dialed to target on first Send or
// Receive (the server side's auto-connect map uses this).
func NewLazy(id uint64, target string, to *timeouts.Timeouts, logger *slog.Logger) *Context {
	return &Context{id: id, target: target, dial: defaultDial, timeouts: to, logger: nonNil(logger)}
}

// WithDialFunc overrides the dialer used by connect-on-demand. Intended
// for tests.
func (c *Context) WithDialFunc(d DialFunc) *Context {
	c.dial = d
	return c
}

func defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

func nonNil(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// ID returns the socket id this Context was created with.
func (c *Context) ID() uint64 { return c.id }

// Connected reports whether the underlying TCP socket has connected yet.
func (c *Context) Connected() bool { return c.connected.Load() }

// ensureConnected performs the lazy-connect critical section. The mutex
// serializes only the connect phase: once connected, Send and Receive
// proceed concurrently on the underlying full-duplex socket.
func (c *Context) ensureConnected(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.connected.Load() {
		return nil
	}

	cctx, cancel := c.timeouts.ConnectLinked(ctx)
	defer cancel()

	conn, err := c.dial(cctx, "tcp", c.target)
	if err != nil {
		c.logger.Error("socket connect failed", "id", c.id, "target", c.target, "error", err)
		c.timeouts.Cancel(err)
		return fmt.Errorf("%w: id %d target %s: %v", ErrConnectFailed, c.id, c.target, err)
	}
	c.conn = conn
	c.connected.Store(true)
	c.watchCancellation()
	return nil
}

// watchCancellation force-closes the underlying socket the instant this
// Context's Timeouts root is cancelled, so a Send or Receive blocked on a
// long idle deadline unblocks immediately instead of waiting it out. A
// context going Done does not by itself interrupt a conn.Read/Write
// already committed to a deadline set before the cancellation happened.
func (c *Context) watchCancellation() {
	c.timeouts.AfterCancel(func() {
		_ = c.conn.Close()
	})
}

// Send writes segment to the socket. A zero-length segment is the
// orderly-close signal: it half-closes the write side (or closes the
// socket outright if it doesn't support half-close) without waiting out
// the linger delay.
func (c *Context) Send(ctx context.Context, segment []byte) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	if len(segment) == 0 {
		return c.closeWrite()
	}

	sctx, cancel := c.timeouts.Send()
	defer cancel()
	if deadline, ok := sctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return c.fail(ErrSendTimeout, err)
		}
	}
	if _, err := c.conn.Write(segment); err != nil {
		return c.fail(ErrSendTimeout, err)
	}
	return nil
}

// Receive reads up to len(buf) bytes, returning the populated prefix
// length. The full idle timeout applies per call: idleness is the elapsed
// wait for this one read, not an activity counter.
func (c *Context) Receive(ctx context.Context, buf []byte) (int, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return 0, err
	}

	ictx, cancel := c.timeouts.Idle()
	defer cancel()
	if deadline, ok := ictx.Deadline(); ok {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return 0, c.fail(ErrReceiveTimeout, err)
		}
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		return n, c.fail(ErrReceiveTimeout, err)
	}
	return n, nil
}

func (c *Context) fail(kind error, cause error) error {
	c.logger.Error("socket operation failed", "id", c.id, "error", cause)
	c.timeouts.Cancel(cause)
	return fmt.Errorf("%w: id %d: %v", kind, c.id, cause)
}

// closeWrite issues an orderly disconnect without a linger wait.
func (c *Context) closeWrite() error {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := c.conn.(writeCloser); ok {
		if err := wc.CloseWrite(); err != nil {
			return c.fail(ErrSendTimeout, err)
		}
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return c.fail(ErrSendTimeout, err)
	}
	return nil
}

// Linger sleeps the configured linger delay, or returns early if the
// context's Timeouts has been cancelled.
func (c *Context) Linger() error {
	return c.timeouts.Linger()
}

// Dispose releases the context: it waits out Linger (a no-op if the
// Timeouts root is already cancelled, e.g. by a prior Send/Receive
// failure) before tripping cancellation and closing the underlying
// socket. The wait runs in its own goroutine so a caller on a
// multiplexer pump's hot path (a close-signal removal, a failed
// socketReceive) is never blocked by a multi-second linger delay; Dispose
// itself returns immediately. Called by the SocketMap when the context is
// removed or the map is reset.
func (c *Context) Dispose() {
	go func() {
		_ = c.Linger()
		c.timeouts.Cancel(ErrCancelled)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	}()
}
