package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/nightbridge-dev/wsmux/socket"
	"github.com/nightbridge-dev/wsmux/timeouts"
	"github.com/nightbridge-dev/wsmux/transport"
)

// ListenerDriver is the listener side of a tunnel: it accepts plain TCP
// connections on a local address, assigns each a SocketId, and carries all
// of them over a single WebSocket session to the server side. One
// ListenerDriver runs exactly one Multiplexer for its whole lifetime: a
// single long-lived proxied tunnel carrying many accepted connections.
type ListenerDriver struct {
	// Listener accepts the plain TCP connections to tunnel. Owned by the
	// caller; Run closes it on the way out.
	Listener net.Listener

	// TunnelURL is the ws:// or wss:// endpoint of the server side.
	TunnelURL string
	Header    http.Header

	Timeouts timeouts.Config
	Logger   *slog.Logger
}

func (d *ListenerDriver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Run dials the server side, then accepts and multiplexes connections
// until ctx is cancelled or the session fails. It returns the error that
// ended the session, or nil on a clean, externally requested shutdown.
func (d *ListenerDriver) Run(ctx context.Context) error {
	logger := sessionLogger(d.logger(), newSessionID())

	tr, err := transport.DialWS(ctx, d.TunnelURL, d.Header, logger)
	if err != nil {
		_ = d.Listener.Close()
		return fmt.Errorf("listener: %w", err)
	}

	sessCtx, sessCancel := context.WithCancelCause(ctx)
	sockets := socket.NewListenerMap()
	sessionTO := timeouts.New(sessCtx, d.Timeouts)

	mx := &Multiplexer{
		Transport: tr,
		Sockets:   sockets,
		Timeouts:  sessionTO,
		Cancel:    sessCancel,
		Logger:    logger,
	}

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		d.acceptLoop(sessCtx, sockets, sessCancel, logger)
	}()

	sessErr := mx.Multiplex(sessCtx)
	sessCancel(sessErr)

	_ = d.Listener.Close()
	<-acceptDone
	sockets.Reset()

	logger.Info("listener session ended", "error", sessErr)
	if ctx.Err() != nil && errors.Is(sessErr, context.Canceled) {
		return nil
	}
	return sessErr
}

// acceptLoop accepts TCP connections and registers each as a connected
// socket under a monotonically increasing SocketId, the per-session id
// assignment strategy the core spec left open. A duplicate id can only
// mean the counter or the map is corrupt, so it trips the whole session
// rather than being silently dropped, matching the error taxonomy's
// "otherwise fatal" rule for DuplicateSocket outside the auto-connect
// retry path.
func (d *ListenerDriver) acceptLoop(ctx context.Context, sockets *socket.ListenerMap, cancel context.CancelCauseFunc, logger *slog.Logger) {
	var nextID atomic.Uint64

	for {
		conn, err := d.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("accept failed, listener side done", "error", err)
			return
		}

		id := nextID.Add(1)
		perSocketTO := timeouts.New(ctx, d.Timeouts)
		sc := socket.NewConnected(id, conn, perSocketTO, logger)

		if err := sockets.AddSocket(id, sc); err != nil {
			logger.Error("duplicate socket id on accept, ending session", "id", id, "error", err)
			// Cancel the session first so this socket's own Timeouts root
			// (derived from ctx) is already tripped by the time Dispose
			// runs its Linger wait, skipping it rather than stalling a
			// fatal teardown on a multi-second delay.
			cancel(fmt.Errorf("listener: %w", err))
			sc.Dispose()
			return
		}
		logger.Info("accepted connection", "id", id, "remote", conn.RemoteAddr())
	}
}

// ServerDriver is the server side of a tunnel: an http.Handler that
// upgrades each inbound request to a WebSocket session and runs one
// Multiplexer per session, auto-connecting sockets to a fixed TCP target
// on first use of each id.
type ServerDriver struct {
	// Target is the tcp address every auto-connected socket dials.
	Target string

	Timeouts timeouts.Config
	Logger   *slog.Logger
}

func (d *ServerDriver) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// ServeHTTP implements http.Handler. It blocks for the lifetime of the
// WebSocket session, the same pattern gorilla/websocket's own examples
// use for a long-lived upgraded connection.
func (d *ServerDriver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := sessionLogger(d.logger(), newSessionID())

	tr, err := transport.AcceptWS(w, r, logger)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sessCtx, sessCancel := context.WithCancelCause(r.Context())
	sessionTO := timeouts.New(sessCtx, d.Timeouts)

	inner := socket.NewListenerMap()
	newPerSocketTO := func() *timeouts.Timeouts { return timeouts.New(sessCtx, d.Timeouts) }
	sockets := socket.NewAutoConnectMap(inner, d.Target, newPerSocketTO, logger)

	mx := &Multiplexer{
		Transport: tr,
		Sockets:   sockets,
		Timeouts:  sessionTO,
		Cancel:    sessCancel,
		Logger:    logger,
	}

	sessErr := mx.Multiplex(sessCtx)
	sessCancel(sessErr)
	inner.Reset()

	logger.Info("server session ended", "error", sessErr)
}
