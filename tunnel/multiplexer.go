// Package tunnel runs the multiplexed bidirectional pump that is the core
// of the system: it keeps a live SocketMap, frames and unframes per-socket
// byte chunks over a shared Transport, and tears the whole session down
// the instant either direction fails.
//
// Two concurrent pumps race to a shared error channel; the first failure
// cancels the session and the other pump unwinds, generalized from a
// single shared id-space to the socket package's
// SocketMap/SocketContext/Snapshot protocol and the frame package's
// 8-byte little-endian id suffix.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nightbridge-dev/wsmux/frame"
	"github.com/nightbridge-dev/wsmux/socket"
	"github.com/nightbridge-dev/wsmux/timeouts"
	"github.com/nightbridge-dev/wsmux/transport"
)

// snapshotPollInterval is how long pump B waits for a task whose id has
// dropped out of the snapshot to self-report done before giving up on
// this round and leaving it in the table.
const snapshotPollInterval = time.Millisecond

// Multiplexer runs the two pumps for one tunnel session: Transport
// messages flowing to sockets, and socket bytes flowing to the Transport.
type Multiplexer struct {
	Transport transport.Transport
	Sockets   socket.Map

	// Timeouts bounds Transport-level operations (distinct from each
	// SocketContext's own Timeouts, which bounds that one socket's I/O).
	Timeouts *timeouts.Timeouts

	// Cancel trips the session-scoped context every SocketContext's own
	// Timeouts was derived from, so ending the session cascades down to
	// every socket instead of only to the Transport. Driver wires this to
	// the same context.CancelCauseFunc it derived that shared parent from.
	Cancel context.CancelCauseFunc

	Logger *slog.Logger
}

func (mx *Multiplexer) logger() *slog.Logger {
	if mx.Logger == nil {
		return slog.Default()
	}
	return mx.Logger
}

// Multiplex runs pump A (tunnel to sockets) and pump B (sockets to
// tunnel) until either fails. ctx is expected to already be the
// session-scoped context that every SocketContext's own Timeouts was
// derived from (the Driver builds this once and shares it), so that
// tripping mx.Cancel here cascades to every socket's own Timeouts root,
// not just to this Multiplexer's pumps.
//
// On the first failure it trips mx.Cancel with that failure's cause and
// closes the Transport outright: a cancelled context does not by itself
// unblock a Receive or Send already committed to a deadline, so the other
// pump is force-unstuck by closing the connection it is blocked on.
func (mx *Multiplexer) Multiplex(ctx context.Context) error {
	results := make(chan error, 2)
	go func() { results <- mx.pumpTunnelToSockets(ctx) }()
	go func() { results <- mx.pumpSocketsToTunnel(ctx) }()

	first := <-results
	if mx.Cancel != nil {
		mx.Cancel(first)
	}
	_ = mx.Transport.Close()
	<-results

	if first != nil && !errors.Is(first, context.Canceled) {
		return first
	}
	return context.Cause(ctx)
}

// pumpTunnelToSockets is Pump A: receive one Transport message at a time,
// split it into (payload, id), and deliver payload to the resolved
// socket. A resolution failure (no such socket, or auto-connect failure)
// ends the session; a send failure on an already-resolved socket is
// contained to that socket.
func (mx *Multiplexer) pumpTunnelToSockets(ctx context.Context) error {
	buf := make([]byte, frame.MaxMessageSize)
	log := mx.logger()

	for {
		rctx, cancel := mx.Timeouts.Idle()
		n, err := mx.Transport.Receive(rctx, buf)
		cancel()
		if err != nil {
			return fmt.Errorf("pump-a: transport receive: %w", err)
		}

		payload, id, err := frame.Split(buf[:n])
		if err != nil {
			return fmt.Errorf("pump-a: %w", err)
		}

		sc, err := mx.Sockets.Resolve(ctx, id)
		if err != nil {
			return fmt.Errorf("pump-a: %w", err)
		}

		if err := sc.Send(ctx, payload); err != nil {
			log.Warn("pump-a: socket send failed, dropping socket", "id", id, "error", err)
			mx.Sockets.RemoveSocket(id)
			continue
		}
		if frame.IsClose(payload) {
			mx.Sockets.RemoveSocket(id)
		}
	}
}

// pumpSocketsToTunnel is Pump B: maintain one SocketReceive task per id
// currently in the SocketMap, re-snapshotting whenever membership
// changes.
func (mx *Multiplexer) pumpSocketsToTunnel(ctx context.Context) error {
	tasks := make(map[uint64]chan struct{})
	defer func() {
		for _, done := range tasks {
			<-done
		}
	}()

	for {
		snap, err := mx.Sockets.Snapshot()
		if err != nil {
			return fmt.Errorf("pump-b: snapshot: %w", err)
		}

		for id, sc := range snap.Sockets() {
			if _, ok := tasks[id]; ok {
				continue
			}
			done := make(chan struct{})
			tasks[id] = done
			go mx.socketReceive(ctx, id, sc, done)
		}
		for id, done := range tasks {
			if _, stillPresent := snap.Sockets()[id]; stillPresent {
				continue
			}
			select {
			case <-done:
				delete(tasks, id)
			case <-time.After(snapshotPollInterval):
			}
		}

		waitErr := snap.Wait(ctx)
		snap.Detach()
		if waitErr != nil {
			return fmt.Errorf("pump-b: %w", waitErr)
		}
	}
}

// socketReceive is the per-socket task: read bytes from one TCP socket,
// join them with its id, and send the framed message through the
// Transport. Any error removes the socket from the map and ends the
// task; it never ends the session.
func (mx *Multiplexer) socketReceive(ctx context.Context, id uint64, sc *socket.Context, done chan struct{}) {
	defer close(done)
	log := mx.logger()

	buf := make([]byte, frame.MaxMessageSize)
	payloadCap := len(buf) - frame.IDLen

	for {
		n, err := sc.Receive(ctx, buf[:payloadCap])
		if err != nil {
			log.Debug("socket receive ended", "id", id, "error", err)
			mx.Sockets.RemoveSocket(id)
			return
		}

		msg := frame.Join(buf, n, id)
		sctx, cancel := mx.Timeouts.Send()
		err = mx.Transport.Send(sctx, msg)
		cancel()
		if err != nil {
			log.Warn("transport send failed, dropping socket", "id", id, "error", err)
			mx.Sockets.RemoveSocket(id)
			return
		}
	}
}
