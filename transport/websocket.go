package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nightbridge-dev/wsmux/frame"
)

const (
	pingInterval = 30 * time.Second
	pingTimeout  = 10 * time.Second
)

// WS is a Transport backed by a single gorilla/websocket connection.
// Writes are serialized with a mutex (gorilla/websocket forbids concurrent
// writers); a background ping loop keeps intermediaries from reaping an
// otherwise-idle connection during long gaps between framed messages.
type WS struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

var _ Transport = (*WS)(nil)

// NewWS wraps an established *websocket.Conn (either side) as a Transport.
func NewWS(conn *websocket.Conn, logger *slog.Logger) *WS {
	if logger == nil {
		logger = slog.Default()
	}
	conn.SetReadLimit(frame.MaxMessageSize)
	t := &WS{conn: conn, logger: logger, done: make(chan struct{})}
	go t.pingLoop()
	return t
}

// DialWS dials url as the listener side of a tunnel session.
func DialWS(ctx context.Context, url string, header http.Header, logger *slog.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return NewWS(conn, logger), nil
}

// AcceptWS upgrades an inbound HTTP request to a WebSocket as the server
// side of a tunnel session.
func AcceptWS(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*WS, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  32 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return NewWS(conn, logger), nil
}

func (t *WS) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// Send writes data as one binary WebSocket message.
func (t *WS) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// Receive reads the next WebSocket message into buf, up to len(buf)
// bytes. A message larger than len(buf) is truncated at len(buf); callers
// size buf to frame.MaxMessageSize to avoid this.
func (t *WS) Receive(ctx context.Context, buf []byte) (int, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	_, r, err := t.conn.NextReader()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	n := 0
	for n < len(buf) {
		m, rerr := r.Read(buf[n:])
		n += m
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return n, fmt.Errorf("%w: %v", ErrClosed, rerr)
		}
	}
	return n, nil
}

// Close closes the underlying WebSocket connection. Idempotent.
func (t *WS) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		err = t.conn.Close()
		t.writeMu.Unlock()
	})
	return err
}
