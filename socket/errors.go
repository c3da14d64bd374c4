package socket

import "errors"

// Error kinds raised by SocketContext and SocketMap operations. Every
// bounded I/O failure is normalized to one of ErrSendTimeout or
// ErrReceiveTimeout regardless of the underlying net.Error, since both are
// always observed through a send- or idle-scoped deadline and recovered
// identically (the context cancels and the caller drops the socket).
var (
	ErrConnectFailed      = errors.New("socket: connect failed")
	ErrSendTimeout        = errors.New("socket: send failed or timed out")
	ErrReceiveTimeout     = errors.New("socket: receive failed or timed out")
	ErrNoSuchSocket       = errors.New("socket: no such socket")
	ErrDuplicateSocket    = errors.New("socket: duplicate socket id")
	ErrConcurrentSnapshot = errors.New("socket: snapshot already outstanding")
	ErrCancelled          = errors.New("socket: cancelled")
)
