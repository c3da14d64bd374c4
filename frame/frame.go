// Package frame implements the wire framing used by the tunnel multiplexer:
// a Transport message is a payload followed by an 8-byte little-endian
// socket id. A zero-length payload is the orderly-close signal for that id.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// IDLen is the size, in bytes, of the trailing socket id suffix.
const IDLen = 8

// MaxMessageSize is the largest Transport message this package will frame,
// suffix included.
const MaxMessageSize = 1 << 20 // 1 MiB

// ErrMalformedFrame is returned by Split when a message is shorter than
// IDLen and therefore cannot carry a socket id.
var ErrMalformedFrame = errors.New("frame: message shorter than id suffix")

// Split separates a raw Transport message into its payload and socket id.
// The returned payload aliases message; callers must not retain it past the
// lifetime of the buffer that held message.
func Split(message []byte) (payload []byte, id uint64, err error) {
	if len(message) < IDLen {
		return nil, 0, fmt.Errorf("%w: got %d bytes, need at least %d", ErrMalformedFrame, len(message), IDLen)
	}
	split := len(message) - IDLen
	return message[:split], binary.LittleEndian.Uint64(message[split:]), nil
}

// Join writes id after buf[:payloadLen] and returns the combined view
// buf[:payloadLen+IDLen]. buf must have at least payloadLen+IDLen bytes of
// capacity; callers size their buffers with IDLen bytes of headroom for
// this purpose.
func Join(buf []byte, payloadLen int, id uint64) []byte {
	binary.LittleEndian.PutUint64(buf[payloadLen:payloadLen+IDLen], id)
	return buf[:payloadLen+IDLen]
}

// IsClose reports whether payload represents the orderly-close signal.
func IsClose(payload []byte) bool {
	return len(payload) == 0
}
