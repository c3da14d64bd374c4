package socket

import "context"

// Snapshot is an immutable point-in-time view of a SocketMap paired with a
// Lifetime that terminates the instant the map is mutated. Callers must
// release it with Detach once done observing it; Detach is idempotent and
// safe to defer immediately after Snapshot succeeds.
type Snapshot struct {
	sockets map[uint64]*Context
	life    *Lifetime
	detach  func()
}

// Sockets returns the immutable id-to-Context view. The returned map must
// not be mutated by the caller.
func (s *Snapshot) Sockets() map[uint64]*Context {
	return s.sockets
}

// Wait blocks until the snapshot's Lifetime is terminated (the map was
// mutated) or ctx is done.
func (s *Snapshot) Wait(ctx context.Context) error {
	return s.life.Wait(ctx)
}

// Detach releases the snapshot, clearing the map's outstanding-snapshot
// slot if this snapshot is still the one on record.
func (s *Snapshot) Detach() {
	s.detach()
}
