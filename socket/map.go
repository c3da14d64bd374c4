package socket

import (
	"context"
	"fmt"
	"sync"
)

// Map is what the multiplexer's pumps need from either SocketMap variant.
type Map interface {
	// Resolve returns the Context for id, creating or failing as the
	// concrete variant dictates.
	Resolve(ctx context.Context, id uint64) (*Context, error)
	RemoveSocket(id uint64)
	Snapshot() (*Snapshot, error)
	Reset()
}

// ListenerMap is the authoritative id-to-Context map for the listener
// side: entries are added explicitly by the accept loop and removed on
// error or close. All public operations are serialized by a single mutex,
// and at most one Snapshot may be outstanding at a time.
type ListenerMap struct {
	mu          sync.Mutex
	sockets     map[uint64]*Context
	outstanding *Lifetime
}

var _ Map = (*ListenerMap)(nil)

// NewListenerMap returns an empty ListenerMap.
func NewListenerMap() *ListenerMap {
	return &ListenerMap{sockets: make(map[uint64]*Context)}
}

// AddSocket inserts ctx under id, failing with ErrDuplicateSocket if the id
// is already present.
func (m *ListenerMap) AddSocket(id uint64, ctx *Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sockets[id]; exists {
		return fmt.Errorf("%w: id %d", ErrDuplicateSocket, id)
	}
	m.sockets[id] = ctx
	m.invalidateLocked()
	return nil
}

// Get returns the Context for id without failing when absent.
func (m *ListenerMap) Get(id uint64) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.sockets[id]
	return sc, ok
}

// Resolve implements Map: a required lookup that fails with
// ErrNoSuchSocket when id is absent.
func (m *ListenerMap) Resolve(_ context.Context, id uint64) (*Context, error) {
	sc, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNoSuchSocket, id)
	}
	return sc, nil
}

// RemoveSocket deletes id from the map and disposes its Context. A no-op
// if id is absent.
func (m *ListenerMap) RemoveSocket(id uint64) {
	m.mu.Lock()
	sc, ok := m.sockets[id]
	if ok {
		delete(m.sockets, id)
		m.invalidateLocked()
	}
	m.mu.Unlock()
	if ok {
		sc.Dispose()
	}
}

// invalidateLocked terminates and clears any outstanding snapshot. Must be
// called with mu held; called by every mutation (add or remove).
func (m *ListenerMap) invalidateLocked() {
	if m.outstanding != nil {
		m.outstanding.Terminate()
		m.outstanding = nil
	}
}

// Snapshot returns an immutable view of the current map paired with a
// Lifetime that terminates on the next mutation. Fails with
// ErrConcurrentSnapshot if a snapshot is already outstanding.
func (m *ListenerMap) Snapshot() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outstanding != nil {
		return nil, ErrConcurrentSnapshot
	}

	view := make(map[uint64]*Context, len(m.sockets))
	for id, sc := range m.sockets {
		view[id] = sc
	}

	life := NewLifetime()
	m.outstanding = life

	var once sync.Once
	snap := &Snapshot{sockets: view, life: life}
	snap.detach = func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.outstanding == life {
				m.outstanding = nil
			}
		})
	}
	return snap, nil
}

// Reset disposes every Context and clears the map, terminating any
// outstanding snapshot.
func (m *ListenerMap) Reset() {
	m.mu.Lock()
	sockets := m.sockets
	m.sockets = make(map[uint64]*Context)
	m.invalidateLocked()
	m.mu.Unlock()

	for _, sc := range sockets {
		sc.Dispose()
	}
}
