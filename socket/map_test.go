package socket

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nightbridge-dev/wsmux/timeouts"
)

func newTestContext(id uint64) (*Context, net.Conn) {
	local, remote := net.Pipe()
	to := timeouts.New(context.Background(), timeouts.Config{SendTimeout: time.Second, IdleTimeout: time.Second})
	return NewConnected(id, local, to, nil), remote
}

func TestListenerMapAddDuplicate(t *testing.T) {
	m := NewListenerMap()
	sc, _ := newTestContext(1)
	if err := m.AddSocket(1, sc); err != nil {
		t.Fatalf("first AddSocket: %v", err)
	}
	other, _ := newTestContext(1)
	if err := m.AddSocket(1, other); !errors.Is(err, ErrDuplicateSocket) {
		t.Errorf("AddSocket duplicate = %v, want ErrDuplicateSocket", err)
	}
}

func TestListenerMapResolveMissing(t *testing.T) {
	m := NewListenerMap()
	if _, err := m.Resolve(context.Background(), 99); !errors.Is(err, ErrNoSuchSocket) {
		t.Errorf("Resolve missing = %v, want ErrNoSuchSocket", err)
	}
}

func TestListenerMapRemoveDisposes(t *testing.T) {
	m := NewListenerMap()
	sc, remote := newTestContext(1)
	_ = m.AddSocket(1, sc)
	m.RemoveSocket(1)

	if _, ok := m.Get(1); ok {
		t.Error("removed id should be absent")
	}
	buf := make([]byte, 1)
	if _, err := remote.Read(buf); err == nil {
		t.Error("peer should observe the socket closed")
	}
}

func TestSnapshotExclusivity(t *testing.T) {
	m := NewListenerMap()
	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("first Snapshot: %v", err)
	}
	defer snap.Detach()

	if _, err := m.Snapshot(); !errors.Is(err, ErrConcurrentSnapshot) {
		t.Errorf("second Snapshot = %v, want ErrConcurrentSnapshot", err)
	}
}

func TestSnapshotInvalidatedByMutation(t *testing.T) {
	m := NewListenerMap()
	snap, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	sc, _ := newTestContext(1)
	if err := m.AddSocket(1, sc); err != nil {
		t.Fatalf("AddSocket: %v", err)
	}

	select {
	case <-waitDone(snap):
	case <-time.After(time.Second):
		t.Fatal("snapshot lifetime should have terminated on mutation")
	}

	// Detach after invalidation must still be safe, and the map must accept
	// a new snapshot afterwards.
	snap.Detach()
	snap2, err := m.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot after invalidated Detach: %v", err)
	}
	snap2.Detach()
}

func waitDone(s *Snapshot) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		_ = s.Wait(context.Background())
		close(done)
	}()
	return done
}

func TestResetDisposesAll(t *testing.T) {
	m := NewListenerMap()
	sc1, remote1 := newTestContext(1)
	sc2, remote2 := newTestContext(2)
	_ = m.AddSocket(1, sc1)
	_ = m.AddSocket(2, sc2)

	m.Reset()

	for _, remote := range []net.Conn{remote1, remote2} {
		buf := make([]byte, 1)
		if _, err := remote.Read(buf); err == nil {
			t.Error("peer should observe the socket closed after Reset")
		}
	}
}
