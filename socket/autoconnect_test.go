package socket

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nightbridge-dev/wsmux/timeouts"
)

func newTestTimeouts() *timeouts.Timeouts {
	return timeouts.New(context.Background(), timeouts.Config{ConnectTimeout: time.Second, SendTimeout: time.Second, IdleTimeout: time.Second})
}

func TestAutoConnectCreatesOnMiss(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	var dialCount atomic.Int32
	inner := NewListenerMap()
	m := NewAutoConnectMap(inner, "target:0", newTestTimeouts, nil).WithDialFunc(
		func(ctx context.Context, network, address string) (net.Conn, error) {
			dialCount.Add(1)
			return local, nil
		})

	sc, err := m.Resolve(context.Background(), 7)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dialCount.Load() != 1 {
		t.Errorf("dial count = %d, want 1", dialCount.Load())
	}

	sc2, err := m.Resolve(context.Background(), 7)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if sc2 != sc {
		t.Error("second Resolve should return the same Context")
	}
	if dialCount.Load() != 1 {
		t.Error("second Resolve should not dial again")
	}
}

func TestAutoConnectDiscardOnRace(t *testing.T) {
	inner := NewListenerMap()
	var dialCount atomic.Int32
	var mu sync.Mutex
	conns := map[int32]net.Conn{}

	m := NewAutoConnectMap(inner, "target:0", newTestTimeouts, nil).WithDialFunc(
		func(ctx context.Context, network, address string) (net.Conn, error) {
			n := dialCount.Add(1)
			local, remote := net.Pipe()
			mu.Lock()
			conns[n] = remote
			mu.Unlock()
			go func() { _, _ = remote.Read(make([]byte, 1)) }() // drain so Close doesn't block
			return local, nil
		})

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Context, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sc, err := m.Resolve(context.Background(), 42)
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			results[i] = sc
		}(i)
	}
	wg.Wait()

	first := results[0]
	for i, sc := range results {
		if sc != first {
			t.Errorf("result %d = %p, want all to match %p (single winner under the id)", i, sc, first)
		}
	}
	if dialCount.Load() < 1 {
		t.Error("expected at least one dial attempt")
	}
}

func TestAutoConnectConnectFailureNotInserted(t *testing.T) {
	inner := NewListenerMap()
	boom := errors.New("connection refused")
	m := NewAutoConnectMap(inner, "target:0", newTestTimeouts, nil).WithDialFunc(
		func(ctx context.Context, network, address string) (net.Conn, error) {
			return nil, boom
		})

	if _, err := m.Resolve(context.Background(), 1); !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Resolve = %v, want ErrConnectFailed", err)
	}
	if _, ok := inner.Get(1); ok {
		t.Error("a failed connect must not leave an entry in the map")
	}
}
