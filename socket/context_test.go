package socket

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nightbridge-dev/wsmux/timeouts"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	to := timeouts.New(context.Background(), timeouts.Config{SendTimeout: time.Second, IdleTimeout: time.Second})
	sc := NewConnected(1, local, to, nil)

	go func() {
		_ = sc.Send(context.Background(), []byte("hello"))
	}()

	buf := make([]byte, 16)
	n, err := remote.Read(buf)
	if err != nil {
		t.Fatalf("remote.Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("got %q, want %q", buf[:n], "hello")
	}
}

func TestZeroLengthSendClosesWithoutLinger(t *testing.T) {
	local, remote := net.Pipe()
	to := timeouts.New(context.Background(), timeouts.Config{SendTimeout: time.Second, LingerDelay: time.Hour})
	sc := NewConnected(1, local, to, nil)

	start := time.Now()
	if err := sc.Send(context.Background(), nil); err != nil {
		t.Fatalf("Send(nil) = %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("zero-length Send should not wait out the linger delay")
	}

	buf := make([]byte, 1)
	if _, err := remote.Read(buf); err == nil {
		t.Error("peer should observe the connection closed")
	}
}

func TestReceiveIdleTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	to := timeouts.New(context.Background(), timeouts.Config{IdleTimeout: 10 * time.Millisecond})
	sc := NewConnected(1, local, to, nil)

	_, err := sc.Receive(context.Background(), make([]byte, 16))
	if !errors.Is(err, ErrReceiveTimeout) {
		t.Errorf("Receive() = %v, want ErrReceiveTimeout", err)
	}
	select {
	case <-to.Done():
	default:
		t.Error("a receive error should trip the Timeouts root")
	}
}

func TestConnectOnDemandOnlyOnce(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	defer local.Close()

	var dialCount atomic.Int32
	to := timeouts.New(context.Background(), timeouts.Config{ConnectTimeout: time.Second, SendTimeout: time.Second})
	sc := NewLazy(1, "ignored:0", to, nil).WithDialFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		dialCount.Add(1)
		return local, nil
	})

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_ = sc.Send(context.Background(), []byte("x"))
			done <- struct{}{}
		}()
	}
	buf := make([]byte, 1)
	_, _ = remote.Read(buf)
	_, _ = remote.Read(buf)
	<-done
	<-done

	if n := dialCount.Load(); n != 1 {
		t.Errorf("dial called %d times, want 1", n)
	}
	if !sc.Connected() {
		t.Error("socket should be connected after first Send")
	}
}

func TestConnectFailurePropagates(t *testing.T) {
	to := timeouts.New(context.Background(), timeouts.Config{ConnectTimeout: time.Second})
	boom := errors.New("refused")
	sc := NewLazy(1, "ignored:0", to, nil).WithDialFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		return nil, boom
	})

	err := sc.Send(context.Background(), []byte("x"))
	if !errors.Is(err, ErrConnectFailed) {
		t.Errorf("Send() = %v, want ErrConnectFailed", err)
	}
	select {
	case <-to.Done():
	default:
		t.Error("connect failure should trip the Timeouts root")
	}
}
