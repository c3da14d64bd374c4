package socket

import (
	"context"
	"sync"
)

// Lifetime is a one-shot signal: created alive, it transitions to
// terminated exactly once, and any number of observers may await that
// transition. Implemented with the "done chan struct{}, closed once"
// idiom: closing a channel is itself a broadcast any number of goroutines
// can select on, so Terminate needs no separate waker list.
type Lifetime struct {
	once sync.Once
	done chan struct{}
}

// NewLifetime returns a Lifetime that starts alive.
func NewLifetime() *Lifetime {
	return &Lifetime{done: make(chan struct{})}
}

// Terminate transitions the Lifetime to terminated. Safe to call more
// than once or concurrently; only the first call has effect.
func (l *Lifetime) Terminate() {
	l.once.Do(func() { close(l.done) })
}

// Alive reports whether the Lifetime has not yet been terminated.
func (l *Lifetime) Alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the Lifetime is terminated or ctx is done, whichever
// happens first.
func (l *Lifetime) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
