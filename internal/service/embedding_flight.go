package service

import (
	"context"
	"sync"
)

// embedFlight tracks track embeddings in progress, keyed by l1Key. The first
// caller to claim a key owns the work and must settle it; later callers,
// whether single or batch, wait on the same call instead of paying for
// another backend request.
type embedFlight struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

type flightCall struct {
	done   chan struct{}
	vec    []float32
	cached bool
	err    error
}

func newEmbedFlight() *embedFlight {
	return &embedFlight{calls: make(map[string]*flightCall)}
}

// claim returns the call for key and whether the caller now owns it.
func (f *embedFlight) claim(key string) (*flightCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.calls[key]; ok {
		return c, false
	}
	c := &flightCall{done: make(chan struct{})}
	f.calls[key] = c
	return c, true
}

// settle publishes the outcome to every waiter and releases the key.
func (f *embedFlight) settle(key string, c *flightCall, vec []float32, cached bool, err error) {
	c.vec, c.cached, c.err = vec, cached, err
	f.mu.Lock()
	delete(f.calls, key)
	f.mu.Unlock()
	close(c.done)
}

// wait blocks until the call settles or the caller's own ctx ends. The
// owner's cancellation never reaches other waiters.
func (c *flightCall) wait(ctx context.Context) ([]float32, bool, error) {
	select {
	case <-c.done:
		return c.vec, c.cached, c.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
