package mediacache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Coordinator collapses concurrent fetches for the same key into one
// in-flight session whose result is shared by every waiter. The pending
// entry is removed when the session settles, on success and failure
// alike.
type Coordinator struct {
	group singleflight.Group

	lock      sync.Mutex
	pending   map[string]uint64
	flightSeq uint64
}

// NewCoordinator returns an empty coordinator
func NewCoordinator() *Coordinator {
	return &Coordinator{pending: make(map[string]uint64)}
}

// Do runs fn for key unless a fetch for that key is already in flight, in
// which case the caller attaches to the existing fetch and shares its
// result. fn runs detached from the caller's context: a waiter abandoning
// its wait never cancels the session for the other waiters and the
// session's result is still cached for future callers.
func (c *Coordinator) Do(ctx context.Context, key string, fn func(ctx context.Context) (*Content, error)) (*Content, error) {
	sessionCtx := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		token := c.begin(key)
		defer c.end(key, token)

		metricInflightFetches.Inc()
		defer metricInflightFetches.Dec()

		return fn(sessionCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		content, _ := res.Val.(*Content)
		return content, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingCount returns the number of keys with an in-flight fetch
func (c *Coordinator) PendingCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.pending)
}

// ForgetAll detaches every pending fetch: the in-flight sessions keep
// running and their current waiters still receive the result, but future
// callers for those keys start fresh.
func (c *Coordinator) ForgetAll() {
	c.lock.Lock()
	defer c.lock.Unlock()

	for key := range c.pending {
		c.group.Forget(key)
		delete(c.pending, key)
	}
}

func (c *Coordinator) begin(key string) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.flightSeq++
	c.pending[key] = c.flightSeq
	return c.flightSeq
}

// end removes the pending entry unless it no longer belongs to this
// flight (ForgetAll ran or a fresh flight took the key over)
func (c *Coordinator) end(key string, token uint64) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.pending[key] == token {
		delete(c.pending, key)
	}
}
