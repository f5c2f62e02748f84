// services/link/internal/irq/irq.go
package irq

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handler is one hardware-event service routine.
type Handler func() error

// Controller runs posted handlers one at a time, each to completion, so
// handlers never nest. Posting never blocks; a full queue drops the post.
type Controller struct {
	// Written from peripheral context; MUST NOT block:
	q chan Handler

	mu      sync.Mutex
	onFault func(error)

	drops   uint32
	served  uint32
	stopped chan struct{}
}

func New(depth int) *Controller {
	if depth <= 0 {
		depth = 32
	}
	return &Controller{
		q:       make(chan Handler, depth),
		stopped: make(chan struct{}),
	}
}

// OnFault installs the hook that receives handler errors.
func (c *Controller) OnFault(fn func(error)) {
	c.mu.Lock()
	c.onFault = fn
	c.mu.Unlock()
}

// Post queues h for execution and reports whether it was accepted.
func (c *Controller) Post(h Handler) bool {
	select {
	case c.q <- h:
		return true
	default:
		atomic.AddUint32(&c.drops, 1)
		return false
	}
}

// Run services handlers until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-c.q:
			c.serve(h)
		}
	}
}

func (c *Controller) serve(h Handler) {
	atomic.AddUint32(&c.served, 1)
	err := h()
	if err == nil {
		return
	}
	c.mu.Lock()
	fn := c.onFault
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Stopped is closed when Run returns.
func (c *Controller) Stopped() <-chan struct{} { return c.stopped }

func (c *Controller) Drops() uint32  { return atomic.LoadUint32(&c.drops) }
func (c *Controller) Served() uint32 { return atomic.LoadUint32(&c.served) }
