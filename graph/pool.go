package graph

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// ResourcePool is a bounded, reusable semaphore of `size` slots with a FIFO
// wait queue, matching §5's Resource Pool model: acquire() either returns an
// available slot or suspends until one is released. An optional rate.Limiter
// additionally caps dispatch throughput (an optimization hint, §4.3's
// `optimization` block).
type ResourcePool struct {
	tokens  chan struct{}
	limiter *rate.Limiter

	mu       sync.Mutex
	inUse    int
	waiting  int
	metrics  *RuntimeMetrics
	executionID string
}

// NewResourcePool constructs a pool of the given size. A nil limiter means
// no throughput cap beyond the slot count itself.
func NewResourcePool(size int, limiter *rate.Limiter) *ResourcePool {
	if size <= 0 {
		size = 1
	}
	p := &ResourcePool{tokens: make(chan struct{}, size), limiter: limiter}
	for i := 0; i < size; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// WithMetrics attaches a RuntimeMetrics sink and execution id for
// queue-depth/backpressure reporting.
func (p *ResourcePool) WithMetrics(m *RuntimeMetrics, executionID string) *ResourcePool {
	p.metrics = m
	p.executionID = executionID
	return p
}

// Size returns the pool's total slot count.
func (p *ResourcePool) Size() int { return cap(p.tokens) }

// InUse returns the number of slots currently checked out.
func (p *ResourcePool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Acquire blocks until a slot is available (FIFO order is the channel's
// natural receive order) or ctx is cancelled. Acquisition additionally waits
// on the rate limiter, if configured.
func (p *ResourcePool) Acquire(ctx context.Context) (release func(), err error) {
	p.mu.Lock()
	p.waiting++
	if p.metrics != nil {
		p.metrics.UpdateQueueDepth(p.waiting)
	}
	p.mu.Unlock()

	select {
	case <-p.tokens:
	case <-ctx.Done():
		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.IncrementBackpressure(p.executionID, "cancelled")
		}
		return nil, ctx.Err()
	}

	p.mu.Lock()
	p.waiting--
	p.inUse++
	if p.metrics != nil {
		p.metrics.UpdateQueueDepth(p.waiting)
		p.metrics.UpdateInflightNodes(p.inUse)
	}
	p.mu.Unlock()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.releaseSlot()
			return nil, err
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		p.releaseSlot()
	}, nil
}

func (p *ResourcePool) releaseSlot() {
	p.mu.Lock()
	p.inUse--
	if p.metrics != nil {
		p.metrics.UpdateInflightNodes(p.inUse)
	}
	p.mu.Unlock()
	// Resources are reset (no per-slot counters held) before requeueing.
	p.tokens <- struct{}{}
}
