// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package partition routes work items to a fixed set of partitions and runs
// one worker goroutine per partition.
//
// Items submitted to the same partition are processed one at a time, in
// submission order. Items on different partitions run in parallel.
//
// # Usage Examples
//
//	pool := partition.NewPool(ctx, 4, 256, func(ctx context.Context, p int, req Request) error {
//	    return visit(ctx, req)
//	})
//	defer pool.Close()
//
//	if err := pool.Submit(ctx, partition.ByKey(key, pool.Partitions()), req); err != nil {
//	    return err
//	}
//
// # Dangers and Warnings
//
//   - **Blocking Handlers**: A handler that blocks stalls every item queued behind it on the same partition.
//   - **Submit From Handlers**: Submitting to a full queue from inside a handler can deadlock that partition.
//   - **Close**: Close waits for every queued item to be handled. Submit after Close returns ErrPoolClosed.
package partition

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"

	"github.com/kianostad/verchain/internal/log"
)

// DefaultPartitions is the partition count used when none is configured.
const DefaultPartitions = 4

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("partition pool closed")

// ByKey maps key onto [0, n). It is stable across processes.
func ByKey(key string, n int) int {
	if n <= 0 {
		panic(errors.AssertionFailedf("partition count must be positive, got %d", n))
	}
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Handler processes one item on partition p. A returned error is logged; the
// worker keeps going.
type Handler[T any] func(ctx context.Context, p int, item T) error

type counters struct {
	submitted atomic.Uint64
	handled   atomic.Uint64
	failed    atomic.Uint64
	_         cpu.CacheLinePad
}

// Stats is a point-in-time view of one partition.
type Stats struct {
	Submitted uint64
	Handled   uint64
	Failed    uint64
	Queued    int
}

// Pool owns one buffered queue and one worker per partition.
type Pool[T any] struct {
	queues   []chan T
	counters []counters
	handler  Handler[T]
	group    errgroup.Group

	// mu is held shared by Submit and exclusively by Close, so queues are
	// never closed under a pending send.
	mu     sync.RWMutex
	closed bool
}

// NewPool starts n workers, each reading a queue of the given depth. ctx is
// the parent of every handler's context.
func NewPool[T any](ctx context.Context, n, depth int, handler Handler[T]) *Pool[T] {
	if n <= 0 {
		n = DefaultPartitions
	}
	if depth < 0 {
		depth = 0
	}
	p := &Pool[T]{
		queues:   make([]chan T, n),
		counters: make([]counters, n),
		handler:  handler,
	}
	for i := range p.queues {
		p.queues[i] = make(chan T, depth)
	}
	for i := range p.queues {
		wctx := logtags.AddTag(ctx, "partition", i)
		p.group.Go(func() error {
			p.work(wctx, i)
			return nil
		})
	}
	return p
}

func (p *Pool[T]) work(ctx context.Context, i int) {
	c := &p.counters[i]
	for item := range p.queues[i] {
		if err := p.handler(ctx, i, item); err != nil {
			c.failed.Add(1)
			log.Warningf(ctx, "handler failed: %v", err)
		}
		c.handled.Add(1)
	}
	log.VEventf(ctx, 2, "worker drained")
}

// Partitions returns the number of partitions.
func (p *Pool[T]) Partitions() int {
	return len(p.queues)
}

// Submit queues item on partition i, blocking while the queue is full. It
// fails when ctx is done first or when the pool is closed.
func (p *Pool[T]) Submit(ctx context.Context, i int, item T) error {
	if i < 0 || i >= len(p.queues) {
		return errors.AssertionFailedf("partition %d out of range [0, %d)", i, len(p.queues))
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "submitting to partition %d", i)
	}
	select {
	case p.queues[i] <- item:
		p.counters[i].submitted.Add(1)
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "submitting to partition %d", i)
	}
}

// Stats returns the counters of every partition.
func (p *Pool[T]) Stats() []Stats {
	out := make([]Stats, len(p.queues))
	for i := range p.queues {
		c := &p.counters[i]
		out[i] = Stats{
			Submitted: c.submitted.Load(),
			Handled:   c.handled.Load(),
			Failed:    c.failed.Load(),
			Queued:    len(p.queues[i]),
		}
	}
	return out
}

// Close stops accepting items, waits for the queued ones to be handled and
// for every worker to exit. It is safe to call more than once.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, q := range p.queues {
			close(q)
		}
	}
	p.mu.Unlock()
	_ = p.group.Wait()
}
