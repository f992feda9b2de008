// Package dbpool implements a bounded mutex+cond-var connection pool: a
// fixed-initial, bounded-max pool of verified connections. Acquire blocks
// while idle is empty and the pool is at capacity; Release pushes back
// and signals one waiter; Stop aborts every blocked Acquire with
// POOL_STOPPED.
//
// internal/userstore's Postgres backend delegates pooling to pgxpool
// instead; its SQLite backend acquires every *sql.Conn from this pool.
package dbpool

import (
	"context"
	"sync"

	"github.com/relaychat/relaychat/internal/errkind"
)

// Conn is any connection type the pool can manage; callers close unusable
// ones themselves and never hand them back via Release.
type Conn any

// Factory creates a new connection on demand, used when growing the pool
// below Max.
type Factory func(ctx context.Context) (Conn, error)

// Pool is a fixed-max pool of Conn, guarded by one mutex and one
// condition variable.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	idle    []Conn
	size    int
	max     int
	running bool
	factory Factory
}

// New builds a pool that creates up to `initial` connections eagerly via
// factory, and may grow lazily up to max on Acquire.
func New(ctx context.Context, initial, max int, factory Factory) (*Pool, error) {
	p := &Pool{max: max, running: true, factory: factory}
	p.cond = sync.NewCond(&p.mu)

	for range initial {
		c, err := factory(ctx)
		if err != nil {
			return nil, errkind.Wrap(errkind.UpstreamUnavailable, "creating initial pool connection", err)
		}
		p.idle = append(p.idle, c)
		p.size++
	}
	return p, nil
}

// Acquire blocks until a connection is available, the pool can grow, or
// the pool is stopped (POOL_STOPPED). It also returns promptly if ctx is
// canceled.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	p.mu.Lock()
	for {
		if !p.running {
			p.mu.Unlock()
			return nil, errkind.New(errkind.PoolStopped, "pool is stopped")
		}
		if len(p.idle) > 0 {
			c := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			p.mu.Unlock()
			return c, nil
		}
		if p.size < p.max {
			p.size++
			p.mu.Unlock()
			c, err := p.factory(ctx)
			if err != nil {
				p.mu.Lock()
				p.size--
				p.cond.Signal()
				p.mu.Unlock()
				return nil, errkind.Wrap(errkind.UpstreamUnavailable, "growing pool", err)
			}
			return c, nil
		}

		// Idle empty and at capacity: wait for a Release or Stop signal.
		// sync.Cond.Wait doesn't observe ctx directly, so we race it
		// against ctx.Done() via a watcher goroutine that broadcasts.
		done := make(chan struct{})
		if ctx != nil {
			stop := context.AfterFunc(ctx, func() {
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
				close(done)
			})
			defer stop()
		}
		p.cond.Wait()
		select {
		case <-done:
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}
		if ctx != nil && ctx.Err() != nil {
			p.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// Release returns a healthy connection to the idle queue and wakes exactly
// one waiter. Callers that encountered an operation error on conn must NOT
// call Release — discard it; the pool refills lazily on the next Acquire.
func (p *Pool) Release(c Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.idle = append(p.idle, c)
	p.cond.Signal()
}

// Discard reports that a connection was found broken and will not be
// returned to the pool; the pool's logical size shrinks so a future
// Acquire may grow it again via the factory.
func (p *Pool) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size > 0 {
		p.size--
	}
}

// Stop marks the pool as no longer running and wakes every blocked
// Acquire so it can return POOL_STOPPED.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.cond.Broadcast()
}

// Stats reports idle count and total size, for tests/metrics.
func (p *Pool) Stats() (idle, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), p.size
}
