// Package pool implements a per-address connection pool: bounded idle
// queues, FIFO-fair acquisition, max-lifetime eviction, acquisition
// timeout, and transport-agnostic create/validate/destroy hooks.
package pool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/log"
	"github.com/cuemby/graphbolt/pkg/metrics"
)

// Config configures a Pool.
type Config struct {
	MaxSize            int
	MaxLifetime        time.Duration
	AcquisitionTimeout time.Duration
	Create             func(ctx context.Context, address string) (*bolt.Connection, error)
	Destroy            func(conn *bolt.Connection)
	Validate           func(conn *bolt.Connection) bool
}

type bucket struct {
	idle   []*bolt.Connection
	active int
	// waiters is a FIFO queue of goroutines blocked in Acquire for this
	// address; each entry is signaled exactly once, either with a slot
	// freed up or with the pool's shutdown.
	waiters *list.List
}

func newBucket() *bucket {
	return &bucket{waiters: list.New()}
}

type waiter struct {
	ch chan struct{}
}

// Pool is a per-address keyed pool of *bolt.Connection.
type Pool struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
}

// New constructs a Pool. cfg.Create/Destroy/Validate must be non-nil.
func New(cfg Config) *Pool {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = time.Hour
	}
	if cfg.AcquisitionTimeout <= 0 {
		cfg.AcquisitionTimeout = 60 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		log:     log.WithComponent("pool"),
		buckets: make(map[string]*bucket),
	}
}

func (p *Pool) bucketFor(address string) *bucket {
	b, ok := p.buckets[address]
	if !ok {
		b = newBucket()
		p.buckets[address] = b
	}
	return b
}

// Acquire returns an idle, still-valid connection for address if one is
// available, otherwise creates one if the address is under its size limit,
// otherwise blocks FIFO-fair until a slot frees or the acquisition timeout
// (or ctx) expires.
func (p *Pool) Acquire(ctx context.Context, address string) (*bolt.Connection, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.AcquisitionDuration, address)

	deadline := time.Now().Add(p.cfg.AcquisitionTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, graphbolterr.NewServiceUnavailable("pool is closed")
		}
		b := p.bucketFor(address)

		for len(b.idle) > 0 {
			conn := b.idle[0]
			b.idle = b.idle[1:]
			if p.cfg.Validate(conn) && time.Since(conn.BirthDate()) < p.cfg.MaxLifetime {
				b.active++
				p.mu.Unlock()
				p.updateGauges(address)
				return conn, nil
			}
			p.cfg.Destroy(conn)
			metrics.ConnectionsClosedTotal.WithLabelValues(address, "invalid").Inc()
		}

		if b.active < p.cfg.MaxSize {
			b.active++
			p.mu.Unlock()
			conn, err := p.cfg.Create(ctx, address)
			if err != nil {
				p.mu.Lock()
				b.active--
				p.mu.Unlock()
				return nil, err
			}
			metrics.ConnectionsCreatedTotal.WithLabelValues(address).Inc()
			p.updateGauges(address)
			return conn, nil
		}

		// Pool for this address is saturated; wait FIFO-fair for a slot.
		w := &waiter{ch: make(chan struct{}, 1)}
		elem := b.waiters.PushBack(w)
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Lock()
			b.waiters.Remove(elem)
			p.mu.Unlock()
			return nil, graphbolterr.NewClientError(fmt.Sprintf("connection acquisition timed out after %s", p.cfg.AcquisitionTimeout))
		}

		select {
		case <-w.ch:
			// loop and retry acquisition now that a slot may be free
		case <-time.After(remaining):
			p.mu.Lock()
			b.waiters.Remove(elem)
			p.mu.Unlock()
			return nil, graphbolterr.NewClientError(fmt.Sprintf("connection acquisition timed out after %s", p.cfg.AcquisitionTimeout))
		case <-ctx.Done():
			p.mu.Lock()
			b.waiters.Remove(elem)
			p.mu.Unlock()
			return nil, graphbolterr.Wrap(ctx.Err(), "connection acquisition")
		}
	}
}

// Release returns conn to the idle queue for address if it is still valid,
// otherwise destroys it. Either way, the address's active count drops and
// the oldest waiter, if any, is signaled.
func (p *Pool) Release(address string, conn *bolt.Connection) {
	p.mu.Lock()
	b := p.bucketFor(address)
	b.active--

	valid := p.cfg.Validate(conn) && time.Since(conn.BirthDate()) < p.cfg.MaxLifetime && !p.closed
	if valid {
		conn.MarkIdle()
		b.idle = append(b.idle, conn)
	}

	var toSignal *waiter
	if front := b.waiters.Front(); front != nil {
		toSignal = front.Value.(*waiter)
		b.waiters.Remove(front)
	}
	p.mu.Unlock()

	if !valid {
		p.cfg.Destroy(conn)
		metrics.ConnectionsClosedTotal.WithLabelValues(address, "validation_failed").Inc()
	}
	p.updateGauges(address)

	if toSignal != nil {
		select {
		case toSignal.ch <- struct{}{}:
		default:
		}
	}
}

// Purge closes every idle connection for address. Connections currently
// borrowed for address stay counted against MaxSize and rejoin the idle
// queue on Release if they still pass validation.
func (p *Pool) Purge(address string) {
	p.mu.Lock()
	b, ok := p.buckets[address]
	if !ok {
		p.mu.Unlock()
		return
	}
	idle := b.idle
	b.idle = nil
	p.mu.Unlock()

	for _, conn := range idle {
		p.cfg.Destroy(conn)
		metrics.ConnectionsClosedTotal.WithLabelValues(address, "purged").Inc()
	}
	p.updateGauges(address)
}

// PurgeAll closes the pool: every idle connection is destroyed, every
// blocked waiter fails, and future Acquire calls fail immediately.
func (p *Pool) PurgeAll() {
	p.mu.Lock()
	p.closed = true
	all := p.buckets
	p.buckets = make(map[string]*bucket)
	p.mu.Unlock()

	for address, b := range all {
		for _, conn := range b.idle {
			p.cfg.Destroy(conn)
		}
		metrics.ConnectionsClosedTotal.WithLabelValues(address, "shutdown").Add(float64(len(b.idle)))
		for e := b.waiters.Front(); e != nil; e = e.Next() {
			w := e.Value.(*waiter)
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
		p.updateGauges(address)
	}
	p.log.Info().Msg("connection pool shut down")
}

func (p *Pool) updateGauges(address string) {
	p.mu.Lock()
	b, ok := p.buckets[address]
	var idle, active int
	if ok {
		idle, active = len(b.idle), b.active
	}
	p.mu.Unlock()
	metrics.PoolIdleConnections.WithLabelValues(address).Set(float64(idle))
	metrics.PoolActiveConnections.WithLabelValues(address).Set(float64(active))
}
