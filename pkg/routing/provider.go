package routing

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/log"
	"github.com/cuemby/graphbolt/pkg/metrics"
	"github.com/cuemby/graphbolt/pkg/pool"
)

// ConnectionProvider is what a session asks for a connection: it hides
// whether the underlying deployment is a single server (DirectProvider) or
// a routed cluster (RoutingProvider).
type ConnectionProvider interface {
	Acquire(ctx context.Context, mode bolt.AccessMode, database string) (*bolt.Connection, error)
	Release(address string, conn *bolt.Connection)
	// HandleError lets the provider react to a server-reported error:
	// forgetting a dead address, or downgrading a stale leader.
	HandleError(address string, mode bolt.AccessMode, err error)
	Close()
}

// DirectProvider always hands out connections to a single fixed address, the
// behavior of a bolt:// (non-routed) target.
type DirectProvider struct {
	pool    *pool.Pool
	address string
}

// NewDirectProvider builds a provider that always dials address.
func NewDirectProvider(p *pool.Pool, address string) *DirectProvider {
	return &DirectProvider{pool: p, address: address}
}

func (d *DirectProvider) Acquire(ctx context.Context, _ bolt.AccessMode, _ string) (*bolt.Connection, error) {
	return d.pool.Acquire(ctx, d.address)
}

func (d *DirectProvider) Release(address string, conn *bolt.Connection) { d.pool.Release(address, conn) }

// HandleError is a no-op: a single fixed address has nothing to forget.
func (d *DirectProvider) HandleError(string, bolt.AccessMode, error) {}

func (d *DirectProvider) Close() { d.pool.PurgeAll() }

// dbState bundles one database's routing table with the single-flight lock
// guarding its rediscovery, so two goroutines racing to refresh a stale
// table don't both hit the cluster.
type dbState struct {
	table        guardedTable
	rediscoverMu sync.Mutex
}

// RoutingProvider picks role-appropriate addresses from a per-database
// routing table, rediscovering the table from the configured routers
// whenever it is stale, and feeding server-reported errors back into it.
type RoutingProvider struct {
	pool           *pool.Pool
	initialRouters []string
	routingContext map[string]string
	userAgent      string
	auth           bolt.AuthToken
	tlsConfig      *tls.Config
	connectTimeout time.Duration
	cache          *Cache
	log            zerolog.Logger

	mu  sync.Mutex
	dbs map[string]*dbState
}

// RoutingProviderConfig groups the dial parameters RoutingProvider needs to
// open its own connections to routers during rediscovery.
type RoutingProviderConfig struct {
	Pool           *pool.Pool
	InitialRouters []string
	RoutingContext map[string]string
	UserAgent      string
	Auth           bolt.AuthToken
	TLSConfig      *tls.Config
	ConnectTimeout time.Duration
	// Cache, if non-nil, seeds a database's first routing table from disk
	// and is updated after every successful rediscovery.
	Cache *Cache
}

// NewRoutingProvider builds a RoutingProvider from cfg.
func NewRoutingProvider(cfg RoutingProviderConfig) *RoutingProvider {
	return &RoutingProvider{
		pool:           cfg.Pool,
		initialRouters: cfg.InitialRouters,
		routingContext: cfg.RoutingContext,
		userAgent:      cfg.UserAgent,
		auth:           cfg.Auth,
		tlsConfig:      cfg.TLSConfig,
		connectTimeout: cfg.ConnectTimeout,
		cache:          cfg.Cache,
		log:            log.WithComponent("routing"),
		dbs:            make(map[string]*dbState),
	}
}

func (rp *RoutingProvider) stateFor(database string) *dbState {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	s, ok := rp.dbs[database]
	if !ok {
		s = &dbState{}
		rp.dbs[database] = s
	}
	return s
}

// Acquire returns a connection to a role-appropriate address for database,
// rediscovering the routing table first if it is missing or stale.
func (rp *RoutingProvider) Acquire(ctx context.Context, mode bolt.AccessMode, database string) (*bolt.Connection, error) {
	state := rp.stateFor(database)

	table := state.table.get()
	if table == nil && rp.cache != nil {
		if cached, err := rp.cache.Get(database); err == nil && cached != nil {
			state.table.set(cached)
			table = cached
		}
	}
	if table == nil || table.IsStale(mode == bolt.AccessModeWrite) {
		var err error
		table, err = rp.rediscover(ctx, state, database)
		if err != nil {
			return nil, err
		}
	}

	var addr string
	var ok bool
	if mode == bolt.AccessModeRead {
		addr, ok = table.Readers.Next()
	} else {
		addr, ok = table.Writers.Next()
	}
	if !ok {
		return nil, graphbolterr.NewSessionExpired("routing table has no " + mode.String() + " servers for database " + database)
	}

	conn, err := rp.pool.Acquire(ctx, addr)
	if err != nil {
		rp.HandleError(addr, mode, err)
		return nil, err
	}
	return conn, nil
}

func (rp *RoutingProvider) Release(address string, conn *bolt.Connection) { rp.pool.Release(address, conn) }

// HandleError forgets address from every known database's routing table on
// ServiceUnavailable/SessionExpired, or forgets it as a writer only when the
// error carries the NotALeader rewrite.
func (rp *RoutingProvider) HandleError(address string, _ bolt.AccessMode, err error) {
	ge, ok := err.(*graphbolterr.Error)
	if !ok {
		return
	}
	if ge.Kind != graphbolterr.ServiceUnavailable && ge.Kind != graphbolterr.SessionExpired {
		return
	}

	rp.mu.Lock()
	states := make([]*dbState, 0, len(rp.dbs))
	for _, s := range rp.dbs {
		states = append(states, s)
	}
	rp.mu.Unlock()

	for _, s := range states {
		t := s.table.get()
		if t == nil {
			continue
		}
		if ge.ForgetWriterOnly {
			t.ForgetWriter(address)
		} else {
			t.ForgetAddress(address)
		}
	}
	rp.pool.Purge(address)
}

func (rp *RoutingProvider) Close() { rp.pool.PurgeAll() }

// Snapshot returns database's current routing table, rediscovering it first
// if missing or stale. Intended for diagnostics such as the CLI's routes
// command rather than the hot acquire path.
func (rp *RoutingProvider) Snapshot(ctx context.Context, database string) (*Table, error) {
	state := rp.stateFor(database)
	table := state.table.get()
	if table != nil && !table.IsStale(false) {
		return table, nil
	}
	return rp.rediscover(ctx, state, database)
}

// rediscover refreshes database's routing table, trying each known router in
// turn and failing only once every router has been tried without success.
// Concurrent callers for the same database block on the same attempt rather
// than each hitting the cluster.
func (rp *RoutingProvider) rediscover(ctx context.Context, state *dbState, database string) (*Table, error) {
	state.rediscoverMu.Lock()
	defer state.rediscoverMu.Unlock()

	// Another goroutine may have refreshed the table while we waited for
	// the lock; only one rediscovery round trip should happen per
	// staleness window.
	if t := state.table.get(); t != nil && !t.IsStale(false) {
		return t, nil
	}

	routers := rp.initialRouters
	if t := state.table.get(); t != nil && t.Routers.Len() > 0 {
		routers = t.Routers.All()
	}

	timer := metrics.NewTimer()
	var lastErr error
	for _, router := range routers {
		table, err := rp.rediscoverOne(ctx, router, database)
		if err != nil {
			lastErr = err
			rp.log.Warn().Str("router", router).Err(err).Msg("rediscovery attempt failed")
			continue
		}
		timer.ObserveDuration(metrics.RoutingTableRefreshDuration)
		metrics.RoutingTableRefreshTotal.WithLabelValues("success").Inc()
		state.table.set(table)
		if rp.cache != nil {
			_ = rp.cache.Put(table)
		}
		return table, nil
	}

	metrics.RoutingTableRefreshTotal.WithLabelValues("failure").Inc()
	if lastErr == nil {
		lastErr = graphbolterr.NewServiceUnavailable("no routers configured")
	}
	return nil, graphbolterr.Wrap(lastErr, "could not perform discovery")
}

func (rp *RoutingProvider) rediscoverOne(ctx context.Context, router, database string) (*Table, error) {
	conn, err := bolt.Open(ctx, router, rp.tlsConfig, rp.connectTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Goodbye()

	if err := conn.Hello(ctx, rp.userAgent, rp.auth, rp.routingContext); err != nil {
		return nil, err
	}
	return rediscoverFromRouter(ctx, conn, database, rp.routingContext)
}
