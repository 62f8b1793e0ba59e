package driver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/log"
	"github.com/cuemby/graphbolt/pkg/pool"
	"github.com/cuemby/graphbolt/pkg/routing"
	"github.com/cuemby/graphbolt/pkg/session"
)

// Driver is the single entry point applications construct: one
// routing.ConnectionProvider (direct or routed, chosen by the URL scheme)
// built once and shared by every session opened against it.
type Driver struct {
	provider routing.ConnectionProvider
	cfg      Config
	auth     bolt.AuthToken
	log      zerolog.Logger
	cache    *routing.Cache
}

// New parses uri, applies cfg's defaults, and builds a Driver ready to open
// sessions. auth authenticates every connection the driver opens.
func New(uri string, auth bolt.AuthToken, cfg Config) (*Driver, error) {
	cfg = cfg.WithDefaults()

	target, err := ParseTarget(uri)
	if err != nil {
		return nil, err
	}
	if cfg.Resolver != nil {
		resolved, err := cfg.Resolver(target.Addresses[0])
		if err != nil {
			return nil, graphbolterr.Wrap(err, "resolving initial address")
		}
		if len(resolved) > 0 {
			target.Addresses = resolved
		}
	}

	tlsConfig, err := buildTLSConfig(target, cfg)
	if err != nil {
		return nil, err
	}

	p := pool.New(pool.Config{
		MaxSize:            cfg.MaxConnectionPoolSize,
		MaxLifetime:        cfg.MaxConnectionLifetime,
		AcquisitionTimeout: cfg.ConnectionAcquisitionTimeout,
		Create: func(ctx context.Context, address string) (*bolt.Connection, error) {
			conn, err := bolt.Open(ctx, address, tlsConfig, cfg.ConnectionTimeout)
			if err != nil {
				return nil, err
			}
			if err := conn.Hello(ctx, cfg.UserAgent, auth, map[string]string{}); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		},
		Destroy: func(conn *bolt.Connection) {
			_ = conn.Goodbye()
		},
		Validate: func(conn *bolt.Connection) bool {
			return conn.IsOpen() && !conn.IsDirty()
		},
	})

	d := &Driver{cfg: cfg, auth: auth, log: log.WithComponent("driver")}

	if target.Routing {
		var cache *routing.Cache
		if cfg.CachePath != "" {
			cache, err = routing.OpenCache(cfg.CachePath)
			if err != nil {
				return nil, graphbolterr.Wrap(err, "opening routing cache")
			}
		}
		d.cache = cache
		d.provider = routing.NewRoutingProvider(routing.RoutingProviderConfig{
			Pool:           p,
			InitialRouters: target.Addresses,
			RoutingContext: map[string]string{},
			UserAgent:      cfg.UserAgent,
			Auth:           auth,
			TLSConfig:      tlsConfig,
			ConnectTimeout: cfg.ConnectionTimeout,
			Cache:          cache,
		})
	} else {
		d.provider = routing.NewDirectProvider(p, target.Addresses[0])
	}

	return d, nil
}

func buildTLSConfig(target Target, cfg Config) (*tls.Config, error) {
	if !target.Encrypted {
		return nil, nil
	}
	tlsConfig := &tls.Config{}
	if target.TrustAllCertificates || cfg.Trust == TrustAll {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if cfg.Trust == TrustCustomCA {
		certPool := x509.NewCertPool()
		for _, path := range cfg.TrustedCertificates {
			pem, err := os.ReadFile(path)
			if err != nil {
				return nil, graphbolterr.Wrap(err, fmt.Sprintf("reading trusted certificate %s", path))
			}
			if !certPool.AppendCertsFromPEM(pem) {
				return nil, graphbolterr.NewClientError(fmt.Sprintf("no certificates found in %s", path))
			}
		}
		tlsConfig.RootCAs = certPool
	}
	return tlsConfig, nil
}

// NewSession opens a Session using this driver's provider.
func (d *Driver) NewSession(cfg session.Config) *Session {
	if cfg.FetchSize == 0 {
		cfg.FetchSize = d.cfg.FetchSize
	}
	if cfg.TxTimeout == 0 {
		cfg.TxTimeout = d.cfg.MaxTransactionRetryTime
	}
	return &Session{Session: session.New(d.provider, cfg)}
}

// VerifyConnectivity opens and immediately releases a connection against
// the target, surfacing any handshake or authentication failure without
// requiring the caller to run a query first.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	s := d.NewSession(session.Config{})
	defer s.Close(ctx)
	result, err := s.Run(ctx, "RETURN 1", nil)
	if err != nil {
		return err
	}
	_, err = result.Collect(ctx)
	return err
}

// RoutingSnapshot returns the current routing table for database. It only
// succeeds when the driver was constructed against a neo4j:// (routed)
// target; direct bolt:// targets have no routing table to report.
func (d *Driver) RoutingSnapshot(ctx context.Context, database string) (*routing.Table, error) {
	rp, ok := d.provider.(*routing.RoutingProvider)
	if !ok {
		return nil, graphbolterr.NewClientError("driver is not connected to a routed (neo4j://) target")
	}
	return rp.Snapshot(ctx, database)
}

// Close releases every pooled connection and closes the routing cache, if
// one is configured.
func (d *Driver) Close() error {
	d.provider.Close()
	if d.cache != nil {
		return d.cache.Close()
	}
	return nil
}

// Session wraps *session.Session so driver consumers only ever import
// pkg/driver, not pkg/session, for the common case.
type Session struct {
	*session.Session
}
