// Package driver ties the connection pool, routing subsystem, and session
// layer together into the single entry point applications construct: a
// Driver built from a Bolt URL and a Config.
package driver

import (
	"time"

	"github.com/cuemby/graphbolt/pkg/bolt"
)

// TrustMode selects how a TLS-enabled connection verifies the server
// certificate.
type TrustMode string

const (
	TrustSystemCA TrustMode = "TRUST_SYSTEM_CA_SIGNED_CERTIFICATES"
	TrustCustomCA TrustMode = "TRUST_CUSTOM_CA_SIGNED_CERTIFICATES"
	TrustAll      TrustMode = "TRUST_ALL_CERTIFICATES"
)

// Resolver expands an initial address into one or more addresses to try,
// invoked once per Driver construction ahead of any DNS resolution the
// network layer performs itself.
type Resolver func(initial string) ([]string, error)

// Config holds every driver-wide option. Zero values apply the documented
// defaults via WithDefaults.
type Config struct {
	Encrypted                    bool
	Trust                        TrustMode
	TrustedCertificates          []string
	MaxConnectionPoolSize        int
	MaxConnectionLifetime        time.Duration
	ConnectionAcquisitionTimeout time.Duration
	MaxTransactionRetryTime      time.Duration
	ConnectionTimeout            time.Duration
	DisableLosslessIntegers      bool
	FetchSize                    int64
	Resolver                     Resolver
	UserAgent                    string
	// CachePath, if set, enables the optional bbolt-backed routing table
	// cache at that file path for routed (neo4j://) targets.
	CachePath string
}

// WithDefaults returns a copy of cfg with every zero-valued field replaced
// by its documented default.
func (cfg Config) WithDefaults() Config {
	if cfg.MaxConnectionPoolSize <= 0 {
		cfg.MaxConnectionPoolSize = 100
	}
	if cfg.MaxConnectionLifetime <= 0 {
		cfg.MaxConnectionLifetime = time.Hour
	}
	if cfg.ConnectionAcquisitionTimeout <= 0 {
		cfg.ConnectionAcquisitionTimeout = 60 * time.Second
	}
	if cfg.MaxTransactionRetryTime <= 0 {
		cfg.MaxTransactionRetryTime = 30 * time.Second
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.FetchSize == 0 {
		cfg.FetchSize = 1000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "graphbolt/1.0"
	}
	if cfg.Trust == "" {
		cfg.Trust = TrustSystemCA
	}
	return cfg
}

// AuthToken re-exports bolt.AuthToken so callers never need to import
// pkg/bolt just to build credentials.
type AuthToken = bolt.AuthToken

var (
	BasicAuth    = bolt.BasicAuth
	KerberosAuth = bolt.KerberosAuth
	CustomAuth   = bolt.CustomAuth
	NoAuth       = bolt.NoAuth
)
