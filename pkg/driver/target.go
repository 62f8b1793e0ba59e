package driver

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

// Target is a parsed Bolt URL: one or more addresses to try, whether
// routing is enabled, and the TLS posture implied by the scheme.
type Target struct {
	Addresses            []string
	Routing              bool
	Encrypted            bool
	TrustAllCertificates bool
}

// ParseTarget recognizes the six URL schemes bolt/bolt+s/bolt+ssc and
// neo4j/neo4j+s/neo4j+ssc. It does not perform DNS SRV resolution; that is
// the job of the configured Resolver hook, invoked separately by the
// Driver constructor.
func ParseTarget(uri string) (Target, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Target{}, graphbolterr.NewClientError(fmt.Sprintf("invalid connection URI %q: %v", uri, err))
	}

	scheme := strings.ToLower(u.Scheme)
	var t Target
	switch scheme {
	case "bolt":
		t.Routing = false
	case "bolt+s":
		t.Routing, t.Encrypted = false, true
	case "bolt+ssc":
		t.Routing, t.Encrypted, t.TrustAllCertificates = false, true, true
	case "neo4j":
		t.Routing = true
	case "neo4j+s":
		t.Routing, t.Encrypted = true, true
	case "neo4j+ssc":
		t.Routing, t.Encrypted, t.TrustAllCertificates = true, true, true
	default:
		return Target{}, graphbolterr.NewClientError(fmt.Sprintf("unsupported connection scheme %q", u.Scheme))
	}

	host := u.Host
	if host == "" {
		return Target{}, graphbolterr.NewClientError(fmt.Sprintf("connection URI %q has no host", uri))
	}
	if !strings.Contains(host, ":") {
		host += ":7687"
	}
	t.Addresses = []string{host}
	return t, nil
}
