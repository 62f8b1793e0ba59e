package driver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/graphbolt/pkg/driver"
)

func TestParseTargetSchemes(t *testing.T) {
	cases := []struct {
		uri             string
		wantRouting     bool
		wantEncrypted   bool
		wantTrustAllCrt bool
	}{
		{"bolt://localhost:7687", false, false, false},
		{"bolt+s://localhost:7687", false, true, false},
		{"bolt+ssc://localhost:7687", false, true, true},
		{"neo4j://localhost:7687", true, false, false},
		{"neo4j+s://localhost:7687", true, true, false},
		{"neo4j+ssc://localhost:7687", true, true, true},
	}
	for _, c := range cases {
		target, err := driver.ParseTarget(c.uri)
		require.NoError(t, err, c.uri)
		assert.Equal(t, c.wantRouting, target.Routing, c.uri)
		assert.Equal(t, c.wantEncrypted, target.Encrypted, c.uri)
		assert.Equal(t, c.wantTrustAllCrt, target.TrustAllCertificates, c.uri)
		assert.Equal(t, []string{"localhost:7687"}, target.Addresses, c.uri)
	}
}

func TestParseTargetDefaultsPort(t *testing.T) {
	target, err := driver.ParseTarget("bolt://db.example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"db.example.com:7687"}, target.Addresses)
}

func TestParseTargetRejectsUnknownScheme(t *testing.T) {
	_, err := driver.ParseTarget("http://localhost:7687")
	require.Error(t, err)
}

func TestParseTargetRejectsMissingHost(t *testing.T) {
	_, err := driver.ParseTarget("bolt://")
	require.Error(t, err)
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := driver.Config{}.WithDefaults()
	assert.Equal(t, 100, cfg.MaxConnectionPoolSize)
	assert.Equal(t, int64(1000), cfg.FetchSize)
	assert.Equal(t, driver.TrustSystemCA, cfg.Trust)
	assert.NotEmpty(t, cfg.UserAgent)
}
