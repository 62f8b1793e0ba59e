package bolt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolVersionAtLeast(t *testing.T) {
	v54 := ProtocolVersion{Major: 5, Minor: 4}
	v50 := ProtocolVersion{Major: 5, Minor: 0}
	v44 := ProtocolVersion{Major: 4, Minor: 4}

	assert.True(t, v54.AtLeast(v50))
	assert.True(t, v54.AtLeast(v44))
	assert.False(t, v44.AtLeast(v50))
	assert.True(t, v44.AtLeast(v44))
}

func TestProtocolVersionIsZero(t *testing.T) {
	assert.True(t, ProtocolVersion{}.IsZero())
	assert.False(t, ProtocolVersion{Major: 4}.IsZero())
}

func TestBasicAuthToMap(t *testing.T) {
	tok := BasicAuth("neo4j", "secret", "")
	m := tok.toMap()
	assert.Equal(t, "basic", m["scheme"])
	assert.Equal(t, "neo4j", m["principal"])
	assert.Equal(t, "secret", m["credentials"])
	_, hasRealm := m["realm"]
	assert.False(t, hasRealm)
}

func TestNoAuthToMap(t *testing.T) {
	m := NoAuth().toMap()
	assert.Equal(t, map[string]any{"scheme": "none"}, m)
}

func TestCustomAuthCarriesParameters(t *testing.T) {
	tok := CustomAuth("custom", "p", "c", "r", map[string]any{"extra": "field"})
	m := tok.toMap()
	assert.Equal(t, "field", m["extra"])
	assert.Equal(t, "r", m["realm"])
}

func TestAccessModeString(t *testing.T) {
	assert.Equal(t, "READ", AccessModeRead.String())
	assert.Equal(t, "WRITE", AccessModeWrite.String())
}
