package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func freshTable(routers, readers, writers []string) *Table {
	return NewTable("neo4j", routers, readers, writers, time.Minute)
}

func TestIsStaleExpired(t *testing.T) {
	table := freshTable([]string{"a:1", "b:1"}, []string{"a:1"}, []string{"b:1"})
	table.ExpiresAt = time.Now().Add(-time.Second)
	assert.True(t, table.IsStale(true))
	assert.True(t, table.IsStale(false))
}

func TestIsStaleTooFewRouters(t *testing.T) {
	table := freshTable([]string{"a:1"}, []string{"a:1"}, []string{"a:1"})
	assert.True(t, table.IsStale(true))
	assert.True(t, table.IsStale(false))
}

func TestIsStaleWriteModeChecksWriters(t *testing.T) {
	table := freshTable([]string{"a:1", "b:1"}, []string{"a:1"}, nil)
	assert.True(t, table.IsStale(true))
	assert.False(t, table.IsStale(false))
}

func TestIsStaleReadModeChecksReaders(t *testing.T) {
	table := freshTable([]string{"a:1", "b:1"}, nil, []string{"b:1"})
	assert.True(t, table.IsStale(false))
	assert.False(t, table.IsStale(true))
}

func TestIsStaleFreshTableIsNotStale(t *testing.T) {
	table := freshTable([]string{"a:1", "b:1"}, []string{"a:1"}, []string{"b:1"})
	assert.False(t, table.IsStale(true))
	assert.False(t, table.IsStale(false))
}
