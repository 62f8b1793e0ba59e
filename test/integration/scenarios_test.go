package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/driver"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/session"
	"github.com/cuemby/graphbolt/test/integration/fakeserver"
)

// TestDirectDriverRunQueryEndToEnd drives a full bolt:// round trip: handshake,
// HELLO, RUN/PULL, and record collection, through the public driver API only.
func TestDirectDriverRunQueryEndToEnd(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.Script("MATCH (n) RETURN n.name", fakeserver.QueryScript{
		Keys:    []string{"n.name"},
		Records: [][]any{{"ada"}, {"grace"}},
		Summary: map[string]any{"stats": map[string]any{"nodes-created": int64(0)}},
	})

	d, err := driver.New(fmt.Sprintf("bolt://%s", srv.Address()), driver.NoAuth(), driver.Config{})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	s := d.NewSession(session.Config{})
	defer s.Close(ctx)

	result, err := s.Run(ctx, "MATCH (n) RETURN n.name", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"n.name"}, result.Keys())

	records, err := result.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "ada", records[0][0])
	assert.Equal(t, "grace", records[1][0])

	summary, err := result.Summary(ctx)
	require.NoError(t, err)
	assert.NotNil(t, summary)
}

// TestConnectionPoolReusesConnectionAcrossSessions runs several sequential
// sessions against the same driver and asserts the pool hands back the one
// connection it opened rather than dialing a fresh one each time.
func TestConnectionPoolReusesConnectionAcrossSessions(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.Script("RETURN 1", fakeserver.QueryScript{Keys: []string{"1"}, Records: [][]any{{int64(1)}}})

	d, err := driver.New(fmt.Sprintf("bolt://%s", srv.Address()), driver.NoAuth(), driver.Config{
		MaxConnectionPoolSize: 5,
	})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s := d.NewSession(session.Config{})
		result, err := s.Run(ctx, "RETURN 1", nil)
		require.NoError(t, err)
		_, err = result.Collect(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Close(ctx))
	}

	assert.Equal(t, 1, srv.ConnectionCount())
}

// TestManagedTransactionCommitsAndPropagatesBookmark drives the Executor
// through a real connection: the work function runs a query, the
// transaction commits, and the session's bookmark advances to the one the
// fake server returned on COMMIT.
func TestManagedTransactionCommitsAndPropagatesBookmark(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.Script("CREATE (n) RETURN n", fakeserver.QueryScript{Keys: []string{"n"}, Records: [][]any{{"node-1"}}})

	d, err := driver.New(fmt.Sprintf("bolt://%s", srv.Address()), driver.NoAuth(), driver.Config{})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	s := d.NewSession(session.Config{AccessMode: bolt.AccessModeWrite})
	defer s.Close(ctx)

	exec := session.NewExecutor(s.Session, session.DefaultExecutorConfig())
	result, err := exec.Execute(ctx, func(tx *session.Transaction) (any, error) {
		r, err := tx.Run(ctx, "CREATE (n) RETURN n", nil)
		if err != nil {
			return nil, err
		}
		return r.Collect(ctx)
	})
	require.NoError(t, err)

	records, ok := result.([][]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "node-1", records[0][0])
	assert.Contains(t, s.LastBookmark(), "fake:bookmark:")
}

// TestSessionRejectsRunWithOpenTransaction exercises the exact session
// contract violation message end to end through the driver.
func TestSessionRejectsRunWithOpenTransaction(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	d, err := driver.New(fmt.Sprintf("bolt://%s", srv.Address()), driver.NoAuth(), driver.Config{})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	s := d.NewSession(session.Config{})
	defer s.Close(ctx)

	tx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, err = s.Run(ctx, "RETURN 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Queries cannot be run directly on a session with an open transaction")
}

// TestRoutingRediscoveryViaRouteMessage exercises RoutingProvider end to end
// against a router speaking Bolt 4.3+, which answers rediscovery with a
// ROUTE message rather than a procedure call.
func TestRoutingRediscoveryViaRouteMessage(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()
	srv.SetProtocolVersion(4, 3)
	srv.RouteTable(300, []map[string]any{
		{"role": "ROUTE", "addresses": []any{srv.Address()}},
		{"role": "READ", "addresses": []any{srv.Address()}},
		{"role": "WRITE", "addresses": []any{srv.Address()}},
	})

	d, err := driver.New(fmt.Sprintf("neo4j://%s", srv.Address()), driver.NoAuth(), driver.Config{})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	table, err := d.RoutingSnapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.Address()}, table.Readers.All())
	assert.Equal(t, []string{srv.Address()}, table.Writers.All())
}

// TestRoutingRediscoveryViaLegacyProcedure exercises the pre-4.3 routing
// path: dbms.routing.getRoutingTable($context) run as an ordinary query.
func TestRoutingRediscoveryViaLegacyProcedure(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()
	srv.SetProtocolVersion(4, 1)
	srv.RouteTable(300, []map[string]any{
		{"role": "ROUTE", "addresses": []any{srv.Address()}},
		{"role": "READ", "addresses": []any{srv.Address()}},
		{"role": "WRITE", "addresses": []any{srv.Address()}},
	})

	d, err := driver.New(fmt.Sprintf("neo4j://%s", srv.Address()), driver.NoAuth(), driver.Config{})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	table, err := d.RoutingSnapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{srv.Address()}, table.Routers.All())
	assert.Equal(t, []string{srv.Address()}, table.Writers.All())
}

// TestNotALeaderForgetsWriterOnly exercises scenario S4 end to end: a WRITE
// query against a routed cluster fails with Neo.ClientError.Cluster.NotALeader,
// the driver rewrites it to SessionExpired, and the routing table loses the
// address as a writer without losing it as a router or reader.
func TestNotALeaderForgetsWriterOnly(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()
	srv.SetProtocolVersion(4, 3)
	// A second router keeps the table fresh (one router alone counts as
	// stale), so RoutingSnapshot below returns the table as the failure left
	// it instead of rediscovering the writer.
	const otherRouter = "router-2:7687"
	srv.RouteTable(300, []map[string]any{
		{"role": "ROUTE", "addresses": []any{srv.Address(), otherRouter}},
		{"role": "READ", "addresses": []any{srv.Address()}},
		{"role": "WRITE", "addresses": []any{srv.Address()}},
	})
	srv.Script("CREATE (n)", fakeserver.QueryScript{
		FailureCode:    "Neo.ClientError.Cluster.NotALeader",
		FailureMessage: "No longer possible to write to server",
	})

	d, err := driver.New(fmt.Sprintf("neo4j://%s", srv.Address()), driver.NoAuth(), driver.Config{})
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s := d.NewSession(session.Config{AccessMode: bolt.AccessModeWrite})
	defer s.Close(ctx)

	_, err = s.Run(ctx, "CREATE (n)", nil)
	require.Error(t, err)
	ge, ok := err.(*graphbolterr.Error)
	require.True(t, ok)
	assert.Equal(t, graphbolterr.SessionExpired, ge.Kind)
	assert.True(t, ge.ForgetWriterOnly)

	table, err := d.RoutingSnapshot(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, table.Writers.All())
	assert.Equal(t, []string{srv.Address()}, table.Readers.All())
	assert.Equal(t, []string{srv.Address(), otherRouter}, table.Routers.All())
}
