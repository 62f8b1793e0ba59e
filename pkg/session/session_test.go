package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/session"
	"github.com/cuemby/graphbolt/test/integration/fakeserver"
)

// stubProvider hands out a single pre-established connection and records
// HandleError/Release calls, standing in for routing.ConnectionProvider in
// isolation from the pool and routing packages.
type stubProvider struct {
	conn      *bolt.Connection
	released  int
	errKind   string
	errCalled bool
}

func (p *stubProvider) Acquire(ctx context.Context, mode bolt.AccessMode, database string) (*bolt.Connection, error) {
	return p.conn, nil
}

func (p *stubProvider) Release(address string, conn *bolt.Connection) { p.released++ }

func (p *stubProvider) HandleError(address string, mode bolt.AccessMode, err error) {
	p.errCalled = true
}

func dialFake(t *testing.T, srv *fakeserver.Server) *bolt.Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := bolt.Open(ctx, srv.Address(), nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.Hello(ctx, "graphbolt-test/1.0", bolt.NoAuth(), nil))
	return conn
}

func TestSessionRunReturnsRecordsAndSummary(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.Script("MATCH (n) RETURN n.name", fakeserver.QueryScript{
		Keys:    []string{"n.name"},
		Records: [][]any{{"alice"}, {"bob"}},
		Summary: map[string]any{"type": "r"},
	})

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{AccessMode: bolt.AccessModeRead})

	ctx := context.Background()
	result, err := s.Run(ctx, "MATCH (n) RETURN n.name", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"n.name"}, result.Keys())

	records, err := result.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0][0])
	assert.Equal(t, "bob", records[1][0])

	summary, err := result.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r", summary["type"])

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, provider.released)
}

func TestSessionRunFailsWithOpenTransaction(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})

	ctx := context.Background()
	_, err = s.BeginTransaction(ctx)
	require.NoError(t, err)

	_, err = s.Run(ctx, "RETURN 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open transaction")
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})

	ctx := context.Background()
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, err = s.Run(ctx, "RETURN 1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
