package session_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/graphbolt/pkg/session"
	"github.com/cuemby/graphbolt/test/integration/fakeserver"
)

func TestTransactionCommitSetsBookmark(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	srv.Script("CREATE (n)", fakeserver.QueryScript{Keys: []string{}})

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})

	ctx := context.Background()
	tx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)

	result, err := tx.Run(ctx, "CREATE (n)", nil)
	require.NoError(t, err)
	_, err = result.Collect(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.False(t, tx.IsOpen())
	assert.Equal(t, "fake:bookmark:1", s.LastBookmark())
}

func TestTransactionCommitAfterCommitFails(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})

	ctx := context.Background()
	tx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	err = tx.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been committed")
}

func TestTransactionRollback(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})

	ctx := context.Background()
	tx, err := s.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))
	assert.False(t, tx.IsOpen())

	err = tx.Rollback(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been rolled back")
}

func TestBeginTransactionFailsWhenOneAlreadyOpen(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})

	ctx := context.Background()
	_, err = s.BeginTransaction(ctx)
	require.NoError(t, err)

	_, err = s.BeginTransaction(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already open")
}
