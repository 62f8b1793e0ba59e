package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/session"
	"github.com/cuemby/graphbolt/test/integration/fakeserver"
)

func TestExecutorCommitsOnSuccess(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})
	exec := session.NewExecutor(s, session.DefaultExecutorConfig())

	result, err := exec.Execute(context.Background(), func(tx *session.Transaction) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestExecutorDoesNotRetryNonRetryableError(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})
	exec := session.NewExecutor(s, session.DefaultExecutorConfig())

	attempts := 0
	_, err = exec.Execute(context.Background(), func(tx *session.Transaction) (any, error) {
		attempts++
		return nil, graphbolterr.NewClientError("syntax error")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecutorRetriesRetryableErrorUntilDeadline(t *testing.T) {
	srv, err := fakeserver.New()
	require.NoError(t, err)
	defer srv.Close()

	conn := dialFake(t, srv)
	provider := &stubProvider{conn: conn}
	s := session.New(provider, session.Config{})
	cfg := session.DefaultExecutorConfig()
	cfg.InitialDelay = 5 * time.Millisecond
	cfg.MaxRetryTime = 30 * time.Millisecond
	exec := session.NewExecutor(s, cfg)

	attempts := 0
	_, err = exec.Execute(context.Background(), func(tx *session.Transaction) (any, error) {
		attempts++
		return nil, graphbolterr.NewServiceUnavailable("database unreachable")
	})
	require.Error(t, err)
	assert.Greater(t, attempts, 1)
}
