package session

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

type txState int

const (
	txActive txState = iota
	txFailed
	txSucceeded
	txRolledBack
)

// Transaction is an explicit transaction opened on a Session. Its state
// machine follows the ACTIVE/FAILED/SUCCEEDED/ROLLED_BACK table: once it
// leaves ACTIVE, every further commit/rollback/run call fails without
// touching the wire.
type Transaction struct {
	session *Session
	conn    *bolt.Connection

	mu    sync.Mutex
	state txState
}

func newTransaction(s *Session, conn *bolt.Connection) *Transaction {
	return &Transaction{session: s, conn: conn, state: txActive}
}

func (t *Transaction) begin(ctx context.Context, bookmarks []string, txMeta map[string]any, timeout time.Duration, mode bolt.AccessMode, database string) error {
	reply := &singleReply{}
	if err := t.conn.Begin(bookmarks, txMeta, timeout, mode, database, reply); err != nil {
		return err
	}
	if err := t.conn.Sync(ctx); err != nil {
		return err
	}
	if reply.err != nil {
		return reply.err
	}
	return nil
}

// Run executes query within the transaction. It fails without sending
// anything if the transaction has already left the ACTIVE state.
func (t *Transaction) Run(ctx context.Context, query string, params map[string]any) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case txFailed:
		return nil, graphbolterr.NewClientError("Cannot run query in this transaction, because a previous error rolled it back")
	case txSucceeded:
		return nil, graphbolterr.NewClientError("cannot run query, the transaction has already been committed")
	case txRolledBack:
		return nil, graphbolterr.NewClientError("cannot run query, the transaction has already been rolled back")
	}

	keysReply := &singleReply{}
	if err := t.conn.Run(query, params, map[string]any{}, keysReply); err != nil {
		t.fail(err)
		return nil, err
	}
	if err := t.conn.Sync(ctx); err != nil {
		t.fail(err)
		return nil, err
	}
	if keysReply.err != nil {
		t.fail(keysReply.err)
		return nil, keysReply.err
	}

	result := newResult(t.conn, t.session.fetchSize, -1, nil)
	result.applyRunSuccess(keysReply.meta)
	if err := result.pull(); err != nil {
		t.fail(err)
		return nil, err
	}
	return result, nil
}

// Commit sends COMMIT and transitions ACTIVE → SUCCEEDED. The session's
// bookmark is atomically replaced with the one returned in COMMIT's
// metadata, if any.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case txFailed:
		return graphbolterr.NewClientError("Cannot commit this transaction, because a previous error rolled it back")
	case txSucceeded:
		return graphbolterr.NewClientError("cannot commit, the transaction has already been committed")
	case txRolledBack:
		return graphbolterr.NewClientError("cannot commit, the transaction has already been rolled back")
	}

	reply := &singleReply{}
	if err := t.conn.Commit(reply); err != nil {
		t.state = txFailed
		t.session.endTransaction(t.conn)
		return err
	}
	if err := t.conn.Sync(ctx); err != nil {
		t.state = txFailed
		t.session.endTransaction(t.conn)
		return err
	}
	if reply.err != nil {
		t.state = txFailed
		t.session.endTransaction(t.conn)
		return reply.err
	}
	t.state = txSucceeded
	if bm, ok := reply.meta["bookmark"].(string); ok && bm != "" {
		t.session.setBookmarks([]string{bm})
	}
	t.session.endTransaction(t.conn)
	return nil
}

// Rollback sends ROLLBACK and transitions ACTIVE → ROLLED_BACK.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case txFailed:
		return graphbolterr.NewClientError("cannot rollback, the transaction has already been rolled back")
	case txSucceeded:
		return graphbolterr.NewClientError("cannot rollback, the transaction has already been committed")
	case txRolledBack:
		return graphbolterr.NewClientError("cannot rollback, the transaction has already been rolled back")
	}

	reply := &singleReply{}
	err := t.conn.Rollback(reply)
	if err == nil {
		err = t.conn.Sync(ctx)
	}
	t.state = txRolledBack
	t.session.endTransaction(t.conn)
	if err != nil {
		return err
	}
	return reply.err
}

// fail transitions ACTIVE → FAILED, attempts a best-effort rollback, and
// releases the session's connection exactly once.
func (t *Transaction) fail(cause error) {
	if t.state != txActive {
		return
	}
	t.state = txFailed
	reply := &singleReply{}
	_ = t.conn.Rollback(reply)
	_ = t.conn.Sync(context.Background())
	t.session.endTransaction(t.conn)
}

// IsOpen reports whether the transaction is still ACTIVE.
func (t *Transaction) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == txActive
}
