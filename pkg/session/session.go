// Package session implements the driver-facing Session and Transaction
// types: a session acquires one connection at a time from a
// routing.ConnectionProvider, runs auto-commit queries or explicit
// transactions against it, and threads bookmarks from one transaction to
// the next for causal consistency.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/log"
)

// ConnectionProvider is the subset of routing.ConnectionProvider a Session
// needs; declared locally to avoid an import cycle with pkg/routing.
type ConnectionProvider interface {
	Acquire(ctx context.Context, mode bolt.AccessMode, database string) (*bolt.Connection, error)
	Release(address string, conn *bolt.Connection)
	HandleError(address string, mode bolt.AccessMode, err error)
}

// Config configures a Session.
type Config struct {
	AccessMode   bolt.AccessMode
	DatabaseName string
	Bookmarks    []string
	FetchSize    int64
	TxTimeout    time.Duration
	TxMetadata   map[string]any
}

// Session is not safe for concurrent use: exactly one goroutine may drive
// it at a time, matching the single-writer-per-connection rule.
type Session struct {
	provider  ConnectionProvider
	mode      bolt.AccessMode
	database  string
	fetchSize int64
	txTimeout time.Duration
	txMeta    map[string]any

	mu        sync.Mutex
	bookmarks []string
	conn      *bolt.Connection
	address   string
	tx        *Transaction
	closed    bool
	log       zerolog.Logger
}

// New builds a Session bound to provider.
func New(provider ConnectionProvider, cfg Config) *Session {
	fetchSize := cfg.FetchSize
	if fetchSize == 0 {
		fetchSize = 1000
	}
	return &Session{
		provider:  provider,
		mode:      cfg.AccessMode,
		database:  cfg.DatabaseName,
		fetchSize: fetchSize,
		txTimeout: cfg.TxTimeout,
		txMeta:    cfg.TxMetadata,
		bookmarks: append([]string(nil), cfg.Bookmarks...),
		log:       log.WithComponent("session"),
	}
}

// LastBookmark returns the most recently observed bookmark, or "" if none.
func (s *Session) LastBookmark() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bookmarks) == 0 {
		return ""
	}
	return s.bookmarks[len(s.bookmarks)-1]
}

func (s *Session) setBookmarks(bookmarks []string) {
	s.mu.Lock()
	s.bookmarks = bookmarks
	s.mu.Unlock()
}

func (s *Session) acquire(ctx context.Context) (*bolt.Connection, error) {
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.provider.Acquire(ctx, s.mode, s.database)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	s.address = conn.Address()
	return conn, nil
}

func (s *Session) releaseConn() {
	if s.conn == nil {
		return
	}
	s.provider.Release(s.address, s.conn)
	s.conn = nil
	s.address = ""
}

// endTransaction is called by Transaction once it leaves ACTIVE: the
// session drops its transaction reference and releases the connection back
// to the pool, since one session holds at most one connection at a time.
func (s *Session) endTransaction(conn *bolt.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx = nil
	s.releaseConn()
}

// Run executes an auto-commit query and returns a streaming Result.
func (s *Session) Run(ctx context.Context, query string, params map[string]any) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, graphbolterr.NewClientError("session is closed")
	}
	if s.tx != nil {
		return nil, graphbolterr.NewClientError("Queries cannot be run directly on a session with an open transaction")
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	extra := map[string]any{}
	if len(s.bookmarks) > 0 {
		extra["bookmarks"] = stringsToAny(s.bookmarksForProtocol(conn))
	}
	if s.database != "" {
		extra["db"] = s.database
	}
	if s.mode == bolt.AccessModeRead {
		extra["mode"] = "r"
	}

	keysReply := &singleReply{}
	if err := conn.Run(query, params, extra, keysReply); err != nil {
		s.handleFailure(err)
		return nil, err
	}
	if err := conn.Sync(ctx); err != nil {
		s.handleFailure(err)
		return nil, err
	}
	if keysReply.err != nil {
		s.handleFailure(keysReply.err)
		return nil, keysReply.err
	}

	result := newResult(conn, s.fetchSize, -1, s.autoCommitDone)
	result.applyRunSuccess(keysReply.meta)
	if err := result.pull(); err != nil {
		s.handleFailure(err)
		return nil, err
	}
	return result, nil
}

// autoCommitDone is the Result.onDone callback for auto-commit queries: the
// connection returns to the pool as soon as the stream completes.
func (s *Session) autoCommitDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseConn()
}

// BeginTransaction opens an explicit transaction. Only one may be open on a
// session at a time.
func (s *Session) BeginTransaction(ctx context.Context) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, graphbolterr.NewClientError("session is closed")
	}
	if s.tx != nil {
		return nil, graphbolterr.NewClientError("a transaction is already open on this session")
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx := newTransaction(s, conn)
	if err := tx.begin(ctx, s.bookmarksForProtocol(conn), s.txMeta, s.txTimeout, s.mode, s.database); err != nil {
		s.releaseConn()
		return nil, err
	}
	s.tx = tx
	return tx, nil
}

func (s *Session) handleFailure(err error) {
	ge, ok := err.(*graphbolterr.Error)
	if ok && s.address != "" {
		s.provider.HandleError(s.address, s.mode, ge)
	}
	s.releaseConn()
}

// Close waits for any active transaction to be rolled back and releases the
// held connection, if any. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.tx != nil && s.tx.IsOpen() {
		reply := &singleReply{}
		_ = s.conn.Reset(reply)
		_ = s.conn.Sync(ctx)
		s.tx = nil
	}
	s.releaseConn()
	return nil
}

// bookmarksForProtocol reduces the bookmark list to the shape conn's
// negotiated protocol version understands.
func (s *Session) bookmarksForProtocol(conn *bolt.Connection) []string {
	if conn.ProtocolVersion().Major < 4 {
		return flattenForProtocol(s.bookmarks)
	}
	return s.bookmarks
}

func stringsToAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
