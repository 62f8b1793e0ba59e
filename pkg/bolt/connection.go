package bolt

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/graphbolt/pkg/graphbolterr"
	"github.com/cuemby/graphbolt/pkg/log"
)

// AccessMode selects whether a transaction is routed to a writer or a
// reader in a routed deployment. It has no effect against a single
// standalone server.
type AccessMode int

const (
	AccessModeWrite AccessMode = iota
	AccessModeRead
)

func (m AccessMode) String() string {
	if m == AccessModeRead {
		return "READ"
	}
	return "WRITE"
}

var connectionSeq int64

func nextConnectionID() int64 {
	return atomic.AddInt64(&connectionSeq, 1)
}

// AuthToken carries the credentials sent in the HELLO message. Construct one
// with the package-level BasicAuth/KerberosAuth/CustomAuth/NoAuth helpers
// rather than building the map by hand.
type AuthToken struct {
	Scheme      string
	Principal   string
	Credentials string
	Realm       string
	Parameters  map[string]any
}

// BasicAuth builds a username/password auth token.
func BasicAuth(username, password, realm string) AuthToken {
	return AuthToken{Scheme: "basic", Principal: username, Credentials: password, Realm: realm}
}

// KerberosAuth builds a Kerberos ticket auth token.
func KerberosAuth(ticket string) AuthToken {
	return AuthToken{Scheme: "kerberos", Credentials: ticket}
}

// CustomAuth builds an auth token for a scheme this package doesn't know
// about natively, passing extra fields through verbatim.
func CustomAuth(scheme, principal, credentials, realm string, parameters map[string]any) AuthToken {
	return AuthToken{Scheme: scheme, Principal: principal, Credentials: credentials, Realm: realm, Parameters: parameters}
}

// NoAuth builds an auth token for servers with authentication disabled.
func NoAuth() AuthToken {
	return AuthToken{Scheme: "none"}
}

func (t AuthToken) toMap() map[string]any {
	m := map[string]any{"scheme": t.Scheme}
	if t.Principal != "" {
		m["principal"] = t.Principal
	}
	if t.Credentials != "" {
		m["credentials"] = t.Credentials
	}
	if t.Realm != "" {
		m["realm"] = t.Realm
	}
	for k, v := range t.Parameters {
		m[k] = v
	}
	return m
}

// Connection owns one TCP (optionally TLS) socket speaking the Bolt wire
// protocol. It is not safe for concurrent use: the pool hands out exactly
// one owner at a time, per the single-writer-per-connection rule.
type Connection struct {
	id              int64
	conn            net.Conn
	reader          *bufio.Reader
	address         string
	protocolVersion ProtocolVersion
	serverAgent     string
	connectionID    string

	pending []StreamObserver

	databaseName string
	bookmarks    []string

	birthDate time.Time
	idleDate  time.Time
	closed    bool
	fatalErr  error

	log zerolog.Logger
}

// Open dials address, performs the Bolt handshake, and returns a Connection
// ready for Hello. tlsConfig may be nil for an unencrypted connection.
func Open(ctx context.Context, address string, tlsConfig *tls.Config, connectTimeout time.Duration) (*Connection, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, graphbolterr.NewServiceUnavailable(fmt.Sprintf("dialing %s: %v", address, err))
	}

	var conn net.Conn = rawConn
	if tlsConfig != nil {
		tlsConn := tls.Client(rawConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, graphbolterr.NewServiceUnavailable(fmt.Sprintf("TLS handshake with %s: %v", address, err))
		}
		conn = tlsConn
	}

	id := nextConnectionID()
	c := &Connection{
		id:        id,
		conn:      conn,
		reader:    bufio.NewReaderSize(conn, 8192),
		address:   address,
		birthDate: time.Now(),
		idleDate:  time.Now(),
		log:       log.WithConnectionID(id),
	}

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	c.log.Info().Str("address", address).Str("protocol", c.protocolVersion.String()).Msg("bolt handshake complete")
	return c, nil
}

func (c *Connection) handshake(ctx context.Context) error {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	buf := make([]byte, 4+4*4)
	copy(buf[0:4], handshakeMagic[:])
	for i, p := range defaultProposals {
		binary.BigEndian.PutUint32(buf[4+i*4:8+i*4], p.encode())
	}
	if _, err := c.conn.Write(buf); err != nil {
		return graphbolterr.NewServiceUnavailable(fmt.Sprintf("writing handshake: %v", err))
	}

	var resp [4]byte
	if _, err := readFull(c.reader, resp[:]); err != nil {
		return graphbolterr.NewServiceUnavailable(fmt.Sprintf("reading handshake response: %v", err))
	}
	version := decodeProtocolVersion(binary.BigEndian.Uint32(resp[:]))
	if version.IsZero() {
		return graphbolterr.NewProtocolError("server rejected every proposed protocol version")
	}
	c.protocolVersion = version
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Hello sends the HELLO message and blocks for its SUCCESS/FAILURE reply.
func (c *Connection) Hello(ctx context.Context, userAgent string, auth AuthToken, routingContext map[string]string) error {
	extra := map[string]any{"user_agent": userAgent}
	for k, v := range auth.toMap() {
		extra[k] = v
	}
	if routingContext != nil && c.protocolVersion.AtLeast(bolt4_3) {
		rc := make(map[string]any, len(routingContext))
		for k, v := range routingContext {
			rc[k] = v
		}
		extra["routing"] = rc
	}

	obs := &singleReplyObserver{}
	if err := c.send(msgHello, obs, extra); err != nil {
		return err
	}
	if err := c.Sync(ctx); err != nil {
		return err
	}
	if obs.err != nil {
		return obs.err
	}
	if agent, ok := obs.meta["server"].(string); ok {
		c.serverAgent = agent
	}
	if cid, ok := obs.meta["connection_id"].(string); ok {
		c.connectionID = cid
	} else {
		c.connectionID = uuid.NewString()
	}
	return nil
}

// Goodbye sends the GOODBYE message, which expects no reply, then closes the
// socket.
func (c *Connection) Goodbye() error {
	if c.closed {
		return nil
	}
	msg, err := encodeMessage(msgGoodbye)
	if err == nil {
		_ = WriteMessage(c.conn, msg)
	}
	return c.Close()
}

// Close closes the underlying socket without sending GOODBYE. It is
// idempotent.
func (c *Connection) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsOpen reports whether the connection has not been closed and has no
// recorded error. A FAILURE reply or a decode error records one, which Reset
// clears; a failed socket write or read also closes the connection.
func (c *Connection) IsOpen() bool {
	return !c.closed && c.fatalErr == nil
}

// IsDirty reports whether the connection has outstanding unconsumed replies
// or a pending failure state requiring RESET before reuse.
func (c *Connection) IsDirty() bool {
	return len(c.pending) > 0 || c.fatalErr != nil
}

func (c *Connection) ID() int64                   { return c.id }
func (c *Connection) ServerAgent() string          { return c.serverAgent }
func (c *Connection) ProtocolVersion() ProtocolVersion { return c.protocolVersion }
func (c *Connection) Address() string              { return c.address }
func (c *Connection) BirthDate() time.Time         { return c.birthDate }
func (c *Connection) IdleDate() time.Time          { return c.idleDate }
func (c *Connection) MarkIdle()                    { c.idleDate = time.Now() }

// Run sends a RUN message for query with params and extra metadata
// (bookmarks, tx_timeout, tx_metadata, mode, db), enqueuing observer for the
// SUCCESS reply that carries the field keys.
func (c *Connection) Run(query string, params map[string]any, extra map[string]any, observer StreamObserver) error {
	if params == nil {
		params = map[string]any{}
	}
	if extra == nil {
		extra = map[string]any{}
	}
	return c.send(msgRun, observer, query, params, extra)
}

// PullN sends a PULL message requesting n records (n == -1 means "all") from
// query qid (qid == -1 means "the last executed query").
func (c *Connection) PullN(n int64, qid int64, observer StreamObserver) error {
	extra := map[string]any{"n": n}
	if qid != -1 {
		extra["qid"] = qid
	}
	return c.send(msgPull, observer, extra)
}

// DiscardN sends a DISCARD message, the PULL counterpart that drops records
// instead of streaming them to the observer.
func (c *Connection) DiscardN(n int64, qid int64, observer StreamObserver) error {
	extra := map[string]any{"n": n}
	if qid != -1 {
		extra["qid"] = qid
	}
	return c.send(msgDiscard, observer, extra)
}

// Begin sends a BEGIN message, opening an explicit transaction.
func (c *Connection) Begin(bookmarks []string, txMeta map[string]any, timeout time.Duration, mode AccessMode, database string, observer StreamObserver) error {
	extra := map[string]any{}
	if len(bookmarks) > 0 {
		extra["bookmarks"] = toAnySlice(bookmarks)
	}
	if timeout > 0 {
		extra["tx_timeout"] = timeout.Milliseconds()
	}
	if len(txMeta) > 0 {
		extra["tx_metadata"] = txMeta
	}
	if mode == AccessModeRead {
		extra["mode"] = "r"
	}
	if database != "" {
		extra["db"] = database
	}
	return c.send(msgBegin, observer, extra)
}

// Commit sends a COMMIT message; its SUCCESS reply carries the bookmark the
// session must remember.
func (c *Connection) Commit(observer StreamObserver) error {
	return c.send(msgCommit, observer)
}

// Rollback sends a ROLLBACK message.
func (c *Connection) Rollback(observer StreamObserver) error {
	return c.send(msgRollback, observer)
}

// Reset sends a RESET message, which clears any pending failure state and
// discards unconsumed results. It must be followed by Sync before the
// connection is reused.
func (c *Connection) Reset(observer StreamObserver) error {
	// RESET jumps the queue: the server processes it immediately even if
	// requests ahead of it failed, so the pending queue is cleared of
	// everything that preceded it and won't receive further replies.
	c.pending = nil
	c.fatalErr = nil
	return c.send(msgReset, observer)
}

// Route sends a ROUTE message (protocol 4.3+), the replacement for the
// CALL dbms.routing.getRoutingTable($context) procedure call.
func (c *Connection) Route(routingContext map[string]string, bookmarks []string, database string, observer StreamObserver) error {
	rc := make(map[string]any, len(routingContext))
	for k, v := range routingContext {
		rc[k] = v
	}
	var dbField any
	if database != "" {
		dbField = map[string]any{"db": database}
	}
	return c.send(msgRoute, observer, rc, toAnySlice(bookmarks), dbField)
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func (c *Connection) send(tag byte, observer StreamObserver, fields ...any) error {
	if !c.IsOpen() {
		return graphbolterr.NewServiceUnavailable("connection is closed")
	}
	msg, err := encodeMessage(tag, fields...)
	if err != nil {
		return graphbolterr.Wrap(err, "encoding message")
	}
	if err := WriteMessage(c.conn, msg); err != nil {
		c.fatalErr = err
		c.closed = true
		return graphbolterr.NewServiceUnavailable(fmt.Sprintf("writing to %s: %v", c.address, err))
	}
	c.pending = append(c.pending, observer)
	return nil
}

// Sync reads and dispatches replies until the pending observer queue drains.
func (c *Connection) Sync(ctx context.Context) error {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	for len(c.pending) > 0 {
		if err := c.receiveOne(); err != nil {
			return err
		}
	}
	c.idleDate = time.Now()
	return nil
}

// Buffer drains replies until the given observer has received its terminal
// SUCCESS or FAILURE callback. It requires that observer currently be at the
// head of the pending queue (i.e. nothing was enqueued ahead of it that
// hasn't yet been consumed).
func (c *Connection) Buffer(ctx context.Context, until StreamObserver) error {
	c.applyDeadline(ctx)
	defer c.clearDeadline()

	for len(c.pending) > 0 && c.pending[0] == until {
		if err := c.receiveOne(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) receiveOne() error {
	raw, err := ReadMessage(c.reader)
	if err != nil {
		c.fatalErr = err
		c.closed = true
		return graphbolterr.NewServiceUnavailable(fmt.Sprintf("reading from %s: %v", c.address, err))
	}
	if raw == nil {
		return nil
	}
	v, err := NewUnpacker(raw).UnpackValue()
	if err != nil {
		c.fatalErr = err
		return graphbolterr.NewProtocolError(err.Error())
	}
	s, ok := v.(*Structure)
	if !ok {
		return graphbolterr.NewProtocolError("reply is not a structure")
	}
	if len(c.pending) == 0 {
		return graphbolterr.NewProtocolError("received reply with no pending request")
	}
	observer := c.pending[0]

	// a RECORD reply does not terminate the request it belongs to; the
	// observer stays at the head of the queue for further RECORD or the
	// eventual SUCCESS/FAILURE.
	if s.Tag != msgRecord {
		c.pending = c.pending[1:]
	}

	switch s.Tag {
	case msgRecord:
		fields, _ := s.Fields[0].([]any)
		for i, f := range fields {
			decoded, derr := decodeValue(f)
			if derr != nil {
				return graphbolterr.NewProtocolError(derr.Error())
			}
			fields[i] = flattenOrderedMaps(decoded)
		}
		observer.OnRecord(fields)
		return nil
	case msgSuccess:
		om, _ := s.Fields[0].(*OrderedMap)
		if om == nil {
			om = NewOrderedMap()
		}
		decoded, derr := decodeValue(om)
		if derr != nil {
			return graphbolterr.NewProtocolError(derr.Error())
		}
		meta := decoded.(*OrderedMap).ToMap()
		observer.OnSuccess(meta)
		if bm, ok := meta["bookmark"].(string); ok && bm != "" {
			c.bookmarks = []string{bm}
		}
		return nil
	case msgFailure:
		om, _ := s.Fields[0].(*OrderedMap)
		meta := om.ToMap()
		code, _ := meta["code"].(string)
		message, _ := meta["message"].(string)
		serverErr := graphbolterr.NewServerError(code, message)
		observer.OnFailure(serverErr)
		c.fatalErr = serverErr
		return nil
	case msgIgnored:
		observer.OnFailure(graphbolterr.NewClientError("request was ignored following an earlier failure"))
		return nil
	default:
		return graphbolterr.NewProtocolError(fmt.Sprintf("unexpected reply tag 0x%02X", s.Tag))
	}
}

func (c *Connection) applyDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
	}
}

func (c *Connection) clearDeadline() {
	_ = c.conn.SetDeadline(time.Time{})
}

// singleReplyObserver captures the single SUCCESS/FAILURE reply expected by
// HELLO, COMMIT, ROLLBACK, RESET, and BEGIN.
type singleReplyObserver struct {
	meta map[string]any
	err  error
}

func (o *singleReplyObserver) OnRecord(fields []any)          {}
func (o *singleReplyObserver) OnSuccess(meta map[string]any)  { o.meta = meta }
func (o *singleReplyObserver) OnFailure(err error)            { o.err = err }
