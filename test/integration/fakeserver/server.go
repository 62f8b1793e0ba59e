// Package fakeserver provides a minimal in-process Bolt server for driving
// end-to-end scenarios without a real database: it speaks the real wire
// handshake and a small scripted set of replies keyed by query text.
package fakeserver

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/graphbolt/pkg/bolt"
)

// QueryScript describes how the fake server answers one RUN'd query.
type QueryScript struct {
	Keys    []string
	Records [][]any
	Summary map[string]any
	// FailureCode/FailureMessage, if set, make the server reply FAILURE to
	// the RUN instead of SUCCESS.
	FailureCode    string
	FailureMessage string
}

// Server is a fake Bolt server; each accepted connection is served on its
// own goroutine.
type Server struct {
	ln              net.Listener
	mu              sync.Mutex
	scripts         map[string]QueryScript
	protocolVersion bolt.ProtocolVersion
	bookmarkCounter int
	wg              sync.WaitGroup
	closed          bool
	routingTable    map[string]any
	connectionCount int
}

// ConnectionCount returns how many TCP connections have completed the Bolt
// handshake so far.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectionCount
}

// New starts listening on 127.0.0.1:0 and returns a Server that will accept
// connections until Close is called.
func New() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:              ln,
		scripts:         make(map[string]QueryScript),
		protocolVersion: bolt.ProtocolVersion{Major: 5, Minor: 0},
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Address returns the host:port the server is listening on.
func (s *Server) Address() string { return s.ln.Addr().String() }

// Script registers the reply for a RUN of the given query text. A query not
// registered gets an empty-result SUCCESS with no records.
func (s *Server) Script(query string, script QueryScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[query] = script
}

// SetProtocolVersion overrides the version offered during the handshake,
// letting tests exercise both the ROUTE message and the older routing
// procedures.
func (s *Server) SetProtocolVersion(major, minor byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = bolt.ProtocolVersion{Major: major, Minor: minor}
}

// RouteTable scripts the "rt" payload returned for a ROUTE message or a
// dbms.routing.getRoutingTable/getServers procedure call.
func (s *Server) RouteTable(ttlSeconds int64, servers []map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]any, len(servers))
	for i, srv := range servers {
		rows[i] = srv
	}
	s.routingTable = map[string]any{"ttl": ttlSeconds, "servers": rows}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	var magic [4]byte
	if _, err := readFull(r, magic[:]); err != nil {
		return
	}
	var proposals [16]byte
	if _, err := readFull(r, proposals[:]); err != nil {
		return
	}
	resp := make([]byte, 4)
	binary.BigEndian.PutUint32(resp, uint32(s.protocolVersion.Minor)<<8|uint32(s.protocolVersion.Major))
	if _, err := conn.Write(resp); err != nil {
		return
	}
	s.mu.Lock()
	s.connectionCount++
	s.mu.Unlock()

	var lastQuery string
	for {
		raw, err := bolt.ReadMessage(r)
		if err != nil {
			return
		}
		if raw == nil {
			continue
		}
		v, err := bolt.NewUnpacker(raw).UnpackValue()
		if err != nil {
			return
		}
		st, ok := v.(*bolt.Structure)
		if !ok {
			return
		}

		var reply []byte
		var replyErr error
		switch st.Tag {
		case 0x01: // HELLO / INIT
			reply, replyErr = encodeSuccess(map[string]any{
				"server":        "fakeserver/1.0",
				"connection_id": "fake-conn-1",
			})
		case 0x02: // GOODBYE
			return
		case 0x66: // ROUTE
			if s.routingTable == nil {
				reply, replyErr = encodeFailure("Neo.ClientError.Procedure.ProcedureNotFound", "no routing table scripted")
			} else {
				reply, replyErr = encodeSuccess(map[string]any{"rt": s.routingTable})
			}
		case 0x10: // RUN
			query, _ := st.Fields[0].(string)
			lastQuery = query
			if query == "CALL dbms.routing.getRoutingTable($context)" || query == "CALL dbms.cluster.routing.getServers()" {
				reply, replyErr = encodeSuccess(map[string]any{"fields": toAnySlice([]string{"ttl", "servers"})})
				break
			}
			script, scripted := s.scripts[query]
			if scripted && script.FailureCode != "" {
				reply, replyErr = encodeFailure(script.FailureCode, script.FailureMessage)
			} else {
				keys := script.Keys
				reply, replyErr = encodeSuccess(map[string]any{"fields": toAnySlice(keys)})
			}
		case 0x3F: // PULL / PULL_ALL / DISCARD / DISCARD_ALL share 0x3F/0x2F
			reply, replyErr = s.streamRecords(conn, lastQuery, false)
		case 0x2F:
			reply, replyErr = s.streamRecords(conn, lastQuery, true) // discard: summary only, no records
		case 0x11: // BEGIN
			reply, replyErr = encodeSuccess(map[string]any{})
		case 0x12: // COMMIT
			s.bookmarkCounter++
			reply, replyErr = encodeSuccess(map[string]any{"bookmark": fmt.Sprintf("fake:bookmark:%d", s.bookmarkCounter)})
		case 0x13: // ROLLBACK
			reply, replyErr = encodeSuccess(map[string]any{})
		case 0x0F: // RESET
			reply, replyErr = encodeSuccess(map[string]any{})
		default:
			reply, replyErr = encodeFailure("Neo.ClientError.Request.Invalid", fmt.Sprintf("unhandled message tag 0x%02X", st.Tag))
		}
		if replyErr != nil {
			return
		}
		if err := bolt.WriteMessage(conn, reply); err != nil {
			return
		}
	}
}

func (s *Server) streamRecords(conn net.Conn, query string, discard bool) ([]byte, error) {
	if query == "CALL dbms.routing.getRoutingTable($context)" || query == "CALL dbms.cluster.routing.getServers()" {
		if discard {
			return encodeSuccess(map[string]any{"type": "r"})
		}
		rt := s.routingTable
		rec, err := encodeRecord([]any{rt["ttl"], rt["servers"]})
		if err != nil {
			return nil, err
		}
		if err := bolt.WriteMessage(conn, rec); err != nil {
			return nil, err
		}
		return encodeSuccess(map[string]any{"type": "r"})
	}
	script := s.scripts[query]
	records := script.Records
	if discard {
		records = nil
	}
	for _, fields := range records {
		rec, err := encodeRecord(fields)
		if err != nil {
			return nil, err
		}
		if err := bolt.WriteMessage(conn, rec); err != nil {
			return nil, err
		}
	}
	summary := script.Summary
	if summary == nil {
		summary = map[string]any{}
	}
	if _, ok := summary["type"]; !ok {
		summary["type"] = "r"
	}
	return encodeSuccess(summary)
}

func encodeSuccess(meta map[string]any) ([]byte, error) {
	p := bolt.NewPacker()
	p.PackStructHeader(1, 0x70)
	if err := p.PackValue(meta); err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

func encodeFailure(code, message string) ([]byte, error) {
	p := bolt.NewPacker()
	p.PackStructHeader(1, 0x7F)
	if err := p.PackValue(map[string]any{"code": code, "message": message}); err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

func encodeRecord(fields []any) ([]byte, error) {
	p := bolt.NewPacker()
	p.PackStructHeader(1, 0x71)
	if err := p.PackValue(fields); err != nil {
		return nil, err
	}
	return p.Bytes(), nil
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
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
