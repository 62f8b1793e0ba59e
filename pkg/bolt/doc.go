/*
Package bolt implements the wire protocol engine for a single connection to
a Bolt-speaking graph database server: the chunked framing layer, the
PackStream binary codec, the request/reply connection state machine, and the
stream observer interface results are delivered through.

# Architecture

	┌────────────────────── CONNECTION ───────────────────────┐
	│                                                            │
	│  handshake()  magic + 4 version proposals -> agreed vsn   │
	│                                                            │
	│  Hello() ──▶ send(HELLO) ──▶ Sync() ──▶ singleReplyObserver│
	│                                                            │
	│  Run()/PullN()/Begin()/Commit()/...                        │
	│      │                                                     │
	│      ▼                                                     │
	│  send(tag, observer, fields...)                            │
	│      │  encodeMessage -> PackStream bytes -> WriteMessage   │
	│      │  (chunked, ≤65534 byte chunks, 0x0000 terminator)    │
	│      ▼                                                     │
	│  pending []StreamObserver   (FIFO, one per in-flight req)  │
	│      ▲                                                     │
	│      │  receiveOne(): ReadMessage -> Unpacker -> Structure  │
	│      │  dispatch by tag to pending[0]                      │
	│      │    RECORD  -> OnRecord, stays at head                │
	│      │    SUCCESS -> OnSuccess, pops                        │
	│      │    FAILURE -> OnFailure, pops, connection dirty      │
	│      │                                                     │
	│  Sync()/Buffer() drive receiveOne() until the caller's      │
	│  observer (or the whole queue) has a terminal reply.        │
	└────────────────────────────────────────────────────────────┘

A Connection pipelines freely: callers may send several requests (for
instance RUN followed immediately by PULL) before reading any reply, and the
FIFO pending queue keeps replies matched to the request that produced them
even when a RECORD reply doesn't end the queue entry it belongs to.

A connection that has seen a FAILURE reply is left in a server-side failed
state: the server ignores every subsequent request until RESET. Reset()
clears the local pending queue and fatal error, but the caller must still
Sync() afterward to confirm the server accepted it before reuse.
*/
package bolt
