package session

import (
	"context"
	"sync"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

// Result is a stream of records produced by a RUN, driven by an internal
// StreamObserver subscribed to the owning connection. Field keys arrive
// before the caller ever sees the Result; records accumulate lazily as the
// caller consumes them or asks for everything at once.
type Result struct {
	conn *bolt.Connection

	mu        sync.Mutex
	keys      []string
	records   [][]any
	pos       int
	summary   map[string]any
	err       error
	completed bool
	pulled    bool
	fetchSize int64
	qid       int64

	onDone   func()
	doneOnce sync.Once
}

func newResult(conn *bolt.Connection, fetchSize int64, qid int64, onDone func()) *Result {
	return &Result{conn: conn, fetchSize: fetchSize, qid: qid, onDone: onDone}
}

// applyRunSuccess records the field keys carried by RUN's SUCCESS reply.
func (r *Result) applyRunSuccess(meta map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fields, ok := meta["fields"].([]any); ok {
		keys := make([]string, 0, len(fields))
		for _, f := range fields {
			if s, ok := f.(string); ok {
				keys = append(keys, s)
			}
		}
		r.keys = keys
	}
}

// OnRecord implements bolt.StreamObserver.
func (r *Result) OnRecord(fields []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, fields)
}

// OnSuccess implements bolt.StreamObserver: the PULL/DISCARD SUCCESS reply
// carries the summary and marks the stream complete.
func (r *Result) OnSuccess(meta map[string]any) {
	if more, _ := meta["has_more"].(bool); more {
		if err := r.conn.PullN(r.fetchSize, r.qid, r); err != nil {
			r.OnFailure(err)
		}
		return
	}
	r.mu.Lock()
	r.summary = meta
	r.completed = true
	r.mu.Unlock()
	r.finish()
}

// OnFailure implements bolt.StreamObserver.
func (r *Result) OnFailure(err error) {
	r.mu.Lock()
	r.err = graphbolterr.Wrap(err, "streaming result")
	r.completed = true
	r.mu.Unlock()
	r.finish()
}

func (r *Result) finish() {
	r.doneOnce.Do(func() {
		if r.onDone != nil {
			r.onDone()
		}
	})
}

// pull sends the PULL request backing this result; it does not itself
// drain replies, leaving that to whichever call (Next, Collect, Summary)
// needs them.
func (r *Result) pull() error {
	r.mu.Lock()
	r.pulled = true
	r.mu.Unlock()
	return r.conn.PullN(r.fetchSize, r.qid, r)
}

// Keys returns the field names reported by RUN, valid as soon as Run
// returns.
func (r *Result) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys
}

// Next advances to and returns the next record, syncing the connection as
// needed. ok is false once the stream is exhausted, and err then carries any
// failure the stream ended with.
func (r *Result) Next(ctx context.Context) (fields []any, ok bool, err error) {
	for {
		r.mu.Lock()
		if r.pos < len(r.records) {
			fields = r.records[r.pos]
			r.pos++
			r.mu.Unlock()
			return fields, true, nil
		}
		if r.completed {
			err = r.err
			r.mu.Unlock()
			return nil, false, err
		}
		r.mu.Unlock()
		if err := r.conn.Sync(ctx); err != nil {
			return nil, false, err
		}
	}
}

// Collect drains the stream fully and returns every remaining record.
func (r *Result) Collect(ctx context.Context) ([][]any, error) {
	for {
		r.mu.Lock()
		done := r.completed
		r.mu.Unlock()
		if done {
			break
		}
		if err := r.conn.Sync(ctx); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rest := r.records[r.pos:]
	r.pos = len(r.records)
	return rest, nil
}

// Summary returns the completion metadata. If the stream has not completed
// yet, it first sends DISCARD for the remaining records and syncs the
// connection; records already requested by the earlier PULL still arrive and
// are kept.
func (r *Result) Summary(ctx context.Context) (map[string]any, error) {
	r.mu.Lock()
	if r.completed {
		summary, err := r.summary, r.err
		r.mu.Unlock()
		return summary, err
	}
	r.mu.Unlock()

	if err := r.conn.DiscardN(-1, r.qid, r); err != nil {
		return nil, err
	}
	if err := r.conn.Sync(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, r.err
}

// singleReply captures the lone SUCCESS/FAILURE expected by BEGIN, COMMIT,
// and ROLLBACK.
type singleReply struct {
	bolt.NoopObserver
	meta map[string]any
	err  error
}

func (s *singleReply) OnSuccess(meta map[string]any) { s.meta = meta }
func (s *singleReply) OnFailure(err error)           { s.err = err }
