package routing

import (
	"context"
	"time"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/graphbolterr"
)

const (
	procGetRoutingTable = "CALL dbms.routing.getRoutingTable($context)"
	procGetServers      = "CALL dbms.cluster.routing.getServers()"
)

// recordCapture is a StreamObserver that keeps the last record it receives
// and the terminal SUCCESS/FAILURE, enough to read a single-row procedure
// result.
type recordCapture struct {
	bolt.NoopObserver
	record []any
	meta   map[string]any
	err    error
}

func (r *recordCapture) OnRecord(fields []any)         { r.record = fields }
func (r *recordCapture) OnSuccess(meta map[string]any) { r.meta = meta }
func (r *recordCapture) OnFailure(err error)           { r.err = err }

// rediscoverFromRouter runs the routing procedure (or ROUTE message on
// protocol 4.3+) against conn and parses the result into a fresh Table.
func rediscoverFromRouter(ctx context.Context, conn *bolt.Connection, database string, routingContext map[string]string) (*Table, error) {
	if conn.ProtocolVersion().AtLeast(bolt4_3()) {
		return rediscoverViaRoute(ctx, conn, database, routingContext)
	}
	return rediscoverViaProcedure(ctx, conn, database, routingContext)
}

// bolt4_3 mirrors the unexported version constant in pkg/bolt; routing
// decides its wire strategy on the same boundary the connection does.
func bolt4_3() bolt.ProtocolVersion { return bolt.ProtocolVersion{Major: 4, Minor: 3} }

func rediscoverViaRoute(ctx context.Context, conn *bolt.Connection, database string, routingContext map[string]string) (*Table, error) {
	obs := &recordCapture{}
	if err := conn.Route(routingContext, nil, database, obs); err != nil {
		return nil, err
	}
	if err := conn.Sync(ctx); err != nil {
		return nil, err
	}
	if obs.err != nil {
		return nil, classifyRoutingFailure(obs.err)
	}
	rt, ok := obs.meta["rt"].(map[string]any)
	if !ok {
		return nil, graphbolterr.NewProtocolError("ROUTE reply missing rt field")
	}
	return parseRoutingPayload(database, rt)
}

func rediscoverViaProcedure(ctx context.Context, conn *bolt.Connection, database string, routingContext map[string]string) (*Table, error) {
	query := procGetRoutingTable
	params := map[string]any{"context": stringMapToAny(routingContext)}
	if conn.ProtocolVersion().Major < 4 {
		// Bolt 3 and earlier predate per-database routing and parameterized
		// context; fall back to the zero-argument cluster procedure.
		query = procGetServers
		params = map[string]any{}
	}

	runObs := &recordCapture{}
	if err := conn.Run(query, params, nil, runObs); err != nil {
		return nil, err
	}
	pullObs := &recordCapture{}
	if err := conn.PullN(-1, -1, pullObs); err != nil {
		return nil, err
	}
	if err := conn.Sync(ctx); err != nil {
		return nil, err
	}
	if runObs.err != nil {
		return nil, classifyRoutingFailure(runObs.err)
	}
	if pullObs.err != nil {
		return nil, classifyRoutingFailure(pullObs.err)
	}
	if len(pullObs.record) < 2 {
		return nil, graphbolterr.NewProtocolError("routing procedure returned no rows")
	}
	ttlSeconds, _ := pullObs.record[0].(int64)
	servers, _ := pullObs.record[1].([]any)
	return buildTableFromServers(database, ttlSeconds, servers)
}

func classifyRoutingFailure(err error) error {
	ge, ok := err.(*graphbolterr.Error)
	if !ok {
		return err
	}
	if ge.Kind == graphbolterr.ClientError && ge.Code == "Neo.ClientError.Procedure.ProcedureNotFound" {
		return graphbolterr.NewServiceUnavailable("server could not perform routing; not a causal cluster")
	}
	return ge
}

func parseRoutingPayload(database string, rt map[string]any) (*Table, error) {
	ttlSeconds, _ := rt["ttl"].(int64)
	servers, _ := rt["servers"].([]any)
	return buildTableFromServers(database, ttlSeconds, servers)
}

func buildTableFromServers(database string, ttlSeconds int64, servers []any) (*Table, error) {
	var routers, readers, writers []string
	for _, raw := range servers {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := entry["role"].(string)
		addrsRaw, _ := entry["addresses"].([]any)
		addrs := make([]string, 0, len(addrsRaw))
		for _, a := range addrsRaw {
			if s, ok := a.(string); ok {
				addrs = append(addrs, s)
			}
		}
		switch role {
		case "ROUTE":
			routers = append(routers, addrs...)
		case "READ":
			readers = append(readers, addrs...)
		case "WRITE":
			writers = append(writers, addrs...)
		}
	}
	if len(routers) == 0 {
		return nil, graphbolterr.NewServiceUnavailable("routing table has no routers")
	}
	return NewTable(database, routers, readers, writers, time.Duration(ttlSeconds)*time.Second), nil
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
