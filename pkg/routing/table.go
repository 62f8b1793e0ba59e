// Package routing implements the routing subsystem for cluster deployments:
// a per-database routing table with round-robin role sets, TTL-driven
// staleness, server-procedure rediscovery, and a ConnectionProvider that
// picks role-appropriate addresses ahead of pool acquisition.
package routing

import (
	"sync"
	"time"
)

// farFuture is the sentinel used when a TTL would otherwise overflow the
// expiration clock.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// RoundRobinSet is an ordered, cursor-tracking address list. Next advances
// and wraps; Remove deletes an address while keeping the cursor stable
// relative to the remaining entries.
type RoundRobinSet struct {
	addresses []string
	cursor    int
}

// NewRoundRobinSet builds a set from addresses in the given order.
func NewRoundRobinSet(addresses []string) *RoundRobinSet {
	cp := make([]string, len(addresses))
	copy(cp, addresses)
	return &RoundRobinSet{addresses: cp}
}

// Len returns the number of addresses currently in the set.
func (s *RoundRobinSet) Len() int { return len(s.addresses) }

// All returns a copy of every address in the set, in stored order; the
// cursor does not affect the order.
func (s *RoundRobinSet) All() []string {
	out := make([]string, len(s.addresses))
	copy(out, s.addresses)
	return out
}

// Next returns the next address and advances the cursor, or ("", false) if
// the set is empty.
func (s *RoundRobinSet) Next() (string, bool) {
	if len(s.addresses) == 0 {
		return "", false
	}
	addr := s.addresses[s.cursor%len(s.addresses)]
	s.cursor = (s.cursor + 1) % len(s.addresses)
	return addr, true
}

// Remove deletes address from the set if present.
func (s *RoundRobinSet) Remove(address string) {
	for i, a := range s.addresses {
		if a == address {
			s.addresses = append(s.addresses[:i], s.addresses[i+1:]...)
			if i < s.cursor {
				s.cursor--
			}
			if len(s.addresses) == 0 {
				s.cursor = 0
			} else {
				s.cursor %= len(s.addresses)
			}
			return
		}
	}
}

// Contains reports whether address is a member of the set.
func (s *RoundRobinSet) Contains(address string) bool {
	for _, a := range s.addresses {
		if a == address {
			return true
		}
	}
	return false
}

// Table is the routing table for one database: round-robin sets of router,
// reader, and writer addresses, plus an expiration time.
type Table struct {
	Database  string
	Routers   *RoundRobinSet
	Readers   *RoundRobinSet
	Writers   *RoundRobinSet
	ExpiresAt time.Time
}

// NewTable builds a Table with the given role addresses and a ttl from now.
func NewTable(database string, routers, readers, writers []string, ttl time.Duration) *Table {
	expires := time.Now().Add(ttl)
	if expires.Before(time.Now()) {
		expires = farFuture
	}
	return &Table{
		Database:  database,
		Routers:   NewRoundRobinSet(routers),
		Readers:   NewRoundRobinSet(readers),
		Writers:   NewRoundRobinSet(writers),
		ExpiresAt: expires,
	}
}

// IsStale reports whether the table needs rediscovery: expired, too few
// routers to tolerate one failing, or the role set a caller would need is
// empty.
func (t *Table) IsStale(forWrite bool) bool {
	if time.Now().After(t.ExpiresAt) {
		return true
	}
	if t.Routers.Len() <= 1 {
		return true
	}
	if forWrite {
		return t.Writers.Len() == 0
	}
	return t.Readers.Len() == 0
}

// ForgetAddress removes address from every role set, used after a
// ServiceUnavailable or SessionExpired error against that server.
func (t *Table) ForgetAddress(address string) {
	t.Routers.Remove(address)
	t.Readers.Remove(address)
	t.Writers.Remove(address)
}

// ForgetWriter removes address from the writer set only, used for the
// NotALeader rewrite which must not disturb routers or readers.
func (t *Table) ForgetWriter(address string) {
	t.Writers.Remove(address)
}

// guardedTable wraps a *Table with the mutex discipline the provider needs:
// readers take a read lock for a quick snapshot; the single rediscovery
// routine takes the write lock only around the atomic swap.
type guardedTable struct {
	mu    sync.RWMutex
	table *Table
}

func (g *guardedTable) get() *Table {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.table
}

func (g *guardedTable) set(t *Table) {
	g.mu.Lock()
	g.table = t
	g.mu.Unlock()
}
