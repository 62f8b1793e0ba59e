package routing

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRoutingTables = []byte("routing_tables")

// cachedTable is the JSON-serializable form of a Table persisted to disk.
type cachedTable struct {
	Database  string    `json:"database"`
	Routers   []string  `json:"routers"`
	Readers   []string  `json:"readers"`
	Writers   []string  `json:"writers"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Cache is an optional, opt-in durable mirror of the last known routing
// table per database, so a freshly started process can seed its in-memory
// table instead of always paying a cold rediscovery round trip. Losing the
// cache file, or never configuring one, never changes correctness: a stale
// or absent cached table triggers rediscovery exactly as it would without a
// cache.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if necessary) a bbolt-backed cache file at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening routing cache at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRoutingTables)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating routing cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database file.
func (c *Cache) Close() error { return c.db.Close() }

// Put persists the given table under its database name.
func (c *Cache) Put(t *Table) error {
	entry := cachedTable{
		Database:  t.Database,
		Routers:   t.Routers.All(),
		Readers:   t.Readers.All(),
		Writers:   t.Writers.All(),
		ExpiresAt: t.ExpiresAt,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling routing table for %s: %w", t.Database, err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoutingTables).Put([]byte(t.Database), data)
	})
}

// Get returns the cached table for database, or nil if none is cached.
func (c *Cache) Get(database string) (*Table, error) {
	var entry *cachedTable
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRoutingTables).Get([]byte(database))
		if data == nil {
			return nil
		}
		var e cachedTable
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("unmarshaling cached routing table for %s: %w", database, err)
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return &Table{
		Database:  entry.Database,
		Routers:   NewRoundRobinSet(entry.Routers),
		Readers:   NewRoundRobinSet(entry.Readers),
		Writers:   NewRoundRobinSet(entry.Writers),
		ExpiresAt: entry.ExpiresAt,
	}, nil
}
