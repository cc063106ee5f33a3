package storage

import (
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// walSyncInterval is how often the background goroutine syncs the WAL.
const walSyncInterval = 100 * time.Millisecond

// KeyValue is one mutation in an atomic batch. A nil Value deletes the key.
type KeyValue struct {
	Key   []byte // Key is the key to mutate
	Value []byte // Value is the value to store; nil means delete
}

// Storage is the durable key-value store backing the settlement ledger.
// Individual writes go in with NoSync and a background goroutine syncs the
// WAL on a short interval; multi-key mutations go through Apply so a
// rejected ledger operation never leaves partial writes behind.
type Storage struct {
	db   *pebble.DB     // db is the underlying Pebble database
	done chan struct{}  // done stops the WAL sync goroutine
	wg   sync.WaitGroup // wg waits for the sync goroutine on Close
}

// New opens (or creates) the store at path and starts the WAL sync loop.
func New(path string) (*Storage, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,                  // 16 MB memtable
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, err
	}

	s := &Storage{
		db:   db,
		done: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.syncLoop()

	return s, nil
}

// Get returns the value for key, or nil if the key is absent.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// The returned slice is only valid until closer.Close()
	buf := make([]byte, len(value))
	copy(buf, value)

	return buf, nil
}

// Has reports whether key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	closer.Close()

	return true, nil
}

// Set stores one key-value pair. Durability comes from the sync loop.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Delete removes key.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// Apply commits every mutation in pairs atomically, or none of them.
func (s *Storage) Apply(pairs []KeyValue) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kv := range pairs {
		var err error
		if kv.Value == nil {
			err = batch.Delete(kv.Key, nil)
		} else {
			err = batch.Set(kv.Key, kv.Value, nil)
		}

		if err != nil {
			return err
		}
	}

	return batch.Commit(pebble.NoSync)
}

// Iterate visits every key-value pair in lexicographic key order.
// Iteration stops at the first error fn returns.
func (s *Storage) Iterate(fn func(key, value []byte) error) error {
	return s.scan(nil, fn)
}

// IteratePrefix visits every key-value pair whose key starts with prefix,
// in lexicographic key order.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return s.scan(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}, fn)
}

// scan runs fn over the iterator described by opts.
func (s *Storage) scan(opts *pebble.IterOptions, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(opts)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}

// Close stops the sync loop, forces a final WAL sync and closes the store.
func (s *Storage) Close() error {
	close(s.done)
	s.wg.Wait()

	if err := s.flushWAL(); err != nil {
		return err
	}

	return s.db.Close()
}

// syncLoop syncs the WAL on a fixed interval until Close.
func (s *Storage) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(walSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.flushWAL()
		case <-s.done:
			return
		}
	}
}

// flushWAL forces a WAL sync to disk.
func (s *Storage) flushWAL() error {
	return s.db.LogData(nil, pebble.Sync)
}
