package pipeline

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const sequenceBucket = "sequences"

// BoltAllocator keeps the last issued sequence per category in a BoltDB
// file. The file lock serializes allocations across processes sharing the
// database; the directory scan keeps it honest about files written without it.
type BoltAllocator struct {
	db *bolt.DB
}

// OpenBoltAllocator opens or creates the database at path.
func OpenBoltAllocator(path string) (*BoltAllocator, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create allocator directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sequenceBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bucket: %w", err)
	}
	return &BoltAllocator{db: db}, nil
}

// Close releases the database file.
func (b *BoltAllocator) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Next issues max(last issued, highest on disk) + 1 and records it.
func (b *BoltAllocator) Next(dir, category string, _ time.Time) (int, error) {
	var next int
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(sequenceBucket))
		if bucket == nil {
			return fmt.Errorf("bucket %q missing", sequenceBucket)
		}

		last := 0
		if raw := bucket.Get([]byte(category)); len(raw) == 8 {
			last = int(binary.BigEndian.Uint64(raw))
		}
		onDisk, err := highestSequence(dir, category)
		if err != nil {
			return err
		}
		next = max(last, onDisk) + 1

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		return bucket.Put([]byte(category), buf)
	})
	if err != nil {
		return 0, fmt.Errorf("allocate sequence: %w", err)
	}
	return next, nil
}
