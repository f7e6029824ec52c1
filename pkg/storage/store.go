package storage

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DueWorkQuery is the §4.2 selection predicate: status in Statuses,
// next_poll_at < now, optionally locking=Idle, optionally updated_at <
// now-Period, ordered by updated_at asc (Transforms additionally order
// by priority desc), limited to BulkSize.
type DueWorkQuery struct {
	Statuses    []string
	RequireIdle bool
	Period      time.Duration // 0 disables the staleness filter
	BulkSize    int
}

// Store is the persistence facade exposed to the locking service, the
// agents, and the outbox: typed repositories for every entity in §3,
// each reached only through an explicit Session (§4.1).
type Store interface {
	// Read opens a read-only session: queries only, released on
	// return, never mutates state.
	Read(fn func(Session) error) error
	// Transact opens a transactional session: commits on a nil
	// return, rolls back (discards writes) on error.
	Transact(fn func(Session) error) error

	Requests
	Transforms
	Collections
	Contents
	Processings
	Messages

	Close() error
}

var (
	bucketRequests      = []byte("requests")
	bucketTransforms    = []byte("transforms")
	bucketTransformsDue = []byte("transforms_by_due")
	bucketCollections   = []byte("collections")
	bucketContents      = []byte("contents")
	bucketProcessings   = []byte("processings")
	bucketProcDue       = []byte("processings_by_due")
	bucketMessages      = []byte("messages")
	bucketReq2Transform = []byte("req2transform")
	bucketSeq           = []byte("sequences")
)

// BoltStore implements Store using go.etcd.io/bbolt as the embedded
// transactional backend (teacher: pkg/storage.BoltStore).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt database under
// dataDir and ensures every bucket this package uses exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "stagein.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRequests, bucketTransforms, bucketTransformsDue,
			bucketCollections, bucketContents, bucketProcessings,
			bucketProcDue, bucketMessages, bucketReq2Transform, bucketSeq,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Read implements Store.Read as a bbolt View transaction.
func (s *BoltStore) Read(fn func(Session) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(Session{tx: tx, writable: false})
	})
}

// Transact implements Store.Transact as a bbolt Update transaction.
func (s *BoltStore) Transact(fn func(Session) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(Session{tx: tx, writable: true})
	})
}

// nextID draws the next id for the given entity from a dedicated
// sequence bucket, independent of bolt's own per-bucket NextSequence
// so ids stay stable even if a bucket is ever rebuilt.
func nextID(sess Session, entity string) (int64, error) {
	b := sess.tx.Bucket(bucketSeq)
	n, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	_ = entity // sequence is global across entities; name kept for readability at call sites
	return int64(n), nil
}
