package storage

import bolt "go.etcd.io/bbolt"

// Session wraps a single bbolt transaction. Repository methods take a
// Session explicitly rather than reaching for a package-level
// database handle, so the outermost Read/Transact call is always the
// one that owns commit/rollback (§9 "Implicit session threading via a
// keyword argument → explicit session/transaction handle").
type Session struct {
	tx       *bolt.Tx
	writable bool
}

// Writable reports whether this session was opened by Transact (and
// may therefore mutate buckets) as opposed to Read.
func (s Session) Writable() bool { return s.writable }
