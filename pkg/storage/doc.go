/*
Package storage provides BoltDB-backed persistence for the
reconciliation engine's durable state model, with the session
discipline §4.1 requires: every repository method takes an explicit
Session, which is either a read-only View or a commit-on-success
Update transaction.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              BoltStore                       │          │
	│  │  - File: <dataDir>/stagein.db                │          │
	│  │  - Transactions: ACID, single writer         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  requests, transforms, collections, contents │          │
	│  │  processings, messages                        │          │
	│  │  transforms_by_due, processings_by_due        │          │
	│  │    (secondary index: status|next_poll_at|id)  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Session Discipline                     │          │
	│  │  Read(fn)     → db.View   (read-session)      │          │
	│  │  Transact(fn) → db.Update (transactional)     │          │
	│  │  commit on nil return, rollback on error      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Due-work selection

§4.2 specifies due-work selection as a single SQL predicate over
status, next_poll_at, locking and an optional updated_at staleness
window, ordered and limited. Bolt has no query planner, so the
secondary index buckets (transforms_by_due, processings_by_due) store
keys of the form "<status>|<next_poll_at as zero-padded UnixNano>|<id>"
so that a per-status range scan visits candidates in next_poll_at
order without a full bucket walk; the locking and updated_at filters
are then applied to each candidate row fetched from the primary
bucket, since those two fields are not worth a second index for the
scale this engine targets.

# Errors

A Put conflicting with an existing key that the caller expected to be
absent maps to *errors.DuplicatedObject; a required single-row Get
finding nothing maps to *errors.NoObject; anything else bbolt returns
maps to *errors.DatabaseException, matching §4.1's error table.
*/
package storage
