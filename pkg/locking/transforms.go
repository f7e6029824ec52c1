package locking

import (
	"time"

	"github.com/cuemby/stagein/pkg/storage"
	"github.com/cuemby/stagein/pkg/types"
)

// ClaimTransforms performs the §4.2 due-work selection and locking in
// a single transaction: transforms whose status is in statuses, whose
// next_poll_at has passed, and whose locking is Idle are flipped to
// Locked and returned.
func ClaimTransforms(store storage.Store, statuses []types.TransformStatus, bulkSize int) ([]*types.Transform, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	var claimed []*types.Transform
	err := store.Transact(func(sess storage.Session) error {
		due, err := store.GetDueTransforms(sess, storage.DueWorkQuery{
			Statuses:    statusStrs,
			RequireIdle: true,
			BulkSize:    bulkSize,
		})
		if err != nil {
			return err
		}
		for _, t := range due {
			t.Locking = types.LockingLocked
			if err := store.UpdateTransform(sess, t); err != nil {
				return err
			}
			claimed = append(claimed, t)
		}
		return nil
	})
	return claimed, err
}

// TransformRelease is the delta a tick applies when releasing a claim:
// the new status/substatus and, when retrying, a fresh next_poll_at
// computed by the caller's backoff policy.
type TransformRelease struct {
	Status     types.TransformStatus
	Substatus  string
	NextPollAt time.Time
	Retries    int
}

// ReleaseTransform sets locking=Idle, the new next_poll_at, and the
// status/substatus delta in one transaction (§4.2 "release ... in a
// single transactional update").
func ReleaseTransform(store storage.Store, transformID int64, delta TransformRelease) error {
	return store.Transact(func(sess storage.Session) error {
		t, err := store.GetTransform(sess, transformID)
		if err != nil {
			return err
		}
		t.Locking = types.LockingIdle
		t.Status = delta.Status
		t.Substatus = delta.Substatus
		t.NextPollAt = delta.NextPollAt
		t.Retries = delta.Retries
		return store.UpdateTransform(sess, t)
	})
}

// CleanTransformLocking resets locking=Idle for transforms whose
// updated_at is older than period and whose locking is still Locked
// (§4.2 clean_locking, default period 3600s).
func CleanTransformLocking(store storage.Store, period time.Duration) (int, error) {
	var n int
	err := store.Transact(func(sess storage.Session) error {
		var err error
		n, err = store.CleanTransformLocking(sess, period)
		return err
	})
	return n, err
}

// CleanTransformNextPollAt forces an immediate re-poll for every
// transform in statuses (§4.2 clean_next_poll_at).
func CleanTransformNextPollAt(store storage.Store, statuses []types.TransformStatus) (int, error) {
	var n int
	err := store.Transact(func(sess storage.Session) error {
		var err error
		n, err = store.CleanTransformNextPollAt(sess, statuses)
		return err
	})
	return n, err
}
