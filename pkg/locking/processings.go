package locking

import (
	"time"

	"github.com/cuemby/stagein/pkg/storage"
	"github.com/cuemby/stagein/pkg/types"
)

// ClaimProcessings is ClaimTransforms' Processing counterpart.
func ClaimProcessings(store storage.Store, statuses []types.ProcessingStatus, bulkSize int) ([]*types.Processing, error) {
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	var claimed []*types.Processing
	err := store.Transact(func(sess storage.Session) error {
		due, err := store.GetDueProcessings(sess, storage.DueWorkQuery{
			Statuses:    statusStrs,
			RequireIdle: true,
			BulkSize:    bulkSize,
		}, "")
		if err != nil {
			return err
		}
		for _, p := range due {
			p.Locking = types.LockingLocked
			if err := store.UpdateProcessing(sess, p); err != nil {
				return err
			}
			claimed = append(claimed, p)
		}
		return nil
	})
	return claimed, err
}

// ProcessingRelease is the Processing counterpart of TransformRelease.
type ProcessingRelease struct {
	Status     types.ProcessingStatus
	Substatus  string
	NextPollAt time.Time
}

// ReleaseProcessing sets locking=Idle, the new next_poll_at, and the
// status/substatus delta in one transaction.
func ReleaseProcessing(store storage.Store, processingID int64, delta ProcessingRelease) error {
	return store.Transact(func(sess storage.Session) error {
		p, err := store.GetProcessing(sess, processingID)
		if err != nil {
			return err
		}
		p.Locking = types.LockingIdle
		p.Status = delta.Status
		p.Substatus = delta.Substatus
		p.NextPollAt = delta.NextPollAt
		return store.UpdateProcessing(sess, p)
	})
}

// CleanProcessingLocking is CleanTransformLocking's Processing
// counterpart.
func CleanProcessingLocking(store storage.Store, period time.Duration) (int, error) {
	var n int
	err := store.Transact(func(sess storage.Session) error {
		var err error
		n, err = store.CleanProcessingLocking(sess, period)
		return err
	})
	return n, err
}

// CleanProcessingNextPollAt is CleanTransformNextPollAt's Processing
// counterpart.
func CleanProcessingNextPollAt(store storage.Store, statuses []types.ProcessingStatus) (int, error) {
	var n int
	err := store.Transact(func(sess storage.Session) error {
		var err error
		n, err = store.CleanProcessingNextPollAt(sess, statuses)
		return err
	})
	return n, err
}
