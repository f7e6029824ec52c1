package storage

import (
	"encoding/json"
	"sort"
	"time"

	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
)

// Transforms is the Transform repository (§3, §4.1).
type Transforms interface {
	CreateTransform(sess Session, t *types.Transform) error
	GetTransform(sess Session, id int64) (*types.Transform, error)
	// GetDueTransforms is the §4.2 predicate, additionally ordered by
	// priority desc within equal updated_at, as §4.2 requires for
	// transforms specifically.
	GetDueTransforms(sess Session, q DueWorkQuery) ([]*types.Transform, error)
	UpdateTransform(sess Session, t *types.Transform) error
	DeleteTransform(sess Session, id int64) error
	// CleanTransformLocking resets locking=Idle for rows whose
	// updated_at is older than period and whose locking=Locked (§4.2
	// stale-lock reaper).
	CleanTransformLocking(sess Session, period time.Duration) (int, error)
	// CleanTransformNextPollAt forces an immediate re-poll for every
	// transform in the given statuses (§4.2 clean_next_poll_at).
	CleanTransformNextPollAt(sess Session, statuses []types.TransformStatus) (int, error)
	// CountTransformsByStatus is a metrics-only accessor: unlike
	// GetDueTransforms it ignores next_poll_at, counting every row
	// currently in the given status.
	CountTransformsByStatus(sess Session, status types.TransformStatus) (int, error)
}

func (s *BoltStore) CreateTransform(sess Session, t *types.Transform) error {
	b := sess.tx.Bucket(bucketTransforms)
	if t.TransformID == 0 {
		id, err := nextID(sess, "transform")
		if err != nil {
			return &errs.DatabaseException{Msg: "allocate transform id", Err: err}
		}
		t.TransformID = id
	} else if b.Get(itob(t.TransformID)) != nil {
		return &errs.DuplicatedObject{Msg: "transform already exists"}
	}
	return s.putTransform(sess, t)
}

func (s *BoltStore) putTransform(sess Session, t *types.Transform) error {
	b := sess.tx.Bucket(bucketTransforms)
	data, err := json.Marshal(t)
	if err != nil {
		return &errs.DatabaseException{Msg: "marshal transform", Err: err}
	}
	if err := b.Put(itob(t.TransformID), data); err != nil {
		return &errs.DatabaseException{Msg: "put transform", Err: err}
	}
	idx := sess.tx.Bucket(bucketTransformsDue)
	key := dueIndexKey(string(t.Status), t.NextPollAt, t.TransformID)
	return idx.Put(key, itob(t.TransformID))
}

func (s *BoltStore) GetTransform(sess Session, id int64) (*types.Transform, error) {
	b := sess.tx.Bucket(bucketTransforms)
	data := b.Get(itob(id))
	if data == nil {
		return nil, &errs.NoObject{Msg: "transform not found"}
	}
	var t types.Transform
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, &errs.DatabaseException{Msg: "unmarshal transform", Err: err}
	}
	return &t, nil
}

func (s *BoltStore) GetDueTransforms(sess Session, q DueWorkQuery) ([]*types.Transform, error) {
	now := time.Now()
	idx := sess.tx.Bucket(bucketTransformsDue)
	tb := sess.tx.Bucket(bucketTransforms)

	var candidates []*types.Transform
	c := idx.Cursor()
	for _, status := range q.Statuses {
		prefix := dueIndexPrefix(status)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := tb.Get(v)
			if data == nil {
				continue // stale index entry, row deleted since
			}
			var t types.Transform
			if err := json.Unmarshal(data, &t); err != nil {
				return nil, &errs.DatabaseException{Msg: "unmarshal transform", Err: err}
			}
			if !t.NextPollAt.Before(now) {
				break // index is ordered by next_poll_at within this status prefix
			}
			if q.RequireIdle && t.Locking != types.LockingIdle {
				continue
			}
			if q.Period > 0 && !t.UpdatedAt.Before(now.Add(-q.Period)) {
				continue
			}
			candidates = append(candidates, &t)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
		}
		return candidates[i].Priority > candidates[j].Priority
	})

	if q.BulkSize > 0 && len(candidates) > q.BulkSize {
		candidates = candidates[:q.BulkSize]
	}
	return candidates, nil
}

func (s *BoltStore) UpdateTransform(sess Session, t *types.Transform) error {
	old, err := s.GetTransform(sess, t.TransformID)
	if err != nil {
		return err
	}
	idx := sess.tx.Bucket(bucketTransformsDue)
	oldKey := dueIndexKey(string(old.Status), old.NextPollAt, old.TransformID)
	if err := idx.Delete(oldKey); err != nil {
		return &errs.DatabaseException{Msg: "delete transform due-index entry", Err: err}
	}

	t.UpdatedAt = time.Now()
	if t.Status.Terminal() && t.FinishedAt == nil {
		now := t.UpdatedAt
		t.FinishedAt = &now
	}
	return s.putTransform(sess, t)
}

func (s *BoltStore) DeleteTransform(sess Session, id int64) error {
	old, err := s.GetTransform(sess, id)
	if err != nil {
		return err
	}
	idx := sess.tx.Bucket(bucketTransformsDue)
	if err := idx.Delete(dueIndexKey(string(old.Status), old.NextPollAt, old.TransformID)); err != nil {
		return &errs.DatabaseException{Msg: "delete transform due-index entry", Err: err}
	}
	b := sess.tx.Bucket(bucketTransforms)
	if err := b.Delete(itob(id)); err != nil {
		return &errs.DatabaseException{Msg: "delete transform", Err: err}
	}
	return nil
}

func (s *BoltStore) CleanTransformLocking(sess Session, period time.Duration) (int, error) {
	b := sess.tx.Bucket(bucketTransforms)
	cutoff := time.Now().Add(-period)
	var changed []*types.Transform
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var t types.Transform
		if err := json.Unmarshal(v, &t); err != nil {
			return 0, &errs.DatabaseException{Msg: "unmarshal transform", Err: err}
		}
		if t.Locking == types.LockingLocked && t.UpdatedAt.Before(cutoff) {
			t.Locking = types.LockingIdle
			changed = append(changed, &t)
		}
	}
	for _, t := range changed {
		if err := s.putTransform(sess, t); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

func (s *BoltStore) CleanTransformNextPollAt(sess Session, statuses []types.TransformStatus) (int, error) {
	wanted := make(map[types.TransformStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	b := sess.tx.Bucket(bucketTransforms)
	now := time.Now()
	var changed []*types.Transform
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var t types.Transform
		if err := json.Unmarshal(v, &t); err != nil {
			return 0, &errs.DatabaseException{Msg: "unmarshal transform", Err: err}
		}
		if wanted[t.Status] {
			old := t
			t.NextPollAt = now
			idx := sess.tx.Bucket(bucketTransformsDue)
			if err := idx.Delete(dueIndexKey(string(old.Status), old.NextPollAt, old.TransformID)); err != nil {
				return 0, &errs.DatabaseException{Msg: "delete transform due-index entry", Err: err}
			}
			changed = append(changed, &t)
		}
	}
	for _, t := range changed {
		if err := s.putTransform(sess, t); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

// CountTransformsByStatus counts rows in a status regardless of
// next_poll_at, for metrics snapshots (Collector) where the due-work
// time filter would undercount.
func (s *BoltStore) CountTransformsByStatus(sess Session, status types.TransformStatus) (int, error) {
	idx := sess.tx.Bucket(bucketTransformsDue)
	prefix := dueIndexPrefix(string(status))
	n := 0
	c := idx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		n++
	}
	return n, nil
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
