package storage

import (
	"encoding/json"
	"sort"
	"time"

	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
)

// Processings is the Processing repository, ported operation-for-
// operation from orm/processings.py: create_processing/add_processing,
// get_processing, get_processings_by_status, update_processing,
// delete_processing, clean_locking, clean_next_poll_at.
type Processings interface {
	CreateProcessing(sess Session, p *types.Processing) error
	GetProcessing(sess Session, id int64) (*types.Processing, error)
	GetProcessingsByTransform(sess Session, transformID int64) ([]*types.Processing, error)
	// GetDueProcessings mirrors get_processings_by_status: status in
	// (...), next_poll_at < now, optional locking=Idle, optional
	// submitter filter, ordered by updated_at asc, limited.
	GetDueProcessings(sess Session, q DueWorkQuery, submitter string) ([]*types.Processing, error)
	UpdateProcessing(sess Session, p *types.Processing) error
	DeleteProcessing(sess Session, id int64) error
	CleanProcessingLocking(sess Session, period time.Duration) (int, error)
	CleanProcessingNextPollAt(sess Session, statuses []types.ProcessingStatus) (int, error)
	// CountProcessingsByStatus is CountTransformsByStatus's Processing
	// counterpart.
	CountProcessingsByStatus(sess Session, status types.ProcessingStatus) (int, error)
}

func (s *BoltStore) CreateProcessing(sess Session, p *types.Processing) error {
	b := sess.tx.Bucket(bucketProcessings)
	if p.ProcessingID == 0 {
		id, err := nextID(sess, "processing")
		if err != nil {
			return &errs.DatabaseException{Msg: "allocate processing id", Err: err}
		}
		p.ProcessingID = id
	} else if b.Get(itob(p.ProcessingID)) != nil {
		return &errs.DuplicatedObject{Msg: "processing already exists"}
	}
	return s.putProcessing(sess, p)
}

func (s *BoltStore) putProcessing(sess Session, p *types.Processing) error {
	b := sess.tx.Bucket(bucketProcessings)
	data, err := json.Marshal(p)
	if err != nil {
		return &errs.DatabaseException{Msg: "marshal processing", Err: err}
	}
	if err := b.Put(itob(p.ProcessingID), data); err != nil {
		return &errs.DatabaseException{Msg: "put processing", Err: err}
	}
	idx := sess.tx.Bucket(bucketProcDue)
	return idx.Put(dueIndexKey(string(p.Status), p.NextPollAt, p.ProcessingID), itob(p.ProcessingID))
}

func (s *BoltStore) GetProcessing(sess Session, id int64) (*types.Processing, error) {
	b := sess.tx.Bucket(bucketProcessings)
	data := b.Get(itob(id))
	if data == nil {
		return nil, &errs.NoObject{Msg: "processing not found"}
	}
	var p types.Processing
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &errs.DatabaseException{Msg: "unmarshal processing", Err: err}
	}
	return &p, nil
}

func (s *BoltStore) GetProcessingsByTransform(sess Session, transformID int64) ([]*types.Processing, error) {
	b := sess.tx.Bucket(bucketProcessings)
	var out []*types.Processing
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var p types.Processing
		if err := json.Unmarshal(v, &p); err != nil {
			return nil, &errs.DatabaseException{Msg: "unmarshal processing", Err: err}
		}
		if p.TransformID == transformID {
			out = append(out, &p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProcessingID < out[j].ProcessingID })
	return out, nil
}

func (s *BoltStore) GetDueProcessings(sess Session, q DueWorkQuery, submitter string) ([]*types.Processing, error) {
	now := time.Now()
	idx := sess.tx.Bucket(bucketProcDue)
	pb := sess.tx.Bucket(bucketProcessings)

	var candidates []*types.Processing
	c := idx.Cursor()
	for _, status := range q.Statuses {
		prefix := dueIndexPrefix(status)
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			data := pb.Get(v)
			if data == nil {
				continue
			}
			var p types.Processing
			if err := json.Unmarshal(data, &p); err != nil {
				return nil, &errs.DatabaseException{Msg: "unmarshal processing", Err: err}
			}
			if !p.NextPollAt.Before(now) {
				break
			}
			if q.RequireIdle && p.Locking != types.LockingIdle {
				continue
			}
			if q.Period > 0 && !p.UpdatedAt.Before(now.Add(-q.Period)) {
				continue
			}
			if submitter != "" && p.Submitter != submitter {
				continue
			}
			candidates = append(candidates, &p)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
	})
	if q.BulkSize > 0 && len(candidates) > q.BulkSize {
		candidates = candidates[:q.BulkSize]
	}
	return candidates, nil
}

func (s *BoltStore) UpdateProcessing(sess Session, p *types.Processing) error {
	old, err := s.GetProcessing(sess, p.ProcessingID)
	if err != nil {
		return err
	}
	idx := sess.tx.Bucket(bucketProcDue)
	if err := idx.Delete(dueIndexKey(string(old.Status), old.NextPollAt, old.ProcessingID)); err != nil {
		return &errs.DatabaseException{Msg: "delete processing due-index entry", Err: err}
	}

	p.UpdatedAt = time.Now()
	if p.Status.Terminal() && p.FinishedAt == nil {
		now := p.UpdatedAt
		p.FinishedAt = &now
	}
	return s.putProcessing(sess, p)
}

func (s *BoltStore) DeleteProcessing(sess Session, id int64) error {
	old, err := s.GetProcessing(sess, id)
	if err != nil {
		return err
	}
	idx := sess.tx.Bucket(bucketProcDue)
	if err := idx.Delete(dueIndexKey(string(old.Status), old.NextPollAt, old.ProcessingID)); err != nil {
		return &errs.DatabaseException{Msg: "delete processing due-index entry", Err: err}
	}
	b := sess.tx.Bucket(bucketProcessings)
	if err := b.Delete(itob(id)); err != nil {
		return &errs.DatabaseException{Msg: "delete processing", Err: err}
	}
	return nil
}

func (s *BoltStore) CleanProcessingLocking(sess Session, period time.Duration) (int, error) {
	b := sess.tx.Bucket(bucketProcessings)
	cutoff := time.Now().Add(-period)
	var changed []*types.Processing
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var p types.Processing
		if err := json.Unmarshal(v, &p); err != nil {
			return 0, &errs.DatabaseException{Msg: "unmarshal processing", Err: err}
		}
		if p.Locking == types.LockingLocked && p.UpdatedAt.Before(cutoff) {
			p.Locking = types.LockingIdle
			changed = append(changed, &p)
		}
	}
	for _, p := range changed {
		if err := s.putProcessing(sess, p); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}

// CountProcessingsByStatus is CountTransformsByStatus's Processing
// counterpart.
func (s *BoltStore) CountProcessingsByStatus(sess Session, status types.ProcessingStatus) (int, error) {
	idx := sess.tx.Bucket(bucketProcDue)
	prefix := dueIndexPrefix(string(status))
	n := 0
	c := idx.Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		n++
	}
	return n, nil
}

func (s *BoltStore) CleanProcessingNextPollAt(sess Session, statuses []types.ProcessingStatus) (int, error) {
	wanted := make(map[types.ProcessingStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	b := sess.tx.Bucket(bucketProcessings)
	now := time.Now()
	var changed []*types.Processing
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var p types.Processing
		if err := json.Unmarshal(v, &p); err != nil {
			return 0, &errs.DatabaseException{Msg: "unmarshal processing", Err: err}
		}
		if wanted[p.Status] {
			old := p
			p.NextPollAt = now
			idx := sess.tx.Bucket(bucketProcDue)
			if err := idx.Delete(dueIndexKey(string(old.Status), old.NextPollAt, old.ProcessingID)); err != nil {
				return 0, &errs.DatabaseException{Msg: "delete processing due-index entry", Err: err}
			}
			changed = append(changed, &p)
		}
	}
	for _, p := range changed {
		if err := s.putProcessing(sess, p); err != nil {
			return 0, err
		}
	}
	return len(changed), nil
}
