package storage

import (
	"encoding/json"
	"sort"

	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
)

// Collections is the Collection repository (§3).
type Collections interface {
	CreateCollection(sess Session, c *types.Collection) error
	GetCollection(sess Session, id int64) (*types.Collection, error)
	GetCollectionsByTransform(sess Session, transformID int64) ([]*types.Collection, error)
	UpdateCollection(sess Session, c *types.Collection) error
}

func (s *BoltStore) CreateCollection(sess Session, c *types.Collection) error {
	b := sess.tx.Bucket(bucketCollections)
	if c.CollID == 0 {
		id, err := nextID(sess, "collection")
		if err != nil {
			return &errs.DatabaseException{Msg: "allocate collection id", Err: err}
		}
		c.CollID = id
	} else if b.Get(itob(c.CollID)) != nil {
		return &errs.DuplicatedObject{Msg: "collection already exists"}
	}
	return s.putCollection(sess, c)
}

func (s *BoltStore) putCollection(sess Session, c *types.Collection) error {
	b := sess.tx.Bucket(bucketCollections)
	data, err := json.Marshal(c)
	if err != nil {
		return &errs.DatabaseException{Msg: "marshal collection", Err: err}
	}
	if err := b.Put(itob(c.CollID), data); err != nil {
		return &errs.DatabaseException{Msg: "put collection", Err: err}
	}
	return nil
}

func (s *BoltStore) GetCollection(sess Session, id int64) (*types.Collection, error) {
	b := sess.tx.Bucket(bucketCollections)
	data := b.Get(itob(id))
	if data == nil {
		return nil, &errs.NoObject{Msg: "collection not found"}
	}
	var c types.Collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &errs.DatabaseException{Msg: "unmarshal collection", Err: err}
	}
	return &c, nil
}

func (s *BoltStore) GetCollectionsByTransform(sess Session, transformID int64) ([]*types.Collection, error) {
	b := sess.tx.Bucket(bucketCollections)
	var out []*types.Collection
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var coll types.Collection
		if err := json.Unmarshal(v, &coll); err != nil {
			return nil, &errs.DatabaseException{Msg: "unmarshal collection", Err: err}
		}
		if coll.TransformID == transformID {
			out = append(out, &coll)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CollID < out[j].CollID })
	return out, nil
}

func (s *BoltStore) UpdateCollection(sess Session, c *types.Collection) error {
	if _, err := s.GetCollection(sess, c.CollID); err != nil {
		return err
	}
	return s.putCollection(sess, c)
}
