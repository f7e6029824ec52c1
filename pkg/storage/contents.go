package storage

import (
	"encoding/json"
	"sort"

	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
)

// Contents is the Content repository: one row per file, the unit the
// stage-in mapping algorithm and the rollup both operate on (§3).
type Contents interface {
	CreateContent(sess Session, c *types.Content) error
	GetContent(sess Session, id int64) (*types.Content, error)
	// GetContentsByCollection returns every Content in a Collection,
	// used both to enumerate "mapped inputs" (§4.3.1) and to compute
	// the status distribution for the transform rollup (§4.3.4).
	GetContentsByCollection(sess Session, collID int64) ([]*types.Content, error)
	GetContentsByMap(sess Session, collID int64, mapID int64) ([]*types.Content, error)
	UpdateContent(sess Session, c *types.Content) error
}

func (s *BoltStore) CreateContent(sess Session, c *types.Content) error {
	b := sess.tx.Bucket(bucketContents)
	if c.ContentID == 0 {
		id, err := nextID(sess, "content")
		if err != nil {
			return &errs.DatabaseException{Msg: "allocate content id", Err: err}
		}
		c.ContentID = id
	} else if b.Get(itob(c.ContentID)) != nil {
		return &errs.DuplicatedObject{Msg: "content already exists"}
	}
	return s.putContent(sess, c)
}

func (s *BoltStore) putContent(sess Session, c *types.Content) error {
	b := sess.tx.Bucket(bucketContents)
	data, err := json.Marshal(c)
	if err != nil {
		return &errs.DatabaseException{Msg: "marshal content", Err: err}
	}
	if err := b.Put(itob(c.ContentID), data); err != nil {
		return &errs.DatabaseException{Msg: "put content", Err: err}
	}
	return nil
}

func (s *BoltStore) GetContent(sess Session, id int64) (*types.Content, error) {
	b := sess.tx.Bucket(bucketContents)
	data := b.Get(itob(id))
	if data == nil {
		return nil, &errs.NoObject{Msg: "content not found"}
	}
	var c types.Content
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &errs.DatabaseException{Msg: "unmarshal content", Err: err}
	}
	return &c, nil
}

func (s *BoltStore) GetContentsByCollection(sess Session, collID int64) ([]*types.Content, error) {
	b := sess.tx.Bucket(bucketContents)
	var out []*types.Content
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var content types.Content
		if err := json.Unmarshal(v, &content); err != nil {
			return nil, &errs.DatabaseException{Msg: "unmarshal content", Err: err}
		}
		if content.CollID == collID {
			out = append(out, &content)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out, nil
}

func (s *BoltStore) GetContentsByMap(sess Session, collID int64, mapID int64) ([]*types.Content, error) {
	all, err := s.GetContentsByCollection(sess, collID)
	if err != nil {
		return nil, err
	}
	var out []*types.Content
	for _, c := range all {
		if c.MapID == mapID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateContent(sess Session, c *types.Content) error {
	if _, err := s.GetContent(sess, c.ContentID); err != nil {
		return err
	}
	return s.putContent(sess, c)
}
