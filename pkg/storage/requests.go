package storage

import (
	"encoding/json"

	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
)

// Requests is the narrow slice of the Request repository the engine
// needs: reading the row a Transform's Req2transform junction points
// at. Request creation and status transitions belong to the front end
// (§1 Non-goals), so only Create/Get are exposed here, enough for
// tests to seed a Request a Transform can reference.
type Requests interface {
	CreateRequest(sess Session, r *types.Request) error
	GetRequest(sess Session, id int64) (*types.Request, error)
	AddReq2Transform(sess Session, j types.Req2transform) error
}

func (s *BoltStore) CreateRequest(sess Session, r *types.Request) error {
	b := sess.tx.Bucket(bucketRequests)
	if r.RequestID == 0 {
		id, err := nextID(sess, "request")
		if err != nil {
			return &errs.DatabaseException{Msg: "allocate request id", Err: err}
		}
		r.RequestID = id
	} else if b.Get(itob(r.RequestID)) != nil {
		return &errs.DuplicatedObject{Msg: "request already exists"}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return &errs.DatabaseException{Msg: "marshal request", Err: err}
	}
	if err := b.Put(itob(r.RequestID), data); err != nil {
		return &errs.DatabaseException{Msg: "put request", Err: err}
	}
	return nil
}

func (s *BoltStore) GetRequest(sess Session, id int64) (*types.Request, error) {
	b := sess.tx.Bucket(bucketRequests)
	data := b.Get(itob(id))
	if data == nil {
		return nil, &errs.NoObject{Msg: "request not found"}
	}
	var r types.Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &errs.DatabaseException{Msg: "unmarshal request", Err: err}
	}
	return &r, nil
}

func (s *BoltStore) AddReq2Transform(sess Session, j types.Req2transform) error {
	b := sess.tx.Bucket(bucketReq2Transform)
	data, err := json.Marshal(j)
	if err != nil {
		return &errs.DatabaseException{Msg: "marshal req2transform", Err: err}
	}
	key := append(itob(j.RequestID), itob(j.TransformID)...)
	if err := b.Put(key, data); err != nil {
		return &errs.DatabaseException{Msg: "put req2transform", Err: err}
	}
	return nil
}
