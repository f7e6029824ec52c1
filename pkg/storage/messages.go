package storage

import (
	"encoding/json"
	"sort"
	"time"

	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
)

// Messages is the outbox repository, ported from core/messages.py's
// add_message/retrieve_messages/delete_messages/update_messages.
type Messages interface {
	// AddMessage must be called inside the same Session as the state
	// change that caused it (§4.6 "critical for at-least-once").
	AddMessage(sess Session, m *types.Message) error
	RetrieveMessages(sess Session, bulkSize int, msgType *types.MessageType, status *types.MessageStatus, source string) ([]*types.Message, error)
	DeleteMessages(sess Session, ids []int64) error
	UpdateMessages(sess Session, msgs []*types.Message) error
}

func (s *BoltStore) AddMessage(sess Session, m *types.Message) error {
	b := sess.tx.Bucket(bucketMessages)
	if m.MsgID == 0 {
		id, err := nextID(sess, "message")
		if err != nil {
			return &errs.DatabaseException{Msg: "allocate message id", Err: err}
		}
		m.MsgID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return &errs.DatabaseException{Msg: "marshal message", Err: err}
	}
	if err := b.Put(itob(m.MsgID), data); err != nil {
		return &errs.DatabaseException{Msg: "put message", Err: err}
	}
	return nil
}

func (s *BoltStore) RetrieveMessages(sess Session, bulkSize int, msgType *types.MessageType, status *types.MessageStatus, source string) ([]*types.Message, error) {
	b := sess.tx.Bucket(bucketMessages)
	var out []*types.Message
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var m types.Message
		if err := json.Unmarshal(v, &m); err != nil {
			return nil, &errs.DatabaseException{Msg: "unmarshal message", Err: err}
		}
		if msgType != nil && m.MsgType != *msgType {
			continue
		}
		if status != nil && m.Status != *status {
			continue
		}
		if source != "" && m.Source != source {
			continue
		}
		out = append(out, &m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MsgID < out[j].MsgID })
	if bulkSize > 0 && len(out) > bulkSize {
		out = out[:bulkSize]
	}
	return out, nil
}

func (s *BoltStore) DeleteMessages(sess Session, ids []int64) error {
	b := sess.tx.Bucket(bucketMessages)
	for _, id := range ids {
		if err := b.Delete(itob(id)); err != nil {
			return &errs.DatabaseException{Msg: "delete message", Err: err}
		}
	}
	return nil
}

func (s *BoltStore) UpdateMessages(sess Session, msgs []*types.Message) error {
	b := sess.tx.Bucket(bucketMessages)
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return &errs.DatabaseException{Msg: "marshal message", Err: err}
		}
		if err := b.Put(itob(m.MsgID), data); err != nil {
			return &errs.DatabaseException{Msg: "put message", Err: err}
		}
	}
	return nil
}
