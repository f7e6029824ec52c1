// Package outbox is the §4.6 message outbox, ported from
// core/messages.py's add_message/retrieve_messages/delete_messages/
// update_messages. It is a thin layer over storage.Messages: the
// critical property — a Message row exists iff its causing state
// transition committed — comes entirely from AddTransformMessage/
// AddProcessingMessage being called with the same Session the agent used to
// persist that transition, not from anything this package does
// itself.
package outbox

import (
	"github.com/cuemby/stagein/pkg/storage"
	"github.com/cuemby/stagein/pkg/types"
)

// AddTransformMessage records a Transform state transition. Must be
// called inside the same transactional Session as the UpdateTransform
// call that caused it (§4.6).
func AddTransformMessage(store storage.Store, sess storage.Session, t *types.Transform, numContents int) error {
	return store.AddMessage(sess, &types.Message{
		MsgType:     types.MessageTypeTransform,
		Status:      types.MessageStatusNew,
		Source:      "transform-agent",
		TransformID: t.TransformID,
		NumContents: numContents,
		MsgContent: map[string]any{
			"transform_id": t.TransformID,
			"status":       string(t.Status),
			"substatus":    t.Substatus,
		},
	})
}

// AddProcessingMessage records a Processing state transition. Must be
// called inside the same transactional Session as the
// UpdateProcessing call that caused it (§4.6).
func AddProcessingMessage(store storage.Store, sess storage.Session, p *types.Processing, numContents int) error {
	return store.AddMessage(sess, &types.Message{
		MsgType:     types.MessageTypeProcessing,
		Status:      types.MessageStatusNew,
		Source:      "processing-agent",
		TransformID: p.TransformID,
		NumContents: numContents,
		MsgContent: map[string]any{
			"processing_id": p.ProcessingID,
			"transform_id":  p.TransformID,
			"status":        string(p.Status),
			"substatus":     p.Substatus,
		},
	})
}

// Retrieve returns up to bulkSize outbox rows matching the given
// filters, for the external publisher (§1 Non-goal: the publisher
// itself is not implemented, only this read path it needs).
func Retrieve(store storage.Store, bulkSize int, msgType *types.MessageType, status *types.MessageStatus, source string) ([]*types.Message, error) {
	var out []*types.Message
	err := store.Read(func(sess storage.Session) error {
		var err error
		out, err = store.RetrieveMessages(sess, bulkSize, msgType, status, source)
		return err
	})
	return out, err
}

// Delete removes delivered messages by id, as the publisher does once
// it has successfully published them.
func Delete(store storage.Store, ids []int64) error {
	return store.Transact(func(sess storage.Session) error {
		return store.DeleteMessages(sess, ids)
	})
}

// MarkDelivered sets Status=Delivered on the given messages rather
// than deleting them, for a publisher that prefers to retain outbox
// history instead of hard-deleting (§4.6 names both update_messages
// and delete_messages as available operations).
func MarkDelivered(store storage.Store, msgs []*types.Message) error {
	for _, m := range msgs {
		m.Status = types.MessageStatusDelivered
	}
	return store.Transact(func(sess storage.Session) error {
		return store.UpdateMessages(sess, msgs)
	})
}
