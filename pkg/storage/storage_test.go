package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/stagein/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewBoltStoreCreatesDBFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, filepath.Join(dir, "stagein.db"))
}

func TestTransformCreateGetUpdateDelete(t *testing.T) {
	store := newTestStore(t)

	tr := &types.Transform{
		TransformType: types.TransformTypeStageIn,
		Status:        types.TransformStatusNew,
		NextPollAt:    time.Now(),
	}

	err := store.Transact(func(sess Session) error {
		return store.CreateTransform(sess, tr)
	})
	require.NoError(t, err)
	assert.NotZero(t, tr.TransformID)

	var fetched *types.Transform
	err = store.Read(func(sess Session) error {
		var err error
		fetched, err = store.GetTransform(sess, tr.TransformID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, types.TransformStatusNew, fetched.Status)

	err = store.Transact(func(sess Session) error {
		fetched.Status = types.TransformStatusTransforming
		return store.UpdateTransform(sess, fetched)
	})
	require.NoError(t, err)

	err = store.Read(func(sess Session) error {
		var err error
		fetched, err = store.GetTransform(sess, tr.TransformID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, types.TransformStatusTransforming, fetched.Status)

	err = store.Transact(func(sess Session) error {
		return store.DeleteTransform(sess, tr.TransformID)
	})
	require.NoError(t, err)

	err = store.Read(func(sess Session) error {
		_, err := store.GetTransform(sess, tr.TransformID)
		return err
	})
	assert.Error(t, err)
}

func TestGetDueTransformsHonorsStatusAndIdleFilter(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	due := &types.Transform{
		TransformType: types.TransformTypeStageIn,
		Status:        types.TransformStatusNew,
		NextPollAt:    now.Add(-time.Minute),
	}
	future := &types.Transform{
		TransformType: types.TransformTypeStageIn,
		Status:        types.TransformStatusNew,
		NextPollAt:    now.Add(time.Hour),
	}
	locked := &types.Transform{
		TransformType: types.TransformTypeStageIn,
		Status:        types.TransformStatusNew,
		Locking:       types.LockingLocked,
		NextPollAt:    now.Add(-time.Minute),
	}

	err := store.Transact(func(sess Session) error {
		for _, tr := range []*types.Transform{due, future, locked} {
			if err := store.CreateTransform(sess, tr); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var results []*types.Transform
	err = store.Read(func(sess Session) error {
		var err error
		results, err = store.GetDueTransforms(sess, DueWorkQuery{
			Statuses:    []string{string(types.TransformStatusNew)},
			RequireIdle: true,
			BulkSize:    10,
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, due.TransformID, results[0].TransformID)
}

func TestCountTransformsByStatus(t *testing.T) {
	store := newTestStore(t)

	err := store.Transact(func(sess Session) error {
		for i := 0; i < 3; i++ {
			if err := store.CreateTransform(sess, &types.Transform{
				TransformType: types.TransformTypeStageIn,
				Status:        types.TransformStatusNew,
				NextPollAt:    time.Now(),
			}); err != nil {
				return err
			}
		}
		return store.CreateTransform(sess, &types.Transform{
			TransformType: types.TransformTypeStageIn,
			Status:        types.TransformStatusFinished,
			NextPollAt:    time.Now(),
		})
	})
	require.NoError(t, err)

	var n int
	err = store.Read(func(sess Session) error {
		var err error
		n, err = store.CountTransformsByStatus(sess, types.TransformStatusNew)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestContentAndCollectionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	var tr *types.Transform
	var coll *types.Collection
	var content *types.Content

	err := store.Transact(func(sess Session) error {
		tr = &types.Transform{TransformType: types.TransformTypeStageIn, Status: types.TransformStatusNew, NextPollAt: time.Now()}
		if err := store.CreateTransform(sess, tr); err != nil {
			return err
		}
		coll = &types.Collection{TransformID: tr.TransformID, RelationType: types.CollectionRelationInput, Scope: "data", Name: "ds1"}
		if err := store.CreateCollection(sess, coll); err != nil {
			return err
		}
		content = &types.Content{CollID: coll.CollID, Scope: "data", Name: "file1", ContentType: types.ContentTypeFile, Status: types.ContentStatusNew, Substatus: types.ContentStatusNew}
		return store.CreateContent(sess, content)
	})
	require.NoError(t, err)

	var contents []*types.Content
	err = store.Read(func(sess Session) error {
		var err error
		contents, err = store.GetContentsByCollection(sess, coll.CollID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "file1", contents[0].Name)
}

func TestMessagesRetrieveAndDelete(t *testing.T) {
	store := newTestStore(t)

	err := store.Transact(func(sess Session) error {
		return store.AddMessage(sess, &types.Message{
			MsgType: types.MessageTypeTransform,
			Status:  types.MessageStatusNew,
			Source:  "transform-agent",
		})
	})
	require.NoError(t, err)

	newStatus := types.MessageStatusNew
	var msgs []*types.Message
	err = store.Read(func(sess Session) error {
		var err error
		msgs, err = store.RetrieveMessages(sess, 10, nil, &newStatus, "")
		return err
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	err = store.Transact(func(sess Session) error {
		return store.DeleteMessages(sess, []int64{msgs[0].MsgID})
	})
	require.NoError(t, err)

	err = store.Read(func(sess Session) error {
		var err error
		msgs, err = store.RetrieveMessages(sess, 10, nil, &newStatus, "")
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
