package transform

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/stagein/pkg/dataservice"
	"github.com/cuemby/stagein/pkg/storage"
	"github.com/cuemby/stagein/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTransform(t *testing.T, store storage.Store, scope, name string) *types.Transform {
	t.Helper()
	tr := &types.Transform{
		TransformType:     types.TransformTypeStageIn,
		Status:            types.TransformStatusNew,
		NextPollAt:        time.Now().Add(-time.Minute),
		TransformMetadata: types.NewStageInTransformMetadata("SRC_RSE", "DEST_RSE", 86400, 0),
	}
	input := &types.Collection{RelationType: types.CollectionRelationInput, Scope: scope, Name: name, Status: types.CollectionStatusOpen}
	output := &types.Collection{RelationType: types.CollectionRelationOutput, Scope: scope, Name: name + ".output", Status: types.CollectionStatusOpen}

	err := store.Transact(func(sess storage.Session) error {
		if err := store.CreateTransform(sess, tr); err != nil {
			return err
		}
		input.TransformID = tr.TransformID
		output.TransformID = tr.TransformID
		if err := store.CreateCollection(sess, input); err != nil {
			return err
		}
		return store.CreateCollection(sess, output)
	})
	require.NoError(t, err)
	return tr
}

// TestAdvanceCreatesProcessingOnFirstTick covers S1 (happy path): a
// fresh Transform with one input file gets a Processing created and
// submitted, and its status rolls up to Transforming.
func TestAdvanceCreatesProcessingOnFirstTick(t *testing.T) {
	store := newTestStore(t)
	ds := dataservice.NewMock("stagein-account")
	ds.Files["data:ds1"] = []dataservice.File{{Scope: "data", Name: "file1", Bytes: 100}}
	ds.Collections["data:ds1"] = dataservice.Metadata{IsOpen: false}

	tr := seedTransform(t, store, "data", "ds1")
	agent := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})

	n, err := agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var fetched *types.Transform
	var procs []*types.Processing
	err = store.Read(func(sess storage.Session) error {
		var err error
		fetched, err = store.GetTransform(sess, tr.TransformID)
		if err != nil {
			return err
		}
		procs, err = store.GetProcessingsByTransform(sess, tr.TransformID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, types.LockingIdle, fetched.Locking)
	assert.Equal(t, types.TransformStatusTransforming, fetched.Status)
	require.Len(t, procs, 1)
	assert.NotNil(t, procs[0].ProcessingMetadata.StageIn.Processing.RuleID)
}

// TestAdvanceDoesNotCreateASecondProcessingWhileOneIsActive ensures the
// §4.4 "one active processing at a time" behavior: a second tick with
// no new inputs and an active processing must not submit again.
func TestAdvanceDoesNotCreateASecondProcessingWhileOneIsActive(t *testing.T) {
	store := newTestStore(t)
	ds := dataservice.NewMock("stagein-account")
	ds.Files["data:ds1"] = []dataservice.File{{Scope: "data", Name: "file1", Bytes: 100}}
	ds.Collections["data:ds1"] = dataservice.Metadata{IsOpen: false}

	tr := seedTransform(t, store, "data", "ds1")
	agent := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})

	_, err := agent.Tick(context.Background())
	require.NoError(t, err)

	// Force the row due again without touching its processing.
	require.NoError(t, store.Transact(func(sess storage.Session) error {
		fetched, err := store.GetTransform(sess, tr.TransformID)
		if err != nil {
			return err
		}
		fetched.NextPollAt = time.Now().Add(-time.Minute)
		return store.UpdateTransform(sess, fetched)
	}))

	_, err = agent.Tick(context.Background())
	require.NoError(t, err)

	var procs []*types.Processing
	require.NoError(t, store.Read(func(sess storage.Session) error {
		var err error
		procs, err = store.GetProcessingsByTransform(sess, tr.TransformID)
		return err
	}))
	assert.Len(t, procs, 1)
}

// TestCancelMarksProcessingsAndTransformCancelled covers Open
// Question #2's resolution: a ToCancel transform with an active
// processing moves both to Cancelled in one tick.
func TestCancelMarksProcessingsAndTransformCancelled(t *testing.T) {
	store := newTestStore(t)
	ds := dataservice.NewMock("stagein-account")

	tr := seedTransform(t, store, "data", "ds1")
	var proc *types.Processing
	require.NoError(t, store.Transact(func(sess storage.Session) error {
		proc = &types.Processing{
			TransformID:        tr.TransformID,
			Status:              types.ProcessingStatusRunning,
			ProcessingMetadata: types.NewStageInProcessingMetadata("internal-1", "SRC", "DEST", 0),
		}
		if err := store.CreateProcessing(sess, proc); err != nil {
			return err
		}
		fetched, err := store.GetTransform(sess, tr.TransformID)
		if err != nil {
			return err
		}
		fetched.Status = types.TransformStatusToCancel
		fetched.Locking = types.LockingIdle
		fetched.NextPollAt = time.Now().Add(-time.Minute)
		return store.UpdateTransform(sess, fetched)
	}))

	agent := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})
	n, err := agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var fetchedTr *types.Transform
	var fetchedProc *types.Processing
	require.NoError(t, store.Read(func(sess storage.Session) error {
		var err error
		fetchedTr, err = store.GetTransform(sess, tr.TransformID)
		if err != nil {
			return err
		}
		fetchedProc, err = store.GetProcessing(sess, proc.ProcessingID)
		return err
	}))
	assert.Equal(t, types.TransformStatusCancelled, fetchedTr.Status)
	assert.Equal(t, types.ProcessingStatusCancelled, fetchedProc.Status)
}
