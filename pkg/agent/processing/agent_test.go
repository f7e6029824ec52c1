package processing

import (
	"context"
	"sync"
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

// seedRunningProcessing builds a Transform with one input/output
// Content pair and a Processing holding an already-submitted rule, the
// state a transform-agent tick would have left behind.
func seedRunningProcessing(t *testing.T, store storage.Store, ds *dataservice.Mock, ruleID string) (*types.Transform, *types.Processing, *types.Content) {
	t.Helper()
	var tr *types.Transform
	var proc *types.Processing
	var outContent *types.Content

	err := store.Transact(func(sess storage.Session) error {
		tr = &types.Transform{
			TransformType:     types.TransformTypeStageIn,
			Status:            types.TransformStatusTransforming,
			TransformMetadata: types.NewStageInTransformMetadata("SRC_RSE", "DEST_RSE", 86400, 0),
		}
		if err := store.CreateTransform(sess, tr); err != nil {
			return err
		}

		input := &types.Collection{TransformID: tr.TransformID, RelationType: types.CollectionRelationInput, Scope: "data", Name: "ds1", Status: types.CollectionStatusClosed}
		if err := store.CreateCollection(sess, input); err != nil {
			return err
		}
		output := &types.Collection{TransformID: tr.TransformID, RelationType: types.CollectionRelationOutput, Scope: "data", Name: "ds1.output"}
		if err := store.CreateCollection(sess, output); err != nil {
			return err
		}

		inContent := &types.Content{CollID: input.CollID, MapID: 1, Scope: "data", Name: "file1", ContentType: types.ContentTypeFile, Status: types.ContentStatusNew, Substatus: types.ContentStatusNew}
		if err := store.CreateContent(sess, inContent); err != nil {
			return err
		}
		outContent = &types.Content{CollID: output.CollID, MapID: 1, Scope: "data", Name: "file1.output", ContentType: types.ContentTypeFile, Status: types.ContentStatusNew, Substatus: types.ContentStatusNew}
		if err := store.CreateContent(sess, outContent); err != nil {
			return err
		}

		meta := types.NewStageInProcessingMetadata("internal-1", "SRC_RSE", "DEST_RSE", 86400)
		meta.StageIn.Processing.RuleID = &ruleID
		proc = &types.Processing{
			TransformID:        tr.TransformID,
			Status:             types.ProcessingStatusRunning,
			NextPollAt:         time.Now().Add(-time.Minute),
			ProcessingMetadata: meta,
		}
		return store.CreateProcessing(sess, proc)
	})
	require.NoError(t, err)
	return tr, proc, outContent
}

// TestTickMarksProcessingFinishedWhenRuleCompletes covers the §4.5
// happy path: a rule that has reached OK with every lock satisfied
// flips the Processing to Finished and the output Content to Available.
func TestTickMarksProcessingFinishedWhenRuleCompletes(t *testing.T) {
	store := newTestStore(t)
	ds := dataservice.NewMock("stagein-account")
	ruleID := "rule-1"
	ds.Rules[ruleID] = &dataservice.Rule{ID: ruleID, State: "OK", LocksOKCnt: 1}
	ds.Locks[ruleID] = []dataservice.Lock{{Scope: "data", Name: "file1.output", State: "OK"}}

	_, proc, outContent := seedRunningProcessing(t, store, ds, ruleID)

	agent := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})
	n, err := agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var fetchedProc *types.Processing
	var fetchedContent *types.Content
	require.NoError(t, store.Read(func(sess storage.Session) error {
		var err error
		fetchedProc, err = store.GetProcessing(sess, proc.ProcessingID)
		if err != nil {
			return err
		}
		fetchedContent, err = store.GetContent(sess, outContent.ContentID)
		return err
	}))
	assert.Equal(t, types.ProcessingStatusFinished, fetchedProc.Status)
	assert.Equal(t, types.LockingIdle, fetchedProc.Locking)
	assert.Equal(t, types.ContentStatusAvailable, fetchedContent.Substatus)
	assert.Equal(t, types.ContentStatusAvailable, fetchedContent.Status)
}

// TestTickMarksProcessingLostWhenRuleDisappears covers S3 (rule
// lost): GetReplicationRule returning ProcessNotFound must move the
// Processing straight to Lost rather than retrying forever.
func TestTickMarksProcessingLostWhenRuleDisappears(t *testing.T) {
	store := newTestStore(t)
	ds := dataservice.NewMock("stagein-account")
	ruleID := "rule-missing"
	ds.MissingRules[ruleID] = true

	_, proc, _ := seedRunningProcessing(t, store, ds, ruleID)

	agent := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})
	n, err := agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var fetched *types.Processing
	require.NoError(t, store.Read(func(sess storage.Session) error {
		var err error
		fetched, err = store.GetProcessing(sess, proc.ProcessingID)
		return err
	}))
	assert.Equal(t, types.ProcessingStatusLost, fetched.Status)
	assert.Equal(t, types.LockingIdle, fetched.Locking)
}

// TestTickLeavesProcessingRunningWhileRuleReplicates covers the
// steady-state poll: a REPLICATING rule produces no terminal update,
// and the Processing stays Running with locking released.
func TestTickLeavesProcessingRunningWhileRuleReplicates(t *testing.T) {
	store := newTestStore(t)
	ds := dataservice.NewMock("stagein-account")
	ruleID := "rule-in-progress"
	ds.Rules[ruleID] = &dataservice.Rule{ID: ruleID, State: "REPLICATING", LocksOKCnt: 0}

	_, proc, _ := seedRunningProcessing(t, store, ds, ruleID)

	agent := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})
	n, err := agent.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var fetched *types.Processing
	require.NoError(t, store.Read(func(sess storage.Session) error {
		var err error
		fetched, err = store.GetProcessing(sess, proc.ProcessingID)
		return err
	}))
	assert.Equal(t, types.ProcessingStatusRunning, fetched.Status)
	assert.Equal(t, types.LockingIdle, fetched.Locking)
}

// TestTickClaimsOnlyOnceAcrossConcurrentCallers covers S6 (concurrent
// claim): two Ticks racing over the same due Processing must not both
// advance it.
func TestTickClaimsOnlyOnceAcrossConcurrentCallers(t *testing.T) {
	store := newTestStore(t)
	ds := dataservice.NewMock("stagein-account")
	ruleID := "rule-concurrent"
	ds.Rules[ruleID] = &dataservice.Rule{ID: ruleID, State: "REPLICATING", LocksOKCnt: 0}

	seedRunningProcessing(t, store, ds, ruleID)

	agentA := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})
	agentB := New(store, ds, Config{BulkSize: 10, PollInterval: time.Second})

	var nA, nB int
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); nA, errA = agentA.Tick(context.Background()) }()
	go func() { defer wg.Done(); nB, errB = agentB.Tick(context.Background()) }()
	wg.Wait()
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, 1, nA+nB)
}
