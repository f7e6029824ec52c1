package stagein

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/stagein/pkg/dataservice"
	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
	"github.com/cuemby/stagein/pkg/work"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWork(ds dataservice.DataService) *StageIn {
	return New(ds, types.StageInTransformMeta{SrcRSE: "SRC_RSE", DestRSE: "DEST_RSE", LifeTime: 86400})
}

// TestGetInputCollectionsSkipsClosedCollections covers §4.3.1 step 1:
// a Closed collection must not round-trip to the DataService.
func TestGetInputCollectionsSkipsClosedCollections(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	ds.Collections["data:ds1"] = dataservice.Metadata{IsOpen: true, Length: 1}
	w := newWork(ds)

	closed := &types.Collection{Scope: "data", Name: "ds1", Status: types.CollectionStatusClosed}
	out, err := w.GetInputCollections(context.Background(), []*types.Collection{closed})
	require.NoError(t, err)
	assert.Same(t, closed, out[0])
}

func TestGetInputCollectionsRefreshesOpenCollections(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	ds.Collections["data:ds1"] = dataservice.Metadata{IsOpen: false, Length: 5, Bytes: 1000}
	w := newWork(ds)

	open := &types.Collection{Scope: "data", Name: "ds1", Status: types.CollectionStatusOpen}
	out, err := w.GetInputCollections(context.Background(), []*types.Collection{open})
	require.NoError(t, err)
	assert.Equal(t, types.CollectionStatusClosed, out[0].Status)
	assert.Equal(t, int64(5), out[0].CollMetadata.TotalFiles)
}

// TestGetNewInputOutputMapsSkipsAlreadyMapped covers S4 (incremental
// input): a file already present in an existing map must not be
// re-mapped, and hasNewInputs stays true while the collection is open.
func TestGetNewInputOutputMapsSkipsAlreadyMapped(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	ds.Files["data:ds1"] = []dataservice.File{
		{Scope: "data", Name: "file1", Bytes: 10},
		{Scope: "data", Name: "file2", Bytes: 20},
	}
	w := newWork(ds)

	primary := &types.Collection{CollID: 1, Scope: "data", Name: "ds1", Status: types.CollectionStatusOpen}
	output := &types.Collection{CollID: 2, Scope: "data", Name: "ds1.output"}

	existing := []work.InputOutputMap{
		{MapID: 1, Inputs: []*types.Content{{Scope: "data", Name: "file1"}}},
	}

	newMaps, hasNewInputs, err := w.GetNewInputOutputMaps(context.Background(), primary, output, existing)
	require.NoError(t, err)
	assert.True(t, hasNewInputs)
	require.Len(t, newMaps, 1)
	assert.Equal(t, "file2", newMaps[0].Inputs[0].Name)
	assert.Equal(t, int64(2), newMaps[0].MapID)
	assert.Equal(t, output.CollID, newMaps[0].Outputs[0].CollID)
}

func TestGetNewInputOutputMapsDropsHasNewInputsWhenClosedAndExhausted(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	ds.Files["data:ds1"] = []dataservice.File{{Scope: "data", Name: "file1"}}
	w := newWork(ds)

	primary := &types.Collection{CollID: 1, Scope: "data", Name: "ds1", Status: types.CollectionStatusClosed}
	output := &types.Collection{CollID: 2}
	existing := []work.InputOutputMap{
		{MapID: 1, Inputs: []*types.Content{{Scope: "data", Name: "file1"}}},
	}

	newMaps, hasNewInputs, err := w.GetNewInputOutputMaps(context.Background(), primary, output, existing)
	require.NoError(t, err)
	assert.False(t, hasNewInputs)
	assert.Empty(t, newMaps)
}

// TestSubmitProcessingCreatesRule covers S1 (happy path): a fresh
// Processing gets a rule_id from a successful AddReplicationRule.
func TestSubmitProcessingCreatesRule(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	w := newWork(ds)
	primary := &types.Collection{Scope: "data", Name: "ds1"}
	proc := w.CreateProcessing(1)

	err := w.SubmitProcessing(context.Background(), primary, proc)
	require.NoError(t, err)
	require.NotNil(t, proc.ProcessingMetadata.StageIn.Processing.RuleID)

	// Idempotent: calling again must not create a second rule.
	ruleID := *proc.ProcessingMetadata.StageIn.Processing.RuleID
	err = w.SubmitProcessing(context.Background(), primary, proc)
	require.NoError(t, err)
	assert.Equal(t, ruleID, *proc.ProcessingMetadata.StageIn.Processing.RuleID)
}

// TestSubmitProcessingAdoptsExistingRuleOnDuplicate covers S2
// (duplicate rule): create_rule fails with DuplicateRule, and the
// matching existing rule for our account/RSE is adopted instead.
func TestSubmitProcessingAdoptsExistingRuleOnDuplicate(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	ds.DuplicateOnCreate["data:ds1"] = true
	ds.ExistingRules["data:ds1"] = []dataservice.RuleRef{
		{ID: "other-account-rule", Account: "someone-else", RSEExpression: "DEST_RSE"},
		{ID: "existing-rule-id", Account: "stagein-account", RSEExpression: "DEST_RSE"},
	}
	w := newWork(ds)
	primary := &types.Collection{Scope: "data", Name: "ds1"}
	proc := w.CreateProcessing(1)

	err := w.SubmitProcessing(context.Background(), primary, proc)
	require.NoError(t, err)
	require.NotNil(t, proc.ProcessingMetadata.StageIn.Processing.RuleID)
	assert.Equal(t, "existing-rule-id", *proc.ProcessingMetadata.StageIn.Processing.RuleID)
}

// TestPollProcessingUpdatesReturnsProcessNotFoundOnMissingRule covers
// S3 (rule lost): GetReplicationRule returning ProcessNotFound must
// propagate unwrapped so the caller can mark the Processing Lost.
func TestPollProcessingUpdatesReturnsProcessNotFoundOnMissingRule(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	w := newWork(ds)
	primary := &types.Collection{Scope: "data", Name: "ds1"}
	proc := w.CreateProcessing(1)
	require.NoError(t, w.SubmitProcessing(context.Background(), primary, proc))

	ruleID := *proc.ProcessingMetadata.StageIn.Processing.RuleID
	ds.MissingRules[ruleID] = true

	_, _, err := w.PollProcessingUpdates(context.Background(), proc, nil)
	require.Error(t, err)
	var notFound *errs.ProcessNotFound
	assert.True(t, errors.As(err, &notFound))
}

// TestPollProcessingUpdatesMarksOutputsAvailable covers the finished
// path: once every output's replica lock is OK, PollProcessingUpdates
// emits both the per-content substatus delta and the processing-level
// Finished update (S1 happy path / S5 sub_finished precursor).
func TestPollProcessingUpdatesMarksOutputsAvailable(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	w := newWork(ds)
	primary := &types.Collection{Scope: "data", Name: "ds1"}
	proc := w.CreateProcessing(1)
	require.NoError(t, w.SubmitProcessing(context.Background(), primary, proc))
	ruleID := *proc.ProcessingMetadata.StageIn.Processing.RuleID
	ds.SetRuleState(ruleID, "OK", 1)
	ds.Locks[ruleID] = []dataservice.Lock{{Scope: "data", Name: "file1.output", State: "OK"}}

	maps := []work.InputOutputMap{
		{MapID: 1, Outputs: []*types.Content{
			{ContentID: 10, Scope: "data", Name: "file1.output", Substatus: types.ContentStatusNew, Status: types.ContentStatusNew},
		}},
	}

	update, contentUpdates, err := w.PollProcessingUpdates(context.Background(), proc, maps)
	require.NoError(t, err)
	require.Len(t, contentUpdates, 1)
	assert.Equal(t, int64(10), contentUpdates[0].ContentID)
	assert.Equal(t, types.ContentStatusAvailable, contentUpdates[0].Substatus)
	assert.True(t, update.Emit)
	assert.Equal(t, types.ProcessingStatusFinished, update.Status)
}

// TestSynWorkStatusRollup covers §4.3.4's rollup table directly,
// including S5 (sub_finished: partial failures alongside successes).
func TestSynWorkStatusRollup(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	w := newWork(ds)

	allAvailable := []work.InputOutputMap{
		{Outputs: []*types.Content{{Status: types.ContentStatusAvailable}}},
	}
	assert.Equal(t, types.TransformStatusFinished, w.SynWorkStatus(allAvailable, false, false))

	mixed := []work.InputOutputMap{
		{Outputs: []*types.Content{
			{Status: types.ContentStatusAvailable},
			{Status: types.ContentStatusFailed},
		}},
	}
	assert.Equal(t, types.TransformStatusSubFinished, w.SynWorkStatus(mixed, false, false))

	allFailed := []work.InputOutputMap{
		{Outputs: []*types.Content{{Status: types.ContentStatusFailed}}},
	}
	assert.Equal(t, types.TransformStatusFailed, w.SynWorkStatus(allFailed, false, false))

	assert.Equal(t, types.TransformStatusTransforming, w.SynWorkStatus(allAvailable, false, true))
	assert.Equal(t, types.TransformStatusTransforming, w.SynWorkStatus(allAvailable, true, false))
	assert.Equal(t, types.TransformStatusTransforming, w.SynWorkStatus(nil, false, false))
}

func TestFromTransformRejectsMissingMetadata(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	tr := &types.Transform{TransformID: 42}
	_, err := FromTransform(ds, tr)
	require.Error(t, err)
}

func TestFromTransformBuildsWork(t *testing.T) {
	ds := dataservice.NewMock("stagein-account")
	tr := &types.Transform{
		TransformID:       42,
		TransformMetadata: types.NewStageInTransformMetadata("SRC", "DEST", 3600, 0),
	}
	w, err := FromTransform(ds, tr)
	require.NoError(t, err)
	assert.Equal(t, "SRC", w.SrcRSE)
	assert.Equal(t, "DEST", w.DestRSE)
}
