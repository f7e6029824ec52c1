package stagein

import (
	"context"
	"fmt"

	"github.com/cuemby/stagein/pkg/dataservice"
	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
	"github.com/cuemby/stagein/pkg/work"
	"github.com/google/uuid"
)

// StageIn is the Work variant grounded on ATLASStageinWork. One
// instance is reconstructed per tick from a Transform's persisted
// StageInTransformMeta (§3 "Work objects are transient, reconstructed
// per tick from persisted state").
type StageIn struct {
	DS       dataservice.DataService
	SrcRSE   string
	DestRSE  string
	LifeTime int64
}

var _ work.Work = (*StageIn)(nil)

// New builds a StageIn Work instance from a Transform's metadata.
func New(ds dataservice.DataService, meta types.StageInTransformMeta) *StageIn {
	return &StageIn{DS: ds, SrcRSE: meta.SrcRSE, DestRSE: meta.DestRSE, LifeTime: meta.LifeTime}
}

// FromTransform is New's caller-facing form: the transform agent
// reconstructs one StageIn instance per tick from the persisted
// Transform row (§3 "Work objects are transient, reconstructed per
// tick from persisted state"), erroring out if the row's metadata
// isn't StageIn-shaped (a logic bug, since TransformTypeStageIn is
// the only variant this engine creates transforms with).
func FromTransform(ds dataservice.DataService, t *types.Transform) (*StageIn, error) {
	if t.TransformMetadata.StageIn == nil || t.TransformMetadata.StageIn.Transform == nil {
		return nil, fmt.Errorf("transform %d: missing stage_in transform metadata", t.TransformID)
	}
	return New(ds, *t.TransformMetadata.StageIn.Transform), nil
}

func did(c *types.Collection) dataservice.DID {
	return dataservice.DID{Scope: c.Scope, Name: c.Name}
}

// GetInputCollections refreshes every collection's metadata from the
// DataService, skipping the round-trip for a collection already known
// Closed (atlasstageinwork.py poll_external_collection: "if ... not
// coll_metadata['is_open']: return coll" — here the persisted Status
// column is the durable stand-in for that in-memory is_open check).
func (w *StageIn) GetInputCollections(ctx context.Context, collections []*types.Collection) ([]*types.Collection, error) {
	out := make([]*types.Collection, len(collections))
	for i, c := range collections {
		if c.Status == types.CollectionStatusClosed {
			out[i] = c
			continue
		}

		meta, err := w.DS.GetMetadata(ctx, did(c))
		if err != nil {
			return nil, &errs.IDDSException{Msg: fmt.Sprintf("get_metadata(%s:%s)", c.Scope, c.Name), Err: err}
		}

		refreshed := *c
		refreshed.CollMetadata = types.CollectionMetadata{
			Bytes:        meta.Bytes,
			TotalFiles:   meta.Length,
			Availability: meta.Availability,
			Events:       meta.Events,
			IsOpen:       meta.IsOpen,
			RunNumber:    meta.RunNumber,
			DIDType:      meta.DIDType,
		}
		if meta.IsOpen {
			refreshed.Status = types.CollectionStatusOpen
		} else {
			refreshed.Status = types.CollectionStatusClosed
		}
		out[i] = &refreshed
	}
	return out, nil
}

// GetInputContents enumerates files in the primary input collection
// (atlasstageinwork.py get_input_contents / §4.3 table). Contents are
// returned with ContentID=0; the caller allocates ids on persist.
func (w *StageIn) GetInputContents(ctx context.Context, primary *types.Collection) ([]*types.Content, error) {
	files, err := w.DS.ListFiles(ctx, did(primary))
	if err != nil {
		return nil, &errs.IDDSException{Msg: fmt.Sprintf("list_files(%s:%s)", primary.Scope, primary.Name), Err: err}
	}

	out := make([]*types.Content, 0, len(files))
	for _, f := range files {
		out = append(out, &types.Content{
			CollID:      primary.CollID,
			Scope:       f.Scope,
			Name:        f.Name,
			Bytes:       f.Bytes,
			Adler32:     f.Adler32,
			MinID:       0,
			MaxID:       f.Events,
			ContentType: types.ContentTypeFile,
			Status:      types.ContentStatusNew,
			Substatus:   types.ContentStatusNew,
			ContentMetadata: types.ContentMetadata{
				Events: f.Events,
			},
		})
	}
	return out, nil
}

// CreateProcessing builds a fresh in-memory Processing with a new
// internal_id and rule_id=nil (§4.3 table; atlasstageinwork.py
// create_processing).
func (w *StageIn) CreateProcessing(transformID int64) *types.Processing {
	internalID := uuid.New().String()
	return &types.Processing{
		TransformID:        transformID,
		Status:             types.ProcessingStatusNew,
		Substatus:          string(types.ProcessingStatusNew),
		Locking:            types.LockingIdle,
		GranularityType:    types.GranularityFile,
		ProcessingMetadata: types.NewStageInProcessingMetadata(internalID, w.SrcRSE, w.DestRSE, w.LifeTime),
	}
}

// primaryInput returns the primary input of a map's inputs: the entry
// flagged content_metadata.primary, or the first entry otherwise
// (atlasstageinwork.py get_mapped_inputs).
func primaryInput(inputs []*types.Content) *types.Content {
	primary := inputs[0]
	for _, ip := range inputs {
		if ip.ContentMetadata.Primary {
			primary = ip
		}
	}
	return primary
}
