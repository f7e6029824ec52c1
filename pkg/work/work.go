// Package work specifies the polymorphic Work capability set of §4.3:
// every operation is a pure function of (persisted state, external
// DataService) that returns deltas rather than writing to the
// database itself. pkg/work/stagein is the one variant this engine
// implements; the interface leaves room for others (§9 "closed tagged
// variant with a capability interface").
package work

import (
	"context"
	"sort"

	"github.com/cuemby/stagein/pkg/types"
)

// InputOutputMap is one entry of the mapping table keyed by integer
// map_id the original source threads through get_new_input_output_maps,
// poll_processing_updates and syn_work_status.
type InputOutputMap struct {
	MapID   int64
	Inputs  []*types.Content
	Outputs []*types.Content
}

// ContentUpdate is a single {content_id, substatus} delta as emitted
// by poll_processing_updates (§4.3.3).
type ContentUpdate struct {
	ContentID int64
	Substatus types.ContentStatus
}

// ProcessingUpdate is the optional {processing_id, status} delta
// poll_processing_updates emits when a rule completes.
type ProcessingUpdate struct {
	Emit   bool
	Status types.ProcessingStatus
}

// Work is the capability set of §4.3's table.
type Work interface {
	// GetInputCollections refreshes collection metadata from the
	// DataService, skipping the round-trip once a collection is
	// already known closed (§4.3.1 step 1).
	GetInputCollections(ctx context.Context, collections []*types.Collection) ([]*types.Collection, error)

	// GetInputContents enumerates files in the primary input
	// collection (§4.3 table).
	GetInputContents(ctx context.Context, primary *types.Collection) ([]*types.Content, error)

	// GetNewInputOutputMaps runs the §4.3.1 mapping algorithm: new
	// files not yet mapped get the next integer key; hasNewInputs
	// drops to false once the primary collection is Closed and no new
	// files were found.
	GetNewInputOutputMaps(ctx context.Context, primary, output *types.Collection, existing []InputOutputMap) (newMaps []InputOutputMap, hasNewInputs bool, err error)

	// CreateProcessing builds a fresh in-memory Processing record
	// (§4.3 table); it does not persist it.
	CreateProcessing(transformID int64) *types.Processing

	// SubmitProcessing is idempotent: it mutates proc's metadata with
	// a rule_id, creating the rule via DataService only if absent
	// (§4.3.2).
	SubmitProcessing(ctx context.Context, primary *types.Collection, proc *types.Processing) error

	// PollProcessingUpdates polls the external rule and reconciles its
	// state against the current maps (§4.3.3).
	PollProcessingUpdates(ctx context.Context, proc *types.Processing, maps []InputOutputMap) (ProcessingUpdate, []ContentUpdate, error)

	// SynWorkStatus is the §4.3.4 rollup.
	SynWorkStatus(maps []InputOutputMap, hasActiveProcessing, hasNewInputs bool) types.TransformStatus
}

// BuildMaps reconstructs the mapping table both agents need from
// persisted Content rows: every input/output Content carries the
// MapID its row was assigned at creation (§4.3.1 step 3), so the
// table is just a group-by over the two collections' Contents.
// Contents with MapID==0 are unmapped and excluded.
func BuildMaps(inputContents, outputContents []*types.Content) []InputOutputMap {
	byMap := map[int64]*InputOutputMap{}
	order := make([]int64, 0)
	get := func(mapID int64) *InputOutputMap {
		m, ok := byMap[mapID]
		if !ok {
			m = &InputOutputMap{MapID: mapID}
			byMap[mapID] = m
			order = append(order, mapID)
		}
		return m
	}
	for _, c := range inputContents {
		if c.MapID == 0 {
			continue
		}
		m := get(c.MapID)
		m.Inputs = append(m.Inputs, c)
	}
	for _, c := range outputContents {
		if c.MapID == 0 {
			continue
		}
		m := get(c.MapID)
		m.Outputs = append(m.Outputs, c)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	maps := make([]InputOutputMap, 0, len(order))
	for _, id := range order {
		maps = append(maps, *byMap[id])
	}
	return maps
}
