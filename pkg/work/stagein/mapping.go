package stagein

import (
	"context"

	"github.com/cuemby/stagein/pkg/types"
	"github.com/cuemby/stagein/pkg/work"
)

// GetNewInputOutputMaps runs the §4.3.1 mapping algorithm, ported
// verbatim from get_new_input_output_maps:
//
//  1. Enumerate files in the primary input collection.
//  2. mapped_scope_name = set of "scope:name" over each existing map's
//     primary input.
//  3. For each discovered file not in mapped_scope_name, allocate the
//     next integer key (max(existing)+1, starting at 1) and record
//     {inputs:[file], outputs:[copy(file) with coll_id=output.CollID]}.
//  4. If the primary collection is Closed and no new files were
//     added, hasNewInputs becomes false.
func (w *StageIn) GetNewInputOutputMaps(ctx context.Context, primary, output *types.Collection, existing []work.InputOutputMap) ([]work.InputOutputMap, bool, error) {
	inputs, err := w.GetInputContents(ctx, primary)
	if err != nil {
		return nil, false, err
	}

	mappedScopeName := make(map[string]bool, len(existing))
	for _, m := range existing {
		p := primaryInput(m.Inputs)
		mappedScopeName[p.Scope+":"+p.Name] = true
	}

	var newInputs []*types.Content
	for _, ip := range inputs {
		if !mappedScopeName[ip.Scope+":"+ip.Name] {
			newInputs = append(newInputs, ip)
		}
	}

	if len(newInputs) == 0 && primary.Status == types.CollectionStatusClosed {
		return nil, false, nil
	}

	nextKey := int64(1)
	for _, m := range existing {
		if m.MapID >= nextKey {
			nextKey = m.MapID + 1
		}
	}

	newMaps := make([]work.InputOutputMap, 0, len(newInputs))
	for _, ip := range newInputs {
		outCopy := *ip
		outCopy.CollID = output.CollID
		newMaps = append(newMaps, work.InputOutputMap{
			MapID:   nextKey,
			Inputs:  []*types.Content{ip},
			Outputs: []*types.Content{&outCopy},
		})
		nextKey++
	}
	return newMaps, true, nil
}
