package stagein

import (
	"github.com/cuemby/stagein/pkg/types"
	"github.com/cuemby/stagein/pkg/work"
)

// SynWorkStatus is the §4.3.4 transform rollup, ported from
// syn_work_status: it folds every output Content's status across all
// maps into one TransformStatus, without touching the DataService.
func (w *StageIn) SynWorkStatus(maps []work.InputOutputMap, hasActiveProcessing, hasNewInputs bool) types.TransformStatus {
	total, finished, failed := 0, 0, 0
	for _, m := range maps {
		for _, o := range m.Outputs {
			total++
			switch o.Status {
			case types.ContentStatusAvailable:
				finished++
			case types.ContentStatusFailed, types.ContentStatusLost:
				failed++
			}
		}
	}

	// More inputs remain to be mapped (the primary collection is still
	// open, or files arrived this tick) or a processing is still
	// running: the transform is not done yet.
	if hasNewInputs || hasActiveProcessing {
		return types.TransformStatusTransforming
	}

	if total == 0 {
		return types.TransformStatusTransforming
	}

	switch {
	case finished == total:
		return types.TransformStatusFinished
	case finished+failed == total && finished > 0:
		return types.TransformStatusSubFinished
	case finished+failed == total:
		return types.TransformStatusFailed
	default:
		return types.TransformStatusTransforming
	}
}
