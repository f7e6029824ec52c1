package types

// Metadata is the versioned wrapper around transform_metadata and
// processing_metadata (§9 "Opaque JSON metadata blobs → typed sum of
// known shapes"). Version 1 carries the StageIn shapes; a future Work
// variant adds its own field and bumps MetaVersionStageIn only if the
// shape itself changes incompatibly.
type Metadata struct {
	Version  int                 `json:"version"`
	StageIn  *StageInMeta        `json:"stage_in,omitempty"`
}

// MetaVersionStageIn is the current StageIn metadata shape version.
const MetaVersionStageIn = 1

// StageInMeta is the union of the two StageIn metadata shapes; a
// Transform row only ever populates Transform, a Processing row only
// ever populates Processing. They are kept in one struct (rather than
// two Metadata variants) because both are always StageIn-shaped for
// the one TransformType this engine implements.
type StageInMeta struct {
	Transform  *StageInTransformMeta  `json:"transform,omitempty"`
	Processing *StageInProcessingMeta `json:"processing,omitempty"`
}

// StageInTransformMeta holds the fields atlasstageinwork.py's
// __init__ stores on the Work object itself rather than per-Processing:
// src/dest RSE, the rule lifetime, the maximum waiting time, and the
// has_new_inputs flag. HasNewInputs is set true at creation and is not
// read or updated afterwards: each tick recomputes it from
// GetNewInputOutputMaps.
type StageInTransformMeta struct {
	SrcRSE        string `json:"src_rse"`
	DestRSE       string `json:"dest_rse"`
	LifeTime      int64  `json:"life_time"`
	MaxWaitingTime int64 `json:"max_waiting_time"`
	HasNewInputs  bool   `json:"has_new_inputs"`
}

// StageInProcessingMeta is processing_metadata's stable micro-schema
// (§6 "Persisted-state surface"): internal_id, src_rse, dest_rse,
// life_time, rule_id.
type StageInProcessingMeta struct {
	InternalID string  `json:"internal_id"`
	SrcRSE     string  `json:"src_rse"`
	DestRSE    string  `json:"dest_rse"`
	LifeTime   int64   `json:"life_time"`
	RuleID     *string `json:"rule_id,omitempty"`
}

// NewStageInTransformMetadata builds the Metadata wrapper for a fresh
// StageIn Transform.
func NewStageInTransformMetadata(srcRSE, destRSE string, lifeTime, maxWaitingTime int64) Metadata {
	return Metadata{
		Version: MetaVersionStageIn,
		StageIn: &StageInMeta{
			Transform: &StageInTransformMeta{
				SrcRSE:         srcRSE,
				DestRSE:        destRSE,
				LifeTime:       lifeTime,
				MaxWaitingTime: maxWaitingTime,
				HasNewInputs:   true,
			},
		},
	}
}

// NewStageInProcessingMetadata builds the Metadata wrapper for a fresh
// Processing created by create_processing (§4.3 table: rule_id=None).
func NewStageInProcessingMetadata(internalID, srcRSE, destRSE string, lifeTime int64) Metadata {
	return Metadata{
		Version: MetaVersionStageIn,
		StageIn: &StageInMeta{
			Processing: &StageInProcessingMeta{
				InternalID: internalID,
				SrcRSE:     srcRSE,
				DestRSE:    destRSE,
				LifeTime:   lifeTime,
			},
		},
	}
}
