package stagein

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/stagein/pkg/dataservice"
	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/types"
	"github.com/cuemby/stagein/pkg/work"
)

// SubmitProcessing is idempotent on rule_id's presence and otherwise
// ported from create_rule/submit_processing (§4.3.2): it creates the
// replication rule, or on DuplicateRule adopts the first existing rule
// for this DID whose account and rse_expression match ours.
func (w *StageIn) SubmitProcessing(ctx context.Context, primary *types.Collection, proc *types.Processing) error {
	meta := proc.ProcessingMetadata.StageIn.Processing
	if meta.RuleID != nil {
		return nil // already submitted
	}

	ruleID, err := w.DS.AddReplicationRule(ctx, dataservice.AddRuleRequest{
		DIDs:                    []dataservice.DID{{Scope: primary.Scope, Name: primary.Name}},
		Copies:                  1,
		RSEExpression:           w.DestRSE,
		SourceReplicaExpression: w.SrcRSE,
		Lifetime:                w.LifeTime,
		Locked:                  false,
		Grouping:                "DATASET",
		AskApproval:             false,
	})
	if err == nil {
		meta.RuleID = &ruleID
		return nil
	}

	var dup *errs.DuplicateRule
	if errors.As(err, &dup) {
		refs, lerr := w.DS.ListDIDRules(ctx, dataservice.DID{Scope: primary.Scope, Name: primary.Name})
		if lerr != nil {
			return &errs.IDDSException{Msg: "list_did_rules", Err: lerr}
		}
		for _, r := range refs {
			if r.Account == w.DS.Account() && r.RSEExpression == w.DestRSE {
				adopted := r.ID
				meta.RuleID = &adopted
				return nil
			}
		}
		// No matching existing rule found; rule_id stays nil, matching
		// create_rule's fallthrough "return None".
		return nil
	}

	return &errs.IDDSException{Msg: "add_replication_rule", Err: err}
}

// PollProcessingUpdates is the §4.3.3 reconciliation step, ported from
// poll_rule/poll_processing_updates.
func (w *StageIn) PollProcessingUpdates(ctx context.Context, proc *types.Processing, maps []work.InputOutputMap) (work.ProcessingUpdate, []work.ContentUpdate, error) {
	meta := proc.ProcessingMetadata.StageIn.Processing
	if meta.RuleID == nil {
		return work.ProcessingUpdate{}, nil, nil
	}

	rule, err := w.DS.GetReplicationRule(ctx, *meta.RuleID)
	if err != nil {
		var notFound *errs.ProcessNotFound
		if errors.As(err, &notFound) {
			return work.ProcessingUpdate{}, nil, err
		}
		return work.ProcessingUpdate{}, nil, &errs.IDDSException{Msg: fmt.Sprintf("get_replication_rule(%s)", *meta.RuleID), Err: err}
	}

	repStatus := map[string]types.ContentStatus{}
	if rule.LocksOKCnt > 0 {
		locks, err := w.DS.ListReplicaLocks(ctx, *meta.RuleID)
		if err != nil {
			return work.ProcessingUpdate{}, nil, &errs.IDDSException{Msg: fmt.Sprintf("list_replica_locks(%s)", *meta.RuleID), Err: err}
		}
		for _, l := range locks {
			if l.State == "OK" {
				repStatus[l.Scope+":"+l.Name] = types.ContentStatusAvailable
			}
		}
	}

	var updates []work.ContentUpdate
	finished, unfinished := 0, 0
	for _, m := range maps {
		for _, content := range m.Outputs {
			k := content.Scope + ":" + content.Name
			// A missing key leaves substatus unchanged, per §9's
			// resolution of the open question on partial rep_status.
			if st, ok := repStatus[k]; ok && content.Substatus != st {
				updates = append(updates, work.ContentUpdate{ContentID: content.ContentID, Substatus: st})
				content.Substatus = st
			}
			if content.Substatus == types.ContentStatusAvailable {
				finished++
			} else {
				unfinished++
			}
		}
	}

	var procUpdate work.ProcessingUpdate
	if rule.State == "OK" && finished > 0 && unfinished == 0 {
		procUpdate = work.ProcessingUpdate{Emit: true, Status: types.ProcessingStatusFinished}
	}
	return procUpdate, updates, nil
}
