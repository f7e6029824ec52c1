package dataservice

import (
	"context"
	"sync"

	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/google/uuid"
)

// Mock is a scripted DataService test double used to drive the S1-S6
// scenarios of §8 as table tests, without a real replication-service
// client (which is out of scope per §1).
type Mock struct {
	mu sync.Mutex

	AccountName string

	Collections map[string]Metadata // keyed by "scope:name"
	Files       map[string][]File   // keyed by "scope:name"

	// Rules keyed by rule id.
	Rules map[string]*Rule
	// Locks keyed by rule id.
	Locks map[string][]Lock
	// ExistingRules, keyed by "scope:name", models list_did_rules'
	// result for the DuplicateRule resolution path (S2).
	ExistingRules map[string][]RuleRef

	// DuplicateOnCreate, when set, makes AddReplicationRule for this
	// "scope:name" fail with DuplicateRule instead of creating a rule.
	DuplicateOnCreate map[string]bool
	// MissingRules, when set, makes GetReplicationRule for this rule
	// id fail with ProcessNotFound (S3).
	MissingRules map[string]bool

	nextRuleSeq int
}

// NewMock returns an empty Mock ready for a test to populate.
func NewMock(account string) *Mock {
	return &Mock{
		AccountName:       account,
		Collections:       map[string]Metadata{},
		Files:             map[string][]File{},
		Rules:             map[string]*Rule{},
		Locks:             map[string][]Lock{},
		ExistingRules:     map[string][]RuleRef{},
		DuplicateOnCreate: map[string]bool{},
		MissingRules:      map[string]bool{},
	}
}

func key(d DID) string { return d.Scope + ":" + d.Name }

func (m *Mock) Account() string { return m.AccountName }

func (m *Mock) GetMetadata(_ context.Context, did DID) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.Collections[key(did)]
	if !ok {
		return Metadata{}, &errs.IDDSException{Msg: "unknown collection " + key(did)}
	}
	return meta, nil
}

func (m *Mock) ListFiles(_ context.Context, did DID) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]File(nil), m.Files[key(did)]...), nil
}

func (m *Mock) AddReplicationRule(_ context.Context, req AddRuleRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(req.DIDs) == 0 {
		return "", &errs.IDDSException{Msg: "add_replication_rule: no dids"}
	}
	k := key(req.DIDs[0])
	if m.DuplicateOnCreate[k] {
		return "", &errs.DuplicateRule{Scope: req.DIDs[0].Scope, Name: req.DIDs[0].Name}
	}
	m.nextRuleSeq++
	id := uuid.New().String()
	m.Rules[id] = &Rule{ID: id, State: "REPLICATING"}
	return id, nil
}

func (m *Mock) ListDIDRules(_ context.Context, did DID) ([]RuleRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RuleRef(nil), m.ExistingRules[key(did)]...), nil
}

func (m *Mock) GetReplicationRule(_ context.Context, ruleID string) (Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MissingRules[ruleID] {
		return Rule{}, &errs.ProcessNotFound{Msg: "rule " + ruleID + " not found"}
	}
	r, ok := m.Rules[ruleID]
	if !ok {
		return Rule{}, &errs.ProcessNotFound{Msg: "rule " + ruleID + " not found"}
	}
	return *r, nil
}

func (m *Mock) ListReplicaLocks(_ context.Context, ruleID string) ([]Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Lock(nil), m.Locks[ruleID]...), nil
}

// SetRuleState lets a test advance a rule through REPLICATING -> OK
// the way an external poller loop would observe it progressing.
func (m *Mock) SetRuleState(ruleID, state string, locksOKCnt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.Rules[ruleID]; ok {
		r.State = state
		r.LocksOKCnt = locksOKCnt
	}
}
