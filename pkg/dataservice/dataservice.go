// Package dataservice specifies the abstract content-replication
// collaborator (§6): any backend satisfying DataService can drive a
// StageIn transform. No concrete client ships here — implementing the
// real replication-service client is explicitly out of scope (§1).
package dataservice

import (
	"context"
)

// DID is a Data Identifier: (scope, name) in the replication service.
type DID struct {
	Scope string
	Name  string
}

// Metadata is get_metadata's return shape (§6).
type Metadata struct {
	Bytes        int64
	Length       int64
	Availability string
	Events       int64
	IsOpen       bool
	RunNumber    int64
	DIDType      string
}

// File is one entry of list_files' result iterator (§6).
type File struct {
	Scope   string
	Name    string
	Bytes   int64
	Adler32 string
	Events  int64
}

// AddRuleRequest is add_replication_rule's argument shape (§4.3.2).
type AddRuleRequest struct {
	DIDs                   []DID
	Copies                 int
	RSEExpression          string
	SourceReplicaExpression string
	Lifetime               int64
	Locked                 bool
	Grouping               string
	AskApproval            bool
}

// Rule is get_replication_rule's return shape (§6).
type Rule struct {
	ID         string
	State      string // e.g. "REPLICATING", "OK", "STUCK"
	LocksOKCnt int
}

// RuleRef is one entry of list_did_rules' result iterator (§6).
type RuleRef struct {
	ID            string
	Account       string
	RSEExpression string
}

// Lock is one entry of list_replica_locks' result iterator (§6).
type Lock struct {
	Scope string
	Name  string
	State string // "OK" means the replica is available
}

// DataService is the capability set §6 requires. Every method may
// return *errs.IDDSException on transport/auth failure;
// AddReplicationRule may additionally return *errs.DuplicateRule,
// GetReplicationRule may return *errs.ProcessNotFound.
type DataService interface {
	GetMetadata(ctx context.Context, did DID) (Metadata, error)
	ListFiles(ctx context.Context, did DID) ([]File, error)
	AddReplicationRule(ctx context.Context, req AddRuleRequest) (string, error)
	ListDIDRules(ctx context.Context, did DID) ([]RuleRef, error)
	GetReplicationRule(ctx context.Context, ruleID string) (Rule, error)
	ListReplicaLocks(ctx context.Context, ruleID string) ([]Lock, error)
	// Account is the effective principal on this client, used to
	// disambiguate which existing rule to adopt on DuplicateRule
	// (§4.3.2).
	Account() string
}
