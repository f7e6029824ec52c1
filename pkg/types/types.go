package types

import "time"

// Locking is the cooperative row-lock state shared by Transform and
// Processing rows (§4.2).
type Locking int

const (
	LockingIdle Locking = iota
	LockingLocked
)

// TransformType enumerates the Work variants a Transform can drive.
// StageIn is the only variant specified; others are a placeholder for
// future work kinds.
type TransformType string

const (
	TransformTypeStageIn TransformType = "stage_in"
)

// TransformStatus is the lifecycle of a Transform.
type TransformStatus string

const (
	TransformStatusNew          TransformStatus = "new"
	TransformStatusTransforming TransformStatus = "transforming"
	TransformStatusFinished     TransformStatus = "finished"
	TransformStatusSubFinished  TransformStatus = "sub_finished"
	TransformStatusFailed       TransformStatus = "failed"
	TransformStatusLost         TransformStatus = "lost"
	TransformStatusCancelled    TransformStatus = "cancelled"
	TransformStatusToCancel     TransformStatus = "to_cancel"
	TransformStatusSuspended    TransformStatus = "suspended"
)

// Terminal reports whether a TransformStatus is a terminal state; no
// further ticks are expected to mutate the row once terminal.
func (s TransformStatus) Terminal() bool {
	switch s {
	case TransformStatusFinished, TransformStatusSubFinished, TransformStatusFailed,
		TransformStatusLost, TransformStatusCancelled:
		return true
	default:
		return false
	}
}

// ProcessingStatus is the lifecycle of a Processing.
type ProcessingStatus string

const (
	ProcessingStatusNew        ProcessingStatus = "new"
	ProcessingStatusSubmitting ProcessingStatus = "submitting"
	ProcessingStatusSubmitted  ProcessingStatus = "submitted"
	ProcessingStatusRunning    ProcessingStatus = "running"
	ProcessingStatusFinished   ProcessingStatus = "finished"
	ProcessingStatusFailed     ProcessingStatus = "failed"
	ProcessingStatusLost       ProcessingStatus = "lost"
	ProcessingStatusCancelled  ProcessingStatus = "cancelled"
)

// Terminal reports whether a ProcessingStatus is terminal.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case ProcessingStatusFinished, ProcessingStatusFailed, ProcessingStatusLost, ProcessingStatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether a Processing in this status still counts
// towards a Transform's active_processings set.
func (s ProcessingStatus) Active() bool {
	return !s.Terminal()
}

// ContentStatus is the per-file status of a Content row. It is
// monotone non-regressive along New < Processing < {Available, Failed, Lost}.
type ContentStatus string

const (
	ContentStatusNew        ContentStatus = "new"
	ContentStatusProcessing ContentStatus = "processing"
	ContentStatusAvailable  ContentStatus = "available"
	ContentStatusFailed     ContentStatus = "failed"
	ContentStatusLost       ContentStatus = "lost"
	ContentStatusMapped     ContentStatus = "mapped"
)

// Terminal reports whether a ContentStatus no longer changes.
func (s ContentStatus) Terminal() bool {
	switch s {
	case ContentStatusAvailable, ContentStatusFailed, ContentStatusLost:
		return true
	default:
		return false
	}
}

// ContentType distinguishes whole-file content units from event-range
// sub-units of a file.
type ContentType string

const (
	ContentTypeFile  ContentType = "file"
	ContentTypeEvent ContentType = "event"
)

// CollectionStatus is the lifecycle of a Collection.
type CollectionStatus string

const (
	CollectionStatusOpen      CollectionStatus = "open"
	CollectionStatusClosed    CollectionStatus = "closed"
	CollectionStatusSubClosed CollectionStatus = "sub_closed"
	CollectionStatusFailed    CollectionStatus = "failed"
	CollectionStatusDeleted   CollectionStatus = "deleted"
)

// CollectionRelationType tags a Collection's role within its Transform.
type CollectionRelationType string

const (
	CollectionRelationInput  CollectionRelationType = "input"
	CollectionRelationOutput CollectionRelationType = "output"
	CollectionRelationLog    CollectionRelationType = "log"
)

// GranularityType is the unit a Processing tracks progress at.
type GranularityType string

const (
	GranularityFile  GranularityType = "file"
	GranularityEvent GranularityType = "event"
)

// RequestStatus is the lifecycle of a front-end Request. The front
// end itself is out of scope; the engine only reads request_id/status.
type RequestStatus string

const (
	RequestStatusNew         RequestStatus = "new"
	RequestStatusTransforming RequestStatus = "transforming"
	RequestStatusFinished    RequestStatus = "finished"
	RequestStatusFailed      RequestStatus = "failed"
)

// Request is created by the front-end and referenced by Transforms via
// Req2transform. Its lifecycle fields beyond status are out of scope
// here (§1 Non-goals: the HTTP front-end).
type Request struct {
	RequestID  int64
	WorkloadID string
	Status     RequestStatus
}

// Transform is a user-submitted data operation driven one tick at a
// time by the transform agent.
type Transform struct {
	TransformID      int64
	TransformType    TransformType
	TransformTag     string
	Priority         int
	Status           TransformStatus
	Substatus        string
	Locking          Locking
	Retries          int
	ExpiredAt        *time.Time
	UpdatedAt        time.Time
	NextPollAt       time.Time
	FinishedAt       *time.Time
	TransformMetadata Metadata
}

// Req2transform is the junction row linking a Request to a Transform.
type Req2transform struct {
	RequestID   int64
	TransformID int64
}

// Workprogress2transform is the junction row linking a workprogress to
// a Transform. Workprogress accounting lives entirely in the front
// end; the engine only creates/deletes the junction row alongside its
// Transform.
type Workprogress2transform struct {
	WorkprogressID int64
	TransformID    int64
}

// Collection is a named group of files (a DID) belonging to a
// Transform, refreshed from the DataService as it polls.
type Collection struct {
	CollID       int64
	TransformID  int64
	RelationType CollectionRelationType
	Scope        string
	Name         string
	Status       CollectionStatus
	CollMetadata CollectionMetadata
}

// CollectionMetadata mirrors poll_external_collection's refreshed
// fields (§4.3.1 step 1 / atlasstageinwork.py poll_external_collection).
type CollectionMetadata struct {
	Bytes         int64 `json:"bytes,omitempty"`
	TotalFiles    int64 `json:"total_files,omitempty"`
	Availability  string `json:"availability,omitempty"`
	Events        int64 `json:"events,omitempty"`
	IsOpen        bool   `json:"is_open"`
	RunNumber     int64  `json:"run_number,omitempty"`
	DIDType       string `json:"did_type,omitempty"`
	ListAllFiles  bool   `json:"list_all_files,omitempty"`
}

// Content is a single file within a Collection, the unit of status
// tracking. (coll_id, scope, name) is unique.
type Content struct {
	ContentID       int64
	CollID          int64
	MapID           int64 // the input/output map this content belongs to, 0 if unmapped
	Scope           string
	Name            string
	Bytes           int64
	Adler32         string
	MinID           int64
	MaxID           int64
	ContentType     ContentType
	Status          ContentStatus
	Substatus       ContentStatus
	ContentMetadata ContentMetadata
}

// ContentMetadata carries the small per-file JSON bag the original
// source round-trips through content_metadata (events, and an
// optional primary flag used by the mapping algorithm's §4.3.1
// "primary input" resolution).
type ContentMetadata struct {
	Events  int64 `json:"events,omitempty"`
	Primary bool  `json:"primary,omitempty"`
}

// Processing is one execution attempt of a Transform against a
// DataService; its external rule_id is materialized on first submit.
type Processing struct {
	ProcessingID      int64
	TransformID       int64
	Status            ProcessingStatus
	Substatus         string
	Locking           Locking
	Submitter         string
	Granularity       int64
	GranularityType   GranularityType
	ExpiredAt         *time.Time
	UpdatedAt         time.Time
	NextPollAt        time.Time
	FinishedAt        *time.Time
	ProcessingMetadata Metadata
	OutputMetadata    map[string]any
}

// MessageType distinguishes which entity a Message reports a
// transition for.
type MessageType string

const (
	MessageTypeTransform  MessageType = "transform"
	MessageTypeProcessing MessageType = "processing"
)

// MessageStatus is the outbox row's own lifecycle: New until the
// external publisher deletes it or marks it Delivered.
type MessageStatus string

const (
	MessageStatusNew       MessageStatus = "new"
	MessageStatusDelivered MessageStatus = "delivered"
)

// Message is a write-only outbox row; read/delete only by the
// external publisher (§4.6, §9 "strict outbox pattern").
type Message struct {
	MsgID       int64
	MsgType     MessageType
	Status      MessageStatus
	Source      string
	TransformID int64
	NumContents int
	BulkSize    int
	MsgContent  map[string]any
	CreatedAt   time.Time
}
