/*
Package types defines the core data structures of the reconciliation
engine.

This package contains the durable state model shared by every other
package: requests, transforms, collections, contents, processings and
messages, together with the enumerations that describe their
lifecycles.

# Architecture

The types package is the foundation of the engine's data model. It
defines:

  - Request/Transform relationship (Req2transform, Workprogress2transform)
  - Collection and Content, the per-file units a transform operates on
  - Processing, one execution attempt of a Transform against a DataService
  - Message, the outbox row consumed by an external publisher

All types are designed to be:
  - Serializable (JSON) for BoltDB storage
  - Self-documenting (clear field names matching the persisted-state
    surface's normative column names)

# Core Types

Lifecycle:
  - Transform: driven by the transform agent; StageIn is the only
    TransformType implemented today.
  - Processing: one external replication rule submitted on behalf of a
    Transform; polled until terminal.
  - Collection: an input, output, or log DID grouping Contents.
  - Content: a single file, the unit of status tracking.
  - Message: write-only outbox row.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants:
	  type TransformStatus string
	  const (
	      TransformStatusNew          TransformStatus = "new"
	      TransformStatusTransforming TransformStatus = "transforming"
	  )

Metadata Pattern:

	transform_metadata and processing_metadata are not bare
	map[string]any blobs; they are a versioned wrapper around a typed
	sum of known shapes (StageInTransformMeta, StageInProcessingMeta),
	so a future Work variant can add its own shape without breaking
	the wrapper's JSON encoding.

# Integration Points

This package integrates with:

  - pkg/storage: persists all types to BoltDB
  - pkg/locking: claims/releases Transform and Processing rows
  - pkg/work: computes deltas against these types
  - pkg/agent/transform, pkg/agent/processing: drive the lifecycle
  - pkg/outbox: writes/reads Message rows
*/
package types
