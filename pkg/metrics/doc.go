/*
Package metrics defines and registers the Prometheus metrics exposed
by the transform agent and processing agent processes.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│  Prometheus default registry, MustRegister at package init│
	│                                                            │
	│  Row-count gauges   : TransformsTotal, ProcessingsTotal,  │
	│                       MessagesPending (by status/label)   │
	│  Claim/lock counters: ClaimsTotal, LockReapsTotal          │
	│  Tick histograms    : TransformTickDuration,               │
	│                       ProcessingTickDuration                │
	│  DataService calls  : DataServiceCallDuration (by op),     │
	│                       DataServiceErrorsTotal (by op)       │
	│  Outbox             : MessagesDeliveredTotal                │
	└────────────────────────────────────────────────────────────┘

Collector (collector.go) periodically snapshots row counts from a
storage.Store into the gauges above; the agents themselves record
ClaimsTotal, LockReapsTotal and the tick counters and histograms inline
as they claim, reap and tick. DataServiceCallDuration,
DataServiceErrorsTotal and MessagesDeliveredTotal are registered, but
no code in this repository records them.
Handler() returns the promhttp handler cmd/transform-agent and
cmd/processing-agent mount at /metrics.
*/
package metrics
