/*
Package stagein implements the StageIn Work variant, ported operation
for operation from ATLASStageinWork in atlasstageinwork.py: stage a
dataset from a source RSE to a destination RSE by creating one
replication rule per Transform and translating its replica locks into
per-file Content status.

Every exported method is a pure function of its arguments plus the
injected dataservice.DataService; none of them touch pkg/storage —
the transform agent is responsible for persisting whatever deltas
these methods return.
*/
package stagein
