/*
Package locking implements the claim-then-work pattern of §4.2: a
single transactional scan selects due rows and flips their locking
column to Locked in the same transaction a competing claimer would
need, so two concurrent agents can never observe (and therefore never
claim) the same row — the compare-and-swap fallback §9 names for
backends without SELECT ... FOR UPDATE SKIP LOCKED.

Release is the mirror operation: one transaction sets locking=Idle and
applies the caller's delta, which carries the new status, substatus
and next_poll_at (the agents compute the latter, using pkg/backoff
after a transient failure).

CleanTransformLocking/CleanProcessingLocking and
CleanTransformNextPollAt/CleanProcessingNextPollAt are the two
maintenance operations §4.2 names directly: a stale-lock reaper and a
forced-repoll helper.
*/
package locking
