// Package backoff centralizes the retry-delay policy that agents
// consult when computing a row's next next_poll_at (§9 "Retry-loop
// hand-coded around external calls → central backoff policy object").
// It does not retry anything itself — next_poll_at is the durable
// backoff, so the only thing this package computes is the delay.
package backoff

import (
	"time"

	cenkalti "github.com/cenkalti/backoff/v4"
)

// Policy wraps a cenkalti/backoff/v4 exponential policy configured
// with the bounds the engine wants for transform/processing polling:
// a short initial interval so a newly-created row is polled promptly,
// capped so a long-stalled row still gets revisited every few minutes.
type Policy struct {
	base cenkalti.BackOff
}

// Default returns the policy used by both agents for their own
// internal retry delay after a transient DataService error.
func Default() *Policy {
	b := cenkalti.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // never give up; the row's the unit of retry, not this process
	return &Policy{base: b}
}

// NextDelay returns the delay to wait before the next attempt given
// how many consecutive failures have been observed for a row. It
// resets and redrives the underlying exponential backoff to reach the
// requested attempt, since cenkalti/backoff/v4 only exposes a stateful
// NextBackOff() rather than an attempt-indexed one.
func (p *Policy) NextDelay(consecutiveFailures int) time.Duration {
	p.base.Reset()
	var d time.Duration
	for i := 0; i <= consecutiveFailures; i++ {
		d = p.base.NextBackOff()
	}
	if d == cenkalti.Stop {
		return p.maxInterval()
	}
	return d
}

func (p *Policy) maxInterval() time.Duration {
	if e, ok := p.base.(*cenkalti.ExponentialBackOff); ok {
		return e.MaxInterval
	}
	return 5 * time.Minute
}

// NextPollAt is the convenience most callers want: "now" advanced by
// the policy's delay for the given retry count, the value that lands
// directly in a Transform's or Processing's next_poll_at column.
func (p *Policy) NextPollAt(now time.Time, consecutiveFailures int) time.Time {
	return now.Add(p.NextDelay(consecutiveFailures))
}

// SteadyPollInterval is the delay used for a healthy row that simply
// needs to be revisited on the next normal tick (no failure to back
// off from).
const SteadyPollInterval = 30 * time.Second
