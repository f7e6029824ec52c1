// Package processing implements the per-processing driver of §4.5,
// grounded on the teacher's pkg/scheduler tick loop: claim due
// Processings, poll each one's external state, persist the resulting
// Content/Processing deltas.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/stagein/pkg/backoff"
	"github.com/cuemby/stagein/pkg/dataservice"
	errs "github.com/cuemby/stagein/pkg/errors"
	"github.com/cuemby/stagein/pkg/locking"
	"github.com/cuemby/stagein/pkg/log"
	"github.com/cuemby/stagein/pkg/metrics"
	"github.com/cuemby/stagein/pkg/outbox"
	"github.com/cuemby/stagein/pkg/storage"
	"github.com/cuemby/stagein/pkg/types"
	"github.com/cuemby/stagein/pkg/work"
	"github.com/cuemby/stagein/pkg/work/stagein"
	"github.com/rs/zerolog"
)

// Config bounds one agent process.
type Config struct {
	BulkSize     int
	PollInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.BulkSize <= 0 {
		c.BulkSize = 50
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
}

// Agent is the processing-agent process: claim, poll, persist.
type Agent struct {
	store   storage.Store
	ds      dataservice.DataService
	cfg     Config
	backoff *backoff.Policy
	logger  zerolog.Logger
}

// New builds an Agent over store, using ds as the DataService client.
func New(store storage.Store, ds dataservice.DataService, cfg Config) *Agent {
	cfg.setDefaults()
	return &Agent{
		store:   store,
		ds:      ds,
		cfg:     cfg,
		backoff: backoff.Default(),
		logger:  log.WithComponent("processing-agent"),
	}
}

// staleLockPeriod is the default §4.2 clean_locking period.
const staleLockPeriod = 3600 * time.Second

// Run starts the ticker loop until ctx is cancelled. A second, slower
// ticker runs the §4.2 stale-lock reaper.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	reapTicker := time.NewTicker(staleLockPeriod / 4)
	defer reapTicker.Stop()
	a.logger.Info().Msg("processing agent started")
	for {
		select {
		case <-ticker.C:
			if _, err := a.Tick(ctx); err != nil {
				a.logger.Error().Err(err).Msg("tick failed")
			}
		case <-reapTicker.C:
			if n, err := locking.CleanProcessingLocking(a.store, staleLockPeriod); err != nil {
				a.logger.Error().Err(err).Msg("clean_locking failed")
			} else if n > 0 {
				metrics.LockReapsTotal.WithLabelValues("processing").Add(float64(n))
				a.logger.Warn().Int("reaped", n).Msg("reset stale processing locks")
			}
		case <-ctx.Done():
			a.logger.Info().Msg("processing agent stopped")
			return
		}
	}
}

// Tick is one bounded step over a claimed batch (§4.5).
func (a *Agent) Tick(ctx context.Context) (int, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ProcessingTickDuration)
		metrics.ProcessingTicksTotal.Inc()
	}()

	claimed, err := locking.ClaimProcessings(a.store, []types.ProcessingStatus{
		types.ProcessingStatusNew,
		types.ProcessingStatusSubmitting,
		types.ProcessingStatusSubmitted,
		types.ProcessingStatusRunning,
	}, a.cfg.BulkSize)
	if err != nil {
		return 0, fmt.Errorf("claim processings: %w", err)
	}
	metrics.ClaimsTotal.WithLabelValues("processing").Add(float64(len(claimed)))

	for _, p := range claimed {
		a.advance(ctx, p)
	}
	return len(claimed), nil
}

// advance runs one tick body for a single claimed Processing (§4.5).
func (a *Agent) advance(ctx context.Context, p *types.Processing) {
	logger := log.WithProcessingID(a.logger, p.ProcessingID)

	t, maps, primary, err := a.loadState(p.TransformID)
	if err != nil {
		logger.Error().Err(err).Msg("load transform state")
		a.releaseTransient(p)
		return
	}

	w, err := stagein.FromTransform(a.ds, t)
	if err != nil {
		logger.Error().Err(err).Msg("bad transform metadata")
		a.releaseWith(p, types.ProcessingStatusFailed, err.Error(), nil)
		return
	}

	update, contentUpdates, err := w.PollProcessingUpdates(ctx, p, maps)
	if err != nil {
		var notFound *errs.ProcessNotFound
		if errors.As(err, &notFound) {
			// §4.5/§7: a disappeared rule is permanent, not transient.
			logger.Warn().Err(err).Msg("processing lost: rule not found")
			a.releaseWith(p, types.ProcessingStatusLost, err.Error(), nil)
			return
		}
		logger.Warn().Err(err).Msg("poll_processing_updates failed")
		a.releaseTransient(p)
		return
	}
	_ = primary

	newStatus := p.Status
	newSubstatus := p.Substatus
	if update.Emit {
		newStatus = update.Status
		newSubstatus = string(update.Status)
	}

	err = a.store.Transact(func(sess storage.Session) error {
		for _, cu := range contentUpdates {
			c, err := a.store.GetContent(sess, cu.ContentID)
			if err != nil {
				return err
			}
			// Content.status is the monotone field the rollup reads
			// (§3 invariant); substatus is the externally observed
			// value poll_processing_updates just produced. Both land
			// on the same value here since this engine has no further
			// stage between "observed" and "durable" for a Content.
			c.Substatus = cu.Substatus
			c.Status = cu.Substatus
			if err := a.store.UpdateContent(sess, c); err != nil {
				return err
			}
		}

		p.Status = newStatus
		p.Substatus = newSubstatus
		p.Locking = types.LockingIdle
		p.NextPollAt = time.Now().Add(backoff.SteadyPollInterval)
		if err := a.store.UpdateProcessing(sess, p); err != nil {
			return err
		}
		if update.Emit {
			return outbox.AddProcessingMessage(a.store, sess, p, len(contentUpdates))
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("persist tick")
	}
}

func (a *Agent) loadState(transformID int64) (*types.Transform, []work.InputOutputMap, *types.Collection, error) {
	var t *types.Transform
	var collections []*types.Collection
	var contents []*types.Content
	err := a.store.Read(func(sess storage.Session) error {
		var err error
		t, err = a.store.GetTransform(sess, transformID)
		if err != nil {
			return err
		}
		collections, err = a.store.GetCollectionsByTransform(sess, transformID)
		if err != nil {
			return err
		}
		for _, c := range collections {
			cc, err := a.store.GetContentsByCollection(sess, c.CollID)
			if err != nil {
				return err
			}
			contents = append(contents, cc...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}

	var primary, output *types.Collection
	for _, c := range collections {
		switch c.RelationType {
		case types.CollectionRelationInput:
			if primary == nil {
				primary = c
			}
		case types.CollectionRelationOutput:
			if output == nil {
				output = c
			}
		}
	}

	var inputs, outputs []*types.Content
	for _, c := range contents {
		if primary != nil && c.CollID == primary.CollID {
			inputs = append(inputs, c)
		}
		if output != nil && c.CollID == output.CollID {
			outputs = append(outputs, c)
		}
	}
	return t, work.BuildMaps(inputs, outputs), primary, nil
}

// releaseTransient releases a claim after a transient failure (§7):
// state unchanged, only next_poll_at backs off.
func (a *Agent) releaseTransient(p *types.Processing) {
	delta := locking.ProcessingRelease{
		Status:     p.Status,
		Substatus:  p.Substatus,
		NextPollAt: a.backoff.NextPollAt(time.Now(), 1),
	}
	if err := locking.ReleaseProcessing(a.store, p.ProcessingID, delta); err != nil {
		a.logger.Error().Err(err).Int64("processing_id", p.ProcessingID).Msg("release processing")
	}
}

// releaseWith releases a claim with an explicit terminal status. This
// is a genuine state transition (rule-not-found→Lost, bad metadata→
// Failed), so per §8 invariant 4 a Message row must be committed in
// the same transaction.
func (a *Agent) releaseWith(p *types.Processing, status types.ProcessingStatus, substatus string, _ *work.ProcessingUpdate) {
	err := a.store.Transact(func(sess storage.Session) error {
		p.Locking = types.LockingIdle
		p.Status = status
		p.Substatus = substatus
		p.NextPollAt = time.Now()
		if err := a.store.UpdateProcessing(sess, p); err != nil {
			return err
		}
		return outbox.AddProcessingMessage(a.store, sess, p, 0)
	})
	if err != nil {
		a.logger.Error().Err(err).Int64("processing_id", p.ProcessingID).Msg("release processing")
	}
}
