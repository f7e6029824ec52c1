// Package transform implements the per-transform driver of §4.4,
// grounded on the teacher's pkg/reconciler: a ticker loop where one
// cycle claims a batch of due rows, advances each with blocking calls
// made outside any open transaction, and persists the resulting delta
// in a single transactional update (§5 "Suspension points").
package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/stagein/pkg/backoff"
	"github.com/cuemby/stagein/pkg/dataservice"
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

// Config bounds one agent process (§9 "typed Config struct", not a
// file-loading layer — configuration loading is out of scope per §1).
type Config struct {
	// BulkSize caps how many Transforms a single Tick claims.
	BulkSize int
	// PollInterval is the ticker period Run uses between Ticks; it is
	// independent of any row's own next_poll_at.
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

// Agent is the transform-agent process: claim, advance, persist.
type Agent struct {
	store   storage.Store
	ds      dataservice.DataService
	cfg     Config
	backoff *backoff.Policy
	logger  zerolog.Logger
}

// New builds an Agent over store, using ds as the DataService client
// every StageIn Work instance is reconstructed with.
func New(store storage.Store, ds dataservice.DataService, cfg Config) *Agent {
	cfg.setDefaults()
	return &Agent{
		store:   store,
		ds:      ds,
		cfg:     cfg,
		backoff: backoff.Default(),
		logger:  log.WithComponent("transform-agent"),
	}
}

// staleLockPeriod is the default §4.2 clean_locking period: a row
// locked longer than this is assumed to belong to a crashed agent.
const staleLockPeriod = 3600 * time.Second

// Run starts the ticker loop (teacher: pkg/reconciler.run) until ctx
// is cancelled. A second, slower ticker runs the §4.2 stale-lock
// reaper so a crashed agent's claims don't wedge their rows forever.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	reapTicker := time.NewTicker(staleLockPeriod / 4)
	defer reapTicker.Stop()
	a.logger.Info().Msg("transform agent started")
	for {
		select {
		case <-ticker.C:
			if _, err := a.Tick(ctx); err != nil {
				a.logger.Error().Err(err).Msg("tick failed")
			}
		case <-reapTicker.C:
			if n, err := locking.CleanTransformLocking(a.store, staleLockPeriod); err != nil {
				a.logger.Error().Err(err).Msg("clean_locking failed")
			} else if n > 0 {
				metrics.LockReapsTotal.WithLabelValues("transform").Add(float64(n))
				a.logger.Warn().Int("reaped", n).Msg("reset stale transform locks")
			}
		case <-ctx.Done():
			a.logger.Info().Msg("transform agent stopped")
			return
		}
	}
}

// Tick is one bounded step over a claimed batch (§4.4): claim due
// Transforms, advance each, return the number claimed.
func (a *Agent) Tick(ctx context.Context) (int, error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.TransformTickDuration)
		metrics.TransformTicksTotal.Inc()
	}()

	claimed, err := locking.ClaimTransforms(a.store, []types.TransformStatus{
		types.TransformStatusNew,
		types.TransformStatusTransforming,
		types.TransformStatusToCancel,
	}, a.cfg.BulkSize)
	if err != nil {
		return 0, fmt.Errorf("claim transforms: %w", err)
	}
	metrics.ClaimsTotal.WithLabelValues("transform").Add(float64(len(claimed)))

	for _, t := range claimed {
		if t.Status == types.TransformStatusToCancel {
			a.cancel(t)
			continue
		}
		a.advance(ctx, t)
	}
	return len(claimed), nil
}

// cancel implements the §5 cancellation point: best-effort external
// cancellation, then Processing→Cancelled and Transform→Cancelled
// (Open Question #2's resolution, SPEC_FULL.md). The abstract
// DataService capability set (§6) exposes no cancel-rule operation,
// so "best-effort" degenerates to marking state directly — there is
// nothing external this engine can call.
func (a *Agent) cancel(t *types.Transform) {
	logger := log.WithTransformID(a.logger, t.TransformID)
	err := a.store.Transact(func(sess storage.Session) error {
		procs, err := a.store.GetProcessingsByTransform(sess, t.TransformID)
		if err != nil {
			return err
		}
		for _, p := range procs {
			if !p.Status.Active() {
				continue
			}
			p.Status = types.ProcessingStatusCancelled
			p.Substatus = "cancelled by transform"
			p.Locking = types.LockingIdle
			if err := a.store.UpdateProcessing(sess, p); err != nil {
				return err
			}
			if err := outbox.AddProcessingMessage(a.store, sess, p, 0); err != nil {
				return err
			}
		}

		t.Status = types.TransformStatusCancelled
		t.Locking = types.LockingIdle
		t.NextPollAt = time.Now()
		if err := a.store.UpdateTransform(sess, t); err != nil {
			return err
		}
		return outbox.AddTransformMessage(a.store, sess, t, 0)
	})
	if err != nil {
		logger.Error().Err(err).Msg("cancel transform")
	}
}

// advance runs one tick body for a single claimed Transform (§4.4).
func (a *Agent) advance(ctx context.Context, t *types.Transform) {
	logger := log.WithTransformID(a.logger, t.TransformID)

	w, err := stagein.FromTransform(a.ds, t)
	if err != nil {
		logger.Error().Err(err).Msg("bad transform metadata")
		a.releaseWith(t, types.TransformStatusFailed, err.Error())
		return
	}

	collections, contents, err := a.loadState(t.TransformID)
	if err != nil {
		logger.Error().Err(err).Msg("load collections/contents")
		a.releaseTransient(t)
		return
	}

	primary, output := splitCollections(collections)
	if primary == nil {
		logger.Error().Msg("transform has no primary input collection")
		a.releaseWith(t, types.TransformStatusFailed, "no primary input collection")
		return
	}

	refreshed, err := w.GetInputCollections(ctx, []*types.Collection{primary})
	if err != nil {
		logger.Warn().Err(err).Msg("get_input_collections failed")
		a.releaseTransient(t)
		return
	}
	primary = refreshed[0]

	existingInputs := filterByCollection(contents, primary.CollID)
	var existingOutputs []*types.Content
	if output != nil {
		existingOutputs = filterByCollection(contents, output.CollID)
	}
	existingMaps := work.BuildMaps(existingInputs, existingOutputs)

	newMaps, hasNewInputs, err := w.GetNewInputOutputMaps(ctx, primary, output, existingMaps)
	if err != nil {
		logger.Warn().Err(err).Msg("get_new_input_output_maps failed")
		a.releaseTransient(t)
		return
	}

	var activeProcs []*types.Processing
	err = a.store.Read(func(sess storage.Session) error {
		ps, err := a.store.GetProcessingsByTransform(sess, t.TransformID)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if p.Status.Active() {
				activeProcs = append(activeProcs, p)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("load processings")
		a.releaseTransient(t)
		return
	}
	hasActive := len(activeProcs) > 0

	allMaps := append(append([]work.InputOutputMap(nil), existingMaps...), newMaps...)

	var createdProc *types.Processing
	if !hasActive && len(allMaps) > 0 {
		createdProc = w.CreateProcessing(t.TransformID)
		if err := w.SubmitProcessing(ctx, primary, createdProc); err != nil {
			logger.Warn().Err(err).Msg("submit_processing failed")
			a.releaseTransient(t)
			return
		}
		hasActive = true
	}

	newStatus := w.SynWorkStatus(allMaps, hasActive, hasNewInputs)

	err = a.store.Transact(func(sess storage.Session) error {
		if primary.CollID != 0 {
			if err := a.store.UpdateCollection(sess, primary); err != nil {
				return err
			}
		}
		for _, m := range newMaps {
			for _, in := range m.Inputs {
				in.MapID = m.MapID
				if err := a.store.CreateContent(sess, in); err != nil {
					return err
				}
			}
			for _, out := range m.Outputs {
				out.MapID = m.MapID
				if err := a.store.CreateContent(sess, out); err != nil {
					return err
				}
			}
		}
		if createdProc != nil {
			if err := a.store.CreateProcessing(sess, createdProc); err != nil {
				return err
			}
			if err := outbox.AddProcessingMessage(a.store, sess, createdProc, 0); err != nil {
				return err
			}
		}

		t.Status = newStatus
		t.Retries = 0
		t.Locking = types.LockingIdle
		t.NextPollAt = time.Now().Add(backoff.SteadyPollInterval)
		if err := a.store.UpdateTransform(sess, t); err != nil {
			return err
		}
		return outbox.AddTransformMessage(a.store, sess, t, len(allMaps))
	})
	if err != nil {
		logger.Error().Err(err).Msg("persist tick")
	}
}

func (a *Agent) loadState(transformID int64) ([]*types.Collection, []*types.Content, error) {
	var collections []*types.Collection
	var contents []*types.Content
	err := a.store.Read(func(sess storage.Session) error {
		var err error
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
	return collections, contents, err
}

// releaseTransient releases a claim after a transient failure (§7):
// state is left unchanged, only next_poll_at backs off.
func (a *Agent) releaseTransient(t *types.Transform) {
	t.Retries++
	delta := locking.TransformRelease{
		Status:     t.Status,
		Substatus:  t.Substatus,
		NextPollAt: a.backoff.NextPollAt(time.Now(), t.Retries),
		Retries:    t.Retries,
	}
	if err := locking.ReleaseTransform(a.store, t.TransformID, delta); err != nil {
		a.logger.Error().Err(err).Int64("transform_id", t.TransformID).Msg("release transform")
	}
}

// releaseWith releases a claim with an explicit terminal status and
// substatus (validation failures, §7 "malformed metadata → fail the
// transform with a descriptive substatus"). Unlike releaseTransient,
// this is a genuine state transition, so per §8 invariant 4 a Message
// row must be committed in the same transaction.
func (a *Agent) releaseWith(t *types.Transform, status types.TransformStatus, substatus string) {
	err := a.store.Transact(func(sess storage.Session) error {
		t.Locking = types.LockingIdle
		t.Status = status
		t.Substatus = substatus
		t.NextPollAt = time.Now()
		if err := a.store.UpdateTransform(sess, t); err != nil {
			return err
		}
		return outbox.AddTransformMessage(a.store, sess, t, 0)
	})
	if err != nil {
		a.logger.Error().Err(err).Int64("transform_id", t.TransformID).Msg("release transform")
	}
}

func splitCollections(collections []*types.Collection) (primary, output *types.Collection) {
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
	return primary, output
}

func filterByCollection(contents []*types.Content, collID int64) []*types.Content {
	var out []*types.Content
	for _, c := range contents {
		if c.CollID == collID {
			out = append(out, c)
		}
	}
	return out
}
