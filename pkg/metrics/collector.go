package metrics

import (
	"time"

	"github.com/cuemby/stagein/pkg/storage"
	"github.com/cuemby/stagein/pkg/types"
)

// Collector periodically snapshots row counts from the store into the
// TransformsTotal/ProcessingsTotal/MessagesPending gauges, the way the
// teacher's collector snapshots cluster state from the manager.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	_ = c.store.Read(func(sess storage.Session) error {
		c.collectTransformMetrics(sess)
		c.collectProcessingMetrics(sess)
		c.collectMessageMetrics(sess)
		return nil
	})
}

var allTransformStatuses = []types.TransformStatus{
	types.TransformStatusNew, types.TransformStatusTransforming, types.TransformStatusFinished,
	types.TransformStatusSubFinished, types.TransformStatusFailed, types.TransformStatusLost,
	types.TransformStatusCancelled, types.TransformStatusToCancel, types.TransformStatusSuspended,
}

var allProcessingStatuses = []types.ProcessingStatus{
	types.ProcessingStatusNew, types.ProcessingStatusSubmitting, types.ProcessingStatusSubmitted,
	types.ProcessingStatusRunning, types.ProcessingStatusFinished, types.ProcessingStatusFailed,
	types.ProcessingStatusLost, types.ProcessingStatusCancelled,
}

func (c *Collector) collectTransformMetrics(sess storage.Session) {
	for _, status := range allTransformStatuses {
		n, err := c.store.CountTransformsByStatus(sess, status)
		if err != nil {
			continue
		}
		TransformsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (c *Collector) collectProcessingMetrics(sess storage.Session) {
	for _, status := range allProcessingStatuses {
		n, err := c.store.CountProcessingsByStatus(sess, status)
		if err != nil {
			continue
		}
		ProcessingsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (c *Collector) collectMessageMetrics(sess storage.Session) {
	newStatus := types.MessageStatusNew
	pending, err := c.store.RetrieveMessages(sess, 0, nil, &newStatus, "")
	if err != nil {
		return
	}
	MessagesPending.Set(float64(len(pending)))
}
