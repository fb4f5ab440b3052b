package worker

import (
	"context"
	"time"

	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/pkg/logger"
	"github.com/avikram/notify-service/pkg/metrics"
)

// CleanupWorker sweeps expired status records on a schedule independent
// of the dispatch path. TTLs already expire most records; the sweep
// catches stragglers whose TTL was extended past the retention horizon.
type CleanupWorker struct {
	registry *registry.Registry
	maxAge   time.Duration
	interval time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewCleanupWorker(reg *registry.Registry, maxAge, interval time.Duration, log *logger.Logger, m *metrics.Metrics) *CleanupWorker {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupWorker{
		registry: reg,
		maxAge:   maxAge,
		interval: interval,
		logger:   log,
		metrics:  m,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting cleanup worker", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down cleanup worker")
			return
		case <-ticker.C:
			deleted, err := w.registry.Cleanup(ctx, w.maxAge)
			if err != nil {
				// Recoverable: log and try again next cycle.
				w.logger.Error(err, "cleanup sweep failed")
				continue
			}
			if w.metrics != nil {
				w.metrics.CleanupDeleted.Add(float64(deleted))
			}
			if deleted > 0 {
				w.logger.Info("cleanup sweep finished", "deleted", deleted)
			}
		}
	}
}
