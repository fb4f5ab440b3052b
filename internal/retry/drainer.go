package retry

import (
	"context"
	"time"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/queue"
	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/pkg/logger"
	"github.com/avikram/notify-service/pkg/metrics"
)

type DrainerConfig struct {
	Interval time.Duration
	Batch    int64
}

// Drainer periodically moves due envelopes from the retry lane back into
// their channel queues. Keeping this off the dispatch path means the hot
// dequeue loop never compares timestamps.
type Drainer struct {
	scheduler *Scheduler
	queue     *queue.Queue
	registry  *registry.Registry
	cfg       DrainerConfig
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewDrainer(scheduler *Scheduler, q *queue.Queue, reg *registry.Registry, cfg DrainerConfig, log *logger.Logger, m *metrics.Metrics) *Drainer {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	return &Drainer{
		scheduler: scheduler,
		queue:     q,
		registry:  reg,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
	}
}

// Start runs the drain loop until the context is cancelled.
func (d *Drainer) Start(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("starting retry drainer", "interval", d.cfg.Interval.String())

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down retry drainer")
			return
		case <-ticker.C:
			if n, err := d.Drain(ctx, time.Now()); err != nil {
				d.logger.Error(err, "retry drain failed")
			} else if n > 0 {
				d.logger.Debug("drained retry lane", "count", n)
			}
		}
	}
}

// Drain re-enqueues every envelope due at or before now and returns how
// many were moved. Envelopes that fail to re-enqueue go back to the lane
// so they are not lost.
func (d *Drainer) Drain(ctx context.Context, now time.Time) (int, error) {
	envs, err := d.scheduler.PopDue(ctx, now, d.cfg.Batch)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, env := range envs {
		if err := d.queue.Enqueue(ctx, env); err != nil {
			d.logger.Error(err, "failed to re-enqueue retry, returning to lane", "id", env.ID)
			if reErr := d.scheduler.requeue(ctx, env); reErr != nil {
				d.logger.Error(reErr, "failed to return envelope to retry lane", "id", env.ID)
			}
			continue
		}
		if err := d.registry.Update(ctx, env.ID, model.StatusPending, registry.Extra{Attempts: env.Attempts}); err != nil {
			d.logger.Error(err, "failed to mark retried envelope pending", "id", env.ID)
		}
		moved++
		if d.metrics != nil {
			d.metrics.RetryLaneDrained.Inc()
		}
	}
	return moved, nil
}
