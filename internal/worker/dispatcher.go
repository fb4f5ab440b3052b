package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/provider"
	"github.com/avikram/notify-service/internal/queue"
	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/internal/retry"
	"github.com/avikram/notify-service/pkg/circuitbreaker"
	"github.com/avikram/notify-service/pkg/logger"
	"github.com/avikram/notify-service/pkg/metrics"
)

// Archiver records terminal delivery outcomes outside the TTL-governed
// registry. Optional: a nil archiver disables archival.
type Archiver interface {
	Archive(ctx context.Context, env *model.Envelope, status model.Status, detail string) error
}

type Config struct {
	WorkersPerChannel int
	// DequeueTimeout bounds each blocking dequeue; an empty result after
	// the timeout is the idle case, not an error.
	DequeueTimeout time.Duration
	// StoreBackoff is how long a worker waits after a store error before
	// retrying its dequeue loop instead of busy-spinning.
	StoreBackoff time.Duration
	// MaxAttempts bounds total delivery attempts per envelope.
	MaxAttempts int
	// DispatchRate/DispatchBurst pace provider calls across all workers.
	DispatchRate  float64
	DispatchBurst int

	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// Dispatcher runs the per-channel worker pools: competing consumers over
// each channel queue, each worker looping blocking-dequeue -> provider
// dispatch -> status update.
type Dispatcher struct {
	queue     *queue.Queue
	registry  *registry.Registry
	scheduler *retry.Scheduler
	senders   map[model.Channel]provider.Sender
	archiver  Archiver
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Metrics
	breakers  map[model.Channel]*circuitbreaker.CircuitBreaker
	pacer     *rate.Limiter
	wg        sync.WaitGroup
}

func NewDispatcher(
	q *queue.Queue,
	reg *registry.Registry,
	scheduler *retry.Scheduler,
	senders map[model.Channel]provider.Sender,
	archiver Archiver,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Dispatcher {
	if cfg.WorkersPerChannel <= 0 {
		cfg.WorkersPerChannel = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if cfg.StoreBackoff <= 0 {
		cfg.StoreBackoff = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	breakers := make(map[model.Channel]*circuitbreaker.CircuitBreaker, len(senders))
	for ch := range senders {
		breakers[ch] = circuitbreaker.New(circuitbreaker.Settings{
			Name:        "provider-" + string(ch),
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		})
	}

	var pacer *rate.Limiter
	if cfg.DispatchRate > 0 {
		burst := cfg.DispatchBurst
		if burst <= 0 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.DispatchRate), burst)
	}

	return &Dispatcher{
		queue:     q,
		registry:  reg,
		scheduler: scheduler,
		senders:   senders,
		archiver:  archiver,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		breakers:  breakers,
		pacer:     pacer,
	}
}

// Start launches the worker pools and blocks until the context is
// cancelled and every in-flight envelope has been driven to an outcome.
func (d *Dispatcher) Start(ctx context.Context) {
	for ch := range d.senders {
		for i := 0; i < d.cfg.WorkersPerChannel; i++ {
			d.wg.Add(1)
			go d.run(ctx, ch, i)
		}
	}

	d.wg.Add(1)
	go d.sampleDepths(ctx)

	d.logger.Info("dispatcher started",
		"channels", len(d.senders),
		"workers_per_channel", d.cfg.WorkersPerChannel)

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context, channel model.Channel, id int) {
	defer d.wg.Done()

	log := d.logger.WithFields(map[string]interface{}{
		"channel": string(channel),
		"worker":  id,
	})
	log.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("worker shutting down")
			return
		default:
		}

		env, err := d.queue.Dequeue(ctx, channel, d.cfg.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient store failure: back off before the next loop
			// instead of busy-spinning against a down store.
			log.Error(err, "dequeue failed, backing off")
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.StoreBackoff):
			}
			continue
		}
		if env == nil {
			// Idle: queue was empty for the whole blocking timeout.
			continue
		}

		d.process(ctx, env)
	}
}

// process drives one envelope through
// processing -> {sent | failed | retry}.
func (d *Dispatcher) process(ctx context.Context, env *model.Envelope) {
	// Bookkeeping must outlive a mid-flight shutdown so the envelope's
	// outcome stays visible.
	bctx := context.WithoutCancel(ctx)

	if err := d.registry.Update(bctx, env.ID, model.StatusProcessing, registry.Extra{}); err != nil {
		d.logger.Error(err, "failed to mark processing", "id", env.ID)
	}

	sender, ok := d.senders[env.Channel]
	if !ok {
		d.fail(bctx, env, fmt.Errorf("no sender for channel %s", env.Channel), "")
		return
	}

	if d.pacer != nil {
		if err := d.pacer.Wait(ctx); err != nil {
			// Shutdown while waiting for a dispatch slot: retry later.
			d.scheduleRetry(bctx, env, err)
			return
		}
	}

	var res *provider.Result
	start := time.Now()
	err := d.breakers[env.Channel].Execute(func() error {
		r, sendErr := sender.Send(ctx, env)
		if sendErr != nil {
			return sendErr
		}
		res = r
		return nil
	})
	if d.metrics != nil {
		d.metrics.DispatchDuration.WithLabelValues(string(env.Channel)).Observe(time.Since(start).Seconds())
	}

	switch {
	case err == nil:
		d.succeed(bctx, env, res)
	case provider.IsPermanent(err):
		// Unrecoverable input: do not waste backoff cycles on it.
		d.fail(bctx, env, err, responseOf(res))
	case env.Attempts+1 >= d.cfg.MaxAttempts:
		d.fail(bctx, env, fmt.Errorf("attempts exhausted: %w", err), responseOf(res))
	default:
		d.scheduleRetry(bctx, env, err)
	}
}

func (d *Dispatcher) succeed(ctx context.Context, env *model.Envelope, res *provider.Result) {
	extra := registry.Extra{SentAt: time.Now(), ProviderResponse: responseOf(res)}
	if err := d.registry.Update(ctx, env.ID, model.StatusSent, extra); err != nil {
		d.logger.Error(err, "failed to mark sent", "id", env.ID)
	}
	if d.metrics != nil {
		d.metrics.NotificationsDispatched.WithLabelValues(string(env.Channel), string(model.StatusSent)).Inc()
	}
	d.archive(ctx, env, model.StatusSent, responseOf(res))
	d.logger.Info("notification sent", "id", env.ID, "channel", string(env.Channel))
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, env *model.Envelope, cause error) {
	if err := d.scheduler.Schedule(ctx, env); err != nil {
		// The lane itself is unreachable; surface a terminal failure so
		// the outcome is not silently lost.
		d.fail(ctx, env, fmt.Errorf("retry scheduling failed: %w", err), "")
		return
	}

	extra := registry.Extra{Attempts: env.Attempts, LastError: cause.Error()}
	if err := d.registry.Update(ctx, env.ID, model.StatusRetry, extra); err != nil {
		d.logger.Error(err, "failed to mark retry", "id", env.ID)
	}
	if d.metrics != nil {
		d.metrics.RetriesScheduled.Inc()
		d.metrics.NotificationsDispatched.WithLabelValues(string(env.Channel), string(model.StatusRetry)).Inc()
	}
	d.logger.Warn("delivery failed, retry scheduled",
		"id", env.ID,
		"attempts", env.Attempts,
		"next_retry_at", env.NextRetryAt.Format(time.RFC3339),
		"error", cause.Error())
}

func (d *Dispatcher) fail(ctx context.Context, env *model.Envelope, cause error, response string) {
	extra := registry.Extra{Attempts: env.Attempts, LastError: cause.Error(), ProviderResponse: response}
	if err := d.registry.Update(ctx, env.ID, model.StatusFailed, extra); err != nil {
		d.logger.Error(err, "failed to mark failed", "id", env.ID)
	}
	if d.metrics != nil {
		d.metrics.NotificationsDispatched.WithLabelValues(string(env.Channel), string(model.StatusFailed)).Inc()
	}
	d.archive(ctx, env, model.StatusFailed, cause.Error())
	d.logger.Error(cause, "notification failed", "id", env.ID, "channel", string(env.Channel))
}

func (d *Dispatcher) archive(ctx context.Context, env *model.Envelope, status model.Status, detail string) {
	if d.archiver == nil {
		return
	}
	if err := d.archiver.Archive(ctx, env, status, detail); err != nil {
		d.logger.Error(err, "failed to archive delivery outcome", "id", env.ID)
	}
}

// sampleDepths refreshes the queue depth gauges for dashboards.
func (d *Dispatcher) sampleDepths(ctx context.Context) {
	defer d.wg.Done()
	if d.metrics == nil {
		return
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range model.Channels() {
				depth, err := d.queue.Depth(ctx, ch)
				if err != nil {
					continue
				}
				d.metrics.QueueDepth.WithLabelValues(string(ch)).Set(float64(depth))
			}
		}
	}
}

func responseOf(res *provider.Result) string {
	if res == nil {
		return ""
	}
	if res.MessageID != "" {
		return res.Response + " (" + res.MessageID + ")"
	}
	return res.Response
}
