package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/queue"
	"github.com/avikram/notify-service/internal/ratelimit"
	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/pkg/logger"
	"github.com/avikram/notify-service/pkg/messaging"
	"github.com/avikram/notify-service/pkg/metrics"
)

var (
	// ErrMaintenance is returned while the admission path is paused by a
	// system:maintenance signal.
	ErrMaintenance = errors.New("admission paused for maintenance")
)

// ValidationError marks an admission-time input error: the request was
// rejected before any envelope or status record was created.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func invalidf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// RateLimitedError carries the limiter verdict so callers can expose a
// retry-after hint.
type RateLimitedError struct {
	Result *ratelimit.Result
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets in %s", e.Result.ResetIn)
}

// AdmitRequest is what the web layer supplies. UserID is optional; rate
// checks only apply when it is present.
type AdmitRequest struct {
	Channel  model.Channel
	Priority model.Priority
	UserID   string
	Payload  model.Payload
}

// Service owns the admission path: validate, rate-check, enqueue, create
// the status record, return the id. Delivery outcome is observable only
// through a later status query; admission and delivery are decoupled.
type Service struct {
	queue       *queue.Queue
	registry    *registry.Registry
	limiter     *ratelimit.Limiter
	logger      *logger.Logger
	metrics     *metrics.Metrics
	maintenance atomic.Bool
}

func NewService(q *queue.Queue, reg *registry.Registry, limiter *ratelimit.Limiter, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		queue:    q,
		registry: reg,
		limiter:  limiter,
		logger:   log,
		metrics:  m,
	}
}

// Admit validates and enqueues a notification, returning its id. The id
// is returned on successful enqueue regardless of eventual delivery
// outcome.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	if s.maintenance.Load() {
		return "", ErrMaintenance
	}

	if req.UserID != "" && s.limiter != nil {
		res, err := s.limiter.Check(ctx, req.UserID, req.Channel)
		if err != nil {
			return "", fmt.Errorf("rate check failed: %w", err)
		}
		if !res.Allowed {
			if s.metrics != nil {
				s.metrics.RateLimitRejected.WithLabelValues(string(req.Channel)).Inc()
			}
			return "", &RateLimitedError{Result: res}
		}
	}

	env := &model.Envelope{
		ID:         newID(req.Channel),
		Channel:    req.Channel,
		Priority:   req.Priority,
		UserID:     req.UserID,
		Payload:    req.Payload,
		EnqueuedAt: time.Now(),
	}

	if err := s.queue.Enqueue(ctx, env); err != nil {
		// The notification was not accepted; the caller must know.
		return "", err
	}

	// Enqueue and record creation are two separate writes with no
	// compensating transaction. When this one fails the envelope is
	// still dispatched; status queries return not-found meanwhile.
	if err := s.registry.Create(ctx, env); err != nil {
		s.logger.Error(err, "status record creation failed after enqueue", "id", env.ID)
	}

	if s.metrics != nil {
		s.metrics.NotificationsEnqueued.WithLabelValues(string(req.Channel), string(req.Priority)).Inc()
	}
	s.logger.Info("notification admitted",
		"id", env.ID,
		"channel", string(req.Channel),
		"priority", string(req.Priority))

	return env.ID, nil
}

// Status returns the current record for an id, or registry.ErrNotFound.
func (s *Service) Status(ctx context.Context, id string) (*model.StatusRecord, error) {
	return s.registry.Get(ctx, id)
}

// Stats aggregates per-channel queue depth and status-record counts for
// operational dashboards.
type Stats struct {
	QueueDepths  map[model.Channel]int64 `json:"queue_depths"`
	StatusCounts map[model.Status]int64  `json:"status_counts"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	depths := make(map[model.Channel]int64, len(model.Channels()))
	for _, ch := range model.Channels() {
		depth, err := s.queue.Depth(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("failed to read depth of %s: %w", ch, err)
		}
		depths[ch] = depth
	}

	counts, err := s.registry.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{QueueDepths: depths, StatusCounts: counts}, nil
}

// Maintenance reports whether the admission path is currently paused.
func (s *Service) Maintenance() bool {
	return s.maintenance.Load()
}

// SetMaintenance toggles the admission pause directly; the pub/sub
// watcher uses it, and tests can too.
func (s *Service) SetMaintenance(enabled bool) {
	s.maintenance.Store(enabled)
}

// WatchMaintenance subscribes to the maintenance topic and toggles the
// admission pause until the context is cancelled.
func (s *Service) WatchMaintenance(ctx context.Context, broker messaging.Broker) error {
	msgs, err := broker.Subscribe(ctx, messaging.TopicMaintenance)
	if err != nil {
		return fmt.Errorf("failed to subscribe to maintenance topic: %w", err)
	}

	go func() {
		for msg := range msgs {
			var signal messaging.MaintenanceSignal
			if err := json.Unmarshal(msg, &signal); err != nil {
				s.logger.Error(err, "invalid maintenance signal")
				continue
			}
			s.SetMaintenance(signal.Enabled)
			s.logger.Info("maintenance mode toggled", "enabled", signal.Enabled, "reason", signal.Reason)
		}
	}()

	return nil
}

func validate(req AdmitRequest) error {
	if !req.Channel.Valid() {
		return invalidf("invalid channel %q", req.Channel)
	}
	if !req.Priority.Valid() {
		return invalidf("invalid priority %q", req.Priority)
	}
	if req.Payload.Recipient == "" {
		return invalidf("recipient is required")
	}
	if req.Payload.Content == "" {
		return invalidf("content is required")
	}
	return nil
}

// newID builds the registry key and correlation handle assigned at
// admission: {channel}_{timestamp}_{random}.
func newID(channel model.Channel) string {
	return fmt.Sprintf("%s_%d_%s", channel, time.Now().UnixMilli(), uuid.NewString()[:8])
}
