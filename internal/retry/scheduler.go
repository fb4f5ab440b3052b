package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avikram/notify-service/internal/model"
)

// LaneKey is the holding area for envelopes awaiting their next eligible
// retry time, distinct from the live channel queues. Members are scored
// by their next retry time in unix milliseconds.
const LaneKey = "retry"

// Store is the slice of the shared store the retry lane needs.
type Store interface {
	AddToLane(ctx context.Context, key string, score float64, member []byte) error
	PopDue(ctx context.Context, key string, max float64, limit int64) ([][]byte, error)
}

type Config struct {
	// Backoff is the linear per-attempt step: nextRetryAt = now + attempts*Backoff.
	Backoff time.Duration
}

// Scheduler moves failed envelopes into the retry lane with a linear
// backoff. The max-attempts policy is enforced by the dispatch worker,
// not here.
type Scheduler struct {
	store   Store
	backoff time.Duration
}

func NewScheduler(store Store, cfg Config) *Scheduler {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Scheduler{store: store, backoff: cfg.Backoff}
}

// Schedule increments the envelope's attempt counter, computes its next
// retry time and appends it to the retry lane.
func (s *Scheduler) Schedule(ctx context.Context, env *model.Envelope) error {
	env.Attempts++
	env.NextRetryAt = time.Now().Add(time.Duration(env.Attempts) * s.backoff)

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := s.store.AddToLane(ctx, LaneKey, float64(env.NextRetryAt.UnixMilli()), payload); err != nil {
		return fmt.Errorf("failed to schedule retry for %s: %w", env.ID, err)
	}
	return nil
}

// requeue puts an envelope back on the lane keeping its attempt count
// and retry time. Used when re-enqueueing into the live queue fails.
func (s *Scheduler) requeue(ctx context.Context, env *model.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return s.store.AddToLane(ctx, LaneKey, float64(env.NextRetryAt.UnixMilli()), payload)
}

// PopDue atomically removes and returns envelopes whose retry time is at
// or before now, up to limit.
func (s *Scheduler) PopDue(ctx context.Context, now time.Time, limit int64) ([]*model.Envelope, error) {
	members, err := s.store.PopDue(ctx, LaneKey, float64(now.UnixMilli()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to pop due retries: %w", err)
	}

	envs := make([]*model.Envelope, 0, len(members))
	for _, m := range members {
		var env model.Envelope
		if err := json.Unmarshal(m, &env); err != nil {
			return envs, fmt.Errorf("failed to unmarshal retry envelope: %w", err)
		}
		envs = append(envs, &env)
	}
	return envs, nil
}
