package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/store"
)

// Store is the slice of the shared store the queue needs. The production
// implementation is *store.Client; tests substitute an in-memory fake.
type Store interface {
	PushHead(ctx context.Context, key string, value []byte) error
	PushTail(ctx context.Context, key string, value []byte) error
	PopHead(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
	ListLen(ctx context.Context, key string) (int64, error)
}

// Queue is the per-channel holding area for envelopes awaiting dispatch.
// Urgent/high envelopes are inserted at the head (next-served end),
// normal/low at the tail. Head inserts are served newest-first, tail
// inserts oldest-first.
type Queue struct {
	store Store
}

func New(store Store) *Queue {
	return &Queue{store: store}
}

func Key(channel model.Channel) string {
	return "queue:" + string(channel)
}

// Enqueue inserts an envelope into its channel queue according to its
// priority. A store error means the notification was not accepted.
func (q *Queue) Enqueue(ctx context.Context, env *model.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	key := Key(env.Channel)
	if env.Priority.HeadInsert() {
		err = q.store.PushHead(ctx, key, payload)
	} else {
		err = q.store.PushTail(ctx, key, payload)
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue envelope %s: %w", env.ID, err)
	}
	return nil
}

// Dequeue removes the next envelope from the channel queue. A timeout of
// zero returns immediately; a positive timeout suspends the caller until
// an envelope arrives or the timeout elapses. An empty queue yields
// (nil, nil): the idle case, not an error.
func (q *Queue) Dequeue(ctx context.Context, channel model.Channel, timeout time.Duration) (*model.Envelope, error) {
	payload, err := q.store.PopHead(ctx, Key(channel), timeout)
	if errors.Is(err, store.ErrEmpty) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue from %s: %w", channel, err)
	}

	var env model.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

// Depth reports the current queue length for observability.
func (q *Queue) Depth(ctx context.Context, channel model.Channel) (int64, error) {
	return q.store.ListLen(ctx, Key(channel))
}
