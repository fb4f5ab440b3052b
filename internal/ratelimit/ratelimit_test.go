package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avikram/notify-service/internal/model"
)

type fakeCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		counts: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeCounterStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	f.counts[key]++
	if f.counts[key] == 1 {
		f.ttls[key] = window
	}
	return f.counts[key], f.ttls[key], nil
}

func TestFixedWindowLimit(t *testing.T) {
	limiter := New(newFakeCounterStore(), Config{Limit: 2, Window: 60 * time.Second})
	ctx := context.Background()

	res, err := limiter.Check(ctx, "u1", model.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	res, err = limiter.Check(ctx, "u1", model.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)

	res, err = limiter.Check(ctx, "u1", model.ChannelSMS)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining, "remaining floors at zero")
	assert.Equal(t, 60*time.Second, res.ResetIn)
}

func TestWindowsAreKeyedByUserAndChannel(t *testing.T) {
	limiter := New(newFakeCounterStore(), Config{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	res, err := limiter.Check(ctx, "u1", model.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "u1", model.ChannelSMS)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// A different user or channel has its own window.
	res, err = limiter.Check(ctx, "u2", model.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Check(ctx, "u1", model.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestStoreErrorSurfaces(t *testing.T) {
	fs := newFakeCounterStore()
	fs.err = errors.New("connection refused")
	limiter := New(fs, Config{Limit: 5, Window: time.Minute})

	_, err := limiter.Check(context.Background(), "u1", model.ChannelPush)
	assert.Error(t, err)
}
