package notification

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/queue"
	"github.com/avikram/notify-service/internal/ratelimit"
	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/internal/store"
	"github.com/avikram/notify-service/pkg/logger"
)

// memStore backs queue, registry and rate counters for admission tests.
type memStore struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	hashes  map[string]map[string]string
	counts  map[string]int64
	ttls    map[string]time.Duration
	pushErr error
}

func newMemStore() *memStore {
	return &memStore{
		lists:  make(map[string][][]byte),
		hashes: make(map[string]map[string]string),
		counts: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (m *memStore) PushHead(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushErr != nil {
		return m.pushErr
	}
	m.lists[key] = append([][]byte{value}, m.lists[key]...)
	return nil
}

func (m *memStore) PushTail(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushErr != nil {
		return m.pushErr
	}
	m.lists[key] = append(m.lists[key], value)
	return nil
}

func (m *memStore) PopHead(_ context.Context, key string, _ time.Duration) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return nil, store.ErrEmpty
	}
	head := list[0]
	m.lists[key] = list[1:]
	return head, nil
}

func (m *memStore) ListLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *memStore) SetHashWithTTL(_ context.Context, key string, fields map[string]string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := make(map[string]string, len(fields))
	for k, v := range fields {
		h[k] = v
	}
	m.hashes[key] = h
	return nil
}

func (m *memStore) UpdateHashWithTTL(_ context.Context, key string, fields map[string]string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return false, nil
	}
	for k, v := range fields {
		h[k] = v
	}
	return true, nil
}

func (m *memStore) GetHash(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.hashes[key]; ok {
			delete(m.hashes, key)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	if m.counts[key] == 1 {
		m.ttls[key] = window
	}
	return m.counts[key], m.ttls[key], nil
}

func testService(limit int) (*Service, *memStore) {
	ms := newMemStore()
	q := queue.New(ms)
	reg := registry.New(ms, registry.Config{BaseTTL: time.Hour, SentTTL: 10 * time.Minute})
	limiter := ratelimit.New(ms, ratelimit.Config{Limit: limit, Window: time.Minute})
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewService(q, reg, limiter, log, nil), ms
}

func emailRequest(userID string) AdmitRequest {
	return AdmitRequest{
		Channel:  model.ChannelEmail,
		Priority: model.PriorityNormal,
		UserID:   userID,
		Payload:  model.Payload{Recipient: "a@x.com", Subject: "hi", Content: "body"},
	}
}

func TestAdmitEnqueuesAndCreatesPendingRecord(t *testing.T) {
	svc, _ := testService(100)
	ctx := context.Background()

	id, err := svc.Admit(ctx, emailRequest("u1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "email_"), "id carries the channel prefix")

	record, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, record.Status)
	assert.Equal(t, 0, record.Attempts)
}

func TestAdmitValidation(t *testing.T) {
	svc, ms := testService(100)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*AdmitRequest)
	}{
		{"unknown channel", func(r *AdmitRequest) { r.Channel = "fax" }},
		{"unknown priority", func(r *AdmitRequest) { r.Priority = "asap" }},
		{"missing recipient", func(r *AdmitRequest) { r.Payload.Recipient = "" }},
		{"missing content", func(r *AdmitRequest) { r.Payload.Content = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := emailRequest("u1")
			tc.mutate(&req)

			_, err := svc.Admit(ctx, req)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}

	// Rejected requests leave no trace behind.
	assert.Empty(t, ms.lists)
	assert.Empty(t, ms.hashes)
}

func TestAdmitRateLimited(t *testing.T) {
	svc, _ := testService(2)
	ctx := context.Background()

	_, err := svc.Admit(ctx, emailRequest("u1"))
	require.NoError(t, err)
	_, err = svc.Admit(ctx, emailRequest("u1"))
	require.NoError(t, err)

	_, err = svc.Admit(ctx, emailRequest("u1"))
	var limitedErr *RateLimitedError
	require.ErrorAs(t, err, &limitedErr)
	assert.False(t, limitedErr.Result.Allowed)
	assert.Equal(t, time.Minute, limitedErr.Result.ResetIn)

	// Another user is unaffected.
	_, err = svc.Admit(ctx, emailRequest("u2"))
	assert.NoError(t, err)
}

func TestAdmitAnonymousSkipsRateCheck(t *testing.T) {
	svc, ms := testService(1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Admit(ctx, emailRequest(""))
		require.NoError(t, err)
	}
	assert.Empty(t, ms.counts, "no rate window is opened without a user id")
}

func TestAdmitDuringMaintenance(t *testing.T) {
	svc, _ := testService(100)
	ctx := context.Background()

	svc.SetMaintenance(true)
	_, err := svc.Admit(ctx, emailRequest("u1"))
	assert.ErrorIs(t, err, ErrMaintenance)

	svc.SetMaintenance(false)
	_, err = svc.Admit(ctx, emailRequest("u1"))
	assert.NoError(t, err)
}

func TestAdmitEnqueueFailureIsNotAccepted(t *testing.T) {
	svc, ms := testService(100)
	ms.pushErr = errors.New("connection refused")

	_, err := svc.Admit(context.Background(), emailRequest("u1"))
	require.Error(t, err)
	assert.Empty(t, ms.hashes, "no status record without a successful enqueue")
}

func TestStatusUnknownID(t *testing.T) {
	svc, _ := testService(100)

	_, err := svc.Status(context.Background(), "email_0_missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestStats(t *testing.T) {
	svc, _ := testService(100)
	ctx := context.Background()

	_, err := svc.Admit(ctx, emailRequest("u1"))
	require.NoError(t, err)
	_, err = svc.Admit(ctx, AdmitRequest{
		Channel:  model.ChannelSMS,
		Priority: model.PriorityUrgent,
		Payload:  model.Payload{Recipient: "+15550100", Content: "hi"},
	})
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QueueDepths[model.ChannelEmail])
	assert.Equal(t, int64(1), stats.QueueDepths[model.ChannelSMS])
	assert.Equal(t, int64(0), stats.QueueDepths[model.ChannelPush])
	assert.Equal(t, int64(2), stats.StatusCounts[model.StatusPending])
}
