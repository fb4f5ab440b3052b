package registry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avikram/notify-service/internal/model"
)

type fakeHashStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	ttls   map[string]time.Duration
}

func newFakeHashStore() *fakeHashStore {
	return &fakeHashStore{
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *fakeHashStore) SetHashWithTTL(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := make(map[string]string, len(fields))
	for k, v := range fields {
		h[k] = v
	}
	f.hashes[key] = h
	f.ttls[key] = ttl
	return nil
}

func (f *fakeHashStore) UpdateHashWithTTL(_ context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return false, nil
	}
	for k, v := range fields {
		h[k] = v
	}
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeHashStore) GetHash(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeHashStore) Delete(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.hashes[key]; ok {
			delete(f.hashes, key)
			delete(f.ttls, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeHashStore) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range f.hashes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func testRegistry() (*Registry, *fakeHashStore) {
	fs := newFakeHashStore()
	return New(fs, Config{BaseTTL: time.Hour, SentTTL: 10 * time.Minute}), fs
}

func admitted(id string, at time.Time) *model.Envelope {
	return &model.Envelope{
		ID:         id,
		Channel:    model.ChannelEmail,
		Priority:   model.PriorityNormal,
		EnqueuedAt: at,
	}
}

func TestCreateThenGetReturnsPending(t *testing.T) {
	reg, _ := testRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, admitted("email_1_abc", time.Now())))

	record, err := reg.Get(ctx, "email_1_abc")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, record.Status)
	assert.Equal(t, 0, record.Attempts)
	assert.False(t, record.LastUpdate.IsZero())
}

func TestGetUnknownIDIsNotFound(t *testing.T) {
	reg, _ := testRegistry()

	_, err := reg.Get(context.Background(), "email_0_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateMergesFields(t *testing.T) {
	reg, _ := testRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, admitted("id1", time.Now())))
	require.NoError(t, reg.Update(ctx, "id1", model.StatusRetry, Extra{Attempts: 2, LastError: "timeout"}))

	record, err := reg.Get(ctx, "id1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRetry, record.Status)
	assert.Equal(t, 2, record.Attempts)
	assert.Equal(t, "timeout", record.LastError)
	// Fields set at creation survive the merge.
	assert.False(t, record.EnqueuedAt.IsZero())
}

func TestUpdateMissingRecordIsNoop(t *testing.T) {
	reg, fs := testRegistry()

	err := reg.Update(context.Background(), "expired", model.StatusSent, Extra{})
	require.NoError(t, err)
	assert.Empty(t, fs.hashes)
}

func TestTTLDependsOnStatus(t *testing.T) {
	reg, fs := testRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, admitted("id1", time.Now())))
	assert.Equal(t, time.Hour, fs.ttls[Key("id1")])

	require.NoError(t, reg.Update(ctx, "id1", model.StatusFailed, Extra{LastError: "boom"}))
	assert.Equal(t, 2*time.Hour, fs.ttls[Key("id1")], "failed records are kept twice as long")

	require.NoError(t, reg.Create(ctx, admitted("id2", time.Now())))
	require.NoError(t, reg.Update(ctx, "id2", model.StatusSent, Extra{SentAt: time.Now()}))
	assert.Equal(t, 10*time.Minute, fs.ttls[Key("id2")], "sent records use the short cache TTL")

	require.NoError(t, reg.Create(ctx, admitted("id3", time.Now())))
	require.NoError(t, reg.Update(ctx, "id3", model.StatusProcessing, Extra{}))
	assert.Equal(t, time.Hour, fs.ttls[Key("id3")])
}

func TestCleanupDeletesOnlyOldRecordsOnce(t *testing.T) {
	reg, _ := testRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, admitted("old1", time.Now().Add(-48*time.Hour))))
	require.NoError(t, reg.Create(ctx, admitted("old2", time.Now().Add(-30*time.Hour))))
	require.NoError(t, reg.Create(ctx, admitted("fresh", time.Now())))

	deleted, err := reg.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	// Idempotence: a second sweep with no new admissions deletes nothing.
	deleted, err = reg.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = reg.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = reg.Get(ctx, "old1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountByStatus(t *testing.T) {
	reg, _ := testRegistry()
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, admitted("a", time.Now())))
	require.NoError(t, reg.Create(ctx, admitted("b", time.Now())))
	require.NoError(t, reg.Create(ctx, admitted("c", time.Now())))
	require.NoError(t, reg.Update(ctx, "c", model.StatusSent, Extra{SentAt: time.Now()}))

	counts, err := reg.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.StatusPending])
	assert.Equal(t, int64(1), counts[model.StatusSent])
}
