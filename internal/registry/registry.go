package registry

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avikram/notify-service/internal/model"
)

// ErrNotFound means there is no record for the queried id: the
// notification is unknown or its retention elapsed. A valid outcome for
// status queries, not a failure.
var ErrNotFound = errors.New("status record not found")

const keyPrefix = "status:"

// Hash field names of a stored record. Timestamps are unix milliseconds.
const (
	fieldStatus           = "status"
	fieldAttempts         = "attempts"
	fieldLastError        = "last_error"
	fieldProviderResponse = "provider_response"
	fieldSentAt           = "sent_at"
	fieldEnqueuedAt       = "enqueued_at"
	fieldLastUpdate       = "last_update"
)

// Store is the slice of the shared store the registry needs.
type Store interface {
	SetHashWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	UpdateHashWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error)
	GetHash(ctx context.Context, key string) (map[string]string, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}

type Config struct {
	// BaseTTL is the retention for pending/processing/retry records.
	// Failed records are kept twice as long for diagnosis.
	BaseTTL time.Duration
	// SentTTL is the short retention for successful deliveries.
	SentTTL time.Duration
}

// Registry is the single source of truth for "what happened to
// notification X", with status-dependent retention.
type Registry struct {
	store Store
	cfg   Config
}

func New(store Store, cfg Config) *Registry {
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = 24 * time.Hour
	}
	if cfg.SentTTL <= 0 {
		cfg.SentTTL = time.Hour
	}
	return &Registry{store: store, cfg: cfg}
}

func Key(id string) string {
	return keyPrefix + id
}

// Extra carries optional fields merged into the record on update. Zero
// values are not written.
type Extra struct {
	Attempts         int
	LastError        string
	ProviderResponse string
	SentAt           time.Time
}

// Create writes the initial pending record right after a successful
// enqueue. If this write fails the envelope is still dispatched; status
// queries return not-found until the record is reconciled.
func (r *Registry) Create(ctx context.Context, env *model.Envelope) error {
	now := time.Now()
	fields := map[string]string{
		fieldStatus:     string(model.StatusPending),
		fieldAttempts:   "0",
		fieldEnqueuedAt: formatTime(env.EnqueuedAt),
		fieldLastUpdate: formatTime(now),
	}
	if err := r.store.SetHashWithTTL(ctx, Key(env.ID), fields, r.cfg.BaseTTL); err != nil {
		return fmt.Errorf("failed to create status record %s: %w", env.ID, err)
	}
	return nil
}

// Update merges the new status and extras into an existing record and
// resets its TTL according to the new status. A missing or expired record
// is a no-op, not an error: the envelope may have already aged out of view.
func (r *Registry) Update(ctx context.Context, id string, status model.Status, extra Extra) error {
	fields := map[string]string{
		fieldStatus:     string(status),
		fieldLastUpdate: formatTime(time.Now()),
	}
	if extra.Attempts > 0 {
		fields[fieldAttempts] = strconv.Itoa(extra.Attempts)
	}
	if extra.LastError != "" {
		fields[fieldLastError] = extra.LastError
	}
	if extra.ProviderResponse != "" {
		fields[fieldProviderResponse] = extra.ProviderResponse
	}
	if !extra.SentAt.IsZero() {
		fields[fieldSentAt] = formatTime(extra.SentAt)
	}

	if _, err := r.store.UpdateHashWithTTL(ctx, Key(id), fields, r.ttlFor(status)); err != nil {
		return fmt.Errorf("failed to update status record %s: %w", id, err)
	}
	return nil
}

// Get returns the current record or ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*model.StatusRecord, error) {
	fields, err := r.store.GetHash(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("failed to read status record %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return parseRecord(id, fields), nil
}

// Cleanup deletes records whose admission predates now-maxAge and returns
// the number deleted. It runs on its own schedule and never blocks the
// dispatch path. Running it twice with no new admissions deletes each
// record only once.
func (r *Registry) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := r.store.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to scan status records: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, key := range keys {
		fields, err := r.store.GetHash(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("failed to read %s during cleanup: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		enqueued := parseTime(fields[fieldEnqueuedAt])
		if enqueued.IsZero() || !enqueued.Before(cutoff) {
			continue
		}
		n, err := r.store.Delete(ctx, key)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete %s during cleanup: %w", key, err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// CountByStatus scans all records and groups them by status. O(n) over the
// registry: meant for operational dashboards, not hot-path decisions.
func (r *Registry) CountByStatus(ctx context.Context) (map[model.Status]int64, error) {
	keys, err := r.store.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to scan status records: %w", err)
	}

	counts := make(map[model.Status]int64)
	for _, key := range keys {
		fields, err := r.store.GetHash(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		counts[model.Status(fields[fieldStatus])]++
	}
	return counts, nil
}

func (r *Registry) ttlFor(status model.Status) time.Duration {
	switch status {
	case model.StatusFailed:
		// Kept longer for diagnosis.
		return 2 * r.cfg.BaseTTL
	case model.StatusSent:
		return r.cfg.SentTTL
	case model.StatusPending, model.StatusProcessing, model.StatusRetry:
		return r.cfg.BaseTTL
	default:
		return r.cfg.BaseTTL
	}
}

func parseRecord(id string, fields map[string]string) *model.StatusRecord {
	attempts, _ := strconv.Atoi(fields[fieldAttempts])
	return &model.StatusRecord{
		ID:               id,
		Status:           model.Status(fields[fieldStatus]),
		Attempts:         attempts,
		LastError:        fields[fieldLastError],
		ProviderResponse: fields[fieldProviderResponse],
		SentAt:           parseTime(fields[fieldSentAt]),
		EnqueuedAt:       parseTime(fields[fieldEnqueuedAt]),
		LastUpdate:       parseTime(fields[fieldLastUpdate]),
	}
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
