package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avikram/notify-service/internal/queue"
	"github.com/avikram/notify-service/internal/ratelimit"
	"github.com/avikram/notify-service/internal/registry"
	notificationService "github.com/avikram/notify-service/internal/service/notification"
	"github.com/avikram/notify-service/internal/store"
	"github.com/avikram/notify-service/pkg/logger"
	"github.com/avikram/notify-service/pkg/messaging"
)

type fakeBroker struct {
	published []messaging.MaintenanceSignal
	err       error
}

func (b *fakeBroker) Publish(_ context.Context, topic string, message interface{}) error {
	if b.err != nil {
		return b.err
	}
	if topic == messaging.TopicMaintenance {
		b.published = append(b.published, message.(messaging.MaintenanceSignal))
	}
	return nil
}

func (b *fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *fakeBroker) Close() error { return nil }

type nullStore struct{}

func (nullStore) PushHead(context.Context, string, []byte) error { return nil }

func (nullStore) PushTail(context.Context, string, []byte) error { return nil }

func (nullStore) ListLen(context.Context, string) (int64, error) { return 0, nil }

func (nullStore) Delete(context.Context, ...string) (int64, error) { return 0, nil }

func (nullStore) PopHead(context.Context, string, time.Duration) ([]byte, error) {
	return nil, store.ErrEmpty
}

func (nullStore) SetHashWithTTL(context.Context, string, map[string]string, time.Duration) error {
	return nil
}

func (nullStore) UpdateHashWithTTL(context.Context, string, map[string]string, time.Duration) (bool, error) {
	return false, nil
}

func (nullStore) GetHash(context.Context, string) (map[string]string, error) {
	return nil, nil
}

func (nullStore) ScanKeys(context.Context, string) ([]string, error) { return nil, nil }

func (nullStore) IncrWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 1, time.Minute, nil
}

func setup(t *testing.T, broker messaging.Broker) (*gin.Engine, *notificationService.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	svc := notificationService.NewService(
		queue.New(nullStore{}),
		registry.New(nullStore{}, registry.Config{}),
		ratelimit.New(nullStore{}, ratelimit.Config{}),
		log, nil,
	)

	r := gin.New()
	NewHandler(svc, broker).RegisterRoutes(r.Group("/api/v1"))
	return r, svc
}

func TestSetMaintenancePublishesAndAppliesLocally(t *testing.T) {
	broker := &fakeBroker{}
	r, svc := setup(t, broker)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/maintenance",
		strings.NewReader(`{"enabled":true,"reason":"store migration"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, broker.published, 1)
	assert.True(t, broker.published[0].Enabled)
	assert.Equal(t, "store migration", broker.published[0].Reason)
	assert.True(t, svc.Maintenance())
}

func TestSetMaintenanceBrokerFailureDoesNotApply(t *testing.T) {
	broker := &fakeBroker{err: errors.New("connection refused")}
	r, svc := setup(t, broker)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/maintenance",
		strings.NewReader(`{"enabled":true}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, svc.Maintenance())
}

func TestGetMaintenance(t *testing.T) {
	r, svc := setup(t, &fakeBroker{})
	svc.SetMaintenance(true)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/maintenance", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"maintenance":true`)
}
