package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/provider"
)

func smsEnvelope(to string) *model.Envelope {
	return &model.Envelope{
		ID:      "sms_1_abc",
		Channel: model.ChannelSMS,
		Payload: model.Payload{Recipient: to, Content: "your code is 1234"},
	}
}

func newTestSender(t *testing.T, handler http.HandlerFunc) *Sender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSender(Config{
		BaseURL:    srv.URL,
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+15550000",
	})
}

func TestSendAccepted(t *testing.T) {
	var gotPath, gotTo string
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseForm())
		gotTo = r.PostForm.Get("To")

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"SM42"}`))
	})

	res, err := s.Send(context.Background(), smsEnvelope("+15550100"))
	require.NoError(t, err)
	assert.Equal(t, "SM42", res.MessageID)
	assert.Equal(t, "/Accounts/AC123/Messages.json", gotPath)
	assert.Equal(t, "+15550100", gotTo)
}

func TestSendRejectedByGatewayIsPermanent(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"unknown number"}`))
	})

	_, err := s.Send(context.Background(), smsEnvelope("+15550100"))
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
}

func TestSendGatewayErrorIsTransient(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := s.Send(context.Background(), smsEnvelope("+15550100"))
	require.Error(t, err)
	assert.False(t, provider.IsPermanent(err))
}

func TestSendInvalidRecipientSkipsGateway(t *testing.T) {
	called := false
	s := newTestSender(t, func(http.ResponseWriter, *http.Request) {
		called = true
	})

	_, err := s.Send(context.Background(), smsEnvelope("not-a-number"))
	require.Error(t, err)
	assert.True(t, provider.IsPermanent(err))
	assert.False(t, called)
}
