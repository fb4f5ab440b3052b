package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/provider"
)

type Config struct {
	// Endpoint of the push gateway, e.g. https://fcm.googleapis.com/fcm/send.
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
}

// Sender delivers push notifications through an FCM-style HTTP gateway.
// The recipient is the device registration token.
type Sender struct {
	client    *http.Client
	endpoint  string
	serverKey string
}

func NewSender(cfg Config) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{
		client:    &http.Client{Timeout: cfg.Timeout},
		endpoint:  cfg.Endpoint,
		serverKey: cfg.ServerKey,
	}
}

type pushMessage struct {
	To           string            `json:"to"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type pushNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

func (s *Sender) Send(ctx context.Context, env *model.Envelope) (*provider.Result, error) {
	if env.Payload.Recipient == "" {
		return nil, provider.Permanent("missing push device token")
	}

	body, err := json.Marshal(pushMessage{
		To: env.Payload.Recipient,
		Notification: pushNotification{
			Title: env.Payload.Subject,
			Body:  env.Payload.Content,
		},
		Data: env.Payload.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Authorization", "key="+s.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &provider.Result{Response: "push gateway accepted"}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, provider.Permanent("push gateway rejected request: %d %s", resp.StatusCode, string(respBody))
	default:
		return nil, fmt.Errorf("push gateway error: %d %s", resp.StatusCode, string(respBody))
	}
}
