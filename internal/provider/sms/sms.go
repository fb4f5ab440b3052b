package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/provider"
)

type Config struct {
	// BaseURL of the SMS gateway, e.g. https://api.twilio.com/2010-04-01.
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

// Sender delivers SMS notifications through a Twilio-style REST gateway.
type Sender struct {
	client     *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string
}

func NewSender(cfg Config) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
	}
}

func (s *Sender) Send(ctx context.Context, env *model.Envelope) (*provider.Result, error) {
	to := env.Payload.Recipient
	if !strings.HasPrefix(to, "+") {
		return nil, provider.Permanent("invalid sms recipient %q: must be E.164", to)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", env.Payload.Content)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", s.baseURL, s.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build sms request: %w", err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			SID string `json:"sid"`
		}
		_ = json.Unmarshal(body, &out)
		return &provider.Result{MessageID: out.SID, Response: "sms gateway accepted"}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// The gateway rejected the request itself; retrying the same
		// payload cannot succeed.
		return nil, provider.Permanent("sms gateway rejected request: %d %s", resp.StatusCode, string(body))
	default:
		return nil, fmt.Errorf("sms gateway error: %d %s", resp.StatusCode, string(body))
	}
}
