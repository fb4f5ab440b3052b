package email

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/provider"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Sender delivers email notifications over SMTP.
type Sender struct {
	dialer  *gomail.Dialer
	from    string
	timeout time.Duration
}

func NewSender(cfg Config) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		timeout: cfg.Timeout,
	}
}

func (s *Sender) Send(ctx context.Context, env *model.Envelope) (*provider.Result, error) {
	if _, err := mail.ParseAddress(env.Payload.Recipient); err != nil {
		return nil, provider.Permanent("invalid email recipient %q: %v", env.Payload.Recipient, err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", env.Payload.Recipient)
	msg.SetHeader("Subject", env.Payload.Subject)
	msg.SetBody("text/plain", env.Payload.Content)

	// gomail has no context support; run the dial-and-send under our own
	// timeout so a stuck SMTP conversation cannot wedge a worker.
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("smtp send failed: %w", err)
		}
		return &provider.Result{Response: "smtp accepted"}, nil
	case <-time.After(s.timeout):
		return nil, fmt.Errorf("smtp send timed out after %s", s.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
