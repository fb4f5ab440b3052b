package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/avikram/notify-service/internal/model"
)

// DeliveryArchive appends terminal delivery outcomes to Postgres,
// preserving history beyond the registry's TTL-governed retention.
type DeliveryArchive struct {
	db *sqlx.DB
}

func NewDeliveryArchive(db *sqlx.DB) *DeliveryArchive {
	return &DeliveryArchive{db: db}
}

const insertOutcome = `
	INSERT INTO delivery_outcomes (
		notification_id, channel, priority, recipient, status, attempts, detail, enqueued_at, resolved_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (notification_id) DO UPDATE SET
		status = EXCLUDED.status,
		attempts = EXCLUDED.attempts,
		detail = EXCLUDED.detail,
		resolved_at = EXCLUDED.resolved_at`

func (a *DeliveryArchive) Archive(ctx context.Context, env *model.Envelope, status model.Status, detail string) error {
	_, err := a.db.ExecContext(ctx, insertOutcome,
		env.ID,
		string(env.Channel),
		string(env.Priority),
		env.Payload.Recipient,
		string(status),
		env.Attempts,
		detail,
		env.EnqueuedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive outcome for %s: %w", env.ID, err)
	}
	return nil
}
