package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avikram/notify-service/pkg/messaging"
)

// Broker is a Redis pub/sub implementation of messaging.Broker. It borrows
// the client owned by the process bootstrap instead of dialing its own
// connection, so its lifecycle follows the store client's.
type Broker struct {
	client *redis.Client
	logger *zerolog.Logger
}

func NewBroker(client *redis.Client, logger *zerolog.Logger) messaging.Broker {
	return &Broker{
		client: client,
		logger: logger,
	}
}

func (b *Broker) Publish(ctx context.Context, topic string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.client.Publish(ctx, topic, payload).Err()
}

func (b *Broker) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, topic)
	msgChan := make(chan []byte, 100)

	go func() {
		defer func() {
			pubsub.Close()
			close(msgChan)
		}()

		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn().Err(err).Str("topic", topic).Msg("pubsub receive failed")
				continue
			}
			select {
			case msgChan <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgChan, nil
}

// Close is a no-op: the underlying client belongs to the store bootstrap.
func (b *Broker) Close() error {
	return nil
}
