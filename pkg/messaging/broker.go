package messaging

import (
	"context"
)

// Control topics understood by every process in the system. A shutdown
// message triggers a graceful drain; a maintenance message toggles the
// admission path.
const (
	TopicShutdown    = "system:shutdown"
	TopicMaintenance = "system:maintenance"
)

// MaintenanceSignal is the payload published on TopicMaintenance.
type MaintenanceSignal struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, topic string, message interface{}) error
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	Close() error
}
