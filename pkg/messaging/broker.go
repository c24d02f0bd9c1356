package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher is the publish-only half of Broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
