package mq

import "context"

// Message is one generic business message.
type Message struct {
	ID       string            // message id (e.g. Redis Stream ID)
	Topic    string            // topic (e.g. "attestation_events")
	Key      string            // partition key, also used for Kafka partitioning
	Payload  []byte            // message body (JSON)
	Metadata map[string]string // metadata
}

// Producer publishes messages.
type Producer interface {
	// Publish sends a message. key selects the partition; an empty key
	// means any partition.
	Publish(ctx context.Context, topic string, key string, payload []byte) error
}

// Consumer subscribes to topics.
type Consumer interface {
	// Subscribe registers a handler for a topic. A handler error leaves
	// the message unacknowledged.
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error

	// Close shuts the consumer down.
	Close() error
}
