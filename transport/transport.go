// Package transport defines the broker collaborator used by the engine. Each
// transport implementation (kafka, rabbitmq, aws, etc.) lives in its own
// sub-package and registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// NewPublisher, when set, creates a dedicated publisher identified by
	// clientID. Transports without per-client connections leave it nil and
	// every producer shares Publisher.
	NewPublisher func(clientID string) (message.Publisher, error)

	// Admin, when set, creates missing topics before the engine subscribes.
	Admin TopicAdmin

	// Start, when set, is called once every subscription is registered.
	Start func() error
}

// PublisherFor returns a dedicated publisher when the transport supports it,
// and the shared publisher otherwise. The boolean reports whether the caller
// owns the returned publisher and must close it.
func (t Transport) PublisherFor(clientID string) (message.Publisher, bool, error) {
	if t.NewPublisher == nil {
		return t.Publisher, false, nil
	}
	pub, err := t.NewPublisher(clientID)
	if err != nil {
		return nil, false, err
	}
	return pub, true, nil
}

// TopicAdmin manages topic existence on the broker.
type TopicAdmin interface {
	// EnsureTopics creates the missing topics and waits until all of them are
	// visible, or ctx is done.
	EnsureTopics(ctx context.Context, topics []string) error
	Close() error
}

// Builder is the function signature for creating a transport from config.
// Each transport package should provide a Builder function that can be registered.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// This interface allows transports to access only the config they need
// without depending on the full config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string
	// GetClientID returns the client id prefix used for connections.
	GetClientID() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string
	GetKafkaTopicPartitions() int32
	GetKafkaReplicationFactor() int16
	GetTopicWaitTimeout() time.Duration

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
