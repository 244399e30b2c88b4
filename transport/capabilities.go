package transport

// Capabilities describes what a transport backend offers the engine.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsKeys indicates message keys reach the broker as partition keys.
	// Other transports carry the key only as metadata.
	SupportsKeys bool

	// SupportsTopicCreation indicates the transport provides a TopicAdmin.
	SupportsTopicCreation bool

	// SupportsClientIDs indicates each producer gets its own connection
	// identified by a client id.
	SupportsClientIDs bool

	// SupportsOrdering indicates messages within a partition/stream are
	// delivered in order.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the bundled transports.
var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	KafkaCapabilities = Capabilities{
		Name:                  "kafka",
		SupportsKeys:          true,
		SupportsTopicCreation: true,
		SupportsClientIDs:     true,
		SupportsOrdering:      true,
		SupportsAck:           true,
		MaxMessageSize:        1048576, // Default 1MB
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	NATSCapabilities = Capabilities{
		Name:              "nats",
		SupportsClientIDs: true,
		MaxMessageSize:    1048576, // Default 1MB
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		MaxMessageSize:   262144, // 256KB
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)
