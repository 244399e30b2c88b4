// Package kafka provides the Kafka transport: keyed publishing, one producer
// connection per client id, and topic creation through the cluster admin API.
package kafka

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/kemock/kem/internal/runtime/metadata"
	"github.com/kemock/kem/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// AdminFactory allows overriding the cluster admin creation for testing.
var AdminFactory = func(brokers []string, cfg *sarama.Config) (ClusterAdmin, error) {
	return sarama.NewClusterAdmin(brokers, cfg)
}

// Register adds the transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

func init() {
	Register()
}

// Build creates a new Kafka transport. The shared publisher uses the
// configured client id as is; NewPublisher creates producers with their own
// client id.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, fmt.Errorf("kafka: no brokers configured")
	}
	marshaler := keyMarshaler()

	newPublisher := func(clientID string) (message.Publisher, error) {
		return PublisherFactory(
			kafka.PublisherConfig{
				Brokers:               brokers,
				Marshaler:             marshaler,
				OverwriteSaramaConfig: publisherSaramaConfig(clientID),
			},
			logger,
		)
	}

	publisher, err := newPublisher(cfg.GetClientID())
	if err != nil {
		return transport.Transport{}, err
	}

	subscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	if clientID := cfg.GetClientID(); clientID != "" {
		subscriberConfig.ClientID = clientID
	}
	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           marshaler,
			ConsumerGroup:         cfg.GetKafkaConsumerGroup(),
			OverwriteSaramaConfig: subscriberConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		NewPublisher: newPublisher,
		Admin: &TopicAdmin{
			brokers:     brokers,
			clientID:    cfg.GetClientID(),
			partitions:  cfg.GetKafkaTopicPartitions(),
			replication: cfg.GetKafkaReplicationFactor(),
			waitTimeout: cfg.GetTopicWaitTimeout(),
			logger:      logger,
		},
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

var publisherCount atomic.Int64

func publisherSaramaConfig(clientID string) *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	if clientID == "" {
		clientID = fmt.Sprintf("kem-publisher-%d", publisherCount.Add(1))
	}
	cfg.ClientID = clientID
	return cfg
}

// keyMarshaler partitions by the encoded message key carried in metadata and
// sets the record timestamp to the emission time. Messages without a key get
// an empty record key.
func keyMarshaler() kafka.MarshalerUnmarshaler {
	return recordMarshaler{
		MarshalerUnmarshaler: kafka.NewWithPartitioningMarshaler(func(topic string, msg *message.Message) (string, error) {
			return msg.Metadata.Get(metadata.KeyMessageKey), nil
		}),
	}
}

type recordMarshaler struct {
	kafka.MarshalerUnmarshaler
}

func (m recordMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	pm, err := m.MarshalerUnmarshaler.Marshal(topic, msg)
	if err != nil {
		return nil, err
	}
	if ts, ok := metadata.FromWatermill(msg.Metadata).Timestamp(); ok {
		pm.Timestamp = ts
	}
	return pm, nil
}
