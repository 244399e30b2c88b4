// Package transporttest provides stubs for exercising transport builders
// without a broker.
package transporttest

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Config is a settable implementation of transport.Config.
type Config struct {
	PubSubSystem           string
	ClientID               string
	KafkaBrokers           []string
	KafkaConsumerGroup     string
	KafkaTopicPartitions   int32
	KafkaReplicationFactor int16
	TopicWaitTimeout       time.Duration
	RabbitMQURL            string
	NATSURL                string
	HTTPServerAddress      string
	HTTPPublisherURL       string
	AWSRegion              string
	AWSAccountID           string
	AWSAccessKeyID         string
	AWSSecretAccessKey     string
	AWSEndpoint            string
}

func (c *Config) GetPubSubSystem() string            { return c.PubSubSystem }
func (c *Config) GetClientID() string                { return c.ClientID }
func (c *Config) GetKafkaBrokers() []string          { return c.KafkaBrokers }
func (c *Config) GetKafkaConsumerGroup() string      { return c.KafkaConsumerGroup }
func (c *Config) GetKafkaTopicPartitions() int32     { return c.KafkaTopicPartitions }
func (c *Config) GetKafkaReplicationFactor() int16   { return c.KafkaReplicationFactor }
func (c *Config) GetTopicWaitTimeout() time.Duration { return c.TopicWaitTimeout }
func (c *Config) GetRabbitMQURL() string             { return c.RabbitMQURL }
func (c *Config) GetNATSURL() string                 { return c.NATSURL }
func (c *Config) GetHTTPServerAddress() string       { return c.HTTPServerAddress }
func (c *Config) GetHTTPPublisherURL() string        { return c.HTTPPublisherURL }
func (c *Config) GetAWSRegion() string               { return c.AWSRegion }
func (c *Config) GetAWSAccountID() string            { return c.AWSAccountID }
func (c *Config) GetAWSAccessKeyID() string          { return c.AWSAccessKeyID }
func (c *Config) GetAWSSecretAccessKey() string      { return c.AWSSecretAccessKey }
func (c *Config) GetAWSEndpoint() string             { return c.AWSEndpoint }

// Publisher records published messages.
type Publisher struct {
	mu        sync.Mutex
	published map[string][]*message.Message
	closed    bool
	Err       error
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.published == nil {
		p.published = make(map[string][]*message.Message)
	}
	p.published[topic] = append(p.published[topic], messages...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Published returns a copy of the messages published to topic.
func (p *Publisher) Published(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.published[topic]...)
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber returns closed channels.
type Subscriber struct {
	mu     sync.Mutex
	topics []string
}

func (s *Subscriber) Subscribe(_ context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	s.topics = append(s.topics, topic)
	s.mu.Unlock()
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *Subscriber) Close() error { return nil }

// Topics returns the topics subscribed to so far.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}
