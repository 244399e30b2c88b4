package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
)

// ClusterAdmin is the subset of sarama.ClusterAdmin used for topic management.
type ClusterAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

// pollInterval is how often topic visibility is rechecked after creation.
var pollInterval = 250 * time.Millisecond

// TopicAdmin creates missing topics with the configured partition count and
// replication factor. The admin connection is opened on first use.
type TopicAdmin struct {
	brokers     []string
	clientID    string
	partitions  int32
	replication int16
	waitTimeout time.Duration
	logger      watermill.LoggerAdapter

	mu    sync.Mutex
	admin ClusterAdmin
}

func (a *TopicAdmin) connect() (ClusterAdmin, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admin != nil {
		return a.admin, nil
	}
	cfg := sarama.NewConfig()
	if a.clientID != "" {
		cfg.ClientID = a.clientID + "-admin"
	}
	admin, err := AdminFactory(a.brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect cluster admin: %w", err)
	}
	a.admin = admin
	return admin, nil
}

// EnsureTopics creates every topic not yet present and waits until all of
// them are listed by the cluster. Topics created concurrently by another
// client are accepted.
func (a *TopicAdmin) EnsureTopics(ctx context.Context, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	admin, err := a.connect()
	if err != nil {
		return err
	}

	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("kafka: list topics: %w", err)
	}

	detail := &sarama.TopicDetail{
		NumPartitions:     max(a.partitions, 1),
		ReplicationFactor: max(a.replication, 1),
	}
	var errs []error
	for _, topic := range topics {
		if _, ok := existing[topic]; ok {
			continue
		}
		err := admin.CreateTopic(topic, detail, false)
		switch {
		case err == nil:
			a.log().Info("Created topic", watermill.LogFields{
				"topic":              topic,
				"partitions":         detail.NumPartitions,
				"replication_factor": detail.ReplicationFactor,
			})
		case errors.Is(err, sarama.ErrTopicAlreadyExists):
		default:
			errs = append(errs, fmt.Errorf("kafka: create topic %q: %w", topic, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return a.waitFor(ctx, admin, topics)
}

func (a *TopicAdmin) waitFor(ctx context.Context, admin ClusterAdmin, topics []string) error {
	if a.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.waitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		existing, err := admin.ListTopics()
		if err != nil {
			return fmt.Errorf("kafka: list topics: %w", err)
		}
		missing := missingTopics(existing, topics)
		if len(missing) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka: topics %v not available: %w", missing, ctx.Err())
		case <-ticker.C:
		}
	}
}

func missingTopics(existing map[string]sarama.TopicDetail, topics []string) []string {
	var missing []string
	for _, topic := range topics {
		if _, ok := existing[topic]; !ok {
			missing = append(missing, topic)
		}
	}
	sort.Strings(missing)
	return missing
}

func (a *TopicAdmin) log() watermill.LoggerAdapter {
	if a.logger == nil {
		return watermill.NopLogger{}
	}
	return a.logger
}

// Close releases the admin connection if one was opened.
func (a *TopicAdmin) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admin == nil {
		return nil
	}
	err := a.admin.Close()
	a.admin = nil
	return err
}
