package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/aws/aws-sdk-go-v2/aws"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
)

// TopicClient is the subset of the SNS client used for topic creation.
type TopicClient interface {
	CreateTopic(ctx context.Context, params *amazonsns.CreateTopicInput, optFns ...func(*amazonsns.Options)) (*amazonsns.CreateTopicOutput, error)
}

// TopicAdmin creates SNS topics. CreateTopic is idempotent, so existing
// topics are returned unchanged.
type TopicAdmin struct {
	client TopicClient
	logger watermill.LoggerAdapter
}

// EnsureTopics creates every topic and returns once SNS has acknowledged all
// of them.
func (a *TopicAdmin) EnsureTopics(ctx context.Context, topics []string) error {
	var errs []error
	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := a.client.CreateTopic(ctx, &amazonsns.CreateTopicInput{Name: aws.String(topic)})
		if err != nil {
			errs = append(errs, fmt.Errorf("aws: create topic %q: %w", topic, err))
			continue
		}
		if a.logger != nil {
			a.logger.Debug("Ensured SNS topic", watermill.LogFields{
				"topic": topic,
				"arn":   aws.ToString(out.TopicArn),
			})
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; the SNS client holds no connection.
func (a *TopicAdmin) Close() error { return nil }
