package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kemock/kem/transport"
	"github.com/kemock/kem/transport/transporttest"
)

func TestRegister(t *testing.T) {
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsReliableDelivery())
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

type fakeTopicClient struct {
	created []string
	fail    map[string]error
}

func (f *fakeTopicClient) CreateTopic(_ context.Context, in *amazonsns.CreateTopicInput, _ ...func(*amazonsns.Options)) (*amazonsns.CreateTopicOutput, error) {
	name := aws.ToString(in.Name)
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	f.created = append(f.created, name)
	return &amazonsns.CreateTopicOutput{TopicArn: aws.String("arn:aws:sns:us-east-1:000000000000:" + name)}, nil
}

type stubs struct {
	loaderOpts int
	resolverID string
	pubConfig  sns.PublisherConfig
	subConfig  sns.SubscriberConfig
	topics     *fakeTopicClient
}

func stubFactories(t *testing.T) *stubs {
	t.Helper()
	originalLoader := DefaultConfigLoader
	originalResolver := TopicResolverFactory
	originalPub := PublisherFactory
	originalSub := SubscriberFactory
	originalTopics := TopicClientFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalLoader
		TopicResolverFactory = originalResolver
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
		TopicClientFactory = originalTopics
	})

	s := &stubs{topics: &fakeTopicClient{}}
	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		s.loaderOpts = len(opts)
		return aws.Config{Region: "eu-west-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		s.resolverID = accountID
		return sns.NewGenerateArnTopicResolver(accountID, region)
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		s.pubConfig = cfg
		return &transporttest.Publisher{}, nil
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		s.subConfig = cfg
		return &transporttest.Subscriber{}, nil
	}
	TopicClientFactory = func(aws.Config, ...func(*amazonsns.Options)) TopicClient {
		return s.topics
	}
	return s
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with region override", func(t *testing.T) {
		s := stubFactories(t)

		cfg := &transporttest.Config{
			AWSRegion:          "us-east-1",
			AWSAccountID:       "123456789012",
			AWSAccessKeyID:     "key",
			AWSSecretAccessKey: "secret",
			KafkaConsumerGroup: "kem",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		assert.Equal(t, 2, s.loaderOpts, "region and credentials options")
		assert.Equal(t, "us-east-1", s.pubConfig.AWSConfig.Region)
		assert.Empty(t, s.pubConfig.OptFns)
		assert.Equal(t, "123456789012", s.resolverID)
		require.NotNil(t, tr.Admin)

		name, err := s.subConfig.GenerateSqsQueueName(context.Background(), "arn:aws:sns:us-east-1:123456789012:users")
		require.NoError(t, err)
		assert.Equal(t, "users-kem", name)
	})

	t.Run("localstack endpoint", func(t *testing.T) {
		s := stubFactories(t)

		cfg := &transporttest.Config{AWSRegion: "us-east-1", AWSEndpoint: "http://localhost:4566"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)

		assert.Equal(t, localstackAccountID, s.resolverID)
		assert.Len(t, s.pubConfig.OptFns, 1)
		assert.Len(t, s.subConfig.OptFns, 1)
	})

	t.Run("rejects relative endpoint", func(t *testing.T) {
		stubFactories(t)
		_, err := Build(context.Background(), &transporttest.Config{AWSEndpoint: "localhost"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "absolute URL")
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		stubFactories(t)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "config error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		stubFactories(t)
		pub := &transporttest.Publisher{}
		PublisherFactory = func(sns.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(sns.SubscriberConfig, sqs.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &transporttest.Config{AWSRegion: "us-east-1", AWSAccountID: "123456789012"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.Closed())
	})
}

func TestTopicAdmin(t *testing.T) {
	client := &fakeTopicClient{fail: map[string]error{"denied": errors.New("access denied")}}
	admin := &TopicAdmin{client: client, logger: watermill.NopLogger{}}

	err := admin.EnsureTopics(context.Background(), []string{"users", "denied", "audit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"denied"`)
	assert.Equal(t, []string{"users", "audit"}, client.created)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, admin.EnsureTopics(ctx, []string{"late"}), context.Canceled)
	assert.NoError(t, admin.Close())
}

func TestResolveAccountID(t *testing.T) {
	logger := watermill.NopLogger{}
	assert.Equal(t, "123456789012", resolveAccountID(&transporttest.Config{AWSAccountID: `"123456789012"`}, logger))
	assert.Equal(t, "", resolveAccountID(&transporttest.Config{}, logger))
	assert.Equal(t, localstackAccountID, resolveAccountID(&transporttest.Config{AWSAccountID: "bad", AWSEndpoint: "http://l:4566"}, logger))
}
