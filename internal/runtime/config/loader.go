package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kemock/kem/internal/runtime/operations"
)

// Document is a complete configuration file: runtime settings under
// "service" and operation definitions under "event".
type Document struct {
	Service Config                 `yaml:"service"`
	Event   operations.Definitions `yaml:"event"`
}

// LoadFile reads a YAML document. Relative RefsDir and SchemaDir entries are
// resolved against the file's directory; RefsDir defaults to "refs" there.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	base := filepath.Dir(path)
	if doc.Service.RefsDir == "" {
		doc.Service.RefsDir = "refs"
	}
	doc.Service.RefsDir = resolveRelative(base, doc.Service.RefsDir)
	if doc.Service.SchemaDir != "" {
		doc.Service.SchemaDir = resolveRelative(base, doc.Service.SchemaDir)
	}
	return doc, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &doc, nil
}

func resolveRelative(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides settings from KEM_* variables. Lists are comma
// separated and durations use time.ParseDuration syntax.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("KEM_PUBSUB_SYSTEM", &c.PubSubSystem)
	str("KEM_CLIENT_ID", &c.ClientID)
	list("KEM_KAFKA_BROKERS", &c.KafkaBrokers)
	str("KEM_KAFKA_CONSUMER_GROUP", &c.KafkaConsumerGroup)
	str("KEM_RABBITMQ_URL", &c.RabbitMQURL)
	str("KEM_NATS_URL", &c.NATSURL)
	str("KEM_HTTP_SERVER_ADDRESS", &c.HTTPServerAddress)
	str("KEM_HTTP_PUBLISHER_URL", &c.HTTPPublisherURL)
	str("KEM_AWS_REGION", &c.AWSRegion)
	str("KEM_AWS_ACCOUNT_ID", &c.AWSAccountID)
	str("KEM_AWS_ACCESS_KEY_ID", &c.AWSAccessKeyID)
	str("KEM_AWS_SECRET_ACCESS_KEY", &c.AWSSecretAccessKey)
	str("KEM_AWS_ENDPOINT", &c.AWSEndpoint)
	str("KEM_REFS_DIR", &c.RefsDir)
	str("KEM_SCHEMA_DIR", &c.SchemaDir)
	str("KEM_LOG_LEVEL", &c.LogLevel)
	str("KEM_LOG_FORMAT", &c.LogFormat)
	duration("KEM_STARTUP_GRACE_PERIOD", &c.StartupGracePeriod)
	duration("KEM_MIN_REPEAT_INTERVAL", &c.MinRepeatInterval)
	duration("KEM_TOPIC_WAIT_TIMEOUT", &c.TopicWaitTimeout)
	integer("KEM_METRICS_PORT", &c.MetricsPort)
	integer("KEM_CONTROL_PORT", &c.ControlPort)
	list("KEM_CONTROL_CORS_ALLOWED_ORIGINS", &c.ControlCORSAllowedOrigins)
	if v, ok := lookup("KEM_METRICS_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("KEM_METRICS_ENABLED: %w", err))
		} else {
			c.MetricsEnabled = b
		}
	}
	return errors.Join(errs...)
}
