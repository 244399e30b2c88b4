// Package operations holds the configured producer and consumer definitions
// and their load-time checks.
package operations

import (
	"errors"
	"fmt"
	"strings"
	"time"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
)

// Kind distinguishes the two operation variants.
type Kind int

const (
	KindUnknown Kind = iota
	KindProducer
	KindConsumer
)

func (k Kind) String() string {
	switch k {
	case KindProducer:
		return "producer"
	case KindConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// Key serializers.
const (
	KeyString = "string"
	KeyLong   = "long"
	KeyJSON   = "json"
)

// Value serializers. Avro is the default.
const (
	ValueAvro     = "avro"
	ValueJSON     = "json"
	ValueProtobuf = "protobuf"
)

// Operation is the part shared by producers and consumers.
type Operation struct {
	OperationID         string `yaml:"operationId" json:"operationId"`
	Topic               string `yaml:"topic" json:"topic"`
	DelayMs             int64  `yaml:"delayMs,omitempty" json:"delayMs,omitempty"`
	FixedScheduleTimeMs int64  `yaml:"fixedScheduleTimeMs,omitempty" json:"fixedScheduleTimeMs,omitempty"`
}

func (o Operation) Delay() time.Duration { return time.Duration(o.DelayMs) * time.Millisecond }

func (o Operation) Interval() time.Duration {
	return time.Duration(o.FixedScheduleTimeMs) * time.Millisecond
}

func (o Operation) validate() []error {
	var errs []error
	if strings.TrimSpace(o.OperationID) == "" {
		errs = append(errs, errspkg.NewConfigError("", "operationId", errspkg.ErrMissingRequiredField, "topic "+o.Topic))
	}
	if strings.TrimSpace(o.Topic) == "" {
		errs = append(errs, errspkg.NewConfigError(o.OperationID, "topic", errspkg.ErrMissingRequiredField, ""))
	}
	if o.DelayMs < 0 {
		errs = append(errs, errspkg.NewConfigError(o.OperationID, "delayMs", errspkg.ErrInvalidField, "must not be negative"))
	}
	if o.FixedScheduleTimeMs < 0 {
		errs = append(errs, errspkg.NewConfigError(o.OperationID, "fixedScheduleTimeMs", errspkg.ErrInvalidField, "must not be negative"))
	}
	return errs
}

// RecordSpec is the canonical payload form: a nested mapping for a schema
// type, or a reference to a named fragment.
type RecordSpec struct {
	Namespace string         `yaml:"namespace" json:"namespace"`
	Name      string         `yaml:"name" json:"name"`
	Value     map[string]any `yaml:"value,omitempty" json:"value,omitempty"`
	Ref       string         `yaml:"ref,omitempty" json:"ref,omitempty"`
}

// PropertiesSpec is the legacy payload form: a flat bag with dotted keys.
type PropertiesSpec struct {
	Namespace string         `yaml:"namespace" json:"namespace"`
	Name      string         `yaml:"name" json:"name"`
	Values    map[string]any `yaml:"values" json:"values"`
}

// ProducerOperation emits records of one schema type to its topic.
type ProducerOperation struct {
	Operation       `yaml:",inline"`
	KeySerializer   string          `yaml:"keySerializer" json:"keySerializer"`
	ValueSerializer string          `yaml:"valueSerializer,omitempty" json:"valueSerializer,omitempty"`
	Key             string          `yaml:"key,omitempty" json:"key,omitempty"`
	Record          *RecordSpec     `yaml:"record,omitempty" json:"record,omitempty"`
	Properties      *PropertiesSpec `yaml:"properties,omitempty" json:"properties,omitempty"`
}

// Legacy reports whether the payload uses the flat properties form.
func (p *ProducerOperation) Legacy() bool { return p.Record == nil && p.Properties != nil }

// SchemaName returns the namespace and name of the payload type.
func (p *ProducerOperation) SchemaName() (namespace, name string) {
	if p.Record != nil {
		return p.Record.Namespace, p.Record.Name
	}
	if p.Properties != nil {
		return p.Properties.Namespace, p.Properties.Name
	}
	return "", ""
}

// Validate checks required fields and serializer names. All problems are
// reported together.
func (p *ProducerOperation) Validate() error {
	errs := p.validate()
	id := p.OperationID

	if strings.TrimSpace(p.KeySerializer) == "" {
		errs = append(errs, errspkg.NewConfigError(id, "keySerializer", errspkg.ErrMissingRequiredField, ""))
	} else if _, ok := NormalizeKeySerializer(p.KeySerializer); !ok {
		errs = append(errs, errspkg.NewConfigError(id, "keySerializer", errspkg.ErrInvalidField,
			fmt.Sprintf("unsupported key serializer %q", p.KeySerializer)))
	}
	if _, ok := NormalizeValueSerializer(p.ValueSerializer); !ok {
		errs = append(errs, errspkg.NewConfigError(id, "valueSerializer", errspkg.ErrInvalidField,
			fmt.Sprintf("unsupported value serializer %q", p.ValueSerializer)))
	}

	switch {
	case p.Record != nil && p.Properties != nil:
		errs = append(errs, errspkg.NewConfigError(id, "record", errspkg.ErrInvalidField,
			"record and properties are mutually exclusive"))
	case p.Record != nil:
		if p.Record.Namespace == "" {
			errs = append(errs, errspkg.NewConfigError(id, "record.namespace", errspkg.ErrMissingRequiredField, ""))
		}
		if p.Record.Name == "" {
			errs = append(errs, errspkg.NewConfigError(id, "record.name", errspkg.ErrMissingRequiredField, ""))
		}
		if p.Record.Value == nil && p.Record.Ref == "" {
			errs = append(errs, errspkg.NewConfigError(id, "record.value", errspkg.ErrMissingRequiredField,
				"one of record.value or record.ref is required"))
		}
	case p.Properties != nil:
		if p.Properties.Namespace == "" {
			errs = append(errs, errspkg.NewConfigError(id, "properties.namespace", errspkg.ErrMissingRequiredField, ""))
		}
		if p.Properties.Name == "" {
			errs = append(errs, errspkg.NewConfigError(id, "properties.name", errspkg.ErrMissingRequiredField, ""))
		}
	default:
		errs = append(errs, errspkg.NewConfigError(id, "record", errspkg.ErrMissingRequiredField, ""))
	}
	return errors.Join(errs...)
}

// ConsumerOperation triggers producers when a message arrives on its topic.
type ConsumerOperation struct {
	Operation          `yaml:",inline"`
	LaunchOperationIDs []string `yaml:"launchOperationIds" json:"launchOperationIds"`
}

// Validate checks required fields.
func (c *ConsumerOperation) Validate() error {
	errs := c.validate()
	for i, id := range c.LaunchOperationIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, errspkg.NewConfigError(c.OperationID, fmt.Sprintf("launchOperationIds[%d]", i),
				errspkg.ErrMissingRequiredField, ""))
		}
	}
	return errors.Join(errs...)
}

// Normalize drops repeated launch ids, keeping the first occurrence.
func (c *ConsumerOperation) Normalize() {
	seen := make(map[string]struct{}, len(c.LaunchOperationIDs))
	out := c.LaunchOperationIDs[:0]
	for _, id := range c.LaunchOperationIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	c.LaunchOperationIDs = out
}

// NormalizeKeySerializer maps a key serializer name, or the Kafka client
// class name it stands for, to one of the Key constants.
func NormalizeKeySerializer(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == KeyString || strings.HasSuffix(n, ".stringserializer"):
		return KeyString, true
	case n == KeyLong || strings.HasSuffix(n, ".longserializer"):
		return KeyLong, true
	case n == KeyJSON:
		return KeyJSON, true
	}
	return "", false
}

// NormalizeValueSerializer maps a value serializer name to one of the Value
// constants. Empty means avro.
func NormalizeValueSerializer(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case n == "" || n == ValueAvro || strings.HasSuffix(n, ".kafkaavroserializer"):
		return ValueAvro, true
	case n == ValueJSON:
		return ValueJSON, true
	case n == ValueProtobuf || n == "proto":
		return ValueProtobuf, true
	}
	return "", false
}
