package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired         = sterrors.New("kem: configuration is required")
	ErrLoggerRequired         = sterrors.New("kem: logger is required")
	ErrServiceRequired        = sterrors.New("kem: service is required")
	ErrPublisherRequired      = sterrors.New("kem: publisher is required")
	ErrSubscriberRequired     = sterrors.New("kem: subscriber is required")
	ErrTopicRequired          = sterrors.New("kem: topic is required")
	ErrSchemaRegistryRequired = sterrors.New("kem: schema registry is required")
	ErrExecutorClosed         = sterrors.New("kem: executor is closed")
	ErrUnknownProducer        = sterrors.New("kem: no producer with this operation id")

	// Configuration errors. They are fatal and abort startup.
	ErrDuplicateOperationID   = sterrors.New("kem: duplicate operation id")
	ErrUnknownTopic           = sterrors.New("kem: topic is not declared in the topic list")
	ErrMissingRequiredField   = sterrors.New("kem: required field is missing")
	ErrInvalidField           = sterrors.New("kem: field has an invalid value")
	ErrUnresolvedRef          = sterrors.New("kem: reference fragment not found")
	ErrUnknownLaunchOperation = sterrors.New("kem: launch operation is not a known producer")
	ErrUnknownSchemaType      = sterrors.New("kem: schema type is not registered")

	// Emission errors. They abandon a single emission.
	ErrUnsupportedSerializer = sterrors.New("kem: unsupported serializer")
	ErrNotARecord            = sterrors.New("kem: value is not a mapping")
	ErrNotASequence          = sterrors.New("kem: value is not a sequence or mapping")
)

// ConfigValidationError wraps errors reported by config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "kem: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// ConfigError reports an invalid operation definition. Err is one of the
// configuration sentinels above.
type ConfigError struct {
	OperationID string
	Field       string
	Err         error
	Detail      string
}

func (e *ConfigError) Error() string {
	msg := e.Err.Error()
	if e.OperationID != "" {
		msg += fmt.Sprintf(" (operation %q", e.OperationID)
		if e.Field != "" {
			msg += fmt.Sprintf(", field %q", e.Field)
		}
		msg += ")"
	} else if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError is a shorthand for building a ConfigError.
func NewConfigError(operationID, field string, err error, detail string) *ConfigError {
	return &ConfigError{OperationID: operationID, Field: field, Err: err, Detail: detail}
}

// CoercionError is returned when a raw value cannot be cast to a scalar field type.
type CoercionError struct {
	Field  string
	Target string
	Value  any
	Err    error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("kem: cannot coerce %v (%T) to %s for field %q", e.Value, e.Value, e.Target, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error { return e.Err }

// UnknownEnumSymbolError is returned when a raw value matches none of an enum's symbols.
type UnknownEnumSymbolError struct {
	Field   string
	Enum    string
	Symbol  any
	Symbols []string
}

func (e *UnknownEnumSymbolError) Error() string {
	return fmt.Sprintf("kem: unknown symbol %v for enum %s on field %q (allowed: %v)", e.Symbol, e.Enum, e.Field, e.Symbols)
}

// MaterializationError locates a failure inside a record being built.
type MaterializationError struct {
	Type string
	Path string
	Err  error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("kem: cannot materialize %s at %q: %v", e.Type, e.Path, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// PublishError is returned when the broker rejects an emission.
type PublishError struct {
	OperationID string
	Topic       string
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("kem: publish failed for operation %q on topic %q: %v", e.OperationID, e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
