package kem

import (
	"context"
	"fmt"

	runtimepkg "github.com/kemock/kem/internal/runtime"
	configpkg "github.com/kemock/kem/internal/runtime/config"
	errspkg "github.com/kemock/kem/internal/runtime/errors"
	idspkg "github.com/kemock/kem/internal/runtime/ids"
	jsoncodec "github.com/kemock/kem/internal/runtime/jsoncodec"
	loggingpkg "github.com/kemock/kem/internal/runtime/logging"
	"github.com/kemock/kem/internal/runtime/materialize"
	metadatapkg "github.com/kemock/kem/internal/runtime/metadata"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/internal/runtime/routing"
	"github.com/kemock/kem/internal/runtime/schema"
	"github.com/kemock/kem/transport"
)

type (
	Config              = configpkg.Config
	Document            = configpkg.Document
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Definitions       = operations.Definitions
	ProducerOperation = operations.ProducerOperation
	ConsumerOperation = operations.ConsumerOperation
	RecordSpec        = operations.RecordSpec
	PropertiesSpec    = operations.PropertiesSpec
	RefLoader         = operations.RefLoader
	DirRefLoader      = operations.DirRefLoader
	RoutingTable      = routing.Table

	SchemaRegistry = schema.Registry
	SchemaType     = schema.Type
	Record         = schema.Record

	Executor         = runtimepkg.Executor
	ExecutorConfig   = runtimepkg.ExecutorConfig
	Trigger          = runtimepkg.Trigger
	Dispatcher       = runtimepkg.Dispatcher
	DispatcherState  = runtimepkg.DispatcherState
	ProducerExecutor = runtimepkg.ProducerExecutor
	ValueEncoder     = runtimepkg.ValueEncoder

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Emission lifecycle hooks
	EmissionContext = runtimepkg.EmissionContext
	EmissionHooks   = runtimepkg.EmissionHooks

	Metrics        = runtimepkg.Metrics
	OperationStats = runtimepkg.OperationStats

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError  = errspkg.ConfigValidationError
	ConfigError            = errspkg.ConfigError
	CoercionError          = errspkg.CoercionError
	UnknownEnumSymbolError = errspkg.UnknownEnumSymbolError
	MaterializationError   = errspkg.MaterializationError
	PublishError           = errspkg.PublishError

	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
	TopicAdmin            = transport.TopicAdmin
)

const (
	TriggerStartup = runtimepkg.TriggerStartup
	TriggerEvent   = runtimepkg.TriggerEvent
	TriggerManual  = runtimepkg.TriggerManual

	HeaderCorrelationID = runtimepkg.HeaderCorrelationID

	StateIdle      = runtimepkg.StateIdle
	StateListening = runtimepkg.StateListening
)

var (
	NewService        = runtimepkg.NewService
	NewExecutor       = runtimepkg.NewExecutor
	NewDispatcher     = runtimepkg.NewDispatcher
	NewMetrics        = runtimepkg.NewMetrics
	WithCorrelationID = runtimepkg.WithCorrelationID
	EncodeKey         = runtimepkg.EncodeKey
	NewValueEncoder   = runtimepkg.NewValueEncoder
	ValidateConfig    = configpkg.ValidateConfig
	LoadFile          = configpkg.LoadFile
	ParseDocument     = configpkg.Parse
	BuildRoutingTable = routing.Build

	NewSchemaRegistry     = schema.NewRegistry
	MaterializeMap        = materialize.Map
	MaterializeProperties = materialize.Properties

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Emission lifecycle hooks
	LoggingHooks = runtimepkg.LoggingHooks
	MetricsHooks = runtimepkg.MetricsHooks

	// Transport registry. Import the implementations to register them:
	// _ "github.com/kemock/kem/transport/transports"
	DefaultTransportRegistry = transport.DefaultRegistry
	NewTransportRegistry     = transport.NewRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired         = errspkg.ErrConfigRequired
	ErrLoggerRequired         = errspkg.ErrLoggerRequired
	ErrPublisherRequired      = errspkg.ErrPublisherRequired
	ErrSchemaRegistryRequired = errspkg.ErrSchemaRegistryRequired
	ErrExecutorClosed         = errspkg.ErrExecutorClosed
	ErrUnknownProducer        = errspkg.ErrUnknownProducer
	ErrDuplicateOperationID   = errspkg.ErrDuplicateOperationID
	ErrUnknownTopic           = errspkg.ErrUnknownTopic
	ErrMissingRequiredField   = errspkg.ErrMissingRequiredField
	ErrInvalidField           = errspkg.ErrInvalidField
	ErrUnresolvedRef          = errspkg.ErrUnresolvedRef
	ErrUnknownLaunchOperation = errspkg.ErrUnknownLaunchOperation
	ErrUnknownSchemaType      = errspkg.ErrUnknownSchemaType
	ErrUnsupportedSerializer  = errspkg.ErrUnsupportedSerializer

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewLogger            = loggingpkg.New

	NewMetadata = metadatapkg.New

	NewMessageID = idspkg.NewMessageID
)

// Metadata keys stamped on every emitted message.
const (
	MetadataKeyMessageKey      = metadatapkg.KeyMessageKey
	MetadataKeyTimestamp       = metadatapkg.KeyTimestamp
	MetadataKeyOperationID     = metadatapkg.KeyOperationID
	MetadataKeySchema          = metadatapkg.KeySchema
	MetadataKeyValueSerializer = metadatapkg.KeyValueSerializer
	MetadataKeyTrigger         = metadatapkg.KeyTrigger
	MetadataKeyCorrelationID   = metadatapkg.KeyCorrelationID
)

// Environment is a loaded configuration document with its schemas.
type Environment struct {
	Document *Document
	Schemas  *SchemaRegistry
}

// LoadEnvironment reads the document at path, applies KEM_* overrides from
// lookup (nil means the process environment) and loads the .avsc files of
// the schema directory.
func LoadEnvironment(path string, lookup configpkg.LookupFunc) (*Environment, error) {
	doc, err := configpkg.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := doc.Service.ApplyEnv(lookup); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	schemas := schema.NewRegistry()
	if doc.Service.SchemaDir != "" {
		if _, err := schemas.LoadDir(doc.Service.SchemaDir); err != nil {
			return nil, fmt.Errorf("load schemas from %s: %w", doc.Service.SchemaDir, err)
		}
	}
	return &Environment{Document: doc, Schemas: schemas}, nil
}

// NewService builds a Service from the loaded environment.
func (e *Environment) NewService(ctx context.Context, log ServiceLogger, deps ServiceDependencies) (*Service, error) {
	return runtimepkg.NewService(&e.Document.Service, &e.Document.Event, e.Schemas, log, ctx, deps)
}
