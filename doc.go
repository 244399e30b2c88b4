// Package kem is a mock Kafka environment. It reads a YAML document declaring
// topics, producers and consumers, and runs them against a real broker: each
// producer emits records of an Avro schema type built from its configured
// values, and each consumer launches producers when a message arrives on its
// topic.
//
// Producers that no consumer launches start on their own once the engine is
// listening, after a startup grace period (3s by default). A producer whose
// fixedScheduleTimeMs is at least the minimum repeat interval (5s by default)
// keeps emitting at that interval.
//
// The broker is selected by Config.PubSubSystem through the transport
// registry (Kafka, RabbitMQ, AWS SNS/SQS, NATS, HTTP, or Go Channels). Import
// github.com/kemock/kem/transport/transports to register all of them.
//
// # Payloads
//
// A producer's record is a nested mapping mirroring the schema, or a ref to a
// named fragment declared under event.refs or stored as refs/<name>.json next
// to the document. The older flat properties form with dotted keys is still
// read but cannot express maps or sequences. Values are encoded as Avro
// binary by default; json and protobuf (google.protobuf.Struct) are also
// supported.
//
// # Middleware
//
// Consumed messages pass through correlation ID injection, debug logging,
// OpenTelemetry tracing, Prometheus metrics and panic recovery. Custom
// middleware can be added via ServiceDependencies.Middlewares.
//
// # Emission Hooks
//
// EmissionHooks provides OnStart, OnDone, and OnError callbacks around every
// producer emission. LoggingHooks and MetricsHooks are ready-made.
package kem
