/*
Package runtime runs a mock Kafka environment: producers that emit typed
records on a schedule, and consumers that launch producers when a message
arrives on their topic.

# Architecture Overview

The runtime is built on top of Watermill. A Service owns one transport, one
router and the routing table derived from the event definitions.

## Core Service (service.go)

The Service struct is the central orchestrator that wires together:
  - Transport (publisher, subscriber, optional topic admin)
  - Routing table (routing/)
  - Producer executor
  - Consumer dispatcher on a Watermill router
  - Middleware chain and HTTP servers for metrics

Start ensures topics exist, subscribes the consumers, waits for the router
to run and then fires every producer no consumer launches.

## Executor (executor.go, serializer.go)

The executor schedules emissions. A startup producer waits at least the
startup grace period; an event producer waits only its own delay. An interval
at or above the minimum repeat interval repeats until the schedule is
cancelled. Each emission materializes the configured payload (materialize/),
encodes key and value, and publishes a message stamped with the reserved
metadata keys (metadata/).

## Dispatcher (dispatcher.go)

One router handler per consumed topic. Every consumer of the topic launches
its producers in order.

## Hooks and metrics (hooks.go, metrics.go)

EmissionHooks observe every emission. MetricsHooks feeds Prometheus counters;
the router itself is instrumented by the metrics middleware.

## Manual triggers and control API (trigger.go, control.go)

Trigger schedules a producer by operation id; EmitNow sends one message right
away. With a control port configured both are exposed over HTTP next to the
routing table and emission counters.

# Sub-packages

  - config/: Service configuration, YAML document loading and env overrides
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - materialize/: Records from configuration data
  - metadata/: Message metadata utilities
  - operations/: Producer and consumer definitions and ref resolution
  - routing/: Routing table
  - schema/: Avro schema registry and records

# Usage Example

	doc, err := config.LoadFile("kem.yaml")
	...
	schemas := schema.NewRegistry()
	if _, err := schemas.LoadDir(doc.Service.SchemaDir); err != nil {
		...
	}

	svc, err := runtime.NewService(&doc.Service, &doc.Event, schemas, logger, ctx, runtime.ServiceDependencies{})
	...
	err = svc.Start(ctx)
*/
package runtime
