package runtime

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/kemock/kem/internal/runtime/logging"
	"github.com/kemock/kem/internal/runtime/metadata"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/internal/runtime/routing"
)

// ProducerExecutor runs producer operations. *Executor implements it.
type ProducerExecutor interface {
	Execute(ctx context.Context, p *operations.ProducerOperation, trigger Trigger) error
}

// DispatcherState reports whether the dispatcher has registered its handlers.
type DispatcherState int32

const (
	StateIdle DispatcherState = iota
	StateListening
)

func (s DispatcherState) String() string {
	if s == StateListening {
		return "listening"
	}
	return "idle"
}

// Dispatcher routes consumed messages to the producers their consumers
// launch. It only reads the routing table and is safe for concurrent use.
type Dispatcher struct {
	table    *routing.Table
	executor ProducerExecutor
	logger   loggingpkg.ServiceLogger
	metrics  *Metrics
	tracer   trace.Tracer
	state    atomic.Int32
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(table *routing.Table, executor ProducerExecutor, logger loggingpkg.ServiceLogger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		table:    table,
		executor: executor,
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer(tracerName),
	}
}

// State returns the current dispatcher state.
func (d *Dispatcher) State() DispatcherState {
	return DispatcherState(d.state.Load())
}

// HandlerName is the router handler name used for a consumed topic.
func HandlerName(topic string) string {
	return "dispatch-" + topic
}

// Subscribe registers one handler per consumed topic on router. It returns
// the handler names in topic order.
func (d *Dispatcher) Subscribe(router *message.Router, subscriber message.Subscriber) ([]string, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	if subscriber == nil {
		return nil, errors.New("subscriber is required")
	}

	topics := d.table.ConsumerTopics()
	names := make([]string, 0, len(topics))
	for _, topic := range topics {
		name := HandlerName(topic)
		router.AddNoPublisherHandler(name, topic, subscriber, d.handler(topic))
		names = append(names, name)
	}
	d.state.Store(int32(StateListening))
	d.logger.Info("Consumers subscribed", loggingpkg.LogFields{"topics": topics})
	return names, nil
}

func (d *Dispatcher) handler(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()
		if id := msg.Metadata.Get(metadata.KeyCorrelationID); id != "" {
			ctx = WithCorrelationID(ctx, id)
		}
		d.Dispatch(ctx, topic, msg)
		return nil
	}
}

// Dispatch launches, in configuration order, every producer named by the
// consumers of topic and returns how many were launched. A topic nobody
// consumes launches nothing.
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, msg *message.Message) int {
	consumers := d.table.ConsumersForTopic(topic)
	if len(consumers) == 0 {
		return 0
	}

	ctx, span := d.tracer.Start(ctx, "kem.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.source.name", topic)),
	)
	defer span.End()
	if msg != nil {
		span.SetAttributes(attribute.String("messaging.message.id", msg.UUID))
	}

	launched := 0
	for _, c := range consumers {
		d.logger.Info("Consumer received message", loggingpkg.LogFields{
			"consumer":        c.OperationID,
			"topic":           topic,
			"next_operations": c.LaunchOperationIDs,
		})
		for _, id := range c.LaunchOperationIDs {
			p, ok := d.table.Producer(id)
			if !ok {
				continue
			}
			if err := d.executor.Execute(ctx, p, TriggerEvent); err != nil {
				d.logger.Error("Failed to launch producer", err, loggingpkg.LogFields{
					"consumer":     c.OperationID,
					"operation_id": id,
				})
				continue
			}
			if d.metrics != nil {
				d.metrics.observeDispatch(c.OperationID, topic, id)
			}
			launched++
		}
	}
	span.SetAttributes(attribute.Int("kem.launched", launched))
	return launched
}
