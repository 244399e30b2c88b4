package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/kemock/kem/internal/runtime/errors"
	idspkg "github.com/kemock/kem/internal/runtime/ids"
	loggingpkg "github.com/kemock/kem/internal/runtime/logging"
	"github.com/kemock/kem/internal/runtime/materialize"
	"github.com/kemock/kem/internal/runtime/metadata"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/internal/runtime/schema"
	"github.com/kemock/kem/transport"
)

const tracerName = "github.com/kemock/kem/runtime"

// Trigger tells the executor what fired a producer.
type Trigger int

const (
	// TriggerStartup fires producers no consumer launches, once the engine is
	// listening.
	TriggerStartup Trigger = iota
	// TriggerEvent fires producers launched by a consumed message.
	TriggerEvent
	// TriggerManual fires a producer on request through Service.Trigger.
	TriggerManual
)

func (t Trigger) String() string {
	switch t {
	case TriggerEvent:
		return "event"
	case TriggerManual:
		return "manual"
	}
	return "startup"
}

// ExecutorConfig holds the scheduling settings of the executor.
type ExecutorConfig struct {
	// ClientID prefixes dedicated publisher client ids.
	ClientID string
	// StartupGracePeriod is the minimum initial delay of startup producers.
	StartupGracePeriod time.Duration
	// MinRepeatInterval is the smallest interval treated as repeating.
	MinRepeatInterval time.Duration
}

type schedulePlan struct {
	initialDelay time.Duration
	interval     time.Duration
	repeat       bool
}

// planSchedule derives when a producer emits. Startup producers wait at least
// the grace period; an interval below MinRepeatInterval means a single
// emission.
func planSchedule(p *operations.ProducerOperation, trigger Trigger, conf ExecutorConfig) schedulePlan {
	plan := schedulePlan{initialDelay: p.Delay()}
	if trigger == TriggerStartup && plan.initialDelay < conf.StartupGracePeriod {
		plan.initialDelay = conf.StartupGracePeriod
	}
	if interval := p.Interval(); interval > 0 && interval >= conf.MinRepeatInterval {
		plan.interval = interval
		plan.repeat = true
	}
	return plan
}

// Executor schedules and performs producer emissions. It is safe for
// concurrent use; scheduled emissions run on their own goroutines.
type Executor struct {
	conf      ExecutorConfig
	transport transport.Transport
	schemas   *schema.Registry
	logger    loggingpkg.ServiceLogger
	hooks     EmissionHooks
	tracer    trace.Tracer
	now       func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	scopes     map[string]scope
	publishers map[string]*publisherEntry
	clients    int
	owned      []message.Publisher
}

// publisherEntry is the publisher of one operation. ready is closed once pub
// or err is set.
type publisherEntry struct {
	ready chan struct{}
	pub   message.Publisher
	err   error
}

type scope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewExecutor creates an executor publishing through tr.
func NewExecutor(conf ExecutorConfig, tr transport.Transport, schemas *schema.Registry, logger loggingpkg.ServiceLogger, hooks EmissionHooks) (*Executor, error) {
	if schemas == nil {
		return nil, errspkg.ErrSchemaRegistryRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if tr.Publisher == nil && tr.NewPublisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}

	base, cancel := context.WithCancel(context.Background())
	return &Executor{
		conf:       conf,
		transport:  tr,
		schemas:    schemas,
		logger:     logger,
		hooks:      hooks,
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		base:       base,
		cancel:     cancel,
		scopes:     make(map[string]scope),
		publishers: make(map[string]*publisherEntry),
	}, nil
}

// Execute schedules p and returns without waiting for the emission. ctx
// supplies values such as the trace and correlation id; the schedule itself
// lives until Cancel or Close.
func (e *Executor) Execute(ctx context.Context, p *operations.ProducerOperation, trigger Trigger) error {
	if p == nil {
		return errors.New("producer operation is required")
	}
	plan := planSchedule(p, trigger, e.conf)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errspkg.ErrExecutorClosed
	}
	sc, ok := e.scopes[p.OperationID]
	if !ok {
		sc.ctx, sc.cancel = context.WithCancel(e.base)
		e.scopes[p.OperationID] = sc
	}
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.Debug("Scheduled producer", loggingpkg.LogFields{
		"operation_id":  p.OperationID,
		"trigger":       trigger.String(),
		"initial_delay": plan.initialDelay.String(),
		"repeat_every":  plan.interval.String(),
	})

	go e.run(sc.ctx, context.WithoutCancel(ctx), p, trigger, plan)
	return nil
}

func (e *Executor) run(ctx, values context.Context, p *operations.ProducerOperation, trigger Trigger, plan schedulePlan) {
	defer e.wg.Done()

	timer := time.NewTimer(plan.initialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	_ = e.Emit(values, p, trigger)

	if !plan.repeat {
		return
	}
	ticker := time.NewTicker(plan.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.Emit(values, p, trigger)
		}
	}
}

// Emit materializes, encodes and publishes one record for p right away.
// Failures are logged and reported to the hooks before being returned.
func (e *Executor) Emit(ctx context.Context, p *operations.ProducerOperation, trigger Trigger) error {
	ec := EmissionContext{
		OperationID: p.OperationID,
		Topic:       p.Topic,
		Trigger:     trigger,
		StartedAt:   e.now(),
	}
	e.hooks.start(ec)

	ctx, span := e.tracer.Start(ctx, "kem.emit",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("kem.operation_id", p.OperationID),
			attribute.String("messaging.destination.name", p.Topic),
			attribute.String("kem.trigger", trigger.String()),
		),
	)
	defer span.End()

	msg, rec, err := e.buildMessage(ctx, p, trigger, ec.StartedAt)
	if err == nil {
		ec.MessageUUID = msg.UUID
		err = e.publish(p, msg)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Error("Producer emission failed", err, loggingpkg.LogFields{
			"operation_id": p.OperationID,
			"topic":        p.Topic,
		})
		e.hooks.finish(ec, err)
		return err
	}

	e.logger.Info("Producer sent message", loggingpkg.LogFields{
		"operation_id": p.OperationID,
		"topic":        p.Topic,
		"message_uuid": msg.UUID,
		"record":       rec.String(),
	})
	e.hooks.finish(ec, nil)
	return nil
}

// BuildMessage materializes p and encodes it the way Emit would, without
// publishing.
func (e *Executor) BuildMessage(ctx context.Context, p *operations.ProducerOperation) (*message.Message, error) {
	msg, _, err := e.buildMessage(ctx, p, TriggerEvent, e.now())
	return msg, err
}

func (e *Executor) buildMessage(ctx context.Context, p *operations.ProducerOperation, trigger Trigger, at time.Time) (*message.Message, *schema.Record, error) {
	rec, err := e.materialize(p)
	if err != nil {
		return nil, nil, err
	}

	key, err := EncodeKey(p.KeySerializer, p.Key)
	if err != nil {
		return nil, nil, err
	}
	enc, err := NewValueEncoder(p.ValueSerializer, e.schemas)
	if err != nil {
		return nil, nil, err
	}
	payload, err := enc.Encode(rec)
	if err != nil {
		return nil, nil, err
	}

	serializer, _ := operations.NormalizeValueSerializer(p.ValueSerializer)
	md := metadata.New(
		metadata.KeyMessageKey, string(key),
		metadata.KeyOperationID, p.OperationID,
		metadata.KeySchema, rec.Type().FullName(),
		metadata.KeyValueSerializer, serializer,
		metadata.KeyTrigger, trigger.String(),
	).WithTimestamp(at)
	if id := correlationIDFrom(ctx); id != "" {
		md = md.With(metadata.KeyCorrelationID, id)
	}

	msg := message.NewMessage(idspkg.NewMessageIDAt(at), payload)
	msg.Metadata = metadata.ToWatermill(md)
	msg.SetContext(ctx)
	return msg, rec, nil
}

func (e *Executor) materialize(p *operations.ProducerOperation) (*schema.Record, error) {
	namespace, name := p.SchemaName()
	typ, err := e.schemas.Lookup(namespace, name)
	if err != nil {
		return nil, err
	}
	if p.Legacy() {
		return materialize.Properties(typ, p.Properties.Values)
	}
	return materialize.Map(typ, p.Record.Value)
}

func (e *Executor) publish(p *operations.ProducerOperation, msg *message.Message) error {
	pub, err := e.publisherFor(p.OperationID)
	if err == nil {
		err = pub.Publish(p.Topic, msg)
	}
	if err != nil {
		return &errspkg.PublishError{OperationID: p.OperationID, Topic: p.Topic, Err: err}
	}
	return nil
}

// publisherFor returns the cached publisher of an operation, creating it on
// first use. The n-th dedicated publisher gets client id "<ClientID>-<n>".
// Creation runs outside e.mu; concurrent first uses of one operation wait for
// the same entry. A failed creation is retried on the next call.
func (e *Executor) publisherFor(operationID string) (message.Publisher, error) {
	e.mu.Lock()
	if entry, ok := e.publishers[operationID]; ok {
		e.mu.Unlock()
		<-entry.ready
		return entry.pub, entry.err
	}
	if e.closed {
		e.mu.Unlock()
		return nil, errspkg.ErrExecutorClosed
	}
	e.clients++
	clientID := fmt.Sprintf("%s-%d", e.conf.ClientID, e.clients)
	entry := &publisherEntry{ready: make(chan struct{})}
	e.publishers[operationID] = entry
	e.mu.Unlock()

	pub, owned, err := e.transport.PublisherFor(clientID)

	e.mu.Lock()
	switch {
	case err != nil:
		delete(e.publishers, operationID)
	case owned && e.closed:
		_ = pub.Close()
		pub, err = nil, errspkg.ErrExecutorClosed
		delete(e.publishers, operationID)
	case owned:
		e.owned = append(e.owned, pub)
	}
	entry.pub, entry.err = pub, err
	close(entry.ready)
	e.mu.Unlock()

	if err == nil && owned {
		e.logger.Debug("Created producer client", loggingpkg.LogFields{
			"operation_id": operationID,
			"client_id":    clientID,
		})
	}
	return pub, err
}

// Cancel stops every pending and repeating schedule of an operation. Later
// calls to Execute start new schedules.
func (e *Executor) Cancel(operationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sc, ok := e.scopes[operationID]; ok {
		sc.cancel()
		delete(e.scopes, operationID)
	}
}

// Close stops all schedules, waits for running emissions and closes the
// dedicated publishers. The shared transport publisher is left open.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancel()
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, pub := range e.owned {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.owned = nil
	return errors.Join(errs...)
}

type correlationIDKey struct{}

// WithCorrelationID returns a context whose emissions carry id as their
// correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func correlationIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}
