package runtime

import (
	"time"

	loggingpkg "github.com/kemock/kem/internal/runtime/logging"
)

// EmissionContext describes a single producer emission to hooks.
type EmissionContext struct {
	// OperationID is the producer operation that emitted.
	OperationID string
	// Topic is the destination topic.
	Topic string
	// MessageUUID is the id of the published message. It is empty when the
	// emission failed before the message was built.
	MessageUUID string
	// Trigger reports whether a startup schedule or a consumed message fired
	// the producer.
	Trigger Trigger
	// StartedAt is when the emission began.
	StartedAt time.Time
	// Duration is set in OnDone and OnError.
	Duration time.Duration
}

// EmissionHooks defines callbacks for the emission lifecycle.
// All hooks are optional - nil hooks are simply not called.
type EmissionHooks struct {
	// OnStart is called before the record is materialized.
	OnStart func(ctx EmissionContext)

	// OnDone is called once the broker accepted the message.
	OnDone func(ctx EmissionContext)

	// OnError is called when materialization, encoding or publishing fails.
	OnError func(ctx EmissionContext, err error)
}

// Merge combines two EmissionHooks. The hooks from other run after the hooks
// from h.
func (h EmissionHooks) Merge(other EmissionHooks) EmissionHooks {
	return EmissionHooks{
		OnStart: chainHooks(h.OnStart, other.OnStart),
		OnDone:  chainHooks(h.OnDone, other.OnDone),
		OnError: chainErrorHooks(h.OnError, other.OnError),
	}
}

func chainHooks(a, b func(EmissionContext)) func(EmissionContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EmissionContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(EmissionContext, error)) func(EmissionContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx EmissionContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h EmissionHooks) start(ctx EmissionContext) {
	if h.OnStart != nil {
		h.OnStart(ctx)
	}
}

func (h EmissionHooks) finish(ctx EmissionContext, err error) {
	ctx.Duration = time.Since(ctx.StartedAt)
	if err != nil {
		if h.OnError != nil {
			h.OnError(ctx, err)
		}
		return
	}
	if h.OnDone != nil {
		h.OnDone(ctx)
	}
}

// LoggingHooks returns hooks that log emission outcomes at debug level and
// failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) EmissionHooks {
	return EmissionHooks{
		OnDone: func(ctx EmissionContext) {
			logger.Debug("Emission completed", loggingpkg.LogFields{
				"operation_id": ctx.OperationID,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"trigger":      ctx.Trigger.String(),
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnError: func(ctx EmissionContext, err error) {
			logger.Error("Emission failed", err, loggingpkg.LogFields{
				"operation_id": ctx.OperationID,
				"topic":        ctx.Topic,
				"trigger":      ctx.Trigger.String(),
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that record emissions in m.
func MetricsHooks(m *Metrics) EmissionHooks {
	if m == nil {
		return EmissionHooks{}
	}
	return EmissionHooks{
		OnDone: func(ctx EmissionContext) {
			m.observeEmission(ctx, "ok")
		},
		OnError: func(ctx EmissionContext, _ error) {
			m.observeEmission(ctx, "error")
		},
	}
}
