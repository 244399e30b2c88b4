package cli

import (
	"context"
	"errors"
	"io"

	"github.com/kemock/kem"
	"github.com/kemock/kem/transport/channel"
)

// logger builds the CLI logger. Flags win over the document; --verbose
// forces debug.
func logger(w io.Writer, opts *RootOptions, conf *kem.Config, fallbackLevel string) (kem.ServiceLogger, error) {
	level := conf.LogLevel
	if level == "" {
		level = fallbackLevel
	}
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	if opts.Verbose {
		level = "debug"
	}
	format := conf.LogFormat
	if opts.LogFormat != "" {
		format = opts.LogFormat
	}
	return kem.NewLogger(w, level, format)
}

// inspection is a document checked without touching the configured broker.
type inspection struct {
	env     *kem.Environment
	service *kem.Service
	// Producers whose payload could not be built or encoded.
	failures map[string]error
}

// inspectEnvironment builds a Service on the in-process channel transport,
// then builds one message per producer. The broker settings are still
// validated.
func inspectEnvironment(ctx context.Context, env *kem.Environment, log kem.ServiceLogger) (*inspection, error) {
	dry := env.Document.Service
	dry.ApplyDefaults()
	if err := dry.Validate(); err != nil {
		return nil, kem.ConfigValidationError{Err: err}
	}
	dry.PubSubSystem = channel.TransportName
	dry.MetricsEnabled = false
	dry.MetricsPort = 0

	transports := kem.NewTransportRegistry()
	transports.Register(channel.TransportName, channel.Build)

	svc, err := kem.NewService(&dry, &env.Document.Event, env.Schemas, log, ctx, kem.ServiceDependencies{
		Transports:                transports,
		DisableDefaultMiddlewares: true,
		DisableSignalHandler:      true,
	})
	if err != nil {
		return nil, err
	}
	defer svc.Close()

	out := &inspection{env: env, service: svc, failures: map[string]error{}}
	for _, p := range env.Document.Event.Producers {
		if _, err := svc.Executor().BuildMessage(ctx, p); err != nil {
			out.failures[p.OperationID] = err
		}
	}
	return out, nil
}

// err joins the producer failures in declaration order.
func (i *inspection) err() error {
	var errs []error
	for _, p := range i.env.Document.Event.Producers {
		if err, ok := i.failures[p.OperationID]; ok {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
