package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/kemock/kem/internal/runtime/config"
	errspkg "github.com/kemock/kem/internal/runtime/errors"
	loggingpkg "github.com/kemock/kem/internal/runtime/logging"
	"github.com/kemock/kem/internal/runtime/operations"
	"github.com/kemock/kem/internal/runtime/routing"
	"github.com/kemock/kem/internal/runtime/schema"
	"github.com/kemock/kem/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
type ServiceDependencies struct {
	// Transports resolves PubSubSystem. Nil uses transport.DefaultRegistry.
	Transports *transport.Registry
	// RefLoader finds refs that are not declared inline. Nil reads Conf.RefsDir.
	RefLoader operations.RefLoader
	// Hooks are called around every emission.
	Hooks EmissionHooks
	// MetricsRegisterer receives the Prometheus collectors when metrics are
	// enabled. Nil uses the default registerer.
	MetricsRegisterer         prometheus.Registerer
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	DisableSignalHandler      bool                     // Skips the router plugin that closes on SIGINT/SIGTERM.
}

// Service wires the transport, routing table, executor and dispatcher around
// a Watermill router.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	transport  transport.Transport
	router     *message.Router
	table      *routing.Table
	executor   *Executor
	dispatcher *Dispatcher
	metrics    *Metrics
	registerer prometheus.Registerer

	handlers   []string
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	servers       []*http.Server

	closeOnce sync.Once
	closeErr  error
}

// NewService validates the configuration and event definitions and builds
// every collaborator. Nothing is published or consumed until Start.
func NewService(conf *configpkg.Config, defs *operations.Definitions, schemas *schema.Registry, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	switch {
	case conf == nil || defs == nil:
		return nil, errspkg.ErrConfigRequired
	case log == nil:
		return nil, errspkg.ErrLoggerRequired
	case schemas == nil:
		return nil, errspkg.ErrSchemaRegistryRequired
	}

	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	table, err := loadDefinitions(conf, defs, schemas, log, deps.RefLoader)
	if err != nil {
		return nil, err
	}

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating event service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"config":        conf.String(),
		})

	registry := deps.Transports
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	tr, err := registry.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	s := &Service{
		Conf:       conf,
		Logger:     log,
		transport:  tr,
		table:      table,
		registerer: deps.MetricsRegisterer,
	}

	hooks := deps.Hooks
	if conf.MetricsEnabled {
		s.metrics = NewMetrics(deps.MetricsRegisterer)
		if err := s.metrics.Register(); err != nil {
			s.closeTransport()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		hooks = hooks.Merge(MetricsHooks(s.metrics))
	}

	s.executor, err = NewExecutor(ExecutorConfig{
		ClientID:           conf.ClientID,
		StartupGracePeriod: conf.StartupGracePeriod,
		MinRepeatInterval:  conf.MinRepeatInterval,
	}, tr, schemas, log, hooks)
	if err != nil {
		s.closeTransport()
		return nil, err
	}
	s.dispatcher = NewDispatcher(table, s.executor, log, s.metrics)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		s.closeTransport()
		return nil, err
	}
	s.router = router
	if !deps.DisableSignalHandler {
		s.router.AddPlugin(plugin.SignalsHandler)
	}

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		s.closeTransport()
		return nil, err
	}
	s.registerControlAPI()

	logRoutingSummary(log, table)
	return s, nil
}

// loadDefinitions resolves refs, builds the routing table and checks that
// every producer names a registered schema type.
func loadDefinitions(conf *configpkg.Config, defs *operations.Definitions, schemas *schema.Registry, log loggingpkg.ServiceLogger, loader operations.RefLoader) (*routing.Table, error) {
	defs.Normalize()
	if loader == nil {
		loader = operations.DirRefLoader{Dir: conf.RefsDir}
	}
	if err := defs.ResolveRefs(loader); err != nil {
		return nil, err
	}

	table, err := routing.Build(defs.Topics, defs.Producers, defs.Consumers)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, p := range defs.Producers {
		if p == nil {
			continue
		}
		namespace, name := p.SchemaName()
		if _, err := schemas.Lookup(namespace, name); err != nil {
			errs = append(errs, errspkg.NewConfigError(p.OperationID, "record", errspkg.ErrUnknownSchemaType, err.Error()))
			continue
		}
		if p.Legacy() {
			log.Info("Producer uses the deprecated properties form", loggingpkg.LogFields{
				"operation_id": p.OperationID,
			})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return table, nil
}

func logRoutingSummary(log loggingpkg.ServiceLogger, table *routing.Table) {
	ids := func(ps []*operations.ProducerOperation) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.OperationID)
		}
		return out
	}
	log.Info("Routing table built", loggingpkg.LogFields{
		"topics":              table.Topics(),
		"consumer_topics":     table.ConsumerTopics(),
		"startup_producers":   ids(table.StartupProducers()),
		"triggered_producers": ids(table.TriggeredProducers()),
	})
}

// Start creates missing topics, subscribes the consumers, fires the startup
// producers and runs until ctx is cancelled. The service is closed on return.
func (s *Service) Start(ctx context.Context) error {
	if s.transport.Admin != nil {
		if err := s.transport.Admin.EnsureTopics(ctx, s.table.Topics()); err != nil {
			return errors.Join(fmt.Errorf("ensure topics: %w", err), s.Close())
		}
	}

	names, err := s.dispatcher.Subscribe(s.router, s.transport.Subscriber)
	if err != nil {
		return errors.Join(err, s.Close())
	}
	s.handlersMu.Lock()
	s.handlers = names
	s.handlersMu.Unlock()

	s.startHTTPServers()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- routerRun(s.router, runCtx)
	}()

	select {
	case <-s.router.Running():
	case err := <-errCh:
		return errors.Join(err, s.Close())
	}

	if s.transport.Start != nil {
		if err := s.transport.Start(); err != nil {
			cancel()
			return errors.Join(err, <-errCh, s.Close())
		}
	}

	s.fireStartupProducers(runCtx)

	err = <-errCh
	return errors.Join(err, s.Close())
}

func (s *Service) fireStartupProducers(ctx context.Context) {
	for _, p := range s.table.StartupProducers() {
		if err := s.executor.Execute(ctx, p, TriggerStartup); err != nil {
			s.Logger.Error("Failed to schedule startup producer", err, loggingpkg.LogFields{
				"operation_id": p.OperationID,
			})
		}
	}
}

// Close stops the executor, the router and the transport. It is safe to call
// more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.executor != nil {
			errs = append(errs, s.executor.Close())
		}
		if s.router != nil {
			errs = append(errs, s.router.Close())
		}
		s.stopHTTPServers()
		errs = append(errs, s.closeTransport())
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *Service) closeTransport() error {
	var errs []error
	if s.transport.Admin != nil {
		errs = append(errs, s.transport.Admin.Close())
	}
	if s.transport.Subscriber != nil {
		errs = append(errs, s.transport.Subscriber.Close())
	}
	if s.transport.Publisher != nil {
		errs = append(errs, s.transport.Publisher.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Executor returns the producer executor.
func (s *Service) Executor() *Executor { return s.executor }

// Table returns the routing table.
func (s *Service) Table() *routing.Table { return s.table }

// Dispatcher returns the consumer dispatcher.
func (s *Service) Dispatcher() *Dispatcher { return s.dispatcher }

// Metrics returns the emission metrics, or nil when metrics are disabled.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Transport returns the broker transport.
func (s *Service) Transport() transport.Transport { return s.transport }

// Handlers returns the names of the registered router handlers.
func (s *Service) Handlers() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return append([]string(nil), s.handlers...)
}

// RegisterHTTPHandler mounts handler on the server listening on port. Servers
// start with the service.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (s *Service) stopHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for _, srv := range s.servers {
		_ = srv.Close()
	}
	s.servers = nil
}
