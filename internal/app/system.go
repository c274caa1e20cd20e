// Package app wires the legion components into one running system.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/legion/legion/pkg/activity"
	"github.com/legion/legion/pkg/config"
	"github.com/legion/legion/pkg/ecrr"
	"github.com/legion/legion/pkg/events"
	"github.com/legion/legion/pkg/logging"
	"github.com/legion/legion/pkg/manifest"
	"github.com/legion/legion/pkg/metrics"
	"github.com/legion/legion/pkg/mission"
	"github.com/legion/legion/pkg/models"
	"github.com/legion/legion/pkg/registry"
	"github.com/legion/legion/pkg/spawner"
	"github.com/legion/legion/pkg/store"
	"github.com/legion/legion/pkg/swarm"
	"github.com/legion/legion/pkg/tracing"
)

// System holds every wired component
type System struct {
	Config  config.SystemConfig
	Logger  logging.Logger
	Store   store.Store
	Bus     events.Bus
	Metrics metrics.Collector
	Tracing *tracing.Provider
	Emitter *events.Emitter

	Activity *activity.Log
	Registry *registry.Manager
	Missions *mission.Tracker
	Spawner  *spawner.Spawner
	Swarms   *swarm.Coordinator
	Deployer *swarm.Deployer
	Presets  *manifest.PresetStore
	Pipeline *ecrr.Pipeline
}

type options struct {
	logger      logging.Logger
	store       store.Store
	bus         events.Bus
	traceWriter io.Writer
	source      string
}

// Option overrides a component normally built from configuration
type Option func(*options)

// WithLogger sets the logger instead of building one from config
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore uses st instead of opening the configured driver
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithBus uses bus instead of the configured Kafka bus
func WithBus(bus events.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithTraceWriter sets where exported spans are written
func WithTraceWriter(w io.Writer) Option {
	return func(o *options) { o.traceWriter = w }
}

// WithSource names the process in published events
func WithSource(source string) Option {
	return func(o *options) { o.source = source }
}

// New connects the configured backends and wires the components.
// Anything opened before a failure is closed again.
func New(ctx context.Context, cfg config.SystemConfig, opts ...Option) (_ *System, err error) {
	o := options{source: "legion"}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sys := &System{Config: cfg, Logger: o.logger}
	defer func() {
		if err != nil {
			_ = sys.Close(context.WithoutCancel(ctx))
		}
	}()

	if sys.Logger == nil {
		sys.Logger = logging.NewZapLogger(cfg.LoggerConfig())
	}
	log := sys.Logger

	sys.Metrics = metrics.Discard{}
	if cfg.Metrics.Enabled {
		collector := metrics.NewPrometheusCollector()
		if err := collector.RegisterStandardMetrics(); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		sys.Metrics = collector
	}

	if sys.Tracing, err = tracing.Setup(cfg.Tracing, o.traceWriter); err != nil {
		return nil, err
	}

	sys.Store = o.store
	if sys.Store == nil {
		if sys.Store, err = store.Open(ctx, cfg.Store); err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
		}
	}

	sys.Bus = o.bus
	if sys.Bus == nil {
		sys.Bus, err = openBus(ctx, cfg.Events, log)
		if err != nil {
			return nil, err
		}
	}
	sys.Emitter = events.NewEmitter(sys.Bus, o.source, log, sys.Metrics,
		events.WithBreaker(events.NewBreaker(cfg.Events.Breaker)),
	)

	sys.Activity = activity.New(sys.Store, sys.Emitter)
	sys.Registry = registry.NewManager(sys.Store, sys.Activity,
		registry.WithLogger(log),
		registry.WithMetrics(sys.Metrics),
	)
	sys.Missions = mission.NewTracker(sys.Store, sys.Registry, sys.Activity,
		mission.WithEmitter(sys.Emitter),
		mission.WithMetrics(sys.Metrics),
		mission.WithLogger(log),
	)
	sys.Swarms = swarm.NewCoordinator(sys.Store, sys.Registry, sys.Activity,
		swarm.WithMissions(sys.Missions),
		swarm.WithEmitter(sys.Emitter),
		swarm.WithMetrics(sys.Metrics),
		swarm.WithLogger(log),
	)
	sys.Spawner = spawner.New(sys.Registry,
		spawner.WithSwarmRegistrar(sys.Swarms),
		spawner.WithEmitter(sys.Emitter),
		spawner.WithMetrics(sys.Metrics),
		spawner.WithLogger(log),
		spawner.WithConcurrency(cfg.Spawner.Concurrency),
	)

	var presetPaths []string
	if cfg.Presets.Dir != "" {
		presetPaths = []string{cfg.Presets.Dir}
	}
	if sys.Presets, err = manifest.NewPresetStore(presetPaths, manifest.WithLogger(log)); err != nil {
		return nil, fmt.Errorf("failed to load presets: %w", err)
	}
	sys.Deployer = swarm.NewDeployer(sys.Spawner, sys.Swarms,
		swarm.WithPresets(sys.Presets),
		swarm.WithDeployerLogger(log),
	)

	sys.Pipeline = ecrr.NewPipeline(sys.Spawner,
		ecrr.WithStore(sys.Store),
		ecrr.WithHistoryLimit(cfg.Pipeline.HistoryLimit),
		ecrr.WithActivity(sys.Activity),
		ecrr.WithEmitter(sys.Emitter),
		ecrr.WithMetrics(sys.Metrics),
		ecrr.WithTracer(sys.Tracing.Tracer()),
		ecrr.WithLogger(log),
	)

	log.Info("legion system ready",
		logging.String("environment", cfg.System.Environment),
		logging.String("store", cfg.Store.Driver),
		logging.Bool("events", cfg.Events.Enabled),
		logging.Bool("metrics", cfg.Metrics.Enabled),
		logging.Bool("tracing", cfg.Tracing.Enabled),
	)
	return sys, nil
}

func openBus(ctx context.Context, cfg events.Config, log logging.Logger) (events.Bus, error) {
	if !cfg.Enabled {
		return events.NopBus{}, nil
	}
	bus := events.NewKafkaBus(cfg)
	if err := bus.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect event bus: %w", err)
	}
	log.Info("event bus connected", logging.Any("brokers", cfg.Brokers))
	return bus, nil
}

// Execute runs the ECRR pipeline, filling the depth and deployment settings
// the request leaves out from configuration
func (s *System) Execute(ctx context.Context, req ecrr.Request) models.PipelineRun {
	if req.Depth == "" {
		req.Depth = models.Depth(s.Config.Pipeline.DefaultDepth)
	}
	if req.Deployment == nil {
		dc := s.Config.DeploymentConfig()
		req.Deployment = &dc
	}
	if req.Legion == nil {
		legion := models.DefaultLegionContext()
		agents, err := s.Registry.List(ctx, registry.Filter{})
		if err != nil {
			s.Logger.Warn("failed to count registered agents", logging.Err(err))
		}
		legion.CurrentAgents = len(agents)
		req.Legion = &legion
	}
	return s.Pipeline.Execute(ctx, req)
}

// Close releases every backend. It is safe on a partially built system.
func (s *System) Close(ctx context.Context) error {
	var errs []error
	if s.Presets != nil {
		errs = append(errs, s.Presets.Close())
	}
	if s.Bus != nil {
		errs = append(errs, s.Bus.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.Tracing != nil {
		errs = append(errs, s.Tracing.Shutdown(ctx))
	}
	if z, ok := s.Logger.(*logging.ZapLogger); ok {
		_ = z.Sync()
	}
	return errors.Join(errs...)
}
