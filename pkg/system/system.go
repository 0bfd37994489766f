package system

import (
	"context"

	"github.com/BrobridgeOrg/emby-watchdog/pkg/configs"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/dispatcher"
	"github.com/BrobridgeOrg/emby-watchdog/pkg/watchdog"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var logger *zap.Logger = zap.NewNop()

type System struct {
	config   *configs.Config
	watchdog *watchdog.Watchdog
	registry *prometheus.Registry
	admin    *AdminServer
}

func New(lifecycle fx.Lifecycle, config *configs.Config, l *zap.Logger, d *dispatcher.Dispatcher) (*System, error) {

	logger = l.Named("System")

	system := &System{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	system.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	wd, err := watchdog.NewWatchdog(config, d,
		watchdog.WithLogger(l),
		watchdog.WithRegistry(system.registry),
	)
	if err != nil {
		return nil, err
	}
	system.watchdog = wd

	lifecycle.Append(
		fx.Hook{
			OnStart: func(ctx context.Context) error {
				return system.initialize(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return system.shutdown(ctx)
			},
		},
	)

	return system, nil
}

func (system *System) initialize(ctx context.Context) error {

	logger.Info("Initializing watchdog...")

	err := system.watchdog.Start(ctx)
	if err != nil {
		return err
	}

	if len(system.config.Metrics.Address) == 0 {
		return nil
	}

	system.admin = NewAdminServer(system.config.Metrics.Address)
	system.registerRoutes()

	err = system.admin.Start()
	if err != nil {
		system.watchdog.Stop(ctx)
		return err
	}

	return nil
}

func (system *System) shutdown(ctx context.Context) error {

	logger.Info("Shutting down...")

	if system.admin != nil {
		err := system.admin.Shutdown(ctx)
		if err != nil {
			logger.Warn("Admin server did not stop cleanly", zap.Error(err))
		}
	}

	return system.watchdog.Stop(ctx)
}
