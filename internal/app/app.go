// Package app wires the supervisor with the configured worker
// and the status surfaces around it.
package app

import (
	"context"
	"sync"

	"github.com/lancer-kit/keeper"
	"github.com/lancer-kit/keeper/admin"
	"github.com/lancer-kit/keeper/config"
	"github.com/lancer-kit/keeper/metrics"
	"github.com/lancer-kit/keeper/presets"
	"github.com/lancer-kit/keeper/presets/api"
	"github.com/lancer-kit/keeper/presets/command"
	"github.com/lancer-kit/keeper/presets/schedule"
	"github.com/lancer-kit/keeper/socket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// App is the keeper process: the bot supervisor plus the service socket
// and the admin API, each of them running under its own supervisor.
// App implements `host.Supervised`.
type App struct {
	cfg    *config.Config
	info   keeper.AppInfo
	logger *logrus.Entry

	bot      *keeper.Supervisor
	aux      []*keeper.Supervisor
	registry *prometheus.Registry

	mu    sync.Mutex
	auxOn bool
}

// New builds the App from the validated config.
func New(cfg *config.Config, info keeper.AppInfo, logger *logrus.Entry) (*App, error) {
	policy, err := cfg.Restart.Policy()
	if err != nil {
		return nil, errors.Wrap(err, "invalid restart policy")
	}

	factory, err := WorkerFactory(cfg.Worker, logger.WithField("worker", cfg.Worker.Name))
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, info: info, logger: logger}

	handlers := []keeper.EventHandler{eventHandler(cfg.Log, logger)}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector := metrics.NewCollector(cfg.Metrics.Namespace)
		if err := collector.Register(a.registry); err != nil {
			return nil, errors.Wrap(err, "unable to register metrics")
		}
		handlers = append(handlers, collector.Handle)
	}

	a.bot = keeper.NewSupervisor(factory,
		keeper.WithName(cfg.Worker.Name),
		keeper.WithRestartPolicy(policy),
		keeper.WithStopTimeout(cfg.StopTimeout),
		keeper.WithEventHandler(keeper.MultiEventHandler(handlers...)),
	)

	if cfg.Socket.Enabled {
		a.aux = append(a.aux, a.auxSupervisor("socket", a.socketWorker()))
	}
	if cfg.Admin.Enabled {
		a.aux = append(a.aux, a.auxSupervisor("admin", a.adminWorker()))
	}
	return a, nil
}

// WorkerFactory creates the bot worker of the configured kind.
func WorkerFactory(cfg config.Worker, logger *logrus.Entry) (keeper.WorkerFactory, error) {
	switch cfg.Kind {
	case config.KindCommand:
		return func() keeper.Worker {
			return command.NewWorker(cfg.Command, logger)
		}, nil
	case config.KindSchedule:
		return func() keeper.Worker {
			return schedule.NewWorker(cfg.Schedule, func(ctx context.Context) error {
				run := command.NewWorker(cfg.Command, logger)
				if err := run.Init(); err != nil {
					return err
				}
				return run.Run(ctx)
			})
		}, nil
	default:
		return nil, errors.Errorf("unknown worker kind %q", cfg.Kind)
	}
}

// Bot returns the supervisor of the bot worker.
func (a *App) Bot() *keeper.Supervisor { return a.bot }

// SocketPath returns the path of the service socket.
func (a *App) SocketPath() string {
	return SocketPath(a.cfg, a.info)
}

// SocketPath resolves the service socket path from the config.
func SocketPath(cfg *config.Config, info keeper.AppInfo) string {
	if cfg.Socket.Path != "" {
		return cfg.Socket.Path
	}
	return info.SocketName()
}

// Start launches the status surfaces and the bot worker.
func (a *App) Start() error {
	a.startAux()
	if err := a.bot.Start(); err != nil {
		a.stopAux()
		return err
	}
	return nil
}

// Stop stops the bot worker and then the status surfaces.
func (a *App) Stop() error {
	err := a.bot.Stop()
	a.stopAux()
	return err
}

// Failed is closed when the bot supervisor fails.
func (a *App) Failed() <-chan struct{} { return a.bot.Failed() }

func (a *App) Err() error { return a.bot.Err() }

func (a *App) startAux() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.auxOn {
		return
	}
	for _, sup := range a.aux {
		if err := sup.Start(); err != nil {
			a.logger.WithError(err).WithField("worker", sup.Name()).Error("unable to start")
		}
	}
	a.auxOn = true
}

func (a *App) stopAux() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.auxOn {
		return
	}
	for i := len(a.aux) - 1; i >= 0; i-- {
		if err := a.aux[i].Stop(); err != nil {
			a.logger.WithError(err).WithField("worker", a.aux[i].Name()).Error("unable to stop")
		}
	}
	a.auxOn = false
}

func (a *App) auxSupervisor(name string, factory keeper.WorkerFactory) *keeper.Supervisor {
	return keeper.NewSupervisor(factory,
		keeper.WithName(name),
		keeper.WithStopTimeout(a.cfg.StopTimeout),
		keeper.WithEventHandler(eventHandler(a.cfg.Log, a.logger.WithField("worker", name))),
	)
}

func (a *App) socketWorker() keeper.WorkerFactory {
	path := a.SocketPath()
	actions := a.bot.SocketActions(a.info)
	return presets.WorkerFunc(func(ctx context.Context) error {
		srv := socket.NewServer(path, actions...)
		go func() {
			for {
				select {
				case err := <-srv.Errors():
					a.logger.WithError(err).Warn("service socket request failed")
				case <-ctx.Done():
					return
				}
			}
		}()
		return srv.Serve(ctx)
	}).Factory()
}

func (a *App) adminWorker() keeper.WorkerFactory {
	opts := admin.Options{
		App:          a.info,
		AllowControl: a.cfg.Admin.AllowControl,
		Logger:       a.logger.WithField("worker", "admin"),
	}
	if a.registry != nil {
		opts.Gatherer = a.registry
	}
	router := admin.NewRouter(a.bot, opts)
	return func() keeper.Worker {
		return api.NewServer(a.cfg.Admin.Config, router)
	}
}
