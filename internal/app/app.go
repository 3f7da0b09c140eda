// Package app wires the pieces together: config, logging, storage, the
// task engine, the commit scheduler, the GitHub client, and the HTTP
// surface.
package app

import (
	"context"
	"time"

	"kcommit/internal/config"
	"kcommit/internal/eventbus"
	"kcommit/internal/github"
	"kcommit/internal/httpapi"
	"kcommit/internal/observability/pprof"
	"kcommit/internal/runtime/supervisor"
	"kcommit/internal/schedule"
	"kcommit/internal/storage"
	"kcommit/internal/task/engine"
	logx "kcommit/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	engine *engine.Service
	sched  *schedule.Service
	gh     *github.Client
	api    *httpapi.Server
	prof   *pprof.Service

	schedEnabled bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	ghCfg, err := mapGitHubConfig(cfg)
	if err != nil {
		return nil, err
	}
	gh := github.New(ghCfg, log.With(logx.String("comp", "github")))

	schedCfg, err := mapScheduleConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := schedule.New(schedCfg, store, gh,
		engineSvc, log.With(logx.String("comp", "schedule")), bus)

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		return nil, err
	}
	api := httpapi.New(srvCfg, store, gh, schedSvc, log.With(logx.String("comp", "http")))

	profCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	prof := pprof.New(profCfg, log.With(logx.String("comp", "pprof")))

	return &App{
		cfgPath:      cfgPath,
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		engine:       engineSvc,
		sched:        schedSvc,
		gh:           gh,
		api:          api,
		prof:         prof,
		schedEnabled: cfg.Scheduler.Enabled,
	}, nil
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	a.engine.Start(a.sup.Context())

	if a.schedEnabled {
		a.sched.Start(a.sup.Context())
		if err := a.sched.Restore(ctx); err != nil {
			return err
		}
	} else {
		a.log.Warn("scheduler disabled by config; no commits will be planned")
	}

	a.sup.Go("http.serve", func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() { done <- a.api.Start() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.api.Stop(sctx)
			<-done
			return nil
		}
	})

	a.sup.Go("http.janitor", func(ctx context.Context) error {
		a.api.Janitor(ctx)
		return nil
	})

	if a.prof.Enabled() {
		a.prof.Start(a.sup.Context())
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.sup.Go("config.watch", a.cfgm.Watch)

	updates := a.cfgm.Subscribe(1)
	a.sup.Go("config.apply", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.log.Info("kcommit started")
	return nil
}

// applyConfig handles the hot-reloadable subset: log level/sinks and the
// scheduler knobs. Server address, storage driver, and OAuth credentials
// need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if schedCfg, err := mapScheduleConfig(cfg); err == nil {
		a.sched.Apply(schedCfg)
	} else {
		a.log.Warn("scheduler config not applied", logx.Err(err))
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.sched.Stop(ctx)
	a.engine.Stop(ctx)
	a.prof.Stop(ctx)

	var firstErr error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if n := a.bus.Dropped(); n > 0 {
		a.log.Warn("events dropped during run", logx.Any("count", n))
	}
	a.log.Info("kcommit stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}
