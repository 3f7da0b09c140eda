package app

import (
	"time"

	"kcommit/internal/config"
	"kcommit/internal/github"
	"kcommit/internal/httpapi"
	"kcommit/internal/observability/pprof"
	"kcommit/internal/schedule"
	"kcommit/internal/storage"
	"kcommit/internal/task/engine"
)

// The map* helpers translate the file-level config (string durations,
// omitted fields) into each service's typed Config with defaults applied.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{}
	if e := cfg.TaskEngine; e != nil {
		out.Workers = e.Workers
		out.QueueSize = e.QueueSize
		out.HistorySize = e.HistorySize
		d, err := config.ParseDurationField("task_engine.default_timeout", e.DefaultTimeout)
		if err != nil {
			return engine.Config{}, err
		}
		out.DefaultTimeout = d
	}
	return out, nil
}

func mapGitHubConfig(cfg *config.Config) (github.Config, error) {
	timeout, err := config.ParseDurationOrDefault("github.timeout", cfg.GitHub.Timeout, 30*time.Second)
	if err != nil {
		return github.Config{}, err
	}
	return github.Config{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		APIBase:      cfg.GitHub.APIBase,
		OAuthBase:    cfg.GitHub.OAuthBase,
		Timeout:      timeout,
		RateLimit:    cfg.GitHub.RateLimit,
	}, nil
}

func mapScheduleConfig(cfg *config.Config) (schedule.Config, error) {
	fireTimeout, err := config.ParseDurationField("scheduler.fire_timeout", cfg.Scheduler.FireTimeout)
	if err != nil {
		return schedule.Config{}, err
	}
	return schedule.Config{
		Enabled:         cfg.Scheduler.Enabled,
		Timezone:        cfg.Scheduler.Timezone,
		MinPerDay:       cfg.Scheduler.MinPerDay,
		MaxPerDay:       cfg.Scheduler.MaxPerDay,
		WindowStartHour: cfg.Scheduler.WindowStartHour,
		WindowEndHour:   cfg.Scheduler.WindowEndHour,
		FireTimeout:     fireTimeout,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	p := cfg.Pprof
	if p == nil {
		return pprof.Config{}, nil
	}
	readTimeout, err := config.ParseDurationField("pprof.read_timeout", p.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	writeTimeout, err := config.ParseDurationField("pprof.write_timeout", p.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idleTimeout, err := config.ParseDurationField("pprof.idle_timeout", p.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              p.Enabled,
		Addr:                 p.Addr,
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	sessionTTL, err := config.ParseDurationOrDefault("server.session_ttl", cfg.Server.SessionTTL, 7*24*time.Hour)
	if err != nil {
		return httpapi.Config{}, err
	}
	readTimeout, err := config.ParseDurationOrDefault("server.read_timeout", cfg.Server.ReadTimeout, 15*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	writeTimeout, err := config.ParseDurationOrDefault("server.write_timeout", cfg.Server.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	idleTimeout, err := config.ParseDurationOrDefault("server.idle_timeout", cfg.Server.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:           cfg.Server.Addr,
		BaseURL:        cfg.Server.BaseURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SessionTTL:     sessionTTL,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		DefaultRepo:    cfg.GitHub.DefaultRepo,
	}, nil
}
