package config

import (
	"fmt"
	"time"
)

// Validate rejects configs that cannot possibly run. Defaults are not
// filled in here; each consumer applies its own.
func (c *Config) Validate() error {
	if c.GitHub.ClientID == "" || c.GitHub.ClientSecret == "" {
		return fmt.Errorf("github: client_id and client_secret are required")
	}
	if _, err := ParseDurationField("github.timeout", c.GitHub.Timeout); err != nil {
		return err
	}
	if c.GitHub.RateLimit < 0 {
		return fmt.Errorf("github.rate_limit: must be >= 0")
	}

	for _, f := range []struct{ path, raw string }{
		{"server.session_ttl", c.Server.SessionTTL},
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"scheduler.fire_timeout", c.Scheduler.FireTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	s := c.Scheduler
	if s.MinPerDay < 0 || s.MaxPerDay < 0 {
		return fmt.Errorf("scheduler: commit counts must be >= 0")
	}
	if s.MinPerDay > 0 && s.MaxPerDay > 0 && s.MaxPerDay < s.MinPerDay {
		return fmt.Errorf("scheduler: max_per_day must be >= min_per_day")
	}
	if s.WindowStartHour < 0 || s.WindowStartHour > 23 || s.WindowEndHour < 0 || s.WindowEndHour > 24 {
		return fmt.Errorf("scheduler: window hours out of range")
	}
	if s.WindowStartHour != 0 && s.WindowEndHour != 0 && s.WindowEndHour <= s.WindowStartHour {
		return fmt.Errorf("scheduler: window_end_hour must be after window_start_hour")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	if e := c.TaskEngine; e != nil {
		if e.Workers < 0 || e.QueueSize < 0 || e.HistorySize < 0 {
			return fmt.Errorf("task_engine: values must be >= 0")
		}
		if _, err := ParseDurationField("task_engine.default_timeout", e.DefaultTimeout); err != nil {
			return err
		}
	}

	if p := c.Pprof; p != nil {
		for _, f := range []struct{ path, raw string }{
			{"pprof.read_timeout", p.ReadTimeout},
			{"pprof.write_timeout", p.WriteTimeout},
			{"pprof.idle_timeout", p.IdleTimeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}

	switch c.Storage.Driver {
	case "sqlite", "sqlite3", "memory", "mem":
	case "":
		return fmt.Errorf("storage.driver is required (sqlite or memory)")
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if (c.Storage.Driver == "sqlite" || c.Storage.Driver == "sqlite3") && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite driver")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	return nil
}
