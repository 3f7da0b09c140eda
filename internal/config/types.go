package config

// Config is the root document. Files may be JSON or YAML; unknown keys
// are rejected so typos surface at load time instead of being silently
// ignored.
type Config struct {
	Server    ServerConfig    `json:"server"`
	GitHub    GitHubConfig    `json:"github"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for fired jobs.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Storage StorageConfig `json:"storage"`

	Pprof *PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig controls the optional profiling server.
//
// Prefer binding to localhost; a non-loopback addr needs a token or an
// explicit allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr string `json:"addr"` // default ":8080"

	// BaseURL is the externally reachable origin, used to build the OAuth
	// redirect and webhook URLs (e.g. "https://kcommit.example.com").
	BaseURL string `json:"base_url"`

	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	// SessionTTL is a Go duration string. Default "168h" (7 days).
	SessionTTL string `json:"session_ttl,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`  // default "15s"
	WriteTimeout string `json:"write_timeout,omitempty"` // default "30s"
	IdleTimeout  string `json:"idle_timeout,omitempty"`  // default "60s"
}

// GitHubConfig carries the OAuth application credentials.
type GitHubConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// DefaultRepo is the repository name offered at onboarding.
	DefaultRepo string `json:"default_repo,omitempty"`

	// Endpoint overrides, for tests and GitHub Enterprise.
	APIBase   string `json:"api_base,omitempty"`
	OAuthBase string `json:"oauth_base,omitempty"`

	Timeout string `json:"timeout,omitempty"` // Go duration string, default "30s"

	// RateLimit caps API requests per second. 0 disables limiting.
	RateLimit float64 `json:"rate_limit,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls daily commit planning.
//
// All durations are Go duration strings (e.g. "10s", "2m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone is an IANA name (e.g. "Asia/Jakarta"). Empty means the
	// host's local zone.
	Timezone string `json:"timezone,omitempty"`

	MinPerDay int `json:"min_per_day,omitempty"` // default 1
	MaxPerDay int `json:"max_per_day,omitempty"` // default 10

	WindowStartHour int `json:"window_start_hour,omitempty"` // default 9
	WindowEndHour   int `json:"window_end_hour,omitempty"`   // default 21

	// FireTimeout bounds a single commit push. "0s" defers to the engine
	// default.
	FireTimeout string `json:"fire_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool that executes fired jobs.
//
// Defaults when omitted: workers 2, queue_size 256, history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./kcommit.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
