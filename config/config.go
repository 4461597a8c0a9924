package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Engine     EngineConfig     `yaml:"engine"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Registrar  RegistrarConfig  `yaml:"registrar"`
	Catalog    []CourseConfig   `yaml:"catalog"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"` // silent, error, warn, info
}

// EngineConfig holds the matching engine timing and the initial admin settings.
type EngineConfig struct {
	OfferTTL               time.Duration `yaml:"offer_ttl"`
	LockWindow             time.Duration `yaml:"lock_window"`
	MaxWaitHorizon         time.Duration `yaml:"max_wait_horizon"`
	SweepInterval          time.Duration `yaml:"sweep_interval"`
	SweepConcurrency       int           `yaml:"sweep_concurrency"`
	Retention              time.Duration `yaml:"retention"`
	DefaultWaitPerPosition time.Duration `yaml:"default_wait_per_position"`
	AbuseThreshold         int           `yaml:"abuse_threshold"`

	FairnessWeight    *float64 `yaml:"fairness_weight"` // nil means unset; 0 is a valid weight
	MaxActiveRequests int      `yaml:"max_active_requests"`
	OffersPerDay      int      `yaml:"offers_per_day"`
	RequestsPerDay    int      `yaml:"requests_per_day"`
}

// RecorderConfig sizes the event recorder that persists engine transitions.
type RecorderConfig struct {
	Shards int `yaml:"shards"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size   int `yaml:"size"`
	Buffer int `yaml:"buffer"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// RegistrarConfig configures the poller for registrar hand-off confirmations.
type RegistrarConfig struct {
	Enabled         bool             `yaml:"enabled"`
	IntervalSeconds int              `yaml:"interval_seconds"`
	Interval        time.Duration    `yaml:"-"`
	HTTPProxy       string           `yaml:"http_proxy"`
	Request         RegistrarRequest `yaml:"request"`
}

// RegistrarRequest defines the HTTP request sent to the registrar feed.
type RegistrarRequest struct {
	URL      string            `yaml:"url"`
	Headers  map[string]string `yaml:"headers"`
	PageSize int               `yaml:"page_size"`
}

// CourseConfig is one catalog entry seeded into the courses table.
type CourseConfig struct {
	CRN      string `yaml:"crn"`
	Title    string `yaml:"title"`
	Capacity int    `yaml:"capacity"`
	Enrolled int    `yaml:"enrolled"`
}

// LogConfig selects the zap preset.
type LogConfig struct {
	Development bool `yaml:"development"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with the production defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	e := &cfg.Engine
	if e.OfferTTL <= 0 {
		e.OfferTTL = 24 * time.Hour
	}
	if e.LockWindow <= 0 {
		e.LockWindow = 15 * time.Minute
	}
	if e.MaxWaitHorizon <= 0 {
		e.MaxWaitHorizon = 24 * time.Hour
	}
	if e.SweepInterval <= 0 {
		e.SweepInterval = time.Second
	}
	if e.SweepConcurrency <= 0 {
		e.SweepConcurrency = 8
	}
	if e.Retention <= 0 {
		e.Retention = 72 * time.Hour
	}
	if e.DefaultWaitPerPosition <= 0 {
		e.DefaultWaitPerPosition = 30 * time.Minute
	}
	if e.AbuseThreshold <= 0 {
		e.AbuseThreshold = 3
	}
	if e.FairnessWeight == nil || *e.FairnessWeight < 0 || *e.FairnessWeight > 1 {
		if e.FairnessWeight != nil {
			log.Printf("engine.fairness_weight %.2f is outside [0,1]; defaulting to 0.7", *e.FairnessWeight)
		}
		w := 0.7
		e.FairnessWeight = &w
	}
	if e.MaxActiveRequests <= 0 {
		e.MaxActiveRequests = 3
	}
	if e.OffersPerDay <= 0 {
		e.OffersPerDay = 5
	}
	if e.RequestsPerDay <= 0 {
		e.RequestsPerDay = 10
	}

	if cfg.Recorder.Shards <= 0 {
		cfg.Recorder.Shards = 4
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.Buffer <= 0 {
		cfg.WorkerPool.Buffer = 64
	}

	if cfg.Registrar.IntervalSeconds <= 0 {
		cfg.Registrar.IntervalSeconds = 30
	}
	cfg.Registrar.Interval = time.Duration(cfg.Registrar.IntervalSeconds) * time.Second
	if cfg.Registrar.Request.PageSize <= 0 {
		cfg.Registrar.Request.PageSize = 100
	}
}
