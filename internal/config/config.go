// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Process roles.
const (
	RoleAPI    = "api"    // HTTP surface, dispatcher, scheduler
	RoleWorker = "worker" // queue consumer, sweeper
	RoleAll    = "all"
)

// Job kinds that can be declared in the config file.
const (
	JobKindCommand = "command"
	JobKindHTTP    = "http"
)

type RuntimeConfig struct {
	Dev  bool
	Role string
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"omitempty,oneof=json console"`
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// JWTSecret enables bearer-token identity; empty means X-Requested-By.
	JWTSecret string `yaml:"jwt_secret"`
	// TriggerLimit caps trigger requests per requester per minute; 0 disables.
	TriggerLimit int `yaml:"trigger_limit" validate:"gte=0"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
}

type RedisConfig struct {
	URL       string        `yaml:"url"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db" validate:"gte=0"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	RevokeTTL time.Duration `yaml:"revoke_ttl"`
}

type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency" validate:"gte=0"`
	QueueSize   int           `yaml:"queue_size" validate:"gte=0"`
	Queues      []string      `yaml:"queues"` // empty: every queue in the registry
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

type SweeperConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"` // 0 disables the sweeper
}

// JobConfig declares a job type backed by an external command or HTTP endpoint.
type JobConfig struct {
	Key         string            `yaml:"key" validate:"required"`
	Label       string            `yaml:"label"`
	Queue       string            `yaml:"queue"`
	Description string            `yaml:"description"`
	Kind        string            `yaml:"kind" validate:"required,oneof=command http"`
	Schedule    string            `yaml:"schedule"` // standard 5-field cron, optional
	Command     string            `yaml:"command" validate:"required_if=Kind command"`
	Args        []string          `yaml:"args"`
	Env         []string          `yaml:"env"`
	Dir         string            `yaml:"dir"`
	URL         string            `yaml:"url" validate:"required_if=Kind http"`
	Method      string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT"`
	Headers     map[string]string `yaml:"headers"`
	Timeout     time.Duration     `yaml:"timeout"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Worker   WorkerConfig   `yaml:"worker"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Jobs     []JobConfig    `yaml:"jobs" validate:"dive"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the flags and loads the selected file.
func LoadConfig() (*Config, error) {
	var (
		configPath string
		dev        bool
		role       string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode (in-memory store, in-process workers)")
	flag.StringVar(&role, "role", RoleAll, "process role: api | worker | all")
	flag.Parse()

	return Load(configPath, dev, role)
}

// Load reads path (optional in dev mode), applies defaults and environment
// overrides and validates the result.
func Load(path string, dev bool, role string) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
		// dev mode runs on defaults
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.Runtime.Dev = dev
	cfg.Runtime.Role = role
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Runtime.Role {
	case RoleAPI, RoleWorker, RoleAll:
	default:
		return fmt.Errorf("invalid role %q", c.Runtime.Role)
	}
	seen := make(map[string]struct{}, len(c.Jobs))
	for _, j := range c.Jobs {
		if _, dup := seen[j.Key]; dup {
			return fmt.Errorf("duplicate job key %q", j.Key)
		}
		seen[j.Key] = struct{}{}
	}
	if c.Runtime.Dev {
		return nil
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.HTTP.JWTSecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	cfg.HTTP.ReadTimeout = orDefault(cfg.HTTP.ReadTimeout, 15*time.Second)
	cfg.HTTP.WriteTimeout = orDefault(cfg.HTTP.WriteTimeout, 30*time.Second)
	cfg.HTTP.ShutdownTimeout = orDefault(cfg.HTTP.ShutdownTimeout, 10*time.Second)
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.LockTTL = orDefault(cfg.Redis.LockTTL, 10*time.Second)
	cfg.Redis.RevokeTTL = orDefault(cfg.Redis.RevokeTTL, 24*time.Hour)
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = cfg.Worker.Concurrency * 4
	}
	cfg.Worker.PollTimeout = orDefault(cfg.Worker.PollTimeout, 5*time.Second)
	cfg.Sweeper.Interval = orDefault(cfg.Sweeper.Interval, time.Minute)
	for i := range cfg.Jobs {
		if cfg.Jobs[i].Kind == JobKindHTTP && cfg.Jobs[i].Method == "" {
			cfg.Jobs[i].Method = "POST"
		}
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
