package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"codejudger/internal/common/cache"
	"codejudger/internal/common/db"
	"codejudger/internal/common/http/middleware"
	"codejudger/internal/common/mq"
	"codejudger/internal/common/storage"
	"codejudger/internal/judge/callback"
	"codejudger/internal/judge/fixture"
	"codejudger/internal/judge/harness"
	"codejudger/internal/judge/model"
	"codejudger/internal/judge/queue"
	"codejudger/internal/judge/repository"
	"codejudger/internal/judge/sandbox"
	"codejudger/internal/judge/sandbox/container"
	"codejudger/internal/judge/sandbox/isolate"
	"codejudger/pkg/utils/logger"

	validation "github.com/go-ozzo/ozzo-validation/v3"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTimeout   = 3 * time.Second
	defaultFinalTopic      = "judge.status.final"

	backendIsolate   = "isolate"
	backendContainer = "container"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	WatchPoll    time.Duration `yaml:"watchPoll"`

	// RateLimit guards the routes that enqueue work; zero disables it.
	RateLimit middleware.RateLimitPolicy `yaml:"rateLimit"`
}

// QueueConfig holds job queue settings.
type QueueConfig struct {
	Key         string        `yaml:"key"`
	MaxDepth    int64         `yaml:"maxDepth"`
	PollTimeout time.Duration `yaml:"pollTimeout"`
}

// StatusConfig holds status persistence settings.
type StatusConfig struct {
	KeyPrefix  string        `yaml:"keyPrefix"`
	TTL        time.Duration `yaml:"ttl"`
	Timeout    time.Duration `yaml:"timeout"`
	FinalTopic string        `yaml:"finalTopic"`
}

// WorkerConfig holds worker pool settings.
type WorkerConfig struct {
	Processes     int           `yaml:"processes"`
	BoxIDStart    int           `yaml:"boxIdStart"`
	DepthInterval time.Duration `yaml:"depthInterval"`
}

// LimitsConfig holds the limits used when a job leaves one out.
type LimitsConfig struct {
	TimeLimit     float64 `yaml:"timeLimit"`     // seconds
	MemoryLimitMB int64   `yaml:"memoryLimitMb"` // MB
	OutputLimitKB int64   `yaml:"outputLimitKb"` // KB
}

func (l LimitsConfig) toDefaults() model.LimitDefaults {
	return model.LimitDefaults{
		TimeLimit:     l.TimeLimit,
		MemoryLimitMB: l.MemoryLimitMB,
		OutputLimitKB: l.OutputLimitKB,
	}
}

// HarnessConfig tunes verdict details.
type HarnessConfig struct {
	MaxDiffLen int `yaml:"maxDiffLen"`
}

func (h HarnessConfig) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.MaxDiffLen, validation.Required, validation.Min(64), validation.Max(1<<20)),
	)
}

// CallbackConfig holds callback signing and delivery settings.
type CallbackConfig struct {
	Secret   string          `yaml:"secret"`
	TokenTTL time.Duration   `yaml:"tokenTTL"`
	Delivery callback.Config `yaml:"delivery"`
}

// SandboxConfig selects and tunes the execution backends.
type SandboxConfig struct {
	// Backends lists backends in preference order.
	Backends  []string                          `yaml:"backends"`
	Isolate   isolate.Config                    `yaml:"isolate"`
	Container container.Config                  `yaml:"container"`
	Languages map[string]sandbox.LanguageConfig `yaml:"languages"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Queue    QueueConfig         `yaml:"queue"`
	Status   StatusConfig        `yaml:"status"`
	Worker   WorkerConfig        `yaml:"worker"`
	Limits   LimitsConfig        `yaml:"limits"`
	Harness  HarnessConfig       `yaml:"harness"`
	DataDir  string              `yaml:"dataDir"`
	Callback CallbackConfig      `yaml:"callback"`
	Sandbox  SandboxConfig       `yaml:"sandbox"`
	Metrics  MetricsConfig       `yaml:"metrics"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`    // optional, no brokers disables events
	Database db.MySQLConfig      `yaml:"database"` // optional, no DSN disables the archive
	MinIO    storage.MinIOConfig `yaml:"minio"`    // optional, no endpoint disables fixture sync
	Fixture  fixture.Config      `yaml:"fixture"`
}

// Validate checks the merged configuration.
func (c *AppConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server),
		validation.Field(&c.Worker),
		validation.Field(&c.Limits),
		validation.Field(&c.Harness),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.Sandbox),
	)
}

func (s ServerConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Addr, validation.Required),
	)
}

func (w WorkerConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Processes, validation.Required, validation.Min(1), validation.Max(1000)),
		validation.Field(&w.BoxIDStart, validation.Min(0), validation.Max(999)),
	)
}

func (l LimitsConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.TimeLimit, validation.Required, validation.Min(0.001), validation.Max(60.0)),
		validation.Field(&l.MemoryLimitMB, validation.Required, validation.Min(int64(1)), validation.Max(int64(8192))),
		validation.Field(&l.OutputLimitKB, validation.Required, validation.Min(int64(1)), validation.Max(int64(1<<20))),
	)
}

func (s SandboxConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Backends, validation.Required, validation.Length(1, 2)),
	)
}

// loadAppConfig layers defaults, the YAML file at path, .env and the process
// environment, in that order. A missing file is only an error when required.
func loadAppConfig(path string, required bool) (*AppConfig, error) {
	cfg := defaultAppConfig()
	if err := loadYAML(path, cfg); err != nil {
		if required || !stderrors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := godotenv.Load(); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	finishConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, b := range cfg.Sandbox.Backends {
		if b != backendIsolate && b != backendContainer {
			return nil, fmt.Errorf("invalid config: unknown sandbox backend %q", b)
		}
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// applyEnv overrides file values with the deployment environment.
func applyEnv(cfg *AppConfig, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v := getenv(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}
	int64v := func(name string, dst *int64) error {
		v := getenv(name)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("REDIS_URL", &cfg.Redis.URL)
	str("QUEUE_KEY", &cfg.Queue.Key)
	str("SUB_HASH_PREFIX", &cfg.Status.KeyPrefix)
	str("DATA_DIR", &cfg.DataDir)
	str("JUDGE_CALLBACK_SECRET", &cfg.Callback.Secret)
	if err := integer("WORKER_PROCESSES", &cfg.Worker.Processes); err != nil {
		return err
	}
	if err := integer("BOX_ID_START", &cfg.Worker.BoxIDStart); err != nil {
		return err
	}
	if v := getenv("DEFAULT_TIME_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("DEFAULT_TIME_LIMIT: %w", err)
		}
		cfg.Limits.TimeLimit = f
	}
	if err := int64v("DEFAULT_MEM_LIMIT_MB", &cfg.Limits.MemoryLimitMB); err != nil {
		return err
	}
	return int64v("DEFAULT_OUTPUT_LIMIT_KB", &cfg.Limits.OutputLimitKB)
}

func defaultAppConfig() *AppConfig {
	builtin := model.BuiltinLimitDefaults()
	redisDefaults := cache.DefaultRedisConfig()
	redisDefaults.URL = ""
	return &AppConfig{
		Server: ServerConfig{
			Addr:         defaultHTTPAddr,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		Redis: *redisDefaults,
		Queue: QueueConfig{Key: queue.DefaultKey},
		Status: StatusConfig{
			KeyPrefix:  repository.DefaultKeyPrefix,
			Timeout:    defaultStatusTimeout,
			FinalTopic: defaultFinalTopic,
		},
		Worker: WorkerConfig{
			Processes:     4,
			BoxIDStart:    100,
			DepthInterval: 10 * time.Second,
		},
		Limits: LimitsConfig{
			TimeLimit:     builtin.TimeLimit,
			MemoryLimitMB: builtin.MemoryLimitMB,
			OutputLimitKB: builtin.OutputLimitKB,
		},
		Harness: HarnessConfig{MaxDiffLen: harness.MaxDiffLen},
		DataDir: "data",
		Sandbox: SandboxConfig{
			Backends:  []string{backendIsolate},
			Isolate:   isolate.DefaultConfig(),
			Container: container.DefaultConfig(),
		},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// finishConfig fills values derived from other settings.
func finishConfig(cfg *AppConfig) {
	if cfg.Redis.URL == "" && cfg.Redis.Addr == "" {
		cfg.Redis.URL = cache.DefaultRedisConfig().URL
	}
	if cfg.Fixture.Bucket == "" {
		cfg.Fixture.Bucket = cfg.MinIO.Bucket
	}
}
