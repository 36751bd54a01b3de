package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Executor types
const (
	ExecutorSimulated  = "simulated"
	ExecutorSubprocess = "subprocess"
	ExecutorDocker     = "docker"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Data     DataConfig     `mapstructure:"data"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
	HF       HFConfig       `mapstructure:"hf"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// JobsConfig controls admission, concurrency and retention of jobs.
// SubmitRate is in submissions per second; zero disables the limit.
// CleanupAfter of zero keeps finished jobs forever.
type JobsConfig struct {
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	DefaultOutputDir string        `mapstructure:"default_output_dir"`
	SubmitRate       float64       `mapstructure:"submit_rate"`
	SubmitBurst      int           `mapstructure:"submit_burst"`
	CleanupAfter     time.Duration `mapstructure:"cleanup_after"`
	StallAfter       time.Duration `mapstructure:"stall_after"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// ExecutorConfig selects and configures the training backend
type ExecutorConfig struct {
	Type           string        `mapstructure:"type"`
	Command        []string      `mapstructure:"command"`
	Image          string        `mapstructure:"image"`
	WorkDir        string        `mapstructure:"workdir"`
	StepInterval   time.Duration `mapstructure:"step_interval"`
	StepsPerEpoch  int           `mapstructure:"steps_per_epoch"`
	NProcPerNode   int           `mapstructure:"nproc_per_node"`
	RequireDataset bool          `mapstructure:"require_dataset"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// S3Config enables s3:// dataset and output locations when Enabled
type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	StagingDir      string `mapstructure:"staging_dir"`
}

// HFConfig is passed to trainer processes so they can pull gated models and
// share a model cache. HF_TOKEN and HF_CACHE_DIR are read as well.
type HFConfig struct {
	Token    string `mapstructure:"token"`
	CacheDir string `mapstructure:"cache_dir"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9090)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:8000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("jobs.max_concurrent", 2)
	v.SetDefault("jobs.default_output_dir", "./models")
	v.SetDefault("jobs.submit_rate", 0.0)
	v.SetDefault("jobs.submit_burst", 5)
	v.SetDefault("jobs.cleanup_after", "0s")
	v.SetDefault("jobs.stall_after", "30m")
	v.SetDefault("jobs.monitor_interval", "30s")

	v.SetDefault("data.dir", "data")

	v.SetDefault("executor.type", ExecutorSimulated)
	v.SetDefault("executor.command", []string{"python", "train.py"})
	v.SetDefault("executor.image", "")
	v.SetDefault("executor.workdir", "")
	v.SetDefault("executor.step_interval", "100ms")
	v.SetDefault("executor.steps_per_epoch", 100)
	v.SetDefault("executor.nproc_per_node", 1)
	v.SetDefault("executor.require_dataset", true)

	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "tunespace:job_events")

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.force_path_style", false)
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.staging_dir", "staging")

	v.SetDefault("hf.token", "")
	v.SetDefault("hf.cache_dir", "./cache")
}

// Load reads configuration from defaults, an optional YAML file at path and
// TUNESPACE_* environment variables, in increasing priority
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("TUNESPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("hf.token", "TUNESPACE_HF_TOKEN", "HF_TOKEN")
	_ = v.BindEnv("hf.cache_dir", "TUNESPACE_HF_CACHE_DIR", "HF_CACHE_DIR")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail at startup
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Jobs.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("jobs.max_concurrent must be positive"))
	}
	if c.Jobs.SubmitRate < 0 {
		errs = append(errs, errors.New("jobs.submit_rate must not be negative"))
	}
	if c.Jobs.SubmitRate > 0 && c.Jobs.SubmitBurst <= 0 {
		errs = append(errs, errors.New("jobs.submit_burst must be positive when submit_rate is set"))
	}
	if c.Jobs.CleanupAfter < 0 {
		errs = append(errs, errors.New("jobs.cleanup_after must not be negative"))
	}

	switch c.Executor.Type {
	case ExecutorSimulated:
	case ExecutorSubprocess:
		if len(c.Executor.Command) == 0 {
			errs = append(errs, errors.New("executor.command is required for the subprocess executor"))
		}
	case ExecutorDocker:
		if c.Executor.Image == "" {
			errs = append(errs, errors.New("executor.image is required for the docker executor"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown executor.type %q", c.Executor.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
