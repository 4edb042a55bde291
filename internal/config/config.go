package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"archiver/internal/archive"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ARCHIVER_ARCHIVE_BACKEND.
const EnvPrefix = "ARCHIVER"

// Config is the unified configuration for the CLI and the worker.
type Config struct {
	TempDir string        `mapstructure:"temp_dir"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Binary  BinaryConfig  `mapstructure:"binary"`
	Threads ThreadsConfig `mapstructure:"threads"`
	Log     LogConfig     `mapstructure:"log"`
	S3      S3Config      `mapstructure:"s3"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// NewConfig loads configuration from file and environment variables.
// configPath: path to the config file (e.g., "config.yaml"). If empty, looks for "config.yaml" in current directory
func NewConfig(ctx context.Context, configPath string) (*Config, error) {
	config := new(Config)
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			fmt.Fprintln(os.Stderr, "No config file found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temp_dir", os.TempDir())

	// Archive defaults
	v.SetDefault("archive.backend", string(archive.BackendAuto))
	v.SetDefault("archive.compression.store", true)
	v.SetDefault("archive.compression.level", 0)
	v.SetDefault("archive.compression.threads", 0)
	v.SetDefault("archive.buffer_size", 1<<20)
	v.SetDefault("archive.large_file_threshold", 100<<20)
	v.SetDefault("archive.grace_period", 5*time.Second)
	v.SetDefault("archive.strict_warnings", false)

	// Compressor binary defaults
	v.SetDefault("binary.names", []string{"7zz", "7za", "7z"})
	v.SetDefault("binary.bundled_dir", "")
	v.SetDefault("binary.skip_path", false)
	v.SetDefault("binary.probe_timeout", 5*time.Second)
	v.SetDefault("binary.reject_unknown", false)
	v.SetDefault("binary.known_digests", []string{})
	v.SetDefault("binary.extra_args", []string{})
	v.SetDefault("binary.test_after_archive", false)

	v.SetDefault("threads.ceiling", 16)
	v.SetDefault("threads.high_core", 8)
	v.SetDefault("threads.low_core", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")

	v.SetDefault("worker.task_queue", "archiver")
	v.SetDefault("worker.max_concurrent_activities", 2)

	v.SetDefault("metrics.listen", "")
}

// Validate checks values that cannot be expressed as defaults.
func (c *Config) Validate() error {
	if _, err := c.Archive.BackendKind(); err != nil {
		return fmt.Errorf("archive.backend: %w", err)
	}
	if err := c.Archive.Profile().Validate(); err != nil {
		return fmt.Errorf("archive.compression: %w", err)
	}
	if c.Archive.BufferSize < 4096 {
		return fmt.Errorf("archive.buffer_size must be at least 4096, got %d", c.Archive.BufferSize)
	}
	if c.Threads.Ceiling < 1 || c.Threads.HighCore < 1 || c.Threads.LowCore < 1 {
		return fmt.Errorf("threads.* must be positive")
	}
	if c.Threads.LowCore > c.Threads.HighCore {
		return fmt.Errorf("threads.low_core (%d) must not exceed threads.high_core (%d)", c.Threads.LowCore, c.Threads.HighCore)
	}
	return nil
}
