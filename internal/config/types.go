package config

import (
	"time"

	"archiver/internal/archive"
)

// ArchiveConfig holds per-job defaults and backend tuning.
type ArchiveConfig struct {
	Backend            string            `mapstructure:"backend"`
	Compression        CompressionConfig `mapstructure:"compression"`
	BufferSize         int               `mapstructure:"buffer_size"`
	LargeFileThreshold int64             `mapstructure:"large_file_threshold"`
	GracePeriod        time.Duration     `mapstructure:"grace_period"`
	// StrictWarnings turns a compressor warning exit into a failure.
	StrictWarnings bool `mapstructure:"strict_warnings"`
}

type CompressionConfig struct {
	Store   bool `mapstructure:"store"`
	Level   int  `mapstructure:"level"`
	Threads int  `mapstructure:"threads"`
}

// BackendKind parses the configured backend.
func (c ArchiveConfig) BackendKind() (archive.BackendKind, error) {
	return archive.ParseBackendKind(c.Backend)
}

// Profile returns the default compression profile for jobs.
func (c ArchiveConfig) Profile() archive.CompressionProfile {
	return archive.CompressionProfile{
		Store:      c.Compression.Store,
		Level:      c.Compression.Level,
		ThreadHint: c.Compression.Threads,
	}
}

// BinaryConfig controls how the 7-Zip executable is found and invoked.
type BinaryConfig struct {
	Names            []string      `mapstructure:"names"`
	BundledDir       string        `mapstructure:"bundled_dir"`
	SkipPath         bool          `mapstructure:"skip_path"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	RejectUnknown    bool          `mapstructure:"reject_unknown"`
	KnownDigests     []string      `mapstructure:"known_digests"`
	ExtraArgs        []string      `mapstructure:"extra_args"`
	TestAfterArchive bool          `mapstructure:"test_after_archive"`
}

// ThreadsConfig holds the core-count tiers of the thread policy.
type ThreadsConfig struct {
	Ceiling  int `mapstructure:"ceiling"`
	HighCore int `mapstructure:"high_core"`
	LowCore  int `mapstructure:"low_core"`
}

// LogConfig represents the logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// S3Config is the optional upload target for finished archives.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Enabled reports whether an upload target is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// WorkerConfig configures the Temporal worker. Connection settings come from
// the Temporal environment configuration.
type WorkerConfig struct {
	TaskQueue               string `mapstructure:"task_queue"`
	MaxConcurrentActivities int    `mapstructure:"max_concurrent_activities"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string `mapstructure:"listen"`
}
