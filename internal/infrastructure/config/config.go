// Package config provides configuration types and defaults for focussync.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Device        DeviceConfig        `yaml:"device"`
	Storage       StorageConfig       `yaml:"storage"`
	Remote        RemoteConfig        `yaml:"remote"`
	Sync          SyncConfig          `yaml:"sync"`
	Capture       CaptureConfig       `yaml:"capture"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DeviceConfig identifies this replica. An empty ID is generated on first
// use and persisted in the sync metadata.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StorageConfig locates the local entity store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig selects and configures the remote object store.
type RemoteConfig struct {
	Backend    string               `yaml:"backend"` // memory, filesystem, s3
	Filesystem FilesystemRemoteConf `yaml:"filesystem"`
	S3         S3RemoteConfig       `yaml:"s3"`
}

// FilesystemRemoteConf points the filesystem backend at a shared directory.
type FilesystemRemoteConf struct {
	Dir string `yaml:"dir"`
}

// S3RemoteConfig configures an S3 compatible bucket.
type S3RemoteConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// SyncConfig tunes the trigger and engine.
type SyncConfig struct {
	DebounceDelay      time.Duration `yaml:"debounce_delay"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"` // 0 disables periodic pulls
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	BackoffMultiplier  float64       `yaml:"backoff_multiplier"`
	BackoffJitter      float64       `yaml:"backoff_jitter"`
	RetryWarnThreshold int           `yaml:"retry_warn_threshold"`
}

// CaptureConfig enables importing images dropped into an inbox directory.
type CaptureConfig struct {
	Enabled  bool   `yaml:"enabled"`
	InboxDir string `yaml:"inbox_dir"`
}

// LoggingConfig holds configuration for application logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	File       string `yaml:"file"`   // optional rotating log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ObservabilityConfig holds configuration for tracing.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // none, stdout, otlp
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Default configuration values.
const (
	DefaultStoragePath = "~/.focussync/focus.db"
	DefaultRemoteDir   = "~/.focussync/remote"
	DefaultInboxDir    = "~/.focussync/inbox"
	DefaultBackend     = BackendFilesystem
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"

	DefaultDebounceDelay      = 2 * time.Second
	DefaultCallTimeout        = 30 * time.Second
	DefaultPollInterval       = 5 * time.Minute
	DefaultInitialBackoff     = 5 * time.Second
	DefaultMaxBackoff         = 5 * time.Minute
	DefaultBackoffMultiplier  = 2.0
	DefaultBackoffJitter      = 0.2
	DefaultRetryWarnThreshold = 5

	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28

	DefaultTracingExporterType = "none"
	DefaultTracingSampleRate   = 1.0
	DefaultTracingServiceName  = "focussync"
)

// Remote backends.
const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
)

var validBackends = map[string]bool{
	BackendMemory:     true,
	BackendFilesystem: true,
	BackendS3:         true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

var validTracingExporterTypes = map[string]bool{
	"none":   true,
	"stdout": true,
	"otlp":   true,
}

// NewDefaultConfig creates a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{Path: DefaultStoragePath},
		Remote: RemoteConfig{
			Backend:    DefaultBackend,
			Filesystem: FilesystemRemoteConf{Dir: DefaultRemoteDir},
		},
		Sync: SyncConfig{
			DebounceDelay:      DefaultDebounceDelay,
			CallTimeout:        DefaultCallTimeout,
			PollInterval:       DefaultPollInterval,
			InitialBackoff:     DefaultInitialBackoff,
			MaxBackoff:         DefaultMaxBackoff,
			BackoffMultiplier:  DefaultBackoffMultiplier,
			BackoffJitter:      DefaultBackoffJitter,
			RetryWarnThreshold: DefaultRetryWarnThreshold,
		},
		Capture: CaptureConfig{InboxDir: DefaultInboxDir},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				ExporterType: DefaultTracingExporterType,
				SampleRate:   DefaultTracingSampleRate,
				ServiceName:  DefaultTracingServiceName,
			},
		},
	}
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}
	if err := c.Remote.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}
	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sync: %w", err))
	}
	if err := c.Capture.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("capture: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks if the StorageConfig is valid.
func (s *StorageConfig) Validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("path is required")
	}
	return nil
}

// Validate checks if the RemoteConfig is valid.
func (r *RemoteConfig) Validate() error {
	if !validBackends[r.Backend] {
		return fmt.Errorf("invalid backend %q: must be one of memory, filesystem, s3", r.Backend)
	}

	switch r.Backend {
	case BackendFilesystem:
		if strings.TrimSpace(r.Filesystem.Dir) == "" {
			return errors.New("filesystem: dir is required")
		}
	case BackendS3:
		return r.S3.Validate()
	}
	return nil
}

// Validate checks if the S3RemoteConfig is valid.
func (s *S3RemoteConfig) Validate() error {
	var errs []error

	if s.Bucket == "" {
		errs = append(errs, errors.New("s3: bucket is required"))
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		errs = append(errs, errors.New("s3: access_key_id and secret_access_key must be set together"))
	}
	if s.Endpoint != "" {
		u, err := url.Parse(s.Endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("s3: invalid endpoint: %w", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, errors.New("s3: endpoint must use http or https scheme"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks if the SyncConfig is valid.
func (s *SyncConfig) Validate() error {
	var errs []error

	if s.DebounceDelay < 0 {
		errs = append(errs, errors.New("debounce_delay must be non-negative"))
	}
	if s.CallTimeout <= 0 {
		errs = append(errs, errors.New("call_timeout must be positive"))
	}
	if s.PollInterval < 0 {
		errs = append(errs, errors.New("poll_interval must be non-negative"))
	}
	if s.InitialBackoff <= 0 {
		errs = append(errs, errors.New("initial_backoff must be positive"))
	}
	if s.MaxBackoff < s.InitialBackoff {
		errs = append(errs, errors.New("max_backoff must not be less than initial_backoff"))
	}
	if s.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("backoff_multiplier must be at least 1"))
	}
	if s.BackoffJitter < 0 || s.BackoffJitter > 1 {
		errs = append(errs, errors.New("backoff_jitter must be between 0.0 and 1.0"))
	}
	if s.RetryWarnThreshold <= 0 {
		errs = append(errs, errors.New("retry_warn_threshold must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks if the CaptureConfig is valid.
func (c *CaptureConfig) Validate() error {
	if c.Enabled && strings.TrimSpace(c.InboxDir) == "" {
		return errors.New("inbox_dir is required when capture is enabled")
	}
	return nil
}

// Validate checks if the LoggingConfig is valid.
func (l *LoggingConfig) Validate() error {
	var errs []error

	if l.Level != "" && !validLogLevels[l.Level] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", l.Level))
	}
	if l.Format != "" && !validLogFormats[l.Format] {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of json, text", l.Format))
	}
	if l.File != "" && (l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0) {
		errs = append(errs, errors.New("log rotation limits must be non-negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks if the ObservabilityConfig is valid.
func (o *ObservabilityConfig) Validate() error {
	if err := o.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate checks if the TracingConfig is valid.
func (t *TracingConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	var errs []error

	if t.ExporterType != "" && !validTracingExporterTypes[t.ExporterType] {
		errs = append(errs, fmt.Errorf("invalid exporter_type %q: must be one of none, stdout, otlp", t.ExporterType))
	}
	if t.ExporterType == "otlp" && t.OTLPEndpoint == "" {
		errs = append(errs, errors.New("otlp_endpoint is required when exporter_type is 'otlp'"))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		errs = append(errs, errors.New("sample_rate must be between 0.0 and 1.0"))
	}
	if t.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required when tracing is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ExpandPath replaces a leading ~ with the user's home directory. The path
// is returned unchanged when the home directory cannot be determined.
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
