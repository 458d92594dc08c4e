package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg == nil {
		t.Fatal("NewDefaultConfig returned nil")
	}

	if cfg.Remote.Backend != DefaultBackend {
		t.Errorf("expected backend %q, got %q", DefaultBackend, cfg.Remote.Backend)
	}
	if cfg.Storage.Path != DefaultStoragePath {
		t.Errorf("expected storage path %q, got %q", DefaultStoragePath, cfg.Storage.Path)
	}

	if cfg.Sync.DebounceDelay != DefaultDebounceDelay {
		t.Errorf("expected debounce delay %v, got %v", DefaultDebounceDelay, cfg.Sync.DebounceDelay)
	}
	if cfg.Sync.InitialBackoff != DefaultInitialBackoff || cfg.Sync.MaxBackoff != DefaultMaxBackoff {
		t.Errorf("unexpected backoff defaults: %v..%v", cfg.Sync.InitialBackoff, cfg.Sync.MaxBackoff)
	}
	if cfg.Sync.RetryWarnThreshold != DefaultRetryWarnThreshold {
		t.Errorf("expected retry threshold %d, got %d", DefaultRetryWarnThreshold, cfg.Sync.RetryWarnThreshold)
	}

	if cfg.Capture.Enabled {
		t.Error("expected capture to be disabled by default")
	}

	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("expected log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("expected log format %q, got %q", DefaultLogFormat, cfg.Logging.Format)
	}

	if cfg.Observability.Tracing.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
}

func TestConfig_Validate_DefaultIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid, got error: %v", err)
	}
}

func TestRemoteConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RemoteConfig
		wantErr bool
	}{
		{"memory", RemoteConfig{Backend: BackendMemory}, false},
		{"filesystem with dir", RemoteConfig{Backend: BackendFilesystem, Filesystem: FilesystemRemoteConf{Dir: "/srv/focus"}}, false},
		{"filesystem without dir", RemoteConfig{Backend: BackendFilesystem}, true},
		{"unknown backend", RemoteConfig{Backend: "ftp"}, true},
		{"empty backend", RemoteConfig{}, true},
		{"s3 with bucket", RemoteConfig{Backend: BackendS3, S3: S3RemoteConfig{Bucket: "focus"}}, false},
		{"s3 without bucket", RemoteConfig{Backend: BackendS3}, true},
		{
			name:    "s3 with half credentials",
			config:  RemoteConfig{Backend: BackendS3, S3: S3RemoteConfig{Bucket: "focus", AccessKeyID: "AKIA"}},
			wantErr: true,
		},
		{
			name:    "s3 with custom endpoint",
			config:  RemoteConfig{Backend: BackendS3, S3: S3RemoteConfig{Bucket: "focus", Endpoint: "http://localhost:9000", UsePathStyle: true}},
			wantErr: false,
		},
		{
			name:    "s3 with bad endpoint scheme",
			config:  RemoteConfig{Backend: BackendS3, S3: S3RemoteConfig{Bucket: "focus", Endpoint: "ftp://minio"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSyncConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *SyncConfig)
		wantErr bool
	}{
		{"defaults", func(s *SyncConfig) {}, false},
		{"zero debounce", func(s *SyncConfig) { s.DebounceDelay = 0 }, false},
		{"negative debounce", func(s *SyncConfig) { s.DebounceDelay = -time.Second }, true},
		{"zero call timeout", func(s *SyncConfig) { s.CallTimeout = 0 }, true},
		{"polling disabled", func(s *SyncConfig) { s.PollInterval = 0 }, false},
		{"zero initial backoff", func(s *SyncConfig) { s.InitialBackoff = 0 }, true},
		{"max below initial", func(s *SyncConfig) { s.MaxBackoff = time.Second }, true},
		{"multiplier below one", func(s *SyncConfig) { s.BackoffMultiplier = 0.5 }, true},
		{"jitter above one", func(s *SyncConfig) { s.BackoffJitter = 1.5 }, true},
		{"zero warn threshold", func(s *SyncConfig) { s.RetryWarnThreshold = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewDefaultConfig().Sync
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{"valid debug json", LoggingConfig{Level: "debug", Format: "json"}, false},
		{"valid info text", LoggingConfig{Level: "info", Format: "text"}, false},
		{"empty values", LoggingConfig{}, false},
		{"invalid level", LoggingConfig{Level: "trace", Format: "text"}, true},
		{"invalid format", LoggingConfig{Level: "info", Format: "xml"}, true},
		{"file with rotation", LoggingConfig{File: "/var/log/focus.log", MaxSizeMB: 5}, false},
		{"file with negative rotation", LoggingConfig{File: "/var/log/focus.log", MaxBackups: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTracingConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  TracingConfig
		wantErr bool
	}{
		{"disabled ignores fields", TracingConfig{ExporterType: "bogus"}, false},
		{"stdout", TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 1, ServiceName: "focussync"}, false},
		{"otlp without endpoint", TracingConfig{Enabled: true, ExporterType: "otlp", SampleRate: 1, ServiceName: "focussync"}, true},
		{"sample rate out of range", TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 2, ServiceName: "focussync"}, true},
		{"missing service name", TracingConfig{Enabled: true, ExporterType: "stdout", SampleRate: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Storage.Path = ""
	cfg.Remote.Backend = "ftp"
	cfg.Sync.CallTimeout = 0
	cfg.Capture = CaptureConfig{Enabled: true}
	cfg.Logging.Level = "invalid"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	for _, section := range []string{"storage:", "remote:", "sync:", "capture:", "logging:"} {
		if !strings.Contains(err.Error(), section) {
			t.Errorf("error %q does not mention %s", err, section)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/.focussync/focus.db", filepath.Join(home, ".focussync", "focus.db")},
		{"/tmp/focus.db", "/tmp/focus.db"},
		{"relative/focus.db", "relative/focus.db"},
		{"~other/focus.db", "~other/focus.db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExpandPath(tt.in); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
