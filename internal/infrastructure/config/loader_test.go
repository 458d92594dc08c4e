package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoader_LoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	cfg, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.DebounceDelay != DefaultDebounceDelay {
		t.Errorf("DebounceDelay = %v, want default %v", cfg.Sync.DebounceDelay, DefaultDebounceDelay)
	}
	if loader.DefaultConfigPath() != filepath.Join(dir, FileName) {
		t.Errorf("DefaultConfigPath() = %q", loader.DefaultConfigPath())
	}
}

func TestLoader_LoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	content := `
device:
  id: laptop
remote:
  backend: s3
  s3:
    bucket: focus-sync
    region: eu-west-1
sync:
  debounce_delay: 500ms
  max_backoff: 10m
capture:
  enabled: true
  inbox_dir: /tmp/inbox
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader, _ := NewLoader(dir)
	cfg, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.ID != "laptop" {
		t.Errorf("Device.ID = %q, want laptop", cfg.Device.ID)
	}
	if cfg.Remote.Backend != BackendS3 || cfg.Remote.S3.Bucket != "focus-sync" {
		t.Errorf("Remote = %+v", cfg.Remote)
	}
	if cfg.Sync.DebounceDelay != 500*time.Millisecond {
		t.Errorf("DebounceDelay = %v, want 500ms", cfg.Sync.DebounceDelay)
	}
	if cfg.Sync.MaxBackoff != 10*time.Minute {
		t.Errorf("MaxBackoff = %v, want 10m", cfg.Sync.MaxBackoff)
	}
	// untouched keys keep their defaults
	if cfg.Sync.CallTimeout != DefaultCallTimeout {
		t.Errorf("CallTimeout = %v, want default", cfg.Sync.CallTimeout)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want default", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("sync: [unclosed"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	loader, _ := NewLoader(dir)
	if _, err := loader.Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoader_LoadFromFileMissing(t *testing.T) {
	loader, _ := NewLoader(t.TempDir())
	_, err := loader.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("LoadFromFile() error = %v, want not found", err)
	}
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loader, _ := NewLoader(dir)

	cfg := NewDefaultConfig()
	cfg.Device.ID = "desk"
	cfg.Remote.Backend = BackendMemory
	cfg.Sync.PollInterval = 0

	if err := loader.Save(cfg, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(loader.DefaultConfigPath())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := loader.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Device.ID != "desk" || loaded.Remote.Backend != BackendMemory {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Sync.PollInterval != 0 {
		t.Errorf("PollInterval = %v, want 0", loaded.Sync.PollInterval)
	}
	if loaded.Sync.DebounceDelay != cfg.Sync.DebounceDelay {
		t.Errorf("DebounceDelay = %v, want %v", loaded.Sync.DebounceDelay, cfg.Sync.DebounceDelay)
	}
}

func TestLoader_SealsSecrets(t *testing.T) {
	dir := t.TempDir()
	loader, _ := NewLoader(dir)

	cfg := NewDefaultConfig()
	cfg.Remote.Backend = BackendS3
	cfg.Remote.S3.Bucket = "focus-sync"
	cfg.Remote.S3.AccessKeyID = "AKIDEXAMPLE"
	cfg.Remote.S3.SecretAccessKey = "wJalrXUtnFEMI"

	if err := loader.Save(cfg, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if cfg.Remote.S3.SecretAccessKey != "wJalrXUtnFEMI" {
		t.Errorf("Save() changed the caller's secret to %q", cfg.Remote.S3.SecretAccessKey)
	}

	raw, err := os.ReadFile(loader.DefaultConfigPath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.Contains(string(raw), "wJalrXUtnFEMI") {
		t.Error("config file holds the plaintext secret")
	}
	if !strings.Contains(string(raw), "sealed:") {
		t.Error("config file holds no sealed secret")
	}

	// a fresh loader reads the salt back from the directory
	reloaded, _ := NewLoader(dir)
	loaded, err := reloaded.Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Remote.S3.SecretAccessKey != "wJalrXUtnFEMI" {
		t.Errorf("SecretAccessKey = %q, want the opened secret", loaded.Remote.S3.SecretAccessKey)
	}
}

func TestLoader_NoSecretWritesNoSalt(t *testing.T) {
	dir := t.TempDir()
	loader, _ := NewLoader(dir)
	if err := loader.Save(NewDefaultConfig(), ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := loader.Load(""); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != FileName {
		t.Errorf("config dir holds %v, want only %s", entries, FileName)
	}
}

func TestLoader_SealedSecretFromAnotherMachine(t *testing.T) {
	source := t.TempDir()
	loader, _ := NewLoader(source)
	cfg := NewDefaultConfig()
	cfg.Remote.S3.SecretAccessKey = "secret"
	if err := loader.Save(cfg, ""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// same file, different salt
	other, _ := NewLoader(t.TempDir())
	if _, err := other.Load(loader.DefaultConfigPath()); err == nil {
		t.Error("Load() with a different sealing key succeeded")
	}
}
