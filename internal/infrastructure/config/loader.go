package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jbctechsolutions/focussync/internal/infrastructure/crypto"
)

// FileName is the config file name inside the config directory.
const FileName = "config.yaml"

const fileHeader = `# focussync configuration
# remote.backend: memory, filesystem or s3
# remote.s3.secret_access_key is sealed with a key kept in this directory.
#
`

// Loader reads and writes the config file. Secrets are sealed on Save and
// opened on Load, so callers only ever see plain values.
type Loader struct {
	configDir string
	sealer    *crypto.Sealer
}

// NewLoader creates a loader rooted at configDir, ~/.focussync when empty.
// The sealing key's salt lives in the same directory.
func NewLoader(configDir string) (*Loader, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".focussync")
	}
	return &Loader{configDir: configDir}, nil
}

// ConfigDir returns the configuration directory path.
func (l *Loader) ConfigDir() string {
	return l.configDir
}

// DefaultConfigPath returns the default configuration file path.
func (l *Loader) DefaultConfigPath() string {
	return filepath.Join(l.configDir, FileName)
}

// Load reads configPath, or the default location when it is empty. A
// missing file yields the defaults. Values in the file override defaults
// key by key.
func (l *Loader) Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = l.DefaultConfigPath()
	}
	cfg, err := l.LoadFromFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDefaultConfig(), nil
	}
	return cfg, err
}

// LoadFromFile loads a specific file, which must exist.
func (l *Loader) LoadFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file not found: %s: %w", configPath, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := l.openSecrets(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg with its secrets sealed. cfg itself is left unchanged.
func (l *Loader) Save(cfg *Config, configPath string) error {
	if configPath == "" {
		configPath = l.DefaultConfigPath()
	}

	out := *cfg
	if err := l.sealSecrets(&out); err != nil {
		return err
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, append([]byte(fileHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (l *Loader) sealSecrets(cfg *Config) error {
	secret := cfg.Remote.S3.SecretAccessKey
	if secret == "" || crypto.IsSealed(secret) {
		return nil
	}
	sealer, err := l.secretSealer()
	if err != nil {
		return err
	}
	if cfg.Remote.S3.SecretAccessKey, err = sealer.Seal(secret); err != nil {
		return fmt.Errorf("failed to seal s3 secret access key: %w", err)
	}
	return nil
}

func (l *Loader) openSecrets(cfg *Config) error {
	secret := cfg.Remote.S3.SecretAccessKey
	if !crypto.IsSealed(secret) {
		return nil
	}
	sealer, err := l.secretSealer()
	if err != nil {
		return err
	}
	if cfg.Remote.S3.SecretAccessKey, err = sealer.Open(secret); err != nil {
		return fmt.Errorf("failed to open s3 secret access key (was the config copied from another machine?): %w", err)
	}
	return nil
}

// secretSealer creates the sealer on first use so configs without secrets
// never write a salt file.
func (l *Loader) secretSealer() (*crypto.Sealer, error) {
	if l.sealer != nil {
		return l.sealer, nil
	}
	sealer, err := crypto.NewSealer(l.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare secret sealing: %w", err)
	}
	l.sealer = sealer
	return sealer, nil
}
