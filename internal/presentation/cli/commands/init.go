package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/focussync/internal/infrastructure/config"
	"github.com/jbctechsolutions/focussync/internal/presentation/cli/output"
)

// InitResult holds the result of the init command for JSON output.
type InitResult struct {
	ConfigFile  string `json:"config_file"`
	Backend     string `json:"backend"`
	RemoteDir   string `json:"remote_dir,omitempty"`
	S3Bucket    string `json:"s3_bucket,omitempty"`
	InboxDir    string `json:"inbox_dir,omitempty"`
	Initialized bool   `json:"initialized"`
}

type initOptions struct {
	force       bool
	interactive bool
	deviceName  string
	backend     string
	remoteDir   string
	s3Bucket    string
	s3Region    string
	s3Endpoint  string
	s3KeyID     string
	s3Secret    string
	capture     bool
}

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize focus configuration",
		Long: `Initialize focus configuration.

This command writes ~/.focussync/config.yaml (or the path given with
--config) with the chosen remote store, and creates the directories the
configuration points at.

Examples:
  # Sync through a shared folder such as a Dropbox directory
  focus init --backend filesystem --remote-dir ~/Dropbox/focus

  # Sync through an S3 bucket using the default AWS credential chain
  focus init --backend s3 --s3-bucket my-focus --s3-region eu-west-1

  # Answer questions instead of passing flags
  focus init -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite existing configuration")
	cmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "prompt for settings")
	cmd.Flags().StringVar(&opts.deviceName, "device-name", "", "human readable name for this device")
	cmd.Flags().StringVar(&opts.backend, "backend", config.DefaultBackend, "remote backend: memory, filesystem, s3")
	cmd.Flags().StringVar(&opts.remoteDir, "remote-dir", config.DefaultRemoteDir, "shared directory for the filesystem backend")
	cmd.Flags().StringVar(&opts.s3Bucket, "s3-bucket", "", "bucket for the s3 backend")
	cmd.Flags().StringVar(&opts.s3Region, "s3-region", "", "region for the s3 backend")
	cmd.Flags().StringVar(&opts.s3Endpoint, "s3-endpoint", "", "endpoint for S3 compatible services")
	cmd.Flags().StringVar(&opts.s3KeyID, "s3-access-key-id", "", "static access key (default: AWS credential chain)")
	cmd.Flags().StringVar(&opts.s3Secret, "s3-secret-access-key", "", "static secret key, stored sealed")
	cmd.Flags().BoolVar(&opts.capture, "capture", false, "import images dropped into the inbox directory")

	return cmd
}

// prompter handles interactive user input.
type prompter struct {
	reader    *bufio.Reader
	formatter *output.Formatter
}

func newPrompter(in io.Reader, formatter *output.Formatter) *prompter {
	return &prompter{reader: bufio.NewReader(in), formatter: formatter}
}

// prompt asks a question and returns the answer (or default if empty).
func (p *prompter) prompt(question, defaultValue string) (string, error) {
	if defaultValue != "" {
		p.formatter.Print("%s [%s]: ", question, defaultValue)
	} else {
		p.formatter.Print("%s: ", question)
	}

	answer, err := p.reader.ReadString('\n')
	if err != nil && (err != io.EOF || answer == "") {
		if err == io.EOF {
			return defaultValue, nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

// promptYesNo asks a yes/no question and returns true for yes.
func (p *prompter) promptYesNo(question string, defaultYes bool) (bool, error) {
	def := "n"
	if defaultYes {
		def = "y"
	}
	answer, err := p.prompt(question+" (y/n)", def)
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

func (o *initOptions) ask(p *prompter) error {
	var err error
	if o.deviceName, err = p.prompt("Device name", o.deviceName); err != nil {
		return err
	}
	if o.backend, err = p.prompt("Remote backend (filesystem, s3, memory)", o.backend); err != nil {
		return err
	}

	switch o.backend {
	case config.BackendFilesystem:
		if o.remoteDir, err = p.prompt("Shared directory", o.remoteDir); err != nil {
			return err
		}
	case config.BackendS3:
		if o.s3Bucket, err = p.prompt("S3 bucket", o.s3Bucket); err != nil {
			return err
		}
		if o.s3Region, err = p.prompt("S3 region", o.s3Region); err != nil {
			return err
		}
		if o.s3Endpoint, err = p.prompt("S3 endpoint (blank for AWS)", o.s3Endpoint); err != nil {
			return err
		}
		if o.s3KeyID, err = p.prompt("Access key ID (blank for the AWS credential chain)", o.s3KeyID); err != nil {
			return err
		}
		if o.s3KeyID != "" {
			if o.s3Secret, err = p.prompt("Secret access key", ""); err != nil {
				return err
			}
		}
	}

	o.capture, err = p.promptYesNo("Import images from an inbox folder", o.capture)
	return err
}

func (o *initOptions) apply(cfg *config.Config) {
	cfg.Device.Name = o.deviceName
	cfg.Remote.Backend = strings.ToLower(strings.TrimSpace(o.backend))
	cfg.Remote.Filesystem.Dir = o.remoteDir
	cfg.Remote.S3.Bucket = o.s3Bucket
	cfg.Remote.S3.Region = o.s3Region
	cfg.Remote.S3.Endpoint = o.s3Endpoint
	cfg.Remote.S3.UsePathStyle = o.s3Endpoint != ""
	cfg.Remote.S3.AccessKeyID = o.s3KeyID
	cfg.Remote.S3.SecretAccessKey = o.s3Secret
	cfg.Capture.Enabled = o.capture
}

func runInit(cmd *cobra.Command, opts initOptions) error {
	formatter, err := newFormatter(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	loader, err := config.NewLoader("")
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}
	configFile := globalFlags.ConfigFile
	if configFile == "" {
		configFile = loader.DefaultConfigPath()
	}

	if _, err := os.Stat(configFile); err == nil && !opts.force {
		if formatter.IsJSON() {
			return formatter.JSON(InitResult{ConfigFile: configFile, Initialized: false})
		}
		formatter.Warning("Configuration already exists at %s", configFile)
		formatter.Info("Use --force to overwrite existing configuration")
		return nil
	}

	if opts.interactive && !formatter.IsJSON() {
		formatter.Header("Focus Configuration")
		if err := opts.ask(newPrompter(cmd.InOrStdin(), formatter)); err != nil {
			return err
		}
	}

	cfg := config.NewDefaultConfig()
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg, configFile); err != nil {
		return err
	}
	if err := prepareDirs(cfg); err != nil {
		return err
	}

	result := InitResult{
		ConfigFile:  configFile,
		Backend:     cfg.Remote.Backend,
		Initialized: true,
	}
	switch cfg.Remote.Backend {
	case config.BackendFilesystem:
		result.RemoteDir = config.ExpandPath(cfg.Remote.Filesystem.Dir)
	case config.BackendS3:
		result.S3Bucket = cfg.Remote.S3.Bucket
	}
	if cfg.Capture.Enabled {
		result.InboxDir = config.ExpandPath(cfg.Capture.InboxDir)
	}

	if formatter.IsJSON() {
		return formatter.JSON(result)
	}

	formatter.Success("Configuration initialized")
	formatter.Item("Config file", result.ConfigFile)
	formatter.Item("Backend", result.Backend)
	if result.RemoteDir != "" {
		formatter.Item("Remote directory", result.RemoteDir)
	}
	if result.S3Bucket != "" {
		formatter.Item("S3 bucket", result.S3Bucket)
	}
	if result.InboxDir != "" {
		formatter.Item("Inbox", result.InboxDir)
	}
	formatter.Info("Run 'focus session start' to begin a session")
	return nil
}

// prepareDirs creates the local directories the configuration uses.
func prepareDirs(cfg *config.Config) error {
	dirs := []string{filepath.Dir(cfg.Storage.Path)}
	if cfg.Remote.Backend == config.BackendFilesystem {
		dirs = append(dirs, cfg.Remote.Filesystem.Dir)
	}
	if cfg.Capture.Enabled {
		dirs = append(dirs, cfg.Capture.InboxDir)
	}
	for _, raw := range dirs {
		dir := config.ExpandPath(raw)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
