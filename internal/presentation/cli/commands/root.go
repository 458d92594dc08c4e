// Package commands implements the CLI commands for focus.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/focussync/internal/application"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/config"
	"github.com/jbctechsolutions/focussync/internal/presentation/cli/output"
)

// Version information - set at build time via ldflags.
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GlobalFlags holds the global CLI flags.
type GlobalFlags struct {
	ConfigFile string
	Output     string
	Verbose    bool
}

// AppContext holds the application runtime context.
type AppContext struct {
	Config    *config.Config
	Formatter *output.Formatter
	Flags     *GlobalFlags
	Container *application.Container
}

var (
	globalFlags GlobalFlags
	appCtx      *AppContext
	appCtxMu    sync.RWMutex // Protects appCtx for thread-safe access
)

// commands that run without opening the store
var standalone = map[string]bool{
	"help":       true,
	"version":    true,
	"completion": true,
	"init":       true,
}

// NewRootCmd creates the root command for the focus CLI.
func NewRootCmd() *cobra.Command {
	globalFlags = GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "focus",
		Short: "Focus - offline-first focus sessions with notes and images",
		Long: `Focus records timed work sessions, the notes you write during them,
and the images you capture, in a local database that works offline.

Every local edit is queued and synced to a shared remote store in the
background, so the same sessions show up on all of your devices.

Key features:
  • Sessions, notes, and images stored locally in SQLite
  • Debounced background sync with retry and backoff
  • Last-writer-wins reconciliation across devices
  • Filesystem or S3 remote stores`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if standalone[cmd.Name()] {
				return nil
			}
			return initializeApp(cmd.OutOrStdout())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			Shutdown()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalFlags.ConfigFile, "config", "c", "", "config file path (default: ~/.focussync/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.Output, "output", "o", "text", "output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(NewVersionCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewSessionCmd())
	rootCmd.AddCommand(NewNoteCmd())
	rootCmd.AddCommand(NewImageCmd())
	rootCmd.AddCommand(NewSyncCmd())

	return rootCmd
}

// newFormatter builds a formatter for the --output flag.
func newFormatter(w io.Writer) (*output.Formatter, error) {
	format, err := output.ParseFormat(globalFlags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewFormatter(
		output.WithWriter(w),
		output.WithFormat(format),
		output.WithColor(format != output.FormatJSON && output.IsColorSupported()),
	), nil
}

// initializeApp loads configuration and builds the container.
func initializeApp(w io.Writer) error {
	formatter, err := newFormatter(w)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(globalFlags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	container, err := application.NewContainer(cfg, globalFlags.Verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	appCtxMu.Lock()
	appCtx = &AppContext{
		Config:    cfg,
		Formatter: formatter,
		Flags:     &globalFlags,
		Container: container,
	}
	appCtxMu.Unlock()

	return nil
}

// loadConfig loads configuration from the specified file or default location.
func loadConfig(configPath string) (*config.Config, error) {
	loader, err := config.NewLoader("")
	if err != nil {
		return nil, fmt.Errorf("failed to create config loader: %w", err)
	}
	return loader.Load(configPath)
}

// GetAppContext returns the current application context, or nil.
func GetAppContext() *AppContext {
	appCtxMu.RLock()
	defer appCtxMu.RUnlock()
	return appCtx
}

// GetFormatter returns the output formatter.
// Creates a default formatter if app context is not initialized.
func GetFormatter() *output.Formatter {
	if ctx := GetAppContext(); ctx != nil {
		return ctx.Formatter
	}
	return output.NewFormatter(output.WithColor(output.IsColorSupported()))
}

// GetContainer returns the application container, or nil.
func GetContainer() *application.Container {
	if ctx := GetAppContext(); ctx != nil {
		return ctx.Container
	}
	return nil
}

// requireApp returns the container and formatter for a command.
func requireApp() (*application.Container, *output.Formatter, error) {
	ctx := GetAppContext()
	if ctx == nil || ctx.Container == nil {
		return nil, nil, fmt.Errorf("application not initialized")
	}
	return ctx.Container, ctx.Formatter, nil
}

// Shutdown closes the container. It is safe to call more than once.
func Shutdown() {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()

	if appCtx == nil {
		return
	}
	if appCtx.Container != nil {
		_ = appCtx.Container.Close()
	}
	appCtx = nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context so long-running commands such as sync watch stop cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	formatter := GetFormatter()
	Shutdown()

	if err != nil {
		formatter.Error("%s", err.Error())
		os.Exit(1)
	}
	if ctx.Err() != nil {
		os.Exit(130) // Standard exit code for SIGINT
	}
}
