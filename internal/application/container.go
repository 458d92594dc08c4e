// Package application provides application-level services and dependency injection.
package application

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/jbctechsolutions/focussync/internal/adapters/remote"
	"github.com/jbctechsolutions/focussync/internal/adapters/remote/filesystem"
	"github.com/jbctechsolutions/focussync/internal/adapters/remote/memory"
	"github.com/jbctechsolutions/focussync/internal/adapters/remote/s3"
	adapterSync "github.com/jbctechsolutions/focussync/internal/adapters/sync"
	"github.com/jbctechsolutions/focussync/internal/adapters/sync/sqlite"
	appCapture "github.com/jbctechsolutions/focussync/internal/application/capture"
	"github.com/jbctechsolutions/focussync/internal/application/changes"
	appImage "github.com/jbctechsolutions/focussync/internal/application/image"
	appNote "github.com/jbctechsolutions/focussync/internal/application/note"
	appSession "github.com/jbctechsolutions/focussync/internal/application/session"
	appSync "github.com/jbctechsolutions/focussync/internal/application/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/config"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/logging"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/storage"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/tracing"
)

// Container holds all application dependencies and provides a central
// point for dependency injection. It manages the lifecycle of services
// and ensures proper initialization order.
type Container struct {
	// Configuration
	config  *config.Config
	verbose bool // Override log level to info when true
	clock   clock.Clock

	// Database connection
	dbConn *sqlite.Connection
	db     *sql.DB
	store  *storage.Store
	writer *changes.Writer

	// Entity services
	sessions *appSession.Service
	notes    *appNote.Service
	images   *appImage.Service
	capture  *appCapture.Service

	// Sync
	registry *adapterSync.Registry
	engine   *appSync.Engine
	trigger  *appSync.Trigger
	deviceID string

	// Observability
	logger *logging.Logger
	tracer *tracing.Tracer
}

// Option customizes a container.
type Option func(*Container)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Container) { c.clock = clk }
}

// NewContainer creates a new dependency injection container with all services
// initialized based on the provided configuration.
func NewContainer(cfg *config.Config, verbose bool, opts ...Option) (*Container, error) {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Container{
		config:  cfg,
		verbose: verbose,
		clock:   clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx := context.Background()

	if err := c.initObservability(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	if err := c.initDatabase(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c.initServices()

	if err := c.initRemote(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize remote store: %w", err)
	}

	if err := c.initSync(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize sync: %w", err)
	}

	return c, nil
}

// initObservability initializes logging and tracing.
func (c *Container) initObservability(ctx context.Context) error {
	logLevel := logging.LevelInfo
	if !c.verbose {
		switch c.config.Logging.Level {
		case "debug":
			logLevel = logging.LevelDebug
		case "warn":
			logLevel = logging.LevelWarn
		case "error":
			logLevel = logging.LevelError
		}
	}

	logFormat := logging.FormatText
	if c.config.Logging.Format == "json" {
		logFormat = logging.FormatJSON
	}

	logCfg := logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stderr,
	}
	if c.config.Logging.File != "" {
		logCfg.File = &logging.FileConfig{
			Path:       config.ExpandPath(c.config.Logging.File),
			MaxSizeMB:  c.config.Logging.MaxSizeMB,
			MaxBackups: c.config.Logging.MaxBackups,
			MaxAgeDays: c.config.Logging.MaxAgeDays,
			Compress:   c.config.Logging.Compress,
		}
	}
	c.logger = logging.New(logCfg)

	if c.config.Observability.Tracing.Enabled {
		tracer, err := tracing.New(ctx, tracing.Config{
			Enabled:      true,
			ExporterType: tracing.ExporterType(c.config.Observability.Tracing.ExporterType),
			OTLPEndpoint: c.config.Observability.Tracing.OTLPEndpoint,
			ServiceName:  c.config.Observability.Tracing.ServiceName,
			Environment:  "production",
			SampleRate:   c.config.Observability.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("failed to create tracer: %w", err)
		}
		c.tracer = tracer
	} else {
		c.tracer = tracing.Default()
	}
	return nil
}

// initDatabase opens the local store and applies migrations.
func (c *Container) initDatabase() error {
	conn, err := sqlite.NewConnection(config.ExpandPath(c.config.Storage.Path))
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := conn.Open(); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db, err := conn.DB()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to get database handle: %w", err)
	}

	c.dbConn = conn
	c.db = db
	c.store = storage.NewStore(db)
	c.writer = changes.NewWriter(c.store)
	return nil
}

// initServices creates the entity services over the shared writer.
func (c *Container) initServices() {
	c.sessions = appSession.NewService(c.writer, c.clock)
	c.notes = appNote.NewService(c.writer, c.clock)
	c.images = appImage.NewService(c.writer, c.clock)
}

// initRemote builds the configured remote store and registers it.
func (c *Container) initRemote(ctx context.Context) error {
	bucket, err := c.newBucket(ctx)
	if err != nil {
		return err
	}

	c.registry = adapterSync.NewRegistry()
	store := remote.NewStore(c.config.Remote.Backend, bucket, c.logger.Underlying())
	return c.registry.Register(store)
}

func (c *Container) newBucket(ctx context.Context) (remote.Bucket, error) {
	switch c.config.Remote.Backend {
	case config.BackendMemory:
		return memory.NewBucket(c.clock), nil

	case config.BackendFilesystem:
		b, err := filesystem.NewBucket(config.ExpandPath(c.config.Remote.Filesystem.Dir))
		if err != nil {
			return nil, err
		}
		return b, nil

	case config.BackendS3:
		s3Cfg := c.config.Remote.S3
		b, err := s3.NewBucket(ctx, s3.Config{
			Bucket:          s3Cfg.Bucket,
			Region:          s3Cfg.Region,
			Endpoint:        s3Cfg.Endpoint,
			AccessKeyID:     s3Cfg.AccessKeyID,
			SecretAccessKey: s3Cfg.SecretAccessKey,
			Prefix:          s3Cfg.Prefix,
			UsePathStyle:    s3Cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown remote backend %q", c.config.Remote.Backend)
	}
}

// initSync resolves the device identity and wires the engine and trigger.
func (c *Container) initSync(ctx context.Context) error {
	meta, err := c.store.Repos().Metadata.GetOrCreate(ctx, c.config.Device.ID)
	if err != nil {
		return fmt.Errorf("failed to load sync metadata: %w", err)
	}
	c.deviceID = meta.DeviceID

	syncCfg := c.config.Sync
	c.engine = appSync.NewEngine(c.store, c.registry, c.clock, appSync.EngineConfig{
		DeviceID:           c.deviceID,
		CallTimeout:        syncCfg.CallTimeout,
		RetryWarnThreshold: syncCfg.RetryWarnThreshold,
		Logger:             c.logger,
		Tracer:             c.tracer,
	}, c.sessions, c.notes, c.images)

	c.trigger = appSync.NewTrigger(c.engine, c.clock, appSync.TriggerConfig{
		DebounceDelay:     syncCfg.DebounceDelay,
		InitialBackoff:    syncCfg.InitialBackoff,
		MaxBackoff:        syncCfg.MaxBackoff,
		BackoffMultiplier: syncCfg.BackoffMultiplier,
		BackoffJitter:     syncCfg.BackoffJitter,
		Logger:            c.logger,
	})
	c.writer.SetNotifier(c.trigger)
	return nil
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	ctx := context.Background()

	if c.capture != nil {
		_ = c.capture.Stop()
	}

	if c.trigger != nil {
		c.trigger.Stop()
	}

	if c.tracer != nil {
		_ = c.tracer.Shutdown(ctx)
	}

	var err error
	if c.dbConn != nil {
		err = c.dbConn.Close()
	}

	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

// StartCapture starts the inbox watcher when capture is enabled. The
// service is created on first use.
func (c *Container) StartCapture(ctx context.Context) error {
	if !c.config.Capture.Enabled {
		return nil
	}
	if c.capture == nil {
		svc, err := appCapture.NewService(appCapture.Config{
			InboxDir: config.ExpandPath(c.config.Capture.InboxDir),
			OnImport: func(ev appCapture.ImportEvent) {
				if ev.Error == nil {
					c.logger.Debug("capture queued for sync", "image_id", ev.ImageID)
				}
			},
		}, c.sessions, c.images, c.logger)
		if err != nil {
			return fmt.Errorf("failed to create capture service: %w", err)
		}
		c.capture = svc
	}
	return c.capture.Start(ctx)
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// DB returns the database connection.
func (c *Container) DB() *sql.DB {
	return c.db
}

// Connection returns the SQLite connection.
func (c *Container) Connection() *sqlite.Connection {
	return c.dbConn
}

// Store returns the transactional entity store.
func (c *Container) Store() *storage.Store {
	return c.store
}

// Sessions returns the session service.
func (c *Container) Sessions() *appSession.Service {
	return c.sessions
}

// Notes returns the note service.
func (c *Container) Notes() *appNote.Service {
	return c.notes
}

// Images returns the image service.
func (c *Container) Images() *appImage.Service {
	return c.images
}

// Capture returns the capture service, or nil before StartCapture.
func (c *Container) Capture() *appCapture.Service {
	return c.capture
}

// Registry returns the remote store registry.
func (c *Container) Registry() *adapterSync.Registry {
	return c.registry
}

// Engine returns the sync engine.
func (c *Container) Engine() *appSync.Engine {
	return c.engine
}

// Trigger returns the debounced sync trigger.
func (c *Container) Trigger() *appSync.Trigger {
	return c.trigger
}

// DeviceID returns the identity this replica syncs as.
func (c *Container) DeviceID() string {
	return c.deviceID
}

// Clock returns the container's clock.
func (c *Container) Clock() clock.Clock {
	return c.clock
}

// Logger returns the structured logger.
func (c *Container) Logger() *logging.Logger {
	return c.logger
}

// Tracer returns the OpenTelemetry tracer.
func (c *Container) Tracer() *tracing.Tracer {
	return c.tracer
}
