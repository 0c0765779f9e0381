package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/odoogen/internal/adapter/gateway/generation"
	"github.com/YoshitsuguKoike/odoogen/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/odoogen/internal/app"
	appconfig "github.com/YoshitsuguKoike/odoogen/internal/app/config"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/input"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	workflowusecase "github.com/YoshitsuguKoike/odoogen/internal/application/usecase/workflow"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/infra/persistence/file"
	redisrepo "github.com/YoshitsuguKoike/odoogen/internal/infrastructure/persistence/redis"
	sqliterepo "github.com/YoshitsuguKoike/odoogen/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/odoogen/internal/infrastructure/transaction"
)

// Container is the DI container that holds all dependencies
// This implements manual dependency injection for Clean Architecture
type Container struct {
	// Infrastructure Layer - connections
	db    *sql.DB
	redis *goredis.Client
	fs    afero.Fs

	// Infrastructure Layer - Repositories
	sessionRepo  repository.SessionRepository
	artifactRepo repository.ArtifactRepository
	journalRepo  repository.JournalRepository

	// Infrastructure Layer - Gateways
	generationGateway output.GenerationGateway

	// Infrastructure Layer - Transaction Manager
	txManager output.TransactionManager

	// Application Layer - Use Cases
	engine *workflowusecase.Engine

	config *appconfig.Config
	opts   Options
}

// Options holds settings that do not come from the configuration file
type Options struct {
	Logger app.Logger
	// Fs backs the file stores; defaults to the OS filesystem
	Fs afero.Fs
}

// NewContainer creates and initializes the DI container
func NewContainer(ctx context.Context, cfg *appconfig.Config, opts Options) (*Container, error) {
	c := &Container{config: cfg, opts: opts}

	if c.opts.Logger == nil {
		c.opts.Logger = app.GetLogger()
	}
	c.fs = c.opts.Fs
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}

	if err := c.initializeInfrastructure(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}

	c.initializeApplication()
	return c, nil
}

// initializeInfrastructure opens the configured stores and the gateway
func (c *Container) initializeInfrastructure(ctx context.Context) error {
	if c.config.UsesSQLite() {
		db, err := sqliterepo.Open(c.config.Database.Path)
		if err != nil {
			return err
		}
		c.db = db
	}

	switch c.config.Session.Backend {
	case appconfig.SessionBackendFile:
		c.sessionRepo = file.NewSessionRepository(c.fs, c.config.Home)
	case appconfig.SessionBackendSQLite:
		c.sessionRepo = sqliterepo.NewSessionRepository(c.db)
	case appconfig.SessionBackendRedis:
		client, err := redisrepo.Dial(ctx, c.config.Session.RedisURL)
		if err != nil {
			return err
		}
		c.redis = client
		c.sessionRepo = redisrepo.NewSessionRepository(client, c.config.Session.RedisTTL)
	default:
		return fmt.Errorf("unknown session backend: %s", c.config.Session.Backend)
	}

	switch c.config.Artifacts.Backend {
	case appconfig.ArtifactBackendFile:
		c.artifactRepo = file.NewArtifactRepository(c.fs, c.config.Home)
	case appconfig.ArtifactBackendSQLite:
		c.artifactRepo = sqliterepo.NewArtifactRepository(c.db)
	case appconfig.ArtifactBackendS3:
		repo, err := storage.NewS3ArtifactRepository(ctx, storage.S3Config{
			BucketName: c.config.Artifacts.S3Bucket,
			Prefix:     c.config.Artifacts.S3Prefix,
			Region:     c.config.Artifacts.S3Region,
			Endpoint:   c.config.Artifacts.S3Endpoint,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 artifact store: %w", err)
		}
		c.artifactRepo = repo
	default:
		return fmt.Errorf("unknown artifact backend: %s", c.config.Artifacts.Backend)
	}

	if c.config.Log.Journal {
		c.journalRepo = file.NewJournalRepository(c.fs, filepath.Join(c.config.Home, "journal.ndjson"))
	}

	// Artifact append and session save commit together only when both live in SQLite
	if c.config.Session.Backend == appconfig.SessionBackendSQLite &&
		c.config.Artifacts.Backend == appconfig.ArtifactBackendSQLite {
		c.txManager = transaction.NewSQLiteTransactionManager(c.db)
	} else {
		c.txManager = transaction.NewNoopTransactionManager()
		if _, ok := c.artifactRepo.(repository.ArtifactReverter); !ok {
			return fmt.Errorf("artifact backend %s cannot undo a failed commit outside a shared transaction with session backend %s",
				c.config.Artifacts.Backend, c.config.Session.Backend)
		}
	}

	gateway, err := generation.NewGenerationGateway(generation.Options{
		Type:        c.config.Gateway.Type,
		BaseURL:     c.config.Gateway.BaseURL,
		APIKey:      c.config.Gateway.APIKey,
		Timeout:     c.config.Workflow.GenerationTimeout,
		TestTimeout: c.config.Gateway.TestTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create generation gateway: %w", err)
	}
	c.generationGateway = gateway
	return nil
}

func (c *Container) initializeApplication() {
	opts := []workflowusecase.Option{workflowusecase.WithLogger(c.opts.Logger)}
	if c.journalRepo != nil {
		opts = append(opts, workflowusecase.WithJournal(c.journalRepo))
	}
	c.engine = workflowusecase.NewEngine(
		c.sessionRepo,
		c.artifactRepo,
		c.generationGateway,
		c.txManager,
		workflowusecase.Config{
			MaxRevisions:       c.config.Workflow.MaxRevisions,
			GenerationTimeout:  c.config.Workflow.GenerationTimeout,
			TestTimeout:        c.config.Gateway.TestTimeout,
			PollInterval:       c.config.Workflow.PollInterval,
			DefaultOdooVersion: c.config.Odoo.DefaultVersion,
			DefaultOdooEdition: c.config.Odoo.DefaultEdition,
		},
		opts...,
	)
}

// GetEngine returns the workflow engine
func (c *Container) GetEngine() input.WorkflowEngine {
	return c.engine
}

// GetJournal returns the transition journal, nil when disabled
func (c *Container) GetJournal() repository.JournalRepository {
	return c.journalRepo
}

// GetLogger returns the application logger
func (c *Container) GetLogger() app.Logger {
	return c.opts.Logger
}

// GetConfig returns the configuration the container was built from
func (c *Container) GetConfig() *appconfig.Config {
	return c.config
}

// Close releases database and Redis connections
func (c *Container) Close() error {
	var errs []error
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		c.db = nil
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.redis = nil
	}
	return errors.Join(errs...)
}
