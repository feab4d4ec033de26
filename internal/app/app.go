// Package app wires the configured stores, index, cache, ledger and locks
// into a contacts service. The server and the maintenance binaries share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/emailfinder/internal/audit"
	"github.com/ignite/emailfinder/internal/config"
	"github.com/ignite/emailfinder/internal/ingest"
	"github.com/ignite/emailfinder/internal/memstore"
	"github.com/ignite/emailfinder/internal/opensearch"
	"github.com/ignite/emailfinder/internal/pagination"
	"github.com/ignite/emailfinder/internal/pkg/distlock"
	"github.com/ignite/emailfinder/internal/pkg/logger"
	"github.com/ignite/emailfinder/internal/reindex"
	"github.com/ignite/emailfinder/internal/repository/postgres"
	"github.com/ignite/emailfinder/internal/searchcache"
	"github.com/ignite/emailfinder/internal/service/contacts"
	"github.com/ignite/emailfinder/internal/storage"
	"github.com/ignite/emailfinder/internal/visibility"
)

// Options select how the app is assembled.
type Options struct {
	// Memory replaces PostgreSQL and OpenSearch with in-memory stand-ins.
	Memory bool
}

// App holds the assembled components.
type App struct {
	Config *config.Config

	DB      *sql.DB       // nil in memory mode
	Redis   *redis.Client // nil when not configured or unreachable
	Store   contacts.Store
	Index   contacts.Index
	Cache   contacts.Cache
	Ledger  *audit.Ledger    // nil when auditing is disabled
	Objects *storage.Objects // nil without an import bucket
	Locks   distlock.Factory
	Service *contacts.Service

	closers []func() error
}

// New connects every configured dependency. Close releases them.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	if opts.Memory {
		a.Store = memstore.NewStore()
		a.Index = memstore.NewIndex()
		logger.Warn("app: running with in-memory record store and index")
	} else {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Store = postgres.NewContactRepo(db)

		client := opensearch.NewClient(cfg.OpenSearch)
		if err := client.EnsureIndex(ctx); err != nil {
			logger.Warn("app: could not verify search index", "index", cfg.OpenSearch.Index, "error", err)
		}
		a.Index = client
	}

	a.Redis = connectRedis(ctx, cfg.Redis.URL)
	if a.Redis != nil {
		a.closers = append(a.closers, a.Redis.Close)
	}
	a.Locks = distlock.NewFactory(a.Redis, a.DB, cfg.Reindex.LockTTL())
	a.Cache = newCache(cfg.Cache, a.Redis)

	if cfg.Audit.Enabled || cfg.Import.Bucket != "" {
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.wireAWS(awsCfg)
	}

	svcOpts := contacts.Options{
		Pagination: pagination.Engine{
			DefaultLimit:     cfg.Search.DefaultLimit,
			MaxLimit:         cfg.Search.MaxLimit,
			DefaultSortField: cfg.Search.DefaultSortField,
			SortableFields:   cfg.Search.SortableFields,
			MaxResultWindow:  cfg.Search.MaxResultWindow,
		},
		Visibility:        policy(cfg.Visibility),
		ClearPollInterval: cfg.OpenSearch.PollInterval(),
		ClearPollAttempts: cfg.OpenSearch.PollAttempts,
		MaxBulkDelete:     cfg.Server.MaxBulkDelete,
		Cache:             a.Cache,
		Locks:             a.Locks,
	}
	if a.Ledger != nil {
		svcOpts.Recorder = a.Ledger
	}
	a.Service = contacts.NewService(a.Store, a.Index, svcOpts)
	return a, nil
}

func (a *App) wireAWS(awsCfg aws.Config) {
	if a.Config.Audit.Enabled {
		a.Ledger = audit.NewLedger(storage.NewDynamoDB(awsCfg, a.Config.AWS), a.Config.Audit.Table, a.Config.Audit.TTL())
		logger.Info("app: audit ledger enabled", "table", a.Config.Audit.Table)
	}
	if a.Config.Import.Bucket != "" {
		a.Objects = storage.NewObjects(storage.NewS3(awsCfg, a.Config.AWS), a.Config.Import.Bucket)
	}
}

// Importer returns a CSV importer writing through the service.
func (a *App) Importer() *ingest.Importer {
	return ingest.NewImporter(a.Service, a.Config.Import.BatchSize)
}

// Reindexer returns a runner copying the record store into the index.
// Progress is checkpointed in Redis when available.
func (a *App) Reindexer() *reindex.Runner {
	var cp reindex.Checkpoint
	if a.Redis != nil {
		cp = reindex.NewRedisCheckpoint(a.Redis, a.Config.Reindex.CheckpointKey)
	}
	return reindex.NewRunner(a.Store, a.Index, cp, reindex.Options{
		BatchSize:        a.Config.Reindex.BatchSize,
		BatchesPerSecond: a.Config.Reindex.BatchesPerSec,
		Locks:            a.Locks,
		LockTTL:          a.Config.Reindex.LockTTL(),
		Cache:            a.Cache,
	})
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenDB opens and pings PostgreSQL with the configured pool limits.
func OpenDB(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	return openDB(ctx, c)
}

func openDB(ctx context.Context, c config.DatabaseConfig) (*sql.DB, error) {
	if c.URL == "" {
		return nil, errors.New("database url is not configured (set DATABASE_URL)")
	}
	dsn := c.URL
	if !strings.Contains(dsn, "connect_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "connect_timeout=5"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(c.ConnMaxLifetime) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// connectRedis returns nil when url is empty or Redis does not answer;
// callers fall back to local caches and PostgreSQL advisory locks.
func connectRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		logger.Info("app: redis not configured, using local cache and advisory locks")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("app: redis unreachable, falling back", "error", err)
		client.Close()
		return nil
	}
	return client
}

func newCache(c config.CacheConfig, rdb *redis.Client) contacts.Cache {
	switch c.Backend {
	case "none":
		return nil
	case "redis":
		if rdb != nil {
			return searchcache.NewRedis(rdb, c.TTL())
		}
		logger.Warn("app: redis cache requested without redis, using memory cache")
	}
	return searchcache.NewMemory(c.Capacity, c.TTL())
}

func policy(c config.VisibilityConfig) visibility.Policy {
	p := visibility.DefaultPolicy()
	if c.UnmaskedLimit > 0 {
		p.UnmaskedLimit = c.UnmaskedLimit
	}
	if c.VisiblePrefix > 0 {
		p.VisiblePrefix = c.VisiblePrefix
	}
	if r := []rune(c.MaskChar); len(r) > 0 {
		p.MaskChar = r[0]
	}
	return p
}
