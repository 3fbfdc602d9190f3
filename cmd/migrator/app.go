package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	rootpkg "github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/chain"
	"github.com/getpup/pupsourcing-migrator/internal/config"
	"github.com/getpup/pupsourcing-migrator/internal/logging"
	redislock "github.com/getpup/pupsourcing-migrator/lock/redis"
	"github.com/getpup/pupsourcing-migrator/metrics"
	"github.com/getpup/pupsourcing-migrator/pkg/migrator"
	"github.com/getpup/pupsourcing-migrator/registry"
	"github.com/getpup/pupsourcing-migrator/store"
	mysqlstore "github.com/getpup/pupsourcing-migrator/store/mysql"
	pgstore "github.com/getpup/pupsourcing-migrator/store/postgres"
	sqlitestore "github.com/getpup/pupsourcing-migrator/store/sqlite"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// backend is everything a driver contributes.
type backend interface {
	store.NamespaceStore
	store.Inspector
	store.ReportStore
	EnsureHistoryTables(ctx context.Context) error
}

// app holds the resources of one CLI invocation.
type app struct {
	cfg     *config.Config
	zap     *zap.Logger
	logger  *logging.Logger
	db      *sql.DB
	backend backend
	locker  store.Locker
	metrics *metrics.Server
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	z, err := logging.Build(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, zap: z, logger: logging.New(z)}
	if err := a.openBackend(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	if err := a.openLocker(); err != nil {
		a.close(ctx)
		return nil, err
	}

	if cfg.Run.SaveReports {
		if err := a.backend.EnsureHistoryTables(ctx); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewServer(cfg.Metrics.Addr, prometheus.DefaultGatherer)
		a.metrics.Start()
	}
	return a, nil
}

func (a *app) openBackend(ctx context.Context) error {
	db := a.cfg.Database
	switch db.Driver {
	case config.DriverPostgres:
		conn, err := sql.Open("postgres", db.DSN)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.setDB(conn)
		a.backend = pgstore.New(conn)
	case config.DriverPGX:
		pcfg, err := poolConfig(db.DSN, a.cfg.Run.Workers)
		if err != nil {
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		conn := stdlib.OpenDBFromPool(pool)
		a.setDB(conn)
		a.backend = pgstore.New(conn)
	case config.DriverMySQL:
		dsn, err := mysqlstore.NormalizeDSN(db.DSN)
		if err != nil {
			return err
		}
		conn, err := sql.Open("mysql", dsn)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		a.setDB(conn)
		a.backend = mysqlstore.New(conn)
	case config.DriverSQLite:
		s, err := sqlitestore.Open(db.Dir)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, s.Close)
		a.backend = s
		return nil
	default:
		return fmt.Errorf("unsupported database driver: %q", db.Driver)
	}

	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// poolConfig parses dsn and raises MaxConns so every worker can hold its lock
// connection and run its statements at once.
func poolConfig(dsn string, workers int) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database dsn: %w", err)
	}
	if need := int32(2*workers + 1); pcfg.MaxConns < need {
		pcfg.MaxConns = need
	}
	return pcfg, nil
}

func (a *app) setDB(db *sql.DB) {
	a.db = db
	a.closers = append(a.closers, db.Close)
}

func (a *app) openLocker() error {
	if a.cfg.Lock.Backend == config.LockRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Lock.RedisAddr,
			Password: a.cfg.Lock.RedisPassword,
			DB:       a.cfg.Lock.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		a.locker = redislock.New(redislock.Config{
			Client:  client,
			TTL:     a.cfg.Lock.TTL,
			MaxWait: a.cfg.Lock.MaxWait,
		})
		return nil
	}

	switch s := a.backend.(type) {
	case *pgstore.Store:
		a.locker = pgstore.NewLocker(a.db)
	case *mysqlstore.Store:
		a.locker = mysqlstore.NewLocker(a.db)
	case *sqlitestore.Store:
		a.locker = sqlitestore.NewLocker(s.Dir())
	default:
		return fmt.Errorf("no database lock for %T", a.backend)
	}
	return nil
}

func (a *app) tenantSource() (registry.Source, error) {
	t := a.cfg.Tenants
	switch t.Source {
	case config.SourceStatic:
		return registry.Static(t.Static...), nil
	case config.SourceCatalog:
		if a.db == nil {
			return nil, fmt.Errorf("catalog tenant source requires a server database driver")
		}
		return registry.SQLCatalog{DB: a.db, Query: t.CatalogQuery}, nil
	default:
		return registry.NamespaceSource{Lister: a.backend, Prefix: t.Prefix}, nil
	}
}

func loadChain(path string) (*chain.Chain, error) {
	return chain.LoadManifest(os.DirFS(filepath.Dir(path)), filepath.Base(path))
}

// migrator builds the facade. The public manifest is optional.
func (a *app) migrator(workers int, lockMode string) (*migrator.Migrator, error) {
	tenantChain, err := loadChain(a.cfg.Migrations.TenantManifest)
	if err != nil {
		return nil, err
	}
	source, err := a.tenantSource()
	if err != nil {
		return nil, err
	}
	mode, err := rootpkg.ParseLockMode(lockMode)
	if err != nil {
		return nil, err
	}

	opts := []migrator.Option{
		migrator.WithStore(a.backend),
		migrator.WithLocker(a.locker),
		migrator.WithTenantChain(tenantChain),
		migrator.WithTenantSource(source),
		migrator.WithIgnoredTenants(a.cfg.Tenants.Ignored...),
		migrator.WithPublicNamespace(a.cfg.Run.PublicNamespace),
		migrator.WithWorkers(workers),
		migrator.WithLockMode(mode),
		migrator.WithLogger(a.logger),
		migrator.WithMetricsEnabled(a.cfg.Metrics.Enabled),
	}
	if a.cfg.Run.SaveReports {
		opts = append(opts, migrator.WithReportStore(a.backend))
	}

	publicChain, err := loadChain(a.cfg.Migrations.PublicManifest)
	switch {
	case err == nil:
		opts = append(opts, migrator.WithPublicChain(publicChain))
	case errors.Is(err, fs.ErrNotExist):
		a.logger.Debug(context.Background(), "no public manifest", "path", a.cfg.Migrations.PublicManifest)
	default:
		return nil, err
	}

	return migrator.New(opts...)
}

func (a *app) close(ctx context.Context) {
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = a.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.zap.Warn("failed to close resource", zap.Error(err))
		}
	}
	_ = a.zap.Sync()
}
