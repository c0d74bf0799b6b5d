// Package sqlstore implements storage.Datastore on a relational database.
//
// Vertices, edges and the two property tables map one-to-one onto SQL
// tables whose foreign keys cascade deletes from a vertex to its edges and
// properties. Queries compile into a single nested SELECT per call, so the
// database does the traversal. PostgreSQL (through pgx) and SQLite
// (through the pure-Go modernc.org/sqlite driver) are supported.
//
// Example:
//
//	ds, err := sqlstore.Open(ctx, sqlstore.Options{
//		Dialect:     sqlstore.SQLite,
//		DSN:         "file:./data/graph.db",
//		AutoMigrate: true,
//	})
//	if err != nil {
//		return err
//	}
//	defer ds.Close()
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/orneryd/vertexdb/pkg/storage"
)

// Options configures Open.
type Options struct {
	Dialect Dialect
	DSN     string

	// Pool settings. Ignored for SQLite, which always uses one connection.
	MaxOpenConns int
	MaxIdleConns int
	MaxIdleTime  time.Duration

	// AutoMigrate applies pending schema migrations on open.
	AutoMigrate bool

	Limits storage.Limits
	Logger *zap.Logger
}

// Datastore is a storage.Datastore backed by a SQL database.
type Datastore struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect dialect
	name    Dialect
	limits  storage.Limits
	clock   *storage.Clock
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ storage.Datastore = (*Datastore)(nil)

// Open connects to the database, verifies the connection and optionally
// migrates the schema.
func Open(ctx context.Context, opts Options) (*Datastore, error) {
	d, err := dialectFor(opts.Dialect)
	if err != nil {
		return nil, err
	}
	if opts.DSN == "" {
		return nil, errors.New("sqlstore: DSN is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sqlstore").With(zap.String("dialect", string(opts.Dialect)))

	ds := &Datastore{
		dialect: d,
		name:    opts.Dialect,
		limits:  opts.Limits.WithDefaults(),
		clock:   storage.NewClock(),
		logger:  logger,
	}

	switch opts.Dialect {
	case Postgres:
		if err := ds.openPostgres(ctx, opts); err != nil {
			return nil, err
		}
	case SQLite:
		if err := ds.openSQLite(ctx, opts); err != nil {
			return nil, err
		}
	}

	if opts.AutoMigrate {
		if err := ds.Migrate(ctx); err != nil {
			ds.Close()
			return nil, err
		}
	}

	logger.Info("sql datastore opened",
		zap.Int("max_results", ds.limits.MaxResults),
		zap.Bool("auto_migrate", opts.AutoMigrate),
	)
	return ds, nil
}

func (ds *Datastore) openPostgres(ctx context.Context, opts Options) error {
	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return fmt.Errorf("parse pgx config: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(opts.MaxIdleConns)
	}
	if opts.MaxIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxIdleTime
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	ds.pool = pool
	ds.db = stdlib.OpenDBFromPool(pool)
	ds.logger.Debug("database pool created", zap.Int32("max_conns", poolConfig.MaxConns))
	return nil
}

func (ds *Datastore) openSQLite(ctx context.Context, opts Options) error {
	db, err := sql.Open("sqlite", sqliteDSN(opts.DSN))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes access and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	ds.db = db
	return nil
}

// sqliteDSN turns on the pragmas the schema depends on unless the caller
// already set them.
func sqliteDSN(dsn string) string {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		name := p[:strings.IndexByte(p, '(')]
		if strings.Contains(dsn, "_pragma="+name) {
			continue
		}
		dsn += sep + "_pragma=" + p
		sep = "&"
	}
	return dsn
}

// goose keeps its dialect and filesystem in package state.
var gooseMu sync.Mutex

// Migrate applies pending schema migrations.
func (ds *Datastore) Migrate(ctx context.Context) error {
	fsys, err := ds.dialect.migrations()
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(ds.dialect.gooseDialect()); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	ds.logger.Info("running database migrations")
	if err := goose.UpContext(ctx, ds.db, "."); err != nil {
		ds.logger.Error("migration failed", zap.Error(err))
		return fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, ds.db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	ds.logger.Info("migrations completed", zap.Int64("version", version))
	return nil
}

// SchemaVersion returns the applied migration version.
func (ds *Datastore) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := goose.SetDialect(ds.dialect.gooseDialect()); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, ds.db)
}

// Dialect reports the engine the store runs on.
func (ds *Datastore) Dialect() Dialect { return ds.name }

// Limits returns the effective result and value limits.
func (ds *Datastore) Limits() storage.Limits { return ds.limits }

// Transaction returns a handle whose operations each run in their own
// database transaction.
func (ds *Datastore) Transaction() (storage.Transaction, error) {
	if err := ds.checkOpen(); err != nil {
		return nil, err
	}
	return &transaction{ds: ds}, nil
}

// Close releases the connection pool. It is safe to call more than once.
func (ds *Datastore) Close() error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return nil
	}
	ds.closed = true

	var err error
	if ds.db != nil {
		err = ds.db.Close()
	}
	if ds.pool != nil {
		ds.pool.Close()
	}
	ds.logger.Info("sql datastore closed")
	return err
}

func (ds *Datastore) checkOpen() error {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if ds.closed {
		return storage.ErrStorageClosed
	}
	return nil
}

// withTx runs fn in a database transaction, committing when it returns nil.
func (ds *Datastore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := ds.checkOpen(); err != nil {
		return err
	}
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.WrapIO(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if !errors.Is(err, context.Canceled) {
			ds.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
		}
		return storage.WrapIO(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storage.WrapIO(op, err)
	}
	return nil
}
