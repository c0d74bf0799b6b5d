// Package vertexdb opens a configured VertexDB storage engine.
//
// It is the single place that turns a config.Config into a running
// storage.Datastore, so applications and the admin CLI pick the Badger,
// SQL or in-memory engine the same way.
//
// Example Usage:
//
//	cfg, _ := config.Load(config.LoadOptions{File: "vertexdb.yaml"})
//	db, err := vertexdb.Open(ctx, cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	tx, _ := db.Transaction()
//	id, _ := tx.CreateVertexFromType(ctx, "person")
package vertexdb

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/vertexdb/pkg/config"
	"github.com/orneryd/vertexdb/pkg/sqlstore"
	"github.com/orneryd/vertexdb/pkg/storage"
)

// Version is the VertexDB release, overridden at build time with
// -ldflags "-X github.com/orneryd/vertexdb/pkg/vertexdb.Version=...".
var Version = "0.1.0-dev"

// ErrNotSupported is returned for maintenance operations the open backend
// does not have (for example migrations on Badger).
var ErrNotSupported = errors.New("operation not supported by backend")

// DB is an open storage engine together with its configuration.
// It implements storage.Datastore.
type DB struct {
	storage.Datastore

	backend string
	limits  storage.Limits
	logger  *zap.Logger
}

// Open validates cfg and opens the engine it selects. A nil logger
// discards all output.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ds, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("vertexdb opened",
		zap.String("backend", cfg.Storage.Backend),
		zap.Int("max_results", cfg.Limits.MaxResults),
		zap.Bool("strict_limits", cfg.Limits.StrictLimits),
	)
	return &DB{Datastore: ds, backend: cfg.Storage.Backend, limits: cfg.Limits.Storage().WithDefaults(), logger: logger}, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Datastore, error) {
	limits := cfg.Limits.Storage()

	switch cfg.Storage.Backend {
	case config.BackendBadger:
		return storage.NewBadgerDatastore(storage.BadgerOptions{
			DataDir:              cfg.Storage.DataDir,
			InMemory:             cfg.Storage.InMemory,
			SyncWrites:           cfg.Storage.SyncWrites,
			LowMemory:            cfg.Storage.LowMemory,
			EncryptionPassphrase: cfg.Storage.EncryptionPassphrase,
			Limits:               limits,
			Logger:               logger.Named("badger"),
		})

	case config.BackendSQL:
		dialect, err := sqlstore.ParseDialect(cfg.SQL.Driver)
		if err != nil {
			return nil, err
		}
		return sqlstore.Open(ctx, sqlstore.Options{
			Dialect:      dialect,
			DSN:          cfg.SQL.DSN,
			MaxOpenConns: cfg.SQL.MaxOpenConns,
			MaxIdleConns: cfg.SQL.MaxIdleConns,
			MaxIdleTime:  cfg.SQL.MaxIdleTime,
			AutoMigrate:  cfg.SQL.AutoMigrate,
			Limits:       limits,
			Logger:       logger.Named("sql"),
		})

	case config.BackendMemory:
		return storage.NewMemoryDatastore(limits), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// Backend returns the configured backend name.
func (db *DB) Backend() string { return db.backend }

// pageSize keeps paged scans within the result cap, so they also work
// under strict limits.
func (db *DB) pageSize() int {
	return min(1000, db.limits.MaxResults)
}

// Stats holds graph-wide counts.
type Stats struct {
	Backend  string
	Vertices uint64
	Edges    uint64
}

// Stats counts the vertices and edges in the store. Edges are counted from
// the outbound side of every vertex, paging through vertices with resume
// cursors so no single query exceeds the result cap.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	tx, err := db.Transaction()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Backend: db.backend}
	if stats.Vertices, err = tx.GetVertexCount(ctx); err != nil {
		return Stats{}, err
	}

	var after *uuid.UUID
	for {
		page, err := tx.GetVertices(ctx, storage.LimitVertices(storage.AllVertexQuery{After: after}, db.pageSize()))
		if err != nil {
			return Stats{}, err
		}
		if len(page) == 0 {
			break
		}
		for _, v := range page {
			n, err := tx.GetEdgeCount(ctx, v.ID, nil, storage.Outbound)
			if err != nil {
				return Stats{}, err
			}
			stats.Edges += n
		}
		last := page[len(page)-1].ID
		after = &last
	}
	return stats, nil
}

// Migrate applies pending schema migrations and returns the resulting
// schema version. Only the SQL backend has a schema.
func (db *DB) Migrate(ctx context.Context) (int64, error) {
	sq, ok := db.Datastore.(*sqlstore.Datastore)
	if !ok {
		return 0, fmt.Errorf("%w: migrate on %s", ErrNotSupported, db.backend)
	}
	if err := sq.Migrate(ctx); err != nil {
		return 0, err
	}
	return sq.SchemaVersion(ctx)
}

// Compact runs Badger value log garbage collection and syncs to disk.
func (db *DB) Compact() error {
	bd, ok := db.Datastore.(*storage.BadgerDatastore)
	if !ok {
		return fmt.Errorf("%w: compact on %s", ErrNotSupported, db.backend)
	}
	if err := bd.RunGC(); err != nil {
		return err
	}
	return bd.Sync()
}

// Import loads a JSON-lines graph dump through the bulk insert path.
func (db *DB) Import(ctx context.Context, r io.Reader) (storage.LoadStats, error) {
	stats, err := storage.LoadJSONLines(ctx, db.Datastore, r, 0)
	if err != nil {
		return stats, err
	}
	db.logger.Info("import finished",
		zap.Int("vertices", stats.Vertices),
		zap.Int("edges", stats.Edges),
		zap.Int("properties", stats.Properties),
	)
	return stats, nil
}

// Export writes the whole graph as JSON lines.
func (db *DB) Export(ctx context.Context, w io.Writer) (storage.LoadStats, error) {
	tx, err := db.Transaction()
	if err != nil {
		return storage.LoadStats{}, err
	}
	return storage.DumpJSONLines(ctx, tx, w, db.pageSize())
}

// Close closes the underlying engine.
func (db *DB) Close() error {
	err := db.Datastore.Close()
	db.logger.Info("vertexdb closed", zap.String("backend", db.backend))
	return err
}
