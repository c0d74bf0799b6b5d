package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orneryd/vertexdb/pkg/sqlstore"
	"github.com/orneryd/vertexdb/pkg/storage"
	"github.com/orneryd/vertexdb/pkg/storage/storagetest"
)

// postgresDSNEnv points the Postgres tests at a disposable database.
const postgresDSNEnv = "VERTEXDB_TEST_POSTGRES_DSN"

func openSQLite(t *testing.T, limits storage.Limits) *sqlstore.Datastore {
	t.Helper()
	ds, err := sqlstore.Open(context.Background(), sqlstore.Options{
		Dialect:     sqlstore.SQLite,
		DSN:         "file:" + filepath.Join(t.TempDir(), "graph.db"),
		AutoMigrate: true,
		Limits:      limits,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return ds
}

func TestSQLite_Conformance(t *testing.T) {
	storagetest.Run(t, storagetest.Suite{
		New: func(t *testing.T, limits storage.Limits) storage.Datastore {
			return openSQLite(t, limits)
		},
	})
}

func TestPostgres_Conformance(t *testing.T) {
	dsn := os.Getenv(postgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", postgresDSNEnv)
	}

	storagetest.Run(t, storagetest.Suite{
		New: func(t *testing.T, limits storage.Limits) storage.Datastore {
			schema := createSchema(t, dsn)
			ds, err := sqlstore.Open(context.Background(), sqlstore.Options{
				Dialect:      sqlstore.Postgres,
				DSN:          withSearchPath(dsn, schema),
				MaxOpenConns: 4,
				AutoMigrate:  true,
				Limits:       limits,
				Logger:       zaptest.NewLogger(t),
			})
			require.NoError(t, err)
			return ds
		},
	})
}

// createSchema gives each test its own schema and drops it afterwards.
func createSchema(t *testing.T, dsn string) string {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := "vertexdb_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err = db.Exec("CREATE SCHEMA " + schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec("DROP SCHEMA " + schema + " CASCADE")
	})
	return schema
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", dsn, sep, schema)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown_dialect", func(t *testing.T) {
		_, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: "oracle", DSN: "x"})
		assert.Error(t, err)
	})

	t.Run("missing_dsn", func(t *testing.T) {
		_, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.SQLite})
		assert.Error(t, err)
	})

	t.Run("migrate_is_idempotent", func(t *testing.T) {
		ds := openSQLite(t, storage.DefaultLimits())
		defer ds.Close()

		require.NoError(t, ds.Migrate(ctx))
		version, err := ds.SchemaVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
		assert.Equal(t, sqlstore.SQLite, ds.Dialect())
	})

	t.Run("without_migration_queries_fail_as_io", func(t *testing.T) {
		ds, err := sqlstore.Open(ctx, sqlstore.Options{
			Dialect: sqlstore.SQLite,
			DSN:     "file:" + filepath.Join(t.TempDir(), "empty.db"),
		})
		require.NoError(t, err)
		defer ds.Close()

		tx, err := ds.Transaction()
		require.NoError(t, err)
		_, err = tx.GetVertices(ctx, storage.AllVertices())
		assert.ErrorIs(t, err, storage.ErrStorageIO)
	})

	t.Run("data_survives_reopen", func(t *testing.T) {
		dsn := "file:" + filepath.Join(t.TempDir(), "graph.db")
		open := func() *sqlstore.Datastore {
			ds, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: sqlstore.SQLite, DSN: dsn, AutoMigrate: true})
			require.NoError(t, err)
			return ds
		}

		ds := open()
		tx, err := ds.Transaction()
		require.NoError(t, err)
		id, err := tx.CreateVertexFromType(ctx, "person")
		require.NoError(t, err)
		require.NoError(t, ds.Close())

		ds = open()
		defer ds.Close()
		tx, err = ds.Transaction()
		require.NoError(t, err)
		vertices, err := tx.GetVertices(ctx, storage.SpecificVertices(id))
		require.NoError(t, err)
		require.Len(t, vertices, 1)
		assert.Equal(t, storage.Type("person"), vertices[0].Type)
	})
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]sqlstore.Dialect{
		"postgres":   sqlstore.Postgres,
		"PostgreSQL": sqlstore.Postgres,
		"pgx":        sqlstore.Postgres,
		"sqlite":     sqlstore.SQLite,
		" sqlite3 ":  sqlstore.SQLite,
	} {
		got, err := sqlstore.ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := sqlstore.ParseDialect("mysql")
	assert.Error(t, err)
}
