package vertexdb

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/orneryd/vertexdb/pkg/config"
	"github.com/orneryd/vertexdb/pkg/storage"
)

func testConfigs(t *testing.T) map[string]*config.Config {
	t.Helper()

	memory := config.Default()
	memory.Storage.Backend = config.BackendMemory

	badger := config.Default()
	badger.Storage.InMemory = true

	sqlite := config.Default()
	sqlite.Storage.Backend = config.BackendSQL
	sqlite.SQL.Driver = "sqlite"
	sqlite.SQL.DSN = filepath.Join(t.TempDir(), "graph.db")

	return map[string]*config.Config{
		"memory": memory,
		"badger": badger,
		"sqlite": sqlite,
	}
}

func seed(t *testing.T, ctx context.Context, db *DB) (storage.Vertex, storage.Vertex) {
	t.Helper()
	tx, err := db.Transaction()
	require.NoError(t, err)

	alice := storage.NewVertex("person")
	bob := storage.NewVertex("person")
	require.NoError(t, tx.CreateVertex(ctx, alice))
	require.NoError(t, tx.CreateVertex(ctx, bob))
	require.NoError(t, tx.SetVertexProperty(ctx, alice.ID, "name", []byte(`"Alice"`)))

	knows := storage.EdgeKey{OutboundID: alice.ID, Type: "knows", InboundID: bob.ID}
	require.NoError(t, tx.CreateEdge(ctx, knows))
	require.NoError(t, tx.CreateEdge(ctx, knows.Reversed()))
	require.NoError(t, tx.SetEdgeProperty(ctx, knows, "since", []byte(`2020`)))
	return alice, bob
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	for name, cfg := range testConfigs(t) {
		t.Run(name, func(t *testing.T) {
			db, err := Open(ctx, cfg, zaptest.NewLogger(t))
			require.NoError(t, err)
			defer db.Close()

			assert.Equal(t, cfg.Storage.Backend, db.Backend())

			seed(t, ctx, db)
			stats, err := db.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, Stats{Backend: cfg.Storage.Backend, Vertices: 2, Edges: 2}, stats)
		})
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "cassandra"

	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestOpen_NilConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	db, err := Open(context.Background(), nil, nil)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, config.BackendBadger, db.Backend())
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	cfgs := testConfigs(t)

	src, err := Open(ctx, cfgs["badger"], nil)
	require.NoError(t, err)
	defer src.Close()
	alice, bob := seed(t, ctx, src)

	var buf bytes.Buffer
	exported, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, storage.LoadStats{Vertices: 2, Edges: 2, Properties: 2}, exported)
	assert.Equal(t, 4, strings.Count(buf.String(), "\n"))

	dst, err := Open(ctx, cfgs["sqlite"], nil)
	require.NoError(t, err)
	defer dst.Close()

	imported, err := dst.Import(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, exported, imported)

	tx, err := dst.Transaction()
	require.NoError(t, err)
	name, err := tx.GetVertexProperty(ctx, alice.ID, "name")
	require.NoError(t, err)
	assert.JSONEq(t, `"Alice"`, string(name))

	since, err := tx.GetEdgeProperty(ctx, storage.EdgeKey{OutboundID: alice.ID, Type: "knows", InboundID: bob.ID}, "since")
	require.NoError(t, err)
	assert.JSONEq(t, `2020`, string(since))
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	cfgs := testConfigs(t)

	t.Run("migrate sql", func(t *testing.T) {
		db, err := Open(ctx, cfgs["sqlite"], nil)
		require.NoError(t, err)
		defer db.Close()

		version, err := db.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)

		assert.ErrorIs(t, db.Compact(), ErrNotSupported)
	})

	t.Run("compact badger", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.DataDir = t.TempDir()
		cfg.Storage.LowMemory = true

		db, err := Open(ctx, cfg, nil)
		require.NoError(t, err)
		defer db.Close()

		assert.NoError(t, db.Compact())
		_, err = db.Migrate(ctx)
		assert.ErrorIs(t, err, ErrNotSupported)
	})

	t.Run("memory has neither", func(t *testing.T) {
		db, err := Open(ctx, cfgs["memory"], nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Migrate(ctx)
		assert.ErrorIs(t, err, ErrNotSupported)
		assert.ErrorIs(t, db.Compact(), ErrNotSupported)
	})
}

func TestStats_StrictLimits(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendMemory
	cfg.Limits.MaxResults = 3
	cfg.Limits.StrictLimits = true

	db, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Transaction()
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := tx.CreateVertexFromType(ctx, "node")
		require.NoError(t, err)
	}

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), stats.Vertices)

	var buf bytes.Buffer
	exported, err := db.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 7, exported.Vertices)
}
