package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orneryd/vertexdb/pkg/storage"
	"github.com/orneryd/vertexdb/pkg/storage/storagetest"
)

func TestBadgerDatastore_Conformance(t *testing.T) {
	t.Run("in_memory", func(t *testing.T) {
		storagetest.Run(t, storagetest.Suite{
			New: func(t *testing.T, limits storage.Limits) storage.Datastore {
				ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{InMemory: true, Limits: limits})
				require.NoError(t, err)
				return ds
			},
			OverwritesVertices: true,
		})
	})

	t.Run("on_disk", func(t *testing.T) {
		storagetest.Run(t, storagetest.Suite{
			New: func(t *testing.T, limits storage.Limits) storage.Datastore {
				ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{
					DataDir:   t.TempDir(),
					LowMemory: true,
					Limits:    limits,
					Logger:    zaptest.NewLogger(t),
				})
				require.NoError(t, err)
				return ds
			},
			OverwritesVertices: true,
		})
	})
}

func TestBadgerDatastore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	open := func() *storage.BadgerDatastore {
		ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{DataDir: dir, SyncWrites: true})
		require.NoError(t, err)
		return ds
	}

	ds := open()
	tx, err := ds.Transaction()
	require.NoError(t, err)
	a, err := tx.CreateVertexFromType(ctx, "person")
	require.NoError(t, err)
	b, err := tx.CreateVertexFromType(ctx, "person")
	require.NoError(t, err)
	key := storage.EdgeKey{OutboundID: a, Type: "knows", InboundID: b}
	require.NoError(t, tx.CreateEdge(ctx, key))
	require.NoError(t, tx.SetVertexProperty(ctx, a, "name", json.RawMessage(`"Alice"`)))
	require.NoError(t, ds.Close())

	ds = open()
	defer ds.Close()
	tx, err = ds.Transaction()
	require.NoError(t, err)

	edges, err := tx.GetEdges(ctx, storage.PipeEdges(storage.SpecificVertices(b), storage.Inbound, nil))
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, key, edges[0].Key)

	value, err := tx.GetVertexProperty(ctx, a, "name")
	require.NoError(t, err)
	assert.Equal(t, `"Alice"`, string(value))

	// Timestamps keep moving forward across restarts.
	require.NoError(t, tx.CreateEdge(ctx, key))
	again, err := tx.GetEdges(ctx, storage.SpecificEdges(key))
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.True(t, again[0].UpdatedAt.After(edges[0].UpdatedAt))

	assert.NoError(t, ds.Sync())
	assert.NoError(t, ds.RunGC())
}

func TestBadgerDatastore_Encryption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{DataDir: dir, EncryptionPassphrase: "correct horse"})
	require.NoError(t, err)
	tx, err := ds.Transaction()
	require.NoError(t, err)
	id, err := tx.CreateVertexFromType(ctx, "secret")
	require.NoError(t, err)
	require.NoError(t, tx.SetVertexProperty(ctx, id, "codeword", json.RawMessage(`"swordfish"`)))
	require.NoError(t, ds.Close())

	salt, err := os.ReadFile(filepath.Join(dir, "vertexdb.salt"))
	require.NoError(t, err)
	assert.Len(t, salt, 16)

	t.Run("wrong_passphrase_fails", func(t *testing.T) {
		_, err := storage.NewBadgerDatastore(storage.BadgerOptions{DataDir: dir, EncryptionPassphrase: "wrong"})
		assert.Error(t, err)
	})

	t.Run("right_passphrase_reads", func(t *testing.T) {
		ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{DataDir: dir, EncryptionPassphrase: "correct horse"})
		require.NoError(t, err)
		defer ds.Close()
		tx, err := ds.Transaction()
		require.NoError(t, err)
		value, err := tx.GetVertexProperty(ctx, id, "codeword")
		require.NoError(t, err)
		assert.Equal(t, `"swordfish"`, string(value))
	})

	t.Run("in_memory_rejected", func(t *testing.T) {
		_, err := storage.NewBadgerDatastore(storage.BadgerOptions{InMemory: true, EncryptionPassphrase: "x"})
		assert.Error(t, err)
	})
}

func TestBadgerDatastore_RequiresDataDir(t *testing.T) {
	_, err := storage.NewBadgerDatastore(storage.BadgerOptions{})
	assert.Error(t, err)
}

// Large cascades must stay linear and must not overflow one Badger
// transaction. LowMemory shrinks the batch limit well below the size of
// this graph, so both deletes span several commits.
func TestBadgerDatastore_LargeCascadeDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large delete in short mode")
	}
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{
		DataDir:   t.TempDir(),
		LowMemory: true,
		Logger:    zap.New(core),
	})
	require.NoError(t, err)
	defer ds.Close()

	const n = 20000
	ids := make([]uuid.UUID, n)
	items := make([]storage.BulkInsertItem, 0, n*8)
	for i := range ids {
		ids[i] = storage.NewID()
		items = append(items,
			storage.VertexItem{Vertex: storage.Vertex{ID: ids[i], Type: "person"}},
			storage.VertexPropertyItem{ID: ids[i], Name: "name", Value: json.RawMessage(fmt.Sprintf(`"person-%d"`, i))},
			storage.VertexPropertyItem{ID: ids[i], Name: "rank", Value: json.RawMessage(fmt.Sprint(i))},
		)
	}
	for i := range ids {
		next := storage.EdgeKey{OutboundID: ids[i], Type: "next", InboundID: ids[(i+1)%n]}
		knows := storage.EdgeKey{OutboundID: ids[i], Type: "knows", InboundID: ids[(i+7)%n]}
		items = append(items,
			storage.EdgeItem{Key: next},
			storage.EdgeItem{Key: knows},
			storage.EdgePropertyItem{Key: next, Name: "w", Value: json.RawMessage(`1`)},
			storage.EdgePropertyItem{Key: knows, Name: "since", Value: json.RawMessage(`2020`)},
		)
	}
	require.NoError(t, ds.BulkInsert(ctx, items))

	tx, err := ds.Transaction()
	require.NoError(t, err)

	start := time.Now()
	deleted, err := tx.DeleteEdges(ctx, storage.EdgesOfType("knows"))
	require.NoError(t, err)
	assert.Equal(t, n, deleted)
	assert.Less(t, time.Since(start), 30*time.Second, "edge delete should be linear")

	start = time.Now()
	deleted, err = tx.DeleteVertices(ctx, storage.AllVertices())
	require.NoError(t, err)
	assert.Equal(t, n, deleted)
	assert.Less(t, time.Since(start), 30*time.Second, "cascade delete should be linear")

	assert.NotZero(t, logs.FilterMessage("badger write split across commits").Len())

	count, err := tx.GetVertexCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	edges, err := tx.GetEdges(ctx, storage.AllEdges())
	require.NoError(t, err)
	assert.Empty(t, edges)

	// Nothing of the old vertices survives: a recreated id starts bare.
	require.NoError(t, tx.CreateVertex(ctx, storage.Vertex{ID: ids[0], Type: "person"}))
	props, err := tx.GetAllVertexProperties(ctx, ids[0])
	require.NoError(t, err)
	assert.Empty(t, props)
	out, err := tx.GetEdgeCount(ctx, ids[0], nil, storage.Outbound)
	require.NoError(t, err)
	assert.Zero(t, out)
	in, err := tx.GetEdgeCount(ctx, ids[0], nil, storage.Inbound)
	require.NoError(t, err)
	assert.Zero(t, in)
}

func TestBadgerDatastore_SetPropertiesByQueryInChunks(t *testing.T) {
	ctx := context.Background()
	ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{InMemory: true, LowMemory: true})
	require.NoError(t, err)
	defer ds.Close()

	const n = 3000
	items := make([]storage.BulkInsertItem, n)
	for i := range items {
		items[i] = storage.VertexItem{Vertex: storage.NewVertex("doc")}
	}
	require.NoError(t, ds.BulkInsert(ctx, items))

	tx, err := ds.Transaction()
	require.NoError(t, err)

	// Roughly 3MB of values, above the LowMemory batch size.
	big := json.RawMessage(`"` + strings.Repeat("x", 1000) + `"`)
	set, err := tx.SetVertexProperties(ctx, storage.VerticesOfType("doc"), "body", big)
	require.NoError(t, err)
	assert.Equal(t, n, set)

	props, err := tx.GetVertexProperties(ctx, storage.AllVertices(), "body")
	require.NoError(t, err)
	assert.Len(t, props, n)

	removed, err := tx.DeleteVertexProperties(ctx, storage.AllVertices(), "body")
	require.NoError(t, err)
	assert.Equal(t, n, removed)
}
