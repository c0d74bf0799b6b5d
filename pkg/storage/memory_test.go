package storage_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vertexdb/pkg/storage"
	"github.com/orneryd/vertexdb/pkg/storage/storagetest"
)

func TestMemoryDatastore_Conformance(t *testing.T) {
	storagetest.Run(t, storagetest.Suite{
		New: func(t *testing.T, limits storage.Limits) storage.Datastore {
			return storage.NewMemoryDatastore(limits)
		},
	})
}

func TestMemoryDatastore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	ds := storage.NewMemoryDatastore(storage.DefaultLimits())
	defer ds.Close()

	tx, err := ds.Transaction()
	require.NoError(t, err)
	hub, err := tx.CreateVertexFromType(ctx, "hub")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := ds.Transaction()
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < 25; i++ {
				id, err := tx.CreateVertexFromType(ctx, "leaf")
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, tx.CreateEdge(ctx, storage.EdgeKey{OutboundID: id, Type: "in", InboundID: hub}))
				_, err = tx.GetEdges(ctx, storage.PipeEdges(storage.SpecificVertices(hub), storage.Inbound, nil))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	count, err := tx.GetEdgeCount(ctx, hub, nil, storage.Inbound)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), count)
}
