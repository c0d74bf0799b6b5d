package storage_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vertexdb/pkg/storage"
)

func TestLoadJSONLines(t *testing.T) {
	ctx := context.Background()

	t.Run("loads_vertices_edges_and_properties", func(t *testing.T) {
		ds := storage.NewMemoryDatastore(storage.DefaultLimits())
		defer ds.Close()

		input := strings.Join([]string{
			`{"kind":"vertex","id":"01900000-0000-7000-8000-000000000001","type":"person","properties":{"name":"Alice","age":30}}`,
			``,
			`{"kind":"vertex","id":"01900000-0000-7000-8000-000000000002","type":"person"}`,
			`{"kind":"edge","outbound_id":"01900000-0000-7000-8000-000000000001","type":"knows","inbound_id":"01900000-0000-7000-8000-000000000002","properties":{"since":2020}}`,
		}, "\n")

		stats, err := storage.LoadJSONLines(ctx, ds, strings.NewReader(input), 2)
		require.NoError(t, err)
		assert.Equal(t, storage.LoadStats{Vertices: 2, Edges: 1, Properties: 3}, stats)

		tx, err := ds.Transaction()
		require.NoError(t, err)
		props, err := tx.GetVertexProperties(ctx, storage.VerticesOfType("person"), "age")
		require.NoError(t, err)
		require.Len(t, props, 1)
		assert.Equal(t, `30`, string(props[0].Value))

		edges, err := tx.GetEdges(ctx, storage.EdgesOfType("knows"))
		require.NoError(t, err)
		assert.Len(t, edges, 1)
	})

	t.Run("reports_line_of_bad_record", func(t *testing.T) {
		ds := storage.NewMemoryDatastore(storage.DefaultLimits())
		defer ds.Close()

		for _, tc := range []struct {
			name  string
			input string
		}{
			{"not_json", "{\"kind\":\"vertex\"\nnope"},
			{"unknown_kind", `{"kind":"hyperedge","type":"x"}`},
			{"vertex_without_id", `{"kind":"vertex","type":"x"}`},
			{"edge_without_endpoints", `{"kind":"edge","type":"x","outbound_id":"01900000-0000-7000-8000-000000000001"}`},
		} {
			t.Run(tc.name, func(t *testing.T) {
				_, err := storage.LoadJSONLines(ctx, ds, strings.NewReader(tc.input), 0)
				require.Error(t, err)
				assert.ErrorIs(t, err, storage.ErrInvalidValue)
				assert.Contains(t, err.Error(), "line 1")
			})
		}
	})

	t.Run("invalid_type_aborts", func(t *testing.T) {
		ds := storage.NewMemoryDatastore(storage.DefaultLimits())
		defer ds.Close()

		_, err := storage.LoadJSONLines(ctx, ds, strings.NewReader(
			`{"kind":"vertex","id":"01900000-0000-7000-8000-000000000001","type":"bad type"}`), 0)
		assert.ErrorIs(t, err, storage.ErrInvalidType)
	})
}

func TestDumpJSONLines_Empty(t *testing.T) {
	ds := storage.NewMemoryDatastore(storage.DefaultLimits())
	defer ds.Close()
	tx, err := ds.Transaction()
	require.NoError(t, err)

	var buf bytes.Buffer
	stats, err := storage.DumpJSONLines(context.Background(), tx, &buf, 0)
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.Zero(t, buf.Len())
}
