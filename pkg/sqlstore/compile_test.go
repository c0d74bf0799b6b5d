package sqlstore

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vertexdb/pkg/storage"
)

func TestPostgresRebind(t *testing.T) {
	d := postgresDialect{}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b > $2 LIMIT $3", d.rebind("SELECT 1 WHERE a = ? AND b > ? LIMIT ?"))
	assert.Equal(t, "SELECT 1", d.rebind("SELECT 1"))
	assert.Equal(t, "x = ?", sqliteDialect{}.rebind("x = ?"))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:a.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("file:a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("file:a.db?mode=rwc"))
	assert.Equal(t, "file:a.db?_pragma=busy_timeout(100)&_pragma=foreign_keys(1)", sqliteDSN("file:a.db?_pragma=busy_timeout(100)"))
}

func TestCompiler_ArgumentOrder(t *testing.T) {
	limits := storage.Limits{MaxResults: 50}.WithDefaults()
	id := uuid.MustParse("01900000-0000-7000-8000-000000000001")

	for _, d := range []dialect{sqliteDialect{}, postgresDialect{}} {
		t.Run(d.gooseDialect(), func(t *testing.T) {
			c := newCompiler(d, limits)
			q := storage.LimitVertices(
				storage.FilterVertices(
					storage.PipeVertices(
						storage.PipeEdges(storage.VerticesOfTypeAfter("person", id), storage.Outbound, storage.TypePtr("knows")),
						storage.Inbound, storage.TypePtr("person")),
					"age", storage.GreaterThan(30)),
				10)

			query, err := c.vertices(q, limits.MaxResults)
			require.NoError(t, err)
			assert.Equal(t, strings.Count(query, "?"), len(c.args))

			// Leaves first, then each enclosing level in textual order.
			assert.Equal(t, []any{
				"person", id, 50, // type leaf
				"knows", 50, // pipe edges
				"person", 50, // pipe vertices
				"age", 30.0, 10, // filter, clamped by the outer limit
			}, c.args)
		})
	}
}

func TestCompiler_SpecificLists(t *testing.T) {
	limits := storage.DefaultLimits()
	a := uuid.MustParse("01900000-0000-7000-8000-00000000000a")
	b := uuid.MustParse("01900000-0000-7000-8000-00000000000b")

	t.Run("sqlite_ids_as_json", func(t *testing.T) {
		c := newCompiler(sqliteDialect{}, limits)
		_, err := c.vertices(storage.SpecificVertices(a, b, a), 5)
		require.NoError(t, err)
		require.Len(t, c.args, 2)
		assert.Equal(t, `["`+a.String()+`","`+b.String()+`"]`, c.args[0])
		assert.Equal(t, 5, c.args[1])
	})

	t.Run("postgres_ids_as_array", func(t *testing.T) {
		c := newCompiler(postgresDialect{}, limits)
		_, err := c.vertices(storage.SpecificVertices(b, a), 5)
		require.NoError(t, err)
		assert.Equal(t, "{"+b.String()+","+a.String()+"}", c.args[0])
	})

	t.Run("empty_list_has_no_args", func(t *testing.T) {
		c := newCompiler(sqliteDialect{}, limits)
		query, err := c.edges(storage.SpecificEdges(), 5)
		require.NoError(t, err)
		assert.Contains(t, query, "1 = 0")
		assert.Empty(t, c.args)
	})

	t.Run("edge_keys_as_json", func(t *testing.T) {
		c := newCompiler(sqliteDialect{}, limits)
		_, err := c.edges(storage.SpecificEdges(storage.EdgeKey{OutboundID: a, Type: "knows", InboundID: b}), 5)
		require.NoError(t, err)
		assert.Equal(t, `[{"o":"`+a.String()+`","t":"knows","i":"`+b.String()+`"}]`, c.args[0])
	})
}

func TestDialectPredicates(t *testing.T) {
	for _, d := range []dialect{sqliteDialect{}, postgresDialect{}} {
		t.Run(d.gooseDialect(), func(t *testing.T) {
			expr, args, err := d.predicate("p.value", storage.Equals([]byte(`{"b":1, "a":2}`)))
			require.NoError(t, err)
			assert.Contains(t, expr, "p.value = ")
			assert.Equal(t, []any{`{"a":2,"b":1}`}, args)

			expr, args, err = d.predicate("p.value", storage.LessOrEqual(1.5))
			require.NoError(t, err)
			assert.Contains(t, expr, "<=")
			assert.Equal(t, []any{1.5}, args)

			_, args, err = d.predicate("p.value", storage.Contains("x"))
			require.NoError(t, err)
			assert.Equal(t, []any{"x"}, args)

			_, args, err = d.predicate("p.value", storage.Exists())
			require.NoError(t, err)
			assert.Empty(t, args)
		})
	}
}
