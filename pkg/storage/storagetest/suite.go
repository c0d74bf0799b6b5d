// Package storagetest is a conformance suite for storage.Datastore
// implementations. Every engine runs the same scenarios so their observable
// behavior stays interchangeable.
//
// Example:
//
//	func TestConformance(t *testing.T) {
//		storagetest.Run(t, storagetest.Suite{
//			New: func(t *testing.T, limits storage.Limits) storage.Datastore {
//				return storage.NewMemoryDatastore(limits)
//			},
//		})
//	}
package storagetest

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vertexdb/pkg/storage"
)

// Suite describes the engine under test.
type Suite struct {
	// New opens an empty datastore with the given limits. The suite closes
	// it when the test ends.
	New func(t *testing.T, limits storage.Limits) storage.Datastore

	// OverwritesVertices is set for engines where creating a vertex with an
	// existing id replaces its type instead of failing with
	// storage.ErrAlreadyExists.
	OverwritesVertices bool
}

// Run executes every scenario as a subtest.
func Run(t *testing.T, s Suite) {
	t.Run("vertex_round_trip", s.testVertexRoundTrip)
	t.Run("duplicate_vertex_id", s.testDuplicateVertexID)
	t.Run("invalid_identifiers", s.testInvalidIdentifiers)
	t.Run("vertex_ordering_and_cursor", s.testVertexOrdering)
	t.Run("specific_vertices", s.testSpecificVertices)
	t.Run("edge_upsert", s.testEdgeUpsert)
	t.Run("edge_missing_endpoint", s.testEdgeMissingEndpoint)
	t.Run("edge_ordering_and_cursor", s.testEdgeOrdering)
	t.Run("pipes", s.testPipes)
	t.Run("cascade_delete", s.testCascadeDelete)
	t.Run("delete_edges", s.testDeleteEdges)
	t.Run("limits", s.testLimits)
	t.Run("strict_limits", s.testStrictLimits)
	t.Run("capped_inner_queries", s.testCappedInnerQueries)
	t.Run("properties", s.testProperties)
	t.Run("property_filters", s.testPropertyFilters)
	t.Run("properties_by_query", s.testPropertiesByQuery)
	t.Run("edge_count", s.testEdgeCount)
	t.Run("bulk_insert", s.testBulkInsert)
	t.Run("json_lines_round_trip", s.testJSONLinesRoundTrip)
	t.Run("scenario_alice_knows_bob", s.testScenario)
	t.Run("closed", s.testClosed)
}

func (s Suite) open(t *testing.T, limits storage.Limits) (storage.Datastore, storage.Transaction) {
	t.Helper()
	ds := s.New(t, limits)
	t.Cleanup(func() { ds.Close() })
	tx, err := ds.Transaction()
	require.NoError(t, err)
	return ds, tx
}

func (s Suite) openDefault(t *testing.T) (storage.Datastore, storage.Transaction) {
	return s.open(t, storage.DefaultLimits())
}

// ============================================================================
// Helpers
// ============================================================================

func createVertex(t *testing.T, tx storage.Transaction, typ storage.Type) uuid.UUID {
	t.Helper()
	id, err := tx.CreateVertexFromType(context.Background(), typ)
	require.NoError(t, err)
	return id
}

func createVertices(t *testing.T, tx storage.Transaction, typ storage.Type, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = createVertex(t, tx, typ)
	}
	return ids
}

func createEdge(t *testing.T, tx storage.Transaction, out uuid.UUID, typ storage.Type, in uuid.UUID) storage.EdgeKey {
	t.Helper()
	key := storage.EdgeKey{OutboundID: out, Type: typ, InboundID: in}
	require.NoError(t, tx.CreateEdge(context.Background(), key))
	return key
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func sortedKeys(keys []storage.EdgeKey) []storage.EdgeKey {
	out := append([]storage.EdgeKey(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func vertexIDs(vertices []storage.Vertex) []uuid.UUID {
	ids := make([]uuid.UUID, len(vertices))
	for i, v := range vertices {
		ids[i] = v.ID
	}
	return ids
}

func edgeKeys(edges []storage.Edge) []storage.EdgeKey {
	keys := make([]storage.EdgeKey, len(edges))
	for i, e := range edges {
		keys[i] = e.Key
	}
	return keys
}

func getVertices(t *testing.T, tx storage.Transaction, q storage.VertexQuery) []uuid.UUID {
	t.Helper()
	vertices, err := tx.GetVertices(context.Background(), q)
	require.NoError(t, err)
	return vertexIDs(vertices)
}

func getEdges(t *testing.T, tx storage.Transaction, q storage.EdgeQuery) []storage.EdgeKey {
	t.Helper()
	edges, err := tx.GetEdges(context.Background(), q)
	require.NoError(t, err)
	return edgeKeys(edges)
}

func setVertexProp(t *testing.T, tx storage.Transaction, id uuid.UUID, name, value string) {
	t.Helper()
	require.NoError(t, tx.SetVertexProperty(context.Background(), id, name, json.RawMessage(value)))
}

func setEdgeProp(t *testing.T, tx storage.Transaction, key storage.EdgeKey, name, value string) {
	t.Helper()
	require.NoError(t, tx.SetEdgeProperty(context.Background(), key, name, json.RawMessage(value)))
}

// ============================================================================
// Vertices
// ============================================================================

func (s Suite) testVertexRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	for _, typ := range []storage.Type{"person", "a", "Type_With-Dashes_09", storage.Type(strings.Repeat("x", storage.MaxTypeLength))} {
		id := createVertex(t, tx, typ)
		vertices, err := tx.GetVertices(ctx, storage.SpecificVertices(id))
		require.NoError(t, err)
		require.Len(t, vertices, 1)
		assert.Equal(t, id, vertices[0].ID)
		assert.Equal(t, typ, vertices[0].Type)
	}

	count, err := tx.GetVertexCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count)
}

func (s Suite) testDuplicateVertexID(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	v := storage.NewVertex("person")
	require.NoError(t, tx.CreateVertex(ctx, v))

	err := tx.CreateVertex(ctx, storage.Vertex{ID: v.ID, Type: "robot"})
	vertices, getErr := tx.GetVertices(ctx, storage.SpecificVertices(v.ID))
	require.NoError(t, getErr)
	require.Len(t, vertices, 1)

	if s.OverwritesVertices {
		require.NoError(t, err)
		assert.Equal(t, storage.Type("robot"), vertices[0].Type)
		assert.Empty(t, getVertices(t, tx, storage.VerticesOfType("person")))
		assert.Equal(t, []uuid.UUID{v.ID}, getVertices(t, tx, storage.VerticesOfType("robot")))
	} else {
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
		assert.Equal(t, storage.Type("person"), vertices[0].Type)
	}
}

func (s Suite) testInvalidIdentifiers(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	for _, typ := range []storage.Type{"", "has space", "dot.ted", "ünïcode", storage.Type(strings.Repeat("x", storage.MaxTypeLength+1))} {
		_, err := tx.CreateVertexFromType(ctx, typ)
		assert.ErrorIs(t, err, storage.ErrInvalidType, "type %q", typ)
	}

	id := createVertex(t, tx, "person")
	for _, name := range []string{"", "nul\x00byte", strings.Repeat("n", storage.MaxPropertyNameLength+1)} {
		err := tx.SetVertexProperty(ctx, id, name, json.RawMessage(`1`))
		assert.ErrorIs(t, err, storage.ErrInvalidPropertyName, "name %q", name)
	}

	err := tx.CreateEdge(ctx, storage.EdgeKey{OutboundID: id, Type: "bad type", InboundID: id})
	assert.ErrorIs(t, err, storage.ErrInvalidType)

	count, err := tx.GetVertexCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func (s Suite) testVertexOrdering(t *testing.T) {
	_, tx := s.openDefault(t)

	people := createVertices(t, tx, "person", 6)
	robots := createVertices(t, tx, "robot", 3)
	// A type sharing a prefix must not leak into "person" scans.
	persons := createVertices(t, tx, "personality", 2)

	want := sortedIDs(people)
	assert.Equal(t, want, getVertices(t, tx, storage.VerticesOfType("person")))
	assert.Equal(t, sortedIDs(robots), getVertices(t, tx, storage.VerticesOfType("robot")))
	assert.Equal(t, sortedIDs(persons), getVertices(t, tx, storage.VerticesOfType("personality")))
	assert.Empty(t, getVertices(t, tx, storage.VerticesOfType("nobody")))

	all := sortedIDs(append(append(append([]uuid.UUID(nil), people...), robots...), persons...))
	assert.Equal(t, all, getVertices(t, tx, storage.AllVertices()))

	// Cursors resume strictly after the given id.
	assert.Equal(t, all[3:], getVertices(t, tx, storage.AllVerticesAfter(all[2])))
	assert.Equal(t, want[2:], getVertices(t, tx, storage.VerticesOfTypeAfter("person", want[1])))
	assert.Empty(t, getVertices(t, tx, storage.AllVerticesAfter(all[len(all)-1])))

	// Paging with limit and cursor visits everything once.
	var paged []uuid.UUID
	var after *uuid.UUID
	for {
		page := getVertices(t, tx, storage.LimitVertices(storage.AllVertexQuery{After: after}, 4))
		if len(page) == 0 {
			break
		}
		paged = append(paged, page...)
		last := page[len(page)-1]
		after = &last
	}
	assert.Equal(t, all, paged)
}

func (s Suite) testSpecificVertices(t *testing.T) {
	_, tx := s.openDefault(t)

	ids := createVertices(t, tx, "person", 3)
	missing := storage.NewID()

	got := getVertices(t, tx, storage.SpecificVertices(ids[2], missing, ids[0], ids[2], ids[1]))
	assert.Equal(t, []uuid.UUID{ids[2], ids[0], ids[1]}, got, "caller order, duplicates and missing ids dropped")

	assert.Empty(t, getVertices(t, tx, storage.SpecificVertices()))
	assert.Empty(t, getVertices(t, tx, storage.SpecificVertices(missing)))

	got = getVertices(t, tx, storage.LimitVertices(storage.SpecificVertices(missing, ids[1], ids[0], ids[2]), 2))
	assert.Equal(t, []uuid.UUID{ids[1], ids[0]}, got)
}

// ============================================================================
// Edges
// ============================================================================

func (s Suite) testEdgeUpsert(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	a := createVertex(t, tx, "person")
	b := createVertex(t, tx, "person")
	key := createEdge(t, tx, a, "knows", b)
	setEdgeProp(t, tx, key, "since", `2020`)

	first, err := tx.GetEdges(ctx, storage.SpecificEdges(key))
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, tx.CreateEdge(ctx, key))
	second, err := tx.GetEdges(ctx, storage.SpecificEdges(key))
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, key, second[0].Key)
	assert.True(t, second[0].UpdatedAt.After(first[0].UpdatedAt), "timestamp moves forward on re-create")

	// Re-creating keeps the edge's properties.
	value, err := tx.GetEdgeProperty(ctx, key, "since")
	require.NoError(t, err)
	assert.Equal(t, `2020`, string(value))

	// Parallel edges of different types are distinct.
	likes := createEdge(t, tx, a, "likes", b)
	assert.Equal(t, sortedKeys([]storage.EdgeKey{key, likes}), getEdges(t, tx, storage.AllEdges()))

	count, err := tx.GetEdgeCount(ctx, a, nil, storage.Outbound)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)
}

func (s Suite) testEdgeMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	a := createVertex(t, tx, "person")
	missing := storage.NewID()

	err := tx.CreateEdge(ctx, storage.EdgeKey{OutboundID: a, Type: "knows", InboundID: missing})
	assert.ErrorIs(t, err, storage.ErrVertexNotFound)
	err = tx.CreateEdge(ctx, storage.EdgeKey{OutboundID: missing, Type: "knows", InboundID: a})
	assert.ErrorIs(t, err, storage.ErrVertexNotFound)

	assert.Empty(t, getEdges(t, tx, storage.AllEdges()))
	count, err := tx.GetEdgeCount(ctx, a, nil, storage.Inbound)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Self loops are fine.
	loop := createEdge(t, tx, a, "self", a)
	assert.Equal(t, []storage.EdgeKey{loop}, getEdges(t, tx, storage.AllEdges()))
}

func (s Suite) testEdgeOrdering(t *testing.T) {
	_, tx := s.openDefault(t)

	ids := createVertices(t, tx, "node", 4)
	var keys []storage.EdgeKey
	for _, out := range ids {
		for _, in := range ids {
			if out == in {
				continue
			}
			keys = append(keys, createEdge(t, tx, out, "link", in))
		}
		keys = append(keys, createEdge(t, tx, out, "a_link", ids[0]))
		keys = append(keys, createEdge(t, tx, out, "linked", ids[1]))
	}

	all := sortedKeys(keys)
	assert.Equal(t, all, getEdges(t, tx, storage.AllEdges()))

	var links []storage.EdgeKey
	for _, k := range all {
		if k.Type == "link" {
			links = append(links, k)
		}
	}
	assert.Equal(t, links, getEdges(t, tx, storage.EdgesOfType("link")))
	assert.Equal(t, links[4:], getEdges(t, tx, storage.EdgesOfTypeAfter("link", links[3])))
	assert.Equal(t, all[5:], getEdges(t, tx, storage.AllEdgesAfter(all[4])))

	var paged []storage.EdgeKey
	var after *storage.EdgeKey
	for {
		page := getEdges(t, tx, storage.LimitEdges(storage.AllEdgeQuery{After: after}, 5))
		if len(page) == 0 {
			break
		}
		paged = append(paged, page...)
		last := page[len(page)-1]
		after = &last
	}
	assert.Equal(t, all, paged)

	got := getEdges(t, tx, storage.SpecificEdges(all[3], all[1], all[3],
		storage.EdgeKey{OutboundID: ids[0], Type: "missing", InboundID: ids[1]}))
	assert.Equal(t, []storage.EdgeKey{all[3], all[1]}, got)
}

func (s Suite) testPipes(t *testing.T) {
	_, tx := s.openDefault(t)

	a := createVertex(t, tx, "person")
	b := createVertex(t, tx, "person")
	c := createVertex(t, tx, "robot")
	d := createVertex(t, tx, "person")

	ab := createEdge(t, tx, a, "follows", b)
	ac := createEdge(t, tx, a, "likes", c)
	cb := createEdge(t, tx, c, "follows", b)
	db := createEdge(t, tx, d, "likes", b)
	createEdge(t, tx, b, "follows", a)

	follows := storage.TypePtr("follows")
	person := storage.TypePtr("person")

	assert.Equal(t, sortedKeys([]storage.EdgeKey{ab, ac}),
		getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(a), storage.Outbound, nil)))
	assert.Equal(t, []storage.EdgeKey{ab},
		getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(a), storage.Outbound, follows)))

	inboundB := sortedKeys([]storage.EdgeKey{ab, cb, db})
	assert.Equal(t, inboundB,
		getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(b), storage.Inbound, nil)))
	assert.Equal(t, sortedKeys([]storage.EdgeKey{ab, cb}),
		getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(b), storage.Inbound, follows)))
	assert.Equal(t, inboundB[:2],
		getEdges(t, tx, storage.LimitEdges(storage.PipeEdges(storage.SpecificVertices(b), storage.Inbound, nil), 2)))

	// Edges back to vertices: endpoints deduplicated in id order.
	inbound := storage.PipeEdges(storage.SpecificVertices(b), storage.Inbound, nil)
	assert.Equal(t, sortedIDs([]uuid.UUID{a, c, d}),
		getVertices(t, tx, storage.PipeVertices(inbound, storage.Outbound, nil)))
	assert.Equal(t, sortedIDs([]uuid.UUID{a, d}),
		getVertices(t, tx, storage.PipeVertices(inbound, storage.Outbound, person)))
	assert.Equal(t, []uuid.UUID{b},
		getVertices(t, tx, storage.PipeVertices(inbound, storage.Inbound, nil)))

	// Two hops: who do the people a follows follow?
	hop := storage.PipeVertices(
		storage.PipeEdges(
			storage.PipeVertices(storage.PipeEdges(storage.SpecificVertices(a), storage.Outbound, follows), storage.Inbound, nil),
			storage.Outbound, follows),
		storage.Inbound, nil)
	assert.Equal(t, []uuid.UUID{a}, getVertices(t, tx, hop))

	// Typed pipes over a type leaf.
	assert.Equal(t, []storage.EdgeKey{cb},
		getEdges(t, tx, storage.PipeEdges(storage.VerticesOfType("robot"), storage.Outbound, follows)))
}

func (s Suite) testCascadeDelete(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	v := createVertex(t, tx, "person")
	w := createVertex(t, tx, "person")
	x := createVertex(t, tx, "person")
	vw := createEdge(t, tx, v, "knows", w)
	xv := createEdge(t, tx, x, "knows", v)
	xw := createEdge(t, tx, x, "knows", w)
	setEdgeProp(t, tx, vw, "weight", `0.5`)
	setEdgeProp(t, tx, xw, "weight", `1`)
	setVertexProp(t, tx, v, "name", `"v"`)

	n, err := tx.DeleteVertices(ctx, storage.SpecificVertices(v))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, getVertices(t, tx, storage.SpecificVertices(v)))
	assert.Equal(t, []storage.EdgeKey{xw}, getEdges(t, tx, storage.AllEdges()))
	assert.Empty(t, getEdges(t, tx, storage.SpecificEdges(vw, xv)))
	assert.Equal(t, []storage.EdgeKey{xw},
		getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(w), storage.Inbound, nil)))

	_, err = tx.GetEdgeProperty(ctx, vw, "weight")
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
	_, err = tx.GetVertexProperty(ctx, v, "name")
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)

	value, err := tx.GetEdgeProperty(ctx, xw, "weight")
	require.NoError(t, err)
	assert.Equal(t, `1`, string(value))

	for _, tc := range []struct {
		id   uuid.UUID
		dir  storage.EdgeDirection
		want uint64
	}{
		{w, storage.Inbound, 1},
		{x, storage.Outbound, 1},
		{v, storage.Outbound, 0},
		{v, storage.Inbound, 0},
	} {
		count, err := tx.GetEdgeCount(ctx, tc.id, nil, tc.dir)
		require.NoError(t, err)
		assert.Equal(t, tc.want, count)
	}

	// Deleting by type reports the number removed.
	n, err = tx.DeleteVertices(ctx, storage.VerticesOfType("person"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, getEdges(t, tx, storage.AllEdges()))

	n, err = tx.DeleteVertices(ctx, storage.AllVertices())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (s Suite) testDeleteEdges(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	a := createVertex(t, tx, "person")
	b := createVertex(t, tx, "person")
	knows := createEdge(t, tx, a, "knows", b)
	likes := createEdge(t, tx, a, "likes", b)
	back := createEdge(t, tx, b, "knows", a)
	setEdgeProp(t, tx, knows, "since", `1999`)

	n, err := tx.DeleteEdges(ctx, storage.EdgesOfType("knows"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []storage.EdgeKey{likes}, getEdges(t, tx, storage.AllEdges()))
	assert.Empty(t, getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(a), storage.Inbound, nil)))
	_, err = tx.GetEdgeProperty(ctx, knows, "since")
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)

	// Vertices survive edge deletion.
	assert.Len(t, getVertices(t, tx, storage.AllVertices()), 2)

	// A re-created edge starts without the old properties.
	createEdge(t, tx, a, "knows", b)
	value, err := tx.GetEdgeProperty(ctx, knows, "since")
	require.NoError(t, err)
	assert.Nil(t, value)

	n, err = tx.DeleteEdges(ctx, storage.SpecificEdges(back))
	require.NoError(t, err)
	assert.Zero(t, n)
}

// ============================================================================
// Limits
// ============================================================================

func (s Suite) testLimits(t *testing.T) {
	ctx := context.Background()
	_, tx := s.open(t, storage.Limits{MaxResults: 5})

	ids := sortedIDs(createVertices(t, tx, "person", 8))
	hub := createVertex(t, tx, "hub")
	for _, id := range ids {
		createEdge(t, tx, id, "in", hub)
	}

	assert.Equal(t, ids[:5], getVertices(t, tx, storage.VerticesOfType("person")), "cap applies without limit")
	assert.Equal(t, ids[:5], getVertices(t, tx, storage.LimitVertices(storage.VerticesOfType("person"), 1_000_000)), "limit clamps to cap")
	assert.Equal(t, ids[:5], getVertices(t, tx, storage.LimitVertices(storage.VerticesOfType("person"), 1_000_000)), "deterministic")
	assert.Equal(t, ids[:2], getVertices(t, tx, storage.LimitVertices(storage.VerticesOfType("person"), 2)))
	assert.Equal(t, ids[:1], getVertices(t, tx,
		storage.LimitVertices(storage.LimitVertices(storage.VerticesOfType("person"), 3), 1)))
	assert.Empty(t, getVertices(t, tx, storage.LimitVertices(storage.AllVertices(), 0)))

	_, err := tx.GetVertices(ctx, storage.LimitVertices(storage.AllVertices(), -1))
	assert.ErrorIs(t, err, storage.ErrLimitExceeded)

	edges := getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(hub), storage.Inbound, nil))
	assert.Len(t, edges, 5)

	// Deletes remove at most one capped result.
	n, err := tx.DeleteVertices(ctx, storage.VerticesOfType("person"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, ids[5:], getVertices(t, tx, storage.VerticesOfType("person")))
}

func (s Suite) testStrictLimits(t *testing.T) {
	ctx := context.Background()
	_, tx := s.open(t, storage.Limits{MaxResults: 3, StrictLimits: true})

	createVertices(t, tx, "person", 4)

	_, err := tx.GetVertices(ctx, storage.LimitVertices(storage.AllVertices(), 10))
	assert.ErrorIs(t, err, storage.ErrLimitExceeded)
	_, err = tx.GetEdges(ctx, storage.LimitEdges(storage.AllEdges(), 10))
	assert.ErrorIs(t, err, storage.ErrLimitExceeded)

	assert.Len(t, getVertices(t, tx, storage.LimitVertices(storage.AllVertices(), 3)), 3)
	assert.Len(t, getVertices(t, tx, storage.AllVertices()), 3)
}

// ============================================================================
// Properties
// ============================================================================

func (s Suite) testProperties(t *testing.T) {
	ctx := context.Background()
	_, tx := s.open(t, storage.Limits{MaxValueSize: 64})

	a := createVertex(t, tx, "person")
	b := createVertex(t, tx, "person")
	key := createEdge(t, tx, a, "knows", b)

	value, err := tx.GetVertexProperty(ctx, a, "name")
	require.NoError(t, err)
	assert.Nil(t, value, "absent property")

	setVertexProp(t, tx, a, "name", `"Alice"`)
	setVertexProp(t, tx, a, "profile", `{ "b": [1, 2.50, true], "a": null, "c": "<&>" }`)
	setVertexProp(t, tx, a, "age", `30`)

	value, err = tx.GetVertexProperty(ctx, a, "profile")
	require.NoError(t, err)
	assert.Equal(t, `{"a":null,"b":[1,2.5,true],"c":"<&>"}`, string(value), "stored canonically")

	setVertexProp(t, tx, a, "name", `"Alicia"`)
	value, err = tx.GetVertexProperty(ctx, a, "name")
	require.NoError(t, err)
	assert.Equal(t, `"Alicia"`, string(value))

	all, err := tx.GetAllVertexProperties(ctx, a)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"age", "name", "profile"}, []string{all[0].Name, all[1].Name, all[2].Name})

	require.NoError(t, tx.DeleteVertexProperty(ctx, a, "age"))
	require.NoError(t, tx.DeleteVertexProperty(ctx, a, "age"), "deleting an absent property is fine")
	value, err = tx.GetVertexProperty(ctx, a, "age")
	require.NoError(t, err)
	assert.Nil(t, value)

	missing := storage.NewID()
	err = tx.SetVertexProperty(ctx, missing, "name", json.RawMessage(`1`))
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
	_, err = tx.GetVertexProperty(ctx, missing, "name")
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
	_, err = tx.GetAllVertexProperties(ctx, missing)
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
	err = tx.DeleteVertexProperty(ctx, missing, "name")
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)

	err = tx.SetVertexProperty(ctx, a, "big", json.RawMessage(`"`+strings.Repeat("x", 100)+`"`))
	assert.ErrorIs(t, err, storage.ErrValueTooLarge)
	err = tx.SetVertexProperty(ctx, a, "bad", json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, storage.ErrInvalidValue)
	err = tx.SetVertexProperty(ctx, a, "bad", json.RawMessage(`1 2`))
	assert.ErrorIs(t, err, storage.ErrInvalidValue)

	// Edge properties.
	setEdgeProp(t, tx, key, "since", `2020`)
	setEdgeProp(t, tx, key, "note", `"met at work"`)
	value, err = tx.GetEdgeProperty(ctx, key, "since")
	require.NoError(t, err)
	assert.Equal(t, `2020`, string(value))

	eall, err := tx.GetAllEdgeProperties(ctx, key)
	require.NoError(t, err)
	require.Len(t, eall, 2)
	assert.Equal(t, "note", eall[0].Name)
	assert.Equal(t, "since", eall[1].Name)

	require.NoError(t, tx.DeleteEdgeProperty(ctx, key, "note"))
	value, err = tx.GetEdgeProperty(ctx, key, "note")
	require.NoError(t, err)
	assert.Nil(t, value)

	other := storage.EdgeKey{OutboundID: b, Type: "knows", InboundID: a}
	err = tx.SetEdgeProperty(ctx, other, "since", json.RawMessage(`1`))
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
	_, err = tx.GetAllEdgeProperties(ctx, other)
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
	err = tx.SetEdgeProperty(ctx, key, "big", json.RawMessage(`"`+strings.Repeat("y", 100)+`"`))
	assert.ErrorIs(t, err, storage.ErrValueTooLarge)
}

func (s Suite) testPropertyFilters(t *testing.T) {
	_, tx := s.openDefault(t)

	ids := sortedIDs(createVertices(t, tx, "item", 7))
	setVertexProp(t, tx, ids[0], "score", `10`)
	setVertexProp(t, tx, ids[1], "score", `2.5`)
	setVertexProp(t, tx, ids[2], "score", `-3`)
	setVertexProp(t, tx, ids[3], "score", `"10"`)
	setVertexProp(t, tx, ids[4], "score", `{"nested":10}`)
	setVertexProp(t, tx, ids[5], "label", `"hello world"`)
	setVertexProp(t, tx, ids[6], "score", `10.0`)

	items := storage.VerticesOfType("item")
	cases := []struct {
		name string
		prop string
		pred storage.Predicate
		want []uuid.UUID
	}{
		{"exists", "score", storage.Exists(), []uuid.UUID{ids[0], ids[1], ids[2], ids[3], ids[4], ids[6]}},
		{"equals_number", "score", storage.Equals(json.RawMessage(`10`)), []uuid.UUID{ids[0], ids[6]}},
		{"equals_string", "score", storage.Equals(json.RawMessage(` "10" `)), []uuid.UUID{ids[3]}},
		{"equals_object", "score", storage.Equals(json.RawMessage(`{ "nested" : 10 }`)), []uuid.UUID{ids[4]}},
		{"less_than", "score", storage.LessThan(3), []uuid.UUID{ids[1], ids[2]}},
		{"less_or_equal", "score", storage.LessOrEqual(2.5), []uuid.UUID{ids[1], ids[2]}},
		{"greater_than", "score", storage.GreaterThan(2.5), []uuid.UUID{ids[0], ids[6]}},
		{"greater_or_equal", "score", storage.GreaterOrEqual(-3), []uuid.UUID{ids[0], ids[1], ids[2], ids[6]}},
		{"contains", "label", storage.Contains("lo wo"), []uuid.UUID{ids[5]}},
		{"contains_skips_numbers", "score", storage.Contains("1"), []uuid.UUID{ids[3]}},
		{"absent_property", "missing", storage.Exists(), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := getVertices(t, tx, storage.FilterVertices(items, tc.prop, tc.pred))
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}

	// The limit applies after filtering.
	got := getVertices(t, tx, storage.LimitVertices(storage.FilterVertices(items, "score", storage.GreaterThan(0)), 2))
	assert.Equal(t, []uuid.UUID{ids[0], ids[1]}, got)

	// Filters keep the caller order of explicit id sets.
	got = getVertices(t, tx, storage.FilterVertices(storage.SpecificVertices(ids[6], ids[5], ids[0]), "score", storage.Exists()))
	assert.Equal(t, []uuid.UUID{ids[6], ids[0]}, got)

	// Edge filters.
	hub := createVertex(t, tx, "hub")
	var keys []storage.EdgeKey
	for i, id := range ids[:3] {
		key := createEdge(t, tx, hub, "rates", id)
		keys = append(keys, key)
		setEdgeProp(t, tx, key, "stars", []string{`5`, `3`, `"five"`}[i])
	}
	edges := getEdges(t, tx, storage.FilterEdges(storage.EdgesOfType("rates"), "stars", storage.GreaterOrEqual(3)))
	assert.Equal(t, sortedKeys(keys[:2]), edges)
	edges = getEdges(t, tx, storage.FilterEdges(
		storage.PipeEdges(storage.SpecificVertices(hub), storage.Outbound, nil), "stars", storage.Contains("fi")))
	assert.Equal(t, []storage.EdgeKey{keys[2]}, edges)

	_, err := tx.GetVertices(context.Background(), storage.FilterVertices(items, "score", storage.LessThan(math.Inf(1))))
	assert.ErrorIs(t, err, storage.ErrInvalidValue)
}

func (s Suite) testPropertiesByQuery(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	ids := sortedIDs(createVertices(t, tx, "person", 4))
	setVertexProp(t, tx, ids[0], "name", `"a"`)
	setVertexProp(t, tx, ids[2], "name", `"c"`)
	setVertexProp(t, tx, ids[3], "name", `"d"`)
	setVertexProp(t, tx, ids[3], "age", `40`)

	props, err := tx.GetVertexProperties(ctx, storage.VerticesOfType("person"), "name")
	require.NoError(t, err)
	require.Len(t, props, 3)
	assert.Equal(t, ids[0], props[0].ID)
	assert.Equal(t, `"a"`, string(props[0].Value))
	assert.Equal(t, ids[2], props[1].ID)
	assert.Equal(t, ids[3], props[2].ID)

	props, err = tx.GetVertexProperties(ctx, storage.SpecificVertices(ids[3], ids[1], ids[0]), "name")
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, ids[3], props[0].ID)
	assert.Equal(t, ids[0], props[1].ID)

	n, err := tx.DeleteVertexProperties(ctx, storage.LimitVertices(storage.VerticesOfType("person"), 3), "name")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	props, err = tx.GetVertexProperties(ctx, storage.AllVertices(), "name")
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, ids[3], props[0].ID)

	age, err := tx.GetVertexProperty(ctx, ids[3], "age")
	require.NoError(t, err)
	assert.Equal(t, `40`, string(age), "other properties untouched")

	// Edge projections.
	e1 := createEdge(t, tx, ids[0], "knows", ids[1])
	e2 := createEdge(t, tx, ids[0], "knows", ids[2])
	setEdgeProp(t, tx, e1, "since", `2001`)
	setEdgeProp(t, tx, e2, "since", `2002`)

	eprops, err := tx.GetEdgeProperties(ctx, storage.EdgesOfType("knows"), "since")
	require.NoError(t, err)
	require.Len(t, eprops, 2)
	want := sortedKeys([]storage.EdgeKey{e1, e2})
	assert.Equal(t, want[0], eprops[0].Key)
	assert.Equal(t, want[1], eprops[1].Key)

	n, err = tx.DeleteEdgeProperties(ctx, storage.SpecificEdges(e2), "since")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	eprops, err = tx.GetEdgeProperties(ctx, storage.AllEdges(), "since")
	require.NoError(t, err)
	require.Len(t, eprops, 1)
	assert.Equal(t, e1, eprops[0].Key)
	assert.Equal(t, `2001`, string(eprops[0].Value))

	// Query-scoped sets overwrite existing values and add missing ones.
	n, err = tx.SetVertexProperties(ctx, storage.LimitVertices(storage.VerticesOfType("person"), 2), "team", json.RawMessage(` { "b": 1, "a": 2 } `))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = tx.SetVertexProperties(ctx, storage.SpecificVertices(ids[1], ids[3]), "age", json.RawMessage(`41`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	props, err = tx.GetVertexProperties(ctx, storage.AllVertices(), "team")
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, ids[0], props[0].ID)
	assert.Equal(t, ids[1], props[1].ID)
	assert.Equal(t, `{"a":2,"b":1}`, string(props[0].Value), "stored canonically")

	age, err = tx.GetVertexProperty(ctx, ids[3], "age")
	require.NoError(t, err)
	assert.Equal(t, `41`, string(age))
	age, err = tx.GetVertexProperty(ctx, ids[1], "age")
	require.NoError(t, err)
	assert.Equal(t, `41`, string(age))

	n, err = tx.SetVertexProperties(ctx, storage.VerticesOfType("robot"), "team", json.RawMessage(`1`))
	require.NoError(t, err)
	assert.Zero(t, n, "empty selection")
	_, err = tx.SetVertexProperties(ctx, storage.AllVertices(), "team", json.RawMessage(`{nope`))
	assert.ErrorIs(t, err, storage.ErrInvalidValue)
	_, err = tx.SetVertexProperties(ctx, storage.AllVertices(), "", json.RawMessage(`1`))
	assert.ErrorIs(t, err, storage.ErrInvalidPropertyName)

	n, err = tx.SetEdgeProperties(ctx, storage.PipeEdges(storage.SpecificVertices(ids[0]), storage.Outbound, nil), "since", json.RawMessage(`1999`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	eprops, err = tx.GetEdgeProperties(ctx, storage.AllEdges(), "since")
	require.NoError(t, err)
	require.Len(t, eprops, 2)
	assert.Equal(t, want[0], eprops[0].Key)
	assert.Equal(t, `1999`, string(eprops[0].Value))
	assert.Equal(t, `1999`, string(eprops[1].Value))

	n, err = tx.SetEdgeProperties(ctx, storage.EdgesOfType("likes"), "since", json.RawMessage(`1`))
	require.NoError(t, err)
	assert.Zero(t, n)
}

// testCappedInnerQueries pins how the result cap interacts with nested
// queries: the inner query of a filter or pipe is itself capped, so matches
// beyond the first MaxResults inner results are never seen, even when the
// outer result holds fewer than MaxResults entries.
func (s Suite) testCappedInnerQueries(t *testing.T) {
	_, tx := s.open(t, storage.Limits{MaxResults: 5})

	ids := sortedIDs(createVertices(t, tx, "item", 8))
	setVertexProp(t, tx, ids[6], "flag", `true`)
	setVertexProp(t, tx, ids[7], "flag", `true`)
	setVertexProp(t, tx, ids[1], "flag", `true`)

	got := getVertices(t, tx, storage.FilterVertices(storage.VerticesOfType("item"), "flag", storage.Exists()))
	assert.Equal(t, []uuid.UUID{ids[1]}, got, "ids[6] and ids[7] lie beyond the capped inner result")

	// Paging the inner query with a cursor reaches them.
	got = getVertices(t, tx, storage.FilterVertices(
		storage.AllVertexQuery{After: &ids[4]}, "flag", storage.Exists()))
	assert.Equal(t, []uuid.UUID{ids[6], ids[7]}, got)

	hub := createVertex(t, tx, "hub")
	var keys []storage.EdgeKey
	for _, id := range ids {
		keys = append(keys, createEdge(t, tx, id, "link", hub))
	}
	keys = sortedKeys(keys)
	setEdgeProp(t, tx, keys[7], "w", `1`)

	edges := getEdges(t, tx, storage.FilterEdges(storage.EdgesOfType("link"), "w", storage.Exists()))
	assert.Empty(t, edges)
	assert.Empty(t, getVertices(t, tx,
		storage.PipeVertices(storage.FilterEdges(storage.EdgesOfType("link"), "w", storage.Exists()), storage.Outbound, nil)))

	// A pipe sees only the first capped inner edges.
	got = getVertices(t, tx, storage.PipeVertices(storage.EdgesOfType("link"), storage.Outbound, nil))
	assert.Len(t, got, 5)
	assert.NotContains(t, got, keys[7].OutboundID)
}

func (s Suite) testEdgeCount(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	a := createVertex(t, tx, "person")
	others := createVertices(t, tx, "person", 3)
	for _, o := range others {
		createEdge(t, tx, a, "knows", o)
	}
	createEdge(t, tx, a, "likes", others[0])
	createEdge(t, tx, others[1], "knows", a)

	for _, tc := range []struct {
		typ  *storage.Type
		dir  storage.EdgeDirection
		want uint64
	}{
		{nil, storage.Outbound, 4},
		{storage.TypePtr("knows"), storage.Outbound, 3},
		{storage.TypePtr("likes"), storage.Outbound, 1},
		{storage.TypePtr("know"), storage.Outbound, 0},
		{nil, storage.Inbound, 1},
		{storage.TypePtr("likes"), storage.Inbound, 0},
	} {
		count, err := tx.GetEdgeCount(ctx, a, tc.typ, tc.dir)
		require.NoError(t, err)
		assert.Equal(t, tc.want, count)
	}

	_, err := tx.GetEdgeCount(ctx, a, storage.TypePtr("bad type"), storage.Outbound)
	assert.ErrorIs(t, err, storage.ErrInvalidType)
	_, err = tx.GetEdgeCount(ctx, a, nil, storage.EdgeDirection(7))
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

// ============================================================================
// Bulk and import/export
// ============================================================================

func (s Suite) testBulkInsert(t *testing.T) {
	ctx := context.Background()
	ds, tx := s.openDefault(t)

	a := storage.NewVertex("person")
	b := storage.NewVertex("person")
	key := storage.EdgeKey{OutboundID: a.ID, Type: "knows", InboundID: b.ID}

	err := ds.BulkInsert(ctx, []storage.BulkInsertItem{
		storage.VertexItem{Vertex: a},
		storage.VertexItem{Vertex: b},
		storage.EdgeItem{Key: key},
		storage.VertexPropertyItem{ID: a.ID, Name: "name", Value: json.RawMessage(`"Alice"`)},
		storage.EdgePropertyItem{Key: key, Name: "since", Value: json.RawMessage(` 2020 `)},
	})
	require.NoError(t, err)

	assert.Equal(t, sortedIDs([]uuid.UUID{a.ID, b.ID}), getVertices(t, tx, storage.VerticesOfType("person")))
	assert.Equal(t, []storage.EdgeKey{key}, getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(b.ID), storage.Inbound, nil)))

	value, err := tx.GetVertexProperty(ctx, a.ID, "name")
	require.NoError(t, err)
	assert.Equal(t, `"Alice"`, string(value))
	value, err = tx.GetEdgeProperty(ctx, key, "since")
	require.NoError(t, err)
	assert.Equal(t, `2020`, string(value))

	// Invalid items abort before any write.
	c := storage.NewVertex("person")
	err = ds.BulkInsert(ctx, []storage.BulkInsertItem{
		storage.VertexItem{Vertex: c},
		storage.VertexPropertyItem{ID: c.ID, Name: "bad", Value: json.RawMessage(`{`)},
	})
	assert.ErrorIs(t, err, storage.ErrInvalidValue)
	assert.Empty(t, getVertices(t, tx, storage.SpecificVertices(c.ID)))

	err = ds.BulkInsert(ctx, []storage.BulkInsertItem{storage.VertexItem{Vertex: storage.Vertex{ID: storage.NewID(), Type: "no good"}}})
	assert.ErrorIs(t, err, storage.ErrInvalidType)

	require.NoError(t, ds.BulkInsert(ctx, nil))
}

func (s Suite) testJSONLinesRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, src := s.open(t, storage.Limits{MaxResults: 3})

	people := createVertices(t, src, "person", 5)
	for i, id := range people {
		setVertexProp(t, src, id, "n", []string{`1`, `"two"`, `[3]`, `{"four":4}`, `null`}[i])
	}
	var keys []storage.EdgeKey
	for i := 0; i+1 < len(people); i++ {
		keys = append(keys, createEdge(t, src, people[i], "next", people[i+1]))
	}
	setEdgeProp(t, src, keys[0], "w", `0.25`)

	var buf bytes.Buffer
	stats, err := storage.DumpJSONLines(ctx, src, &buf, 2)
	require.NoError(t, err)
	assert.Equal(t, storage.LoadStats{Vertices: 5, Edges: 4, Properties: 6}, stats)

	dstStore, dst := s.openDefault(t)
	loaded, err := storage.LoadJSONLines(ctx, dstStore, &buf, 3)
	require.NoError(t, err)
	assert.Equal(t, stats, loaded)

	assert.Equal(t, sortedIDs(people), getVertices(t, dst, storage.VerticesOfType("person")))
	assert.Equal(t, sortedKeys(keys), getEdges(t, dst, storage.AllEdges()))
	value, err := dst.GetVertexProperty(ctx, people[3], "n")
	require.NoError(t, err)
	assert.Equal(t, `{"four":4}`, string(value))
	value, err = dst.GetEdgeProperty(ctx, keys[0], "w")
	require.NoError(t, err)
	assert.Equal(t, `0.25`, string(value))
}

// testScenario walks the reference example end to end.
func (s Suite) testScenario(t *testing.T) {
	ctx := context.Background()
	_, tx := s.openDefault(t)

	a := createVertex(t, tx, "person")
	b := createVertex(t, tx, "person")
	knows := createEdge(t, tx, a, "knows", b)
	setVertexProp(t, tx, a, "name", `"Alice"`)

	assert.Equal(t, sortedIDs([]uuid.UUID{a, b}), getVertices(t, tx, storage.VerticesOfType("person")))
	assert.Equal(t, []storage.EdgeKey{knows},
		getEdges(t, tx, storage.PipeEdges(storage.SpecificVertices(a), storage.Outbound, nil)))

	n, err := tx.DeleteVertices(ctx, storage.SpecificVertices(a))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, getEdges(t, tx, storage.SpecificEdges(knows)))
	_, err = tx.GetVertexProperty(ctx, a, "name")
	assert.ErrorIs(t, err, storage.ErrOwnerNotFound)
}

func (s Suite) testClosed(t *testing.T) {
	ds := s.New(t, storage.DefaultLimits())
	tx, err := ds.Transaction()
	require.NoError(t, err)
	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close(), "close is idempotent")

	_, err = ds.Transaction()
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	_, err = tx.GetVertices(context.Background(), storage.AllVertices())
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
