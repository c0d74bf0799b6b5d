package sqlstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vertexdb/pkg/storage"
)

// TestEnginesAgree replays one random operation sequence against the
// memory, Badger and SQLite engines and requires identical answers. The
// query trees are random nestings of pipes, filters and limits over a small
// cap, so truncation and ordering rules are exercised on every engine.
func TestEnginesAgree(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			limits := storage.Limits{MaxResults: 12}
			badgerDS, err := storage.NewBadgerDatastore(storage.BadgerOptions{InMemory: true, Limits: limits})
			require.NoError(t, err)
			engines := []namedEngine{
				{"memory", storage.NewMemoryDatastore(limits)},
				{"badger", badgerDS},
				{"sqlite", openSQLite(t, limits)},
			}
			for _, e := range engines {
				t.Cleanup(func() { e.ds.Close() })
			}

			w := newWorkload(t, seed, engines)
			w.seed()
			for step := 0; step < 250; step++ {
				w.step(step)
			}
		})
	}
}

type namedEngine struct {
	name string
	ds   storage.Datastore
}

type workload struct {
	t     *testing.T
	ctx   context.Context
	rng   *rand.Rand
	names []string
	txs   []storage.Transaction

	vertices []uuid.UUID
	edges    []storage.EdgeKey
}

var (
	vertexTypes = []storage.Type{"a", "b", "c"}
	edgeTypes   = []storage.Type{"x", "y"}
)

func newWorkload(t *testing.T, seed int64, engines []namedEngine) *workload {
	w := &workload{t: t, ctx: context.Background(), rng: rand.New(rand.NewSource(seed))}
	for _, e := range engines {
		tx, err := e.ds.Transaction()
		require.NoError(t, err)
		w.names = append(w.names, e.name)
		w.txs = append(w.txs, tx)
	}
	return w
}

func (w *workload) newID() uuid.UUID {
	var id uuid.UUID
	w.rng.Read(id[:])
	return id
}

func (w *workload) seed() {
	for i := 0; i < 24; i++ {
		w.createVertex()
	}
	for i := 0; i < 60; i++ {
		w.createEdge()
	}
	for i := 0; i < 30; i++ {
		w.setVertexProperty()
	}
	for i := 0; i < 30; i++ {
		w.setEdgeProperty()
	}
}

// each runs fn on every engine and requires every engine to produce the
// same result and the same error kind as the first one.
func (w *workload) each(what string, fn func(tx storage.Transaction) (any, error)) {
	w.t.Helper()
	var (
		want    any
		wantErr error
	)
	for i, tx := range w.txs {
		got, err := fn(tx)
		if i == 0 {
			want, wantErr = got, err
			continue
		}
		require.Equal(w.t, errorKind(wantErr), errorKind(err), "%s: %s vs %s error (%v / %v)", what, w.names[0], w.names[i], wantErr, err)
		require.Equal(w.t, want, got, "%s: %s vs %s", what, w.names[0], w.names[i])
	}
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range []error{
		storage.ErrVertexNotFound, storage.ErrOwnerNotFound, storage.ErrInvalidValue,
		storage.ErrLimitExceeded, storage.ErrInvalidQuery, storage.ErrAlreadyExists,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "other: " + err.Error()
}

func (w *workload) createVertex() {
	v := storage.Vertex{ID: w.newID(), Type: vertexTypes[w.rng.Intn(len(vertexTypes))]}
	w.each("create vertex", func(tx storage.Transaction) (any, error) {
		return nil, tx.CreateVertex(w.ctx, v)
	})
	w.vertices = append(w.vertices, v.ID)
}

func (w *workload) anyVertex() uuid.UUID {
	// One in ten picks an id that was never created.
	if len(w.vertices) == 0 || w.rng.Intn(10) == 0 {
		return w.newID()
	}
	return w.vertices[w.rng.Intn(len(w.vertices))]
}

func (w *workload) anyEdge() storage.EdgeKey {
	if len(w.edges) == 0 || w.rng.Intn(10) == 0 {
		return storage.EdgeKey{OutboundID: w.anyVertex(), Type: "x", InboundID: w.anyVertex()}
	}
	return w.edges[w.rng.Intn(len(w.edges))]
}

func (w *workload) createEdge() {
	key := storage.EdgeKey{
		OutboundID: w.anyVertex(),
		Type:       edgeTypes[w.rng.Intn(len(edgeTypes))],
		InboundID:  w.anyVertex(),
	}
	w.each("create edge", func(tx storage.Transaction) (any, error) {
		return nil, tx.CreateEdge(w.ctx, key)
	})
	w.edges = append(w.edges, key)
}

func (w *workload) value() json.RawMessage {
	switch w.rng.Intn(6) {
	case 0:
		return json.RawMessage(strconv.Quote("v" + strconv.Itoa(w.rng.Intn(20))))
	case 1:
		return json.RawMessage(`{"n":` + strconv.Itoa(w.rng.Intn(3)) + `}`)
	default:
		return json.RawMessage(strconv.Itoa(w.rng.Intn(10)))
	}
}

func (w *workload) setVertexProperty() {
	id, value := w.anyVertex(), w.value()
	w.each("set vertex property", func(tx storage.Transaction) (any, error) {
		return nil, tx.SetVertexProperty(w.ctx, id, "n", value)
	})
}

func (w *workload) setEdgeProperty() {
	key, value := w.anyEdge(), w.value()
	w.each("set edge property", func(tx storage.Transaction) (any, error) {
		return nil, tx.SetEdgeProperty(w.ctx, key, "w", value)
	})
}

func (w *workload) predicate() storage.Predicate {
	switch w.rng.Intn(6) {
	case 0:
		return storage.Exists()
	case 1:
		return storage.Equals(json.RawMessage(strconv.Itoa(w.rng.Intn(10))))
	case 2:
		return storage.LessThan(float64(w.rng.Intn(10)))
	case 3:
		return storage.GreaterOrEqual(float64(w.rng.Intn(10)))
	case 4:
		return storage.Contains("1")
	default:
		return storage.Equals(json.RawMessage(`{"n":1}`))
	}
}

func (w *workload) optionalType(types []storage.Type) *storage.Type {
	if w.rng.Intn(2) == 0 {
		return nil
	}
	return storage.TypePtr(types[w.rng.Intn(len(types))])
}

func (w *workload) direction() storage.EdgeDirection {
	if w.rng.Intn(2) == 0 {
		return storage.Outbound
	}
	return storage.Inbound
}

func (w *workload) vertexQuery(depth int) storage.VertexQuery {
	if depth > 0 && w.rng.Intn(3) > 0 {
		switch w.rng.Intn(3) {
		case 0:
			return storage.PipeVertices(w.edgeQuery(depth-1), w.direction(), w.optionalType(vertexTypes))
		case 1:
			return storage.LimitVertices(w.vertexQuery(depth-1), w.rng.Intn(16))
		default:
			return storage.FilterVertices(w.vertexQuery(depth-1), "n", w.predicate())
		}
	}

	switch w.rng.Intn(5) {
	case 0:
		return storage.AllVertices()
	case 1:
		return storage.AllVerticesAfter(w.anyVertex())
	case 2:
		return storage.VerticesOfType(vertexTypes[w.rng.Intn(len(vertexTypes))])
	case 3:
		return storage.VerticesOfTypeAfter(vertexTypes[w.rng.Intn(len(vertexTypes))], w.anyVertex())
	default:
		ids := make([]uuid.UUID, 1+w.rng.Intn(5))
		for i := range ids {
			ids[i] = w.anyVertex()
		}
		return storage.SpecificVertices(ids...)
	}
}

func (w *workload) edgeQuery(depth int) storage.EdgeQuery {
	if depth > 0 && w.rng.Intn(3) > 0 {
		switch w.rng.Intn(3) {
		case 0:
			return storage.PipeEdges(w.vertexQuery(depth-1), w.direction(), w.optionalType(edgeTypes))
		case 1:
			return storage.LimitEdges(w.edgeQuery(depth-1), w.rng.Intn(16))
		default:
			return storage.FilterEdges(w.edgeQuery(depth-1), "w", w.predicate())
		}
	}

	switch w.rng.Intn(5) {
	case 0:
		return storage.AllEdges()
	case 1:
		return storage.AllEdgesAfter(w.anyEdge())
	case 2:
		return storage.EdgesOfType(edgeTypes[w.rng.Intn(len(edgeTypes))])
	case 3:
		return storage.EdgesOfTypeAfter(edgeTypes[w.rng.Intn(len(edgeTypes))], w.anyEdge())
	default:
		keys := make([]storage.EdgeKey, 1+w.rng.Intn(5))
		for i := range keys {
			keys[i] = w.anyEdge()
		}
		return storage.SpecificEdges(keys...)
	}
}

func vertexResult(vertices []storage.Vertex) []string {
	out := make([]string, len(vertices))
	for i, v := range vertices {
		out[i] = v.ID.String() + "/" + string(v.Type)
	}
	return out
}

func edgeResult(edges []storage.Edge) []storage.EdgeKey {
	out := make([]storage.EdgeKey, len(edges))
	for i, e := range edges {
		out[i] = e.Key
	}
	return out
}

func vertexPropertyResult(props []storage.VertexProperty) []string {
	out := make([]string, len(props))
	for i, p := range props {
		out[i] = p.ID.String() + "=" + string(p.Value)
	}
	return out
}

func edgePropertyResult(props []storage.EdgeProperty) []string {
	out := make([]string, len(props))
	for i, p := range props {
		out[i] = fmt.Sprintf("%s|%s|%s=%s", p.Key.OutboundID, p.Key.Type, p.Key.InboundID, p.Value)
	}
	return out
}

func (w *workload) step(n int) {
	depth := 1 + w.rng.Intn(3)
	op := w.rng.Intn(100)
	what := func(name string, q any) string { return fmt.Sprintf("step %d %s %+v", n, name, q) }

	switch {
	case op < 18:
		q := w.vertexQuery(depth)
		w.each(what("get vertices", q), func(tx storage.Transaction) (any, error) {
			vs, err := tx.GetVertices(w.ctx, q)
			return vertexResult(vs), err
		})
	case op < 36:
		q := w.edgeQuery(depth)
		w.each(what("get edges", q), func(tx storage.Transaction) (any, error) {
			es, err := tx.GetEdges(w.ctx, q)
			return edgeResult(es), err
		})
	case op < 44:
		q := w.vertexQuery(depth)
		w.each(what("get vertex properties", q), func(tx storage.Transaction) (any, error) {
			props, err := tx.GetVertexProperties(w.ctx, q, "n")
			return vertexPropertyResult(props), err
		})
	case op < 52:
		q := w.edgeQuery(depth)
		w.each(what("get edge properties", q), func(tx storage.Transaction) (any, error) {
			props, err := tx.GetEdgeProperties(w.ctx, q, "w")
			return edgePropertyResult(props), err
		})
	case op < 58:
		q, value := w.vertexQuery(depth), w.value()
		w.each(what("set vertex properties", q), func(tx storage.Transaction) (any, error) {
			return tx.SetVertexProperties(w.ctx, q, "n", value)
		})
	case op < 64:
		q, value := w.edgeQuery(depth), w.value()
		w.each(what("set edge properties", q), func(tx storage.Transaction) (any, error) {
			return tx.SetEdgeProperties(w.ctx, q, "w", value)
		})
	case op < 67:
		q := w.vertexQuery(depth)
		w.each(what("delete vertex properties", q), func(tx storage.Transaction) (any, error) {
			return tx.DeleteVertexProperties(w.ctx, q, "n")
		})
	case op < 70:
		q := w.edgeQuery(depth)
		w.each(what("delete edge properties", q), func(tx storage.Transaction) (any, error) {
			return tx.DeleteEdgeProperties(w.ctx, q, "w")
		})
	case op < 73:
		q := storage.LimitEdges(w.edgeQuery(depth), 1+w.rng.Intn(4))
		w.each(what("delete edges", q), func(tx storage.Transaction) (any, error) {
			return tx.DeleteEdges(w.ctx, q)
		})
	case op < 75:
		q := storage.LimitVertices(w.vertexQuery(depth), 1+w.rng.Intn(2))
		w.each(what("delete vertices", q), func(tx storage.Transaction) (any, error) {
			return tx.DeleteVertices(w.ctx, q)
		})
	case op < 80:
		w.createVertex()
	case op < 88:
		w.createEdge()
	case op < 92:
		w.setVertexProperty()
	case op < 96:
		w.setEdgeProperty()
	default:
		id, dir, typ := w.anyVertex(), w.direction(), w.optionalType(edgeTypes)
		w.each(fmt.Sprintf("step %d edge count", n), func(tx storage.Transaction) (any, error) {
			return tx.GetEdgeCount(w.ctx, id, typ, dir)
		})
		w.each(fmt.Sprintf("step %d vertex count", n), func(tx storage.Transaction) (any, error) {
			return tx.GetVertexCount(w.ctx)
		})
	}
}
