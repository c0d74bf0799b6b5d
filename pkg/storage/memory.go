package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDatastore is a thread-safe in-memory Datastore.
//
// It keeps primary maps for vertices, edges and properties plus the same
// secondary indexes the persistent engines maintain (vertices by type,
// outgoing and incoming edges per vertex). It is the reference engine for
// tests and tooling; data is lost when the process exits.
//
// Creating a vertex with an id that already exists fails with
// ErrAlreadyExists.
//
// Example:
//
//	ds := storage.NewMemoryDatastore(storage.DefaultLimits())
//	defer ds.Close()
//
//	tx, _ := ds.Transaction()
//	id, _ := tx.CreateVertexFromType(ctx, "person")
//
// Thread Safety:
//
//	Writers take an exclusive lock for the duration of one operation, so
//	every operation is atomic and readers never see a partial cascade.
type MemoryDatastore struct {
	mu       sync.RWMutex
	vertices map[uuid.UUID]Type
	edges    map[EdgeKey]int64

	// Indexes for efficient lookups
	verticesByType map[Type]map[uuid.UUID]struct{}
	outgoingEdges  map[uuid.UUID]map[EdgeKey]struct{}
	incomingEdges  map[uuid.UUID]map[EdgeKey]struct{}

	vertexProps map[uuid.UUID]map[string]json.RawMessage
	edgeProps   map[EdgeKey]map[string]json.RawMessage

	limits Limits
	clock  *Clock
	closed bool
}

// NewMemoryDatastore creates an empty in-memory datastore.
func NewMemoryDatastore(limits Limits) *MemoryDatastore {
	return &MemoryDatastore{
		vertices:       make(map[uuid.UUID]Type),
		edges:          make(map[EdgeKey]int64),
		verticesByType: make(map[Type]map[uuid.UUID]struct{}),
		outgoingEdges:  make(map[uuid.UUID]map[EdgeKey]struct{}),
		incomingEdges:  make(map[uuid.UUID]map[EdgeKey]struct{}),
		vertexProps:    make(map[uuid.UUID]map[string]json.RawMessage),
		edgeProps:      make(map[EdgeKey]map[string]json.RawMessage),
		limits:         limits.WithDefaults(),
		clock:          NewClock(),
	}
}

// Transaction returns an operation handle.
func (m *MemoryDatastore) Transaction() (Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	return &memoryTransaction{m: m}, nil
}

// Close drops all data.
func (m *MemoryDatastore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.vertices = nil
	m.edges = nil
	m.verticesByType = nil
	m.outgoingEdges = nil
	m.incomingEdges = nil
	m.vertexProps = nil
	m.edgeProps = nil
	return nil
}

// BulkInsert applies the items directly without existence checks. Edges
// and properties whose owners are missing are stored anyway and become
// visible once the owners are loaded.
func (m *MemoryDatastore) BulkInsert(ctx context.Context, items []BulkInsertItem) error {
	prepared, err := PrepareBulkItems(items, m.limits)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}

	for _, item := range prepared {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch it := item.(type) {
		case VertexItem:
			m.putVertexUnlocked(it.Vertex)
		case EdgeItem:
			m.putEdgeUnlocked(it.Key, m.clock.Next())
		case VertexPropertyItem:
			m.putVertexPropertyUnlocked(it.ID, it.Name, it.Value)
		case EdgePropertyItem:
			m.putEdgePropertyUnlocked(it.Key, it.Name, it.Value)
		}
	}
	return nil
}

// read runs fn under the shared lock.
func (m *MemoryDatastore) read(fn func(r *memoryReader) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStorageClosed
	}
	return fn(&memoryReader{m: m})
}

// write runs fn under the exclusive lock.
func (m *MemoryDatastore) write(fn func(r *memoryReader) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStorageClosed
	}
	return fn(&memoryReader{m: m})
}

// ============================================================================
// Unlocked mutation helpers (caller holds m.mu)
// ============================================================================

func (m *MemoryDatastore) putVertexUnlocked(v Vertex) {
	if old, exists := m.vertices[v.ID]; exists {
		delete(m.verticesByType[old], v.ID)
	}
	m.vertices[v.ID] = v.Type
	if m.verticesByType[v.Type] == nil {
		m.verticesByType[v.Type] = make(map[uuid.UUID]struct{})
	}
	m.verticesByType[v.Type][v.ID] = struct{}{}
}

func (m *MemoryDatastore) deleteVertexUnlocked(id uuid.UUID) {
	t, exists := m.vertices[id]
	if !exists {
		return
	}
	delete(m.verticesByType[t], id)

	for key := range m.outgoingEdges[id] {
		m.deleteEdgeUnlocked(key)
	}
	for key := range m.incomingEdges[id] {
		m.deleteEdgeUnlocked(key)
	}
	delete(m.outgoingEdges, id)
	delete(m.incomingEdges, id)
	delete(m.vertexProps, id)
	delete(m.vertices, id)
}

func (m *MemoryDatastore) putEdgeUnlocked(key EdgeKey, ts int64) {
	m.edges[key] = ts
	if m.outgoingEdges[key.OutboundID] == nil {
		m.outgoingEdges[key.OutboundID] = make(map[EdgeKey]struct{})
	}
	m.outgoingEdges[key.OutboundID][key] = struct{}{}
	if m.incomingEdges[key.InboundID] == nil {
		m.incomingEdges[key.InboundID] = make(map[EdgeKey]struct{})
	}
	m.incomingEdges[key.InboundID][key] = struct{}{}
}

func (m *MemoryDatastore) deleteEdgeUnlocked(key EdgeKey) {
	if _, exists := m.edges[key]; !exists {
		return
	}
	delete(m.edges, key)
	delete(m.outgoingEdges[key.OutboundID], key)
	delete(m.incomingEdges[key.InboundID], key)
	delete(m.edgeProps, key)
}

func (m *MemoryDatastore) putVertexPropertyUnlocked(id uuid.UUID, name string, value json.RawMessage) {
	if m.vertexProps[id] == nil {
		m.vertexProps[id] = make(map[string]json.RawMessage)
	}
	m.vertexProps[id][name] = value
}

func (m *MemoryDatastore) putEdgePropertyUnlocked(key EdgeKey, name string, value json.RawMessage) {
	if m.edgeProps[key] == nil {
		m.edgeProps[key] = make(map[string]json.RawMessage)
	}
	m.edgeProps[key][name] = value
}

// ============================================================================
// graphReader over the maps
// ============================================================================

type memoryReader struct {
	m *MemoryDatastore
}

func (r *memoryReader) vertexType(id uuid.UUID) (Type, bool, error) {
	t, ok := r.m.vertices[id]
	return t, ok, nil
}

func (r *memoryReader) scanVertices(t *Type, after *uuid.UUID, limit int) ([]Vertex, error) {
	var ids []uuid.UUID
	if t != nil {
		for id := range r.m.verticesByType[*t] {
			ids = append(ids, id)
		}
	} else {
		for id := range r.m.vertices {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return CompareIDs(ids[i], ids[j]) < 0 })

	var out []Vertex
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		if after != nil && CompareIDs(id, *after) <= 0 {
			continue
		}
		out = append(out, Vertex{ID: id, Type: r.m.vertices[id]})
	}
	return out, nil
}

func (r *memoryReader) edgeTime(key EdgeKey) (time.Time, bool, error) {
	ts, ok := r.m.edges[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ts), true, nil
}

func (r *memoryReader) scanEdges(t *Type, after *EdgeKey, limit int) ([]Edge, error) {
	var keys []EdgeKey
	for key := range r.m.edges {
		if t != nil && key.Type != *t {
			continue
		}
		if after != nil && key.Compare(*after) <= 0 {
			continue
		}
		keys = append(keys, key)
	}
	return r.edgesFor(keys, limit), nil
}

func (r *memoryReader) incidentEdges(id uuid.UUID, dir EdgeDirection, t *Type, limit int) ([]Edge, error) {
	index := r.m.outgoingEdges[id]
	if dir == Inbound {
		index = r.m.incomingEdges[id]
	}
	var keys []EdgeKey
	for key := range index {
		if t == nil || key.Type == *t {
			keys = append(keys, key)
		}
	}
	return r.edgesFor(keys, limit), nil
}

// edgesFor sorts keys canonically and resolves the first limit of them.
func (r *memoryReader) edgesFor(keys []EdgeKey, limit int) []Edge {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	if len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Edge, 0, len(keys))
	for _, key := range keys {
		out = append(out, Edge{Key: key, UpdatedAt: time.Unix(0, r.m.edges[key])})
	}
	return out
}

func (r *memoryReader) vertexProperty(id uuid.UUID, name string) (json.RawMessage, bool, error) {
	value, ok := r.m.vertexProps[id][name]
	return value, ok, nil
}

func (r *memoryReader) edgeProperty(key EdgeKey, name string) (json.RawMessage, bool, error) {
	value, ok := r.m.edgeProps[key][name]
	return value, ok, nil
}

func namedProperties(props map[string]json.RawMessage) []NamedProperty {
	out := make([]NamedProperty, 0, len(props))
	for name, value := range props {
		out = append(out, NamedProperty{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ============================================================================
// Transaction
// ============================================================================

type memoryTransaction struct {
	m *MemoryDatastore
}

func (tx *memoryTransaction) CreateVertex(_ context.Context, v Vertex) error {
	if err := v.Type.Validate(); err != nil {
		return err
	}
	return tx.m.write(func(r *memoryReader) error {
		if _, exists := tx.m.vertices[v.ID]; exists {
			return ErrAlreadyExists
		}
		tx.m.putVertexUnlocked(v)
		return nil
	})
}

func (tx *memoryTransaction) CreateVertexFromType(ctx context.Context, t Type) (uuid.UUID, error) {
	v := NewVertex(t)
	if err := tx.CreateVertex(ctx, v); err != nil {
		return uuid.Nil, err
	}
	return v.ID, nil
}

func (tx *memoryTransaction) GetVertices(ctx context.Context, q VertexQuery) ([]Vertex, error) {
	if err := ValidateVertexQuery(q, tx.m.limits); err != nil {
		return nil, err
	}
	var out []Vertex
	err := tx.m.read(func(r *memoryReader) error {
		var err error
		out, err = newEvaluator(ctx, r, tx.m.limits).vertices(q, tx.m.limits.MaxResults)
		return err
	})
	return out, err
}

func (tx *memoryTransaction) DeleteVertices(ctx context.Context, q VertexQuery) (int, error) {
	if err := ValidateVertexQuery(q, tx.m.limits); err != nil {
		return 0, err
	}
	var count int
	err := tx.m.write(func(r *memoryReader) error {
		vertices, err := newEvaluator(ctx, r, tx.m.limits).vertices(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		for _, v := range vertices {
			tx.m.deleteVertexUnlocked(v.ID)
		}
		count = len(vertices)
		return nil
	})
	return count, err
}

func (tx *memoryTransaction) GetVertexCount(_ context.Context) (uint64, error) {
	var count uint64
	err := tx.m.read(func(r *memoryReader) error {
		count = uint64(len(tx.m.vertices))
		return nil
	})
	return count, err
}

func (tx *memoryTransaction) CreateEdge(_ context.Context, key EdgeKey) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	return tx.m.write(func(r *memoryReader) error {
		if _, ok := tx.m.vertices[key.OutboundID]; !ok {
			return ErrVertexNotFound
		}
		if _, ok := tx.m.vertices[key.InboundID]; !ok {
			return ErrVertexNotFound
		}
		tx.m.putEdgeUnlocked(key, tx.m.clock.Next())
		return nil
	})
}

func (tx *memoryTransaction) GetEdges(ctx context.Context, q EdgeQuery) ([]Edge, error) {
	if err := ValidateEdgeQuery(q, tx.m.limits); err != nil {
		return nil, err
	}
	var out []Edge
	err := tx.m.read(func(r *memoryReader) error {
		var err error
		out, err = newEvaluator(ctx, r, tx.m.limits).edges(q, tx.m.limits.MaxResults)
		return err
	})
	return out, err
}

func (tx *memoryTransaction) DeleteEdges(ctx context.Context, q EdgeQuery) (int, error) {
	if err := ValidateEdgeQuery(q, tx.m.limits); err != nil {
		return 0, err
	}
	var count int
	err := tx.m.write(func(r *memoryReader) error {
		edges, err := newEvaluator(ctx, r, tx.m.limits).edges(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			tx.m.deleteEdgeUnlocked(edge.Key)
		}
		count = len(edges)
		return nil
	})
	return count, err
}

func (tx *memoryTransaction) GetEdgeCount(_ context.Context, id uuid.UUID, t *Type, dir EdgeDirection) (uint64, error) {
	if err := validateOptionalType(t); err != nil {
		return 0, err
	}
	if err := validateDirection(dir); err != nil {
		return 0, err
	}
	var count uint64
	err := tx.m.read(func(r *memoryReader) error {
		index := tx.m.outgoingEdges[id]
		if dir == Inbound {
			index = tx.m.incomingEdges[id]
		}
		for key := range index {
			if t == nil || key.Type == *t {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (tx *memoryTransaction) SetVertexProperty(_ context.Context, id uuid.UUID, name string, value json.RawMessage) error {
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	canon, err := CanonicalValue(value, tx.m.limits.MaxValueSize)
	if err != nil {
		return err
	}
	return tx.m.write(func(r *memoryReader) error {
		if _, ok := tx.m.vertices[id]; !ok {
			return ErrOwnerNotFound
		}
		tx.m.putVertexPropertyUnlocked(id, name, canon)
		return nil
	})
}

func (tx *memoryTransaction) GetVertexProperty(_ context.Context, id uuid.UUID, name string) (json.RawMessage, error) {
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := tx.m.read(func(r *memoryReader) error {
		if _, ok := tx.m.vertices[id]; !ok {
			return ErrOwnerNotFound
		}
		value = tx.m.vertexProps[id][name]
		return nil
	})
	return value, err
}

func (tx *memoryTransaction) GetAllVertexProperties(_ context.Context, id uuid.UUID) ([]NamedProperty, error) {
	var out []NamedProperty
	err := tx.m.read(func(r *memoryReader) error {
		if _, ok := tx.m.vertices[id]; !ok {
			return ErrOwnerNotFound
		}
		out = namedProperties(tx.m.vertexProps[id])
		return nil
	})
	return out, err
}

func (tx *memoryTransaction) DeleteVertexProperty(_ context.Context, id uuid.UUID, name string) error {
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	return tx.m.write(func(r *memoryReader) error {
		if _, ok := tx.m.vertices[id]; !ok {
			return ErrOwnerNotFound
		}
		delete(tx.m.vertexProps[id], name)
		return nil
	})
}

func (tx *memoryTransaction) GetVertexProperties(ctx context.Context, q VertexQuery, name string) ([]VertexProperty, error) {
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	if err := ValidateVertexQuery(q, tx.m.limits); err != nil {
		return nil, err
	}
	var out []VertexProperty
	err := tx.m.read(func(r *memoryReader) error {
		vertices, err := newEvaluator(ctx, r, tx.m.limits).vertices(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		out, err = getVertexProperties(r, vertices, name)
		return err
	})
	return out, err
}

func (tx *memoryTransaction) SetVertexProperties(ctx context.Context, q VertexQuery, name string, value json.RawMessage) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateVertexQuery(q, tx.m.limits); err != nil {
		return 0, err
	}
	canon, err := CanonicalValue(value, tx.m.limits.MaxValueSize)
	if err != nil {
		return 0, err
	}
	var count int
	err = tx.m.write(func(r *memoryReader) error {
		vertices, err := newEvaluator(ctx, r, tx.m.limits).vertices(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		for _, v := range vertices {
			tx.m.putVertexPropertyUnlocked(v.ID, name, canon)
		}
		count = len(vertices)
		return nil
	})
	return count, err
}

func (tx *memoryTransaction) DeleteVertexProperties(ctx context.Context, q VertexQuery, name string) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateVertexQuery(q, tx.m.limits); err != nil {
		return 0, err
	}
	var count int
	err := tx.m.write(func(r *memoryReader) error {
		vertices, err := newEvaluator(ctx, r, tx.m.limits).vertices(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		for _, v := range vertices {
			if _, ok := tx.m.vertexProps[v.ID][name]; ok {
				delete(tx.m.vertexProps[v.ID], name)
				count++
			}
		}
		return nil
	})
	return count, err
}

func (tx *memoryTransaction) SetEdgeProperty(_ context.Context, key EdgeKey, name string, value json.RawMessage) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	canon, err := CanonicalValue(value, tx.m.limits.MaxValueSize)
	if err != nil {
		return err
	}
	return tx.m.write(func(r *memoryReader) error {
		if _, ok := tx.m.edges[key]; !ok {
			return ErrOwnerNotFound
		}
		tx.m.putEdgePropertyUnlocked(key, name, canon)
		return nil
	})
}

func (tx *memoryTransaction) GetEdgeProperty(_ context.Context, key EdgeKey, name string) (json.RawMessage, error) {
	if err := key.Type.Validate(); err != nil {
		return nil, err
	}
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := tx.m.read(func(r *memoryReader) error {
		if _, ok := tx.m.edges[key]; !ok {
			return ErrOwnerNotFound
		}
		value = tx.m.edgeProps[key][name]
		return nil
	})
	return value, err
}

func (tx *memoryTransaction) GetAllEdgeProperties(_ context.Context, key EdgeKey) ([]NamedProperty, error) {
	if err := key.Type.Validate(); err != nil {
		return nil, err
	}
	var out []NamedProperty
	err := tx.m.read(func(r *memoryReader) error {
		if _, ok := tx.m.edges[key]; !ok {
			return ErrOwnerNotFound
		}
		out = namedProperties(tx.m.edgeProps[key])
		return nil
	})
	return out, err
}

func (tx *memoryTransaction) DeleteEdgeProperty(_ context.Context, key EdgeKey, name string) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	return tx.m.write(func(r *memoryReader) error {
		if _, ok := tx.m.edges[key]; !ok {
			return ErrOwnerNotFound
		}
		delete(tx.m.edgeProps[key], name)
		return nil
	})
}

func (tx *memoryTransaction) GetEdgeProperties(ctx context.Context, q EdgeQuery, name string) ([]EdgeProperty, error) {
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	if err := ValidateEdgeQuery(q, tx.m.limits); err != nil {
		return nil, err
	}
	var out []EdgeProperty
	err := tx.m.read(func(r *memoryReader) error {
		edges, err := newEvaluator(ctx, r, tx.m.limits).edges(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		out, err = getEdgeProperties(r, edges, name)
		return err
	})
	return out, err
}

func (tx *memoryTransaction) SetEdgeProperties(ctx context.Context, q EdgeQuery, name string, value json.RawMessage) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateEdgeQuery(q, tx.m.limits); err != nil {
		return 0, err
	}
	canon, err := CanonicalValue(value, tx.m.limits.MaxValueSize)
	if err != nil {
		return 0, err
	}
	var count int
	err = tx.m.write(func(r *memoryReader) error {
		edges, err := newEvaluator(ctx, r, tx.m.limits).edges(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			tx.m.putEdgePropertyUnlocked(edge.Key, name, canon)
		}
		count = len(edges)
		return nil
	})
	return count, err
}

func (tx *memoryTransaction) DeleteEdgeProperties(ctx context.Context, q EdgeQuery, name string) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateEdgeQuery(q, tx.m.limits); err != nil {
		return 0, err
	}
	var count int
	err := tx.m.write(func(r *memoryReader) error {
		edges, err := newEvaluator(ctx, r, tx.m.limits).edges(q, tx.m.limits.MaxResults)
		if err != nil {
			return err
		}
		for _, edge := range edges {
			if _, ok := tx.m.edgeProps[edge.Key][name]; ok {
				delete(tx.m.edgeProps[edge.Key], name)
				count++
			}
		}
		return nil
	})
	return count, err
}
