package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Datastore is a graph storage engine.
//
// Implementations:
//   - BadgerDatastore: embedded ordered key-value store
//   - MemoryDatastore: in-process maps, for tests and tooling
//   - sqlstore.Datastore: PostgreSQL or SQLite tables
//
// A Datastore is selected once at startup and is safe for concurrent use.
type Datastore interface {
	// Transaction returns a handle for issuing graph operations. Handles
	// are cheap, hold no exclusive resources and may be used concurrently.
	Transaction() (Transaction, error)

	// BulkInsert loads items without endpoint or owner existence checks.
	// It is meant for initial loads into an empty or append-only store,
	// gives no atomicity across the batch and must not run concurrently
	// with other writers. Types, names and values are still validated.
	BulkInsert(ctx context.Context, items []BulkInsertItem) error

	// Close releases the underlying storage handle.
	Close() error
}

// Transaction is the operation surface of a Datastore.
//
// Every mutating call is atomic on its own: a failed call leaves the store
// unchanged. Nothing is atomic across calls. The one exception is a
// query-scoped write on BadgerDatastore that does not fit in one Badger
// transaction: it commits in several steps and never splits a single vertex
// cascade across them.
type Transaction interface {
	// CreateVertex stores v. Whether an existing id is overwritten or
	// rejected with ErrAlreadyExists is defined by the engine.
	CreateVertex(ctx context.Context, v Vertex) error

	// CreateVertexFromType stores a vertex with a generated id.
	CreateVertexFromType(ctx context.Context, t Type) (uuid.UUID, error)

	// GetVertices evaluates q. The result never exceeds the result cap.
	GetVertices(ctx context.Context, q VertexQuery) ([]Vertex, error)

	// DeleteVertices deletes the vertices q selects together with their
	// edges (both directions) and all dependent properties, and returns
	// the number of vertices removed.
	DeleteVertices(ctx context.Context, q VertexQuery) (int, error)

	// GetVertexCount returns the total number of vertices.
	GetVertexCount(ctx context.Context) (uint64, error)

	// CreateEdge upserts an edge. Both endpoints must exist
	// (ErrVertexNotFound). Re-creating an edge refreshes UpdatedAt.
	CreateEdge(ctx context.Context, key EdgeKey) error

	// GetEdges evaluates q.
	GetEdges(ctx context.Context, q EdgeQuery) ([]Edge, error)

	// DeleteEdges deletes the edges q selects with their properties.
	DeleteEdges(ctx context.Context, q EdgeQuery) (int, error)

	// GetEdgeCount counts the edges incident to id in the given
	// direction, optionally of one type only.
	GetEdgeCount(ctx context.Context, id uuid.UUID, t *Type, dir EdgeDirection) (uint64, error)

	// SetVertexProperty stores a property value (ErrOwnerNotFound,
	// ErrValueTooLarge, ErrInvalidValue).
	SetVertexProperty(ctx context.Context, id uuid.UUID, name string, value json.RawMessage) error

	// GetVertexProperty returns the canonical value, or nil when the
	// vertex exists without that property. A missing vertex is
	// ErrOwnerNotFound.
	GetVertexProperty(ctx context.Context, id uuid.UUID, name string) (json.RawMessage, error)

	// GetAllVertexProperties returns every property of a vertex, ordered
	// by name.
	GetAllVertexProperties(ctx context.Context, id uuid.UUID) ([]NamedProperty, error)

	// DeleteVertexProperty removes one property. Removing an absent
	// property of an existing vertex is a no-op.
	DeleteVertexProperty(ctx context.Context, id uuid.UUID, name string) error

	// GetVertexProperties returns property name of every vertex q selects
	// that has it, in query order.
	GetVertexProperties(ctx context.Context, q VertexQuery, name string) ([]VertexProperty, error)

	// SetVertexProperties stores value as property name on every vertex q
	// selects and returns how many vertices were written.
	SetVertexProperties(ctx context.Context, q VertexQuery, name string, value json.RawMessage) (int, error)

	// DeleteVertexProperties removes property name from every vertex q
	// selects and returns how many values were removed.
	DeleteVertexProperties(ctx context.Context, q VertexQuery, name string) (int, error)

	SetEdgeProperty(ctx context.Context, key EdgeKey, name string, value json.RawMessage) error
	GetEdgeProperty(ctx context.Context, key EdgeKey, name string) (json.RawMessage, error)
	GetAllEdgeProperties(ctx context.Context, key EdgeKey) ([]NamedProperty, error)
	DeleteEdgeProperty(ctx context.Context, key EdgeKey, name string) error
	GetEdgeProperties(ctx context.Context, q EdgeQuery, name string) ([]EdgeProperty, error)
	SetEdgeProperties(ctx context.Context, q EdgeQuery, name string, value json.RawMessage) (int, error)
	DeleteEdgeProperties(ctx context.Context, q EdgeQuery, name string) (int, error)
}

// BulkInsertItem is one entry of a bulk load:
// VertexItem, EdgeItem, VertexPropertyItem or EdgePropertyItem.
type BulkInsertItem interface {
	bulkItem()
}

// VertexItem inserts a vertex.
type VertexItem struct {
	Vertex Vertex
}

// EdgeItem inserts an edge.
type EdgeItem struct {
	Key EdgeKey
}

// VertexPropertyItem sets a vertex property.
type VertexPropertyItem struct {
	ID    uuid.UUID
	Name  string
	Value json.RawMessage
}

// EdgePropertyItem sets an edge property.
type EdgePropertyItem struct {
	Key   EdgeKey
	Name  string
	Value json.RawMessage
}

func (VertexItem) bulkItem()         {}
func (EdgeItem) bulkItem()           {}
func (VertexPropertyItem) bulkItem() {}
func (EdgePropertyItem) bulkItem()   {}

// PrepareBulkItems validates every item and canonicalizes property values
// in place. Engines run it before writing anything, so a bad item aborts
// the load before the first write.
func PrepareBulkItems(items []BulkInsertItem, limits Limits) ([]BulkInsertItem, error) {
	out := make([]BulkInsertItem, len(items))
	for i, item := range items {
		switch it := item.(type) {
		case VertexItem:
			if err := it.Vertex.Type.Validate(); err != nil {
				return nil, err
			}
		case EdgeItem:
			if err := it.Key.Type.Validate(); err != nil {
				return nil, err
			}
		case VertexPropertyItem:
			if err := ValidatePropertyName(it.Name); err != nil {
				return nil, err
			}
			canon, err := CanonicalValue(it.Value, limits.MaxValueSize)
			if err != nil {
				return nil, err
			}
			it.Value = canon
			item = it
		case EdgePropertyItem:
			if err := it.Key.Type.Validate(); err != nil {
				return nil, err
			}
			if err := ValidatePropertyName(it.Name); err != nil {
				return nil, err
			}
			canon, err := CanonicalValue(it.Value, limits.MaxValueSize)
			if err != nil {
				return nil, err
			}
			it.Value = canon
			item = it
		default:
			return nil, fmt.Errorf("%w: unsupported bulk item %T", ErrInvalidQuery, item)
		}
		out[i] = item
	}
	return out, nil
}

// Clock hands out strictly increasing edge update timestamps, even when
// the wall clock stalls or steps backwards.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewClock returns a Clock reading the wall clock.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Next returns the next timestamp in Unix nanoseconds.
func (c *Clock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixNano()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}
