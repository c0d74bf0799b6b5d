package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// badgerTransaction is the Transaction handle of a BadgerDatastore. It holds
// no Badger transaction between calls: every method opens one (query-scoped
// writes may open several through updateInChunks) and commits or discards it
// before returning.
type badgerTransaction struct {
	b *BadgerDatastore
}

func (tx *badgerTransaction) limits() Limits { return tx.b.limits }

func (tx *badgerTransaction) CreateVertex(_ context.Context, v Vertex) error {
	if err := v.Type.Validate(); err != nil {
		return err
	}
	return tx.b.update("create vertex", func(r *badgerReader) error {
		return r.putVertex(v)
	})
}

func (tx *badgerTransaction) CreateVertexFromType(ctx context.Context, t Type) (uuid.UUID, error) {
	v := NewVertex(t)
	if err := tx.CreateVertex(ctx, v); err != nil {
		return uuid.Nil, err
	}
	return v.ID, nil
}

func (tx *badgerTransaction) GetVertices(ctx context.Context, q VertexQuery) ([]Vertex, error) {
	if err := ValidateVertexQuery(q, tx.limits()); err != nil {
		return nil, err
	}
	var out []Vertex
	err := tx.b.view("get vertices", func(r *badgerReader) error {
		var err error
		out, err = newEvaluator(ctx, r, tx.limits()).vertices(q, tx.limits().MaxResults)
		return err
	})
	return out, err
}

func (tx *badgerTransaction) DeleteVertices(ctx context.Context, q VertexQuery) (int, error) {
	if err := ValidateVertexQuery(q, tx.limits()); err != nil {
		return 0, err
	}
	return tx.b.updateInChunks("delete vertices", func(r *badgerReader) ([]writeGroup, error) {
		vertices, err := newEvaluator(ctx, r, tx.limits()).vertices(q, tx.limits().MaxResults)
		if err != nil {
			return nil, err
		}
		seen := make(map[EdgeKey]struct{})
		groups := make([]writeGroup, 0, len(vertices))
		for _, v := range vertices {
			g, err := r.vertexDeletes(v, seen)
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
		return groups, nil
	})
}

func (tx *badgerTransaction) GetVertexCount(_ context.Context) (uint64, error) {
	var count uint64
	err := tx.b.view("count vertices", func(r *badgerReader) error {
		count = r.count([]byte{prefixVertex})
		return nil
	})
	return count, err
}

func (tx *badgerTransaction) CreateEdge(_ context.Context, key EdgeKey) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	return tx.b.update("create edge", func(r *badgerReader) error {
		for _, id := range []uuid.UUID{key.OutboundID, key.InboundID} {
			ok, err := r.exists(vertexKey(id))
			if err != nil {
				return err
			}
			if !ok {
				return ErrVertexNotFound
			}
		}
		return r.putEdge(key, tx.b.clock.Next())
	})
}

func (tx *badgerTransaction) GetEdges(ctx context.Context, q EdgeQuery) ([]Edge, error) {
	if err := ValidateEdgeQuery(q, tx.limits()); err != nil {
		return nil, err
	}
	var out []Edge
	err := tx.b.view("get edges", func(r *badgerReader) error {
		var err error
		out, err = newEvaluator(ctx, r, tx.limits()).edges(q, tx.limits().MaxResults)
		return err
	})
	return out, err
}

func (tx *badgerTransaction) DeleteEdges(ctx context.Context, q EdgeQuery) (int, error) {
	if err := ValidateEdgeQuery(q, tx.limits()); err != nil {
		return 0, err
	}
	return tx.b.updateInChunks("delete edges", func(r *badgerReader) ([]writeGroup, error) {
		edges, err := newEvaluator(ctx, r, tx.limits()).edges(q, tx.limits().MaxResults)
		if err != nil {
			return nil, err
		}
		groups := make([]writeGroup, 0, len(edges))
		for _, edge := range edges {
			g, err := r.edgeDeletes(edge.Key)
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
		return groups, nil
	})
}

func (tx *badgerTransaction) GetEdgeCount(_ context.Context, id uuid.UUID, t *Type, dir EdgeDirection) (uint64, error) {
	if err := validateOptionalType(t); err != nil {
		return 0, err
	}
	if err := validateDirection(dir); err != nil {
		return 0, err
	}
	prefix := outboundEdgePrefix(id, t)
	if dir == Inbound {
		prefix = inboundEdgePrefix(id, t)
	}
	var count uint64
	err := tx.b.view("count edges", func(r *badgerReader) error {
		count = r.count(prefix)
		return nil
	})
	return count, err
}

// ============================================================================
// Vertex properties
// ============================================================================

func (tx *badgerTransaction) SetVertexProperty(_ context.Context, id uuid.UUID, name string, value json.RawMessage) error {
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	canon, err := CanonicalValue(value, tx.limits().MaxValueSize)
	if err != nil {
		return err
	}
	return tx.b.update("set vertex property", func(r *badgerReader) error {
		if err := r.requireOwner(vertexKey(id)); err != nil {
			return err
		}
		return r.txn.Set(vertexPropertyKey(id, name), canon)
	})
}

func (tx *badgerTransaction) GetVertexProperty(_ context.Context, id uuid.UUID, name string) (json.RawMessage, error) {
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := tx.b.view("get vertex property", func(r *badgerReader) error {
		if err := r.requireOwner(vertexKey(id)); err != nil {
			return err
		}
		var err error
		value, _, err = r.vertexProperty(id, name)
		return err
	})
	return value, err
}

func (tx *badgerTransaction) GetAllVertexProperties(_ context.Context, id uuid.UUID) ([]NamedProperty, error) {
	var out []NamedProperty
	err := tx.b.view("get vertex properties", func(r *badgerReader) error {
		if err := r.requireOwner(vertexKey(id)); err != nil {
			return err
		}
		var err error
		out, err = r.properties(vertexPropertyPrefix(id))
		return err
	})
	return out, err
}

func (tx *badgerTransaction) DeleteVertexProperty(_ context.Context, id uuid.UUID, name string) error {
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	return tx.b.update("delete vertex property", func(r *badgerReader) error {
		if err := r.requireOwner(vertexKey(id)); err != nil {
			return err
		}
		return r.txn.Delete(vertexPropertyKey(id, name))
	})
}

func (tx *badgerTransaction) GetVertexProperties(ctx context.Context, q VertexQuery, name string) ([]VertexProperty, error) {
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	if err := ValidateVertexQuery(q, tx.limits()); err != nil {
		return nil, err
	}
	var out []VertexProperty
	err := tx.b.view("get vertex properties", func(r *badgerReader) error {
		vertices, err := newEvaluator(ctx, r, tx.limits()).vertices(q, tx.limits().MaxResults)
		if err != nil {
			return err
		}
		out, err = getVertexProperties(r, vertices, name)
		return err
	})
	return out, err
}

func (tx *badgerTransaction) SetVertexProperties(ctx context.Context, q VertexQuery, name string, value json.RawMessage) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateVertexQuery(q, tx.limits()); err != nil {
		return 0, err
	}
	canon, err := CanonicalValue(value, tx.limits().MaxValueSize)
	if err != nil {
		return 0, err
	}
	return tx.b.updateInChunks("set vertex properties", func(r *badgerReader) ([]writeGroup, error) {
		vertices, err := newEvaluator(ctx, r, tx.limits()).vertices(q, tx.limits().MaxResults)
		if err != nil {
			return nil, err
		}
		groups := make([]writeGroup, 0, len(vertices))
		for _, v := range vertices {
			groups = append(groups, writeGroup{{key: vertexPropertyKey(v.ID, name), value: canon}})
		}
		return groups, nil
	})
}

func (tx *badgerTransaction) DeleteVertexProperties(ctx context.Context, q VertexQuery, name string) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateVertexQuery(q, tx.limits()); err != nil {
		return 0, err
	}
	return tx.b.updateInChunks("delete vertex properties", func(r *badgerReader) ([]writeGroup, error) {
		vertices, err := newEvaluator(ctx, r, tx.limits()).vertices(q, tx.limits().MaxResults)
		if err != nil {
			return nil, err
		}
		var groups []writeGroup
		for _, v := range vertices {
			key := vertexPropertyKey(v.ID, name)
			ok, err := r.exists(key)
			if err != nil {
				return nil, err
			}
			if ok {
				groups = append(groups, writeGroup{deleteWrite(key)})
			}
		}
		return groups, nil
	})
}

// ============================================================================
// Edge properties
// ============================================================================

func (tx *badgerTransaction) SetEdgeProperty(_ context.Context, key EdgeKey, name string, value json.RawMessage) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	canon, err := CanonicalValue(value, tx.limits().MaxValueSize)
	if err != nil {
		return err
	}
	return tx.b.update("set edge property", func(r *badgerReader) error {
		if err := r.requireOwner(edgeKey(key)); err != nil {
			return err
		}
		return r.txn.Set(edgePropertyKey(key, name), canon)
	})
}

func (tx *badgerTransaction) GetEdgeProperty(_ context.Context, key EdgeKey, name string) (json.RawMessage, error) {
	if err := key.Type.Validate(); err != nil {
		return nil, err
	}
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := tx.b.view("get edge property", func(r *badgerReader) error {
		if err := r.requireOwner(edgeKey(key)); err != nil {
			return err
		}
		var err error
		value, _, err = r.edgeProperty(key, name)
		return err
	})
	return value, err
}

func (tx *badgerTransaction) GetAllEdgeProperties(_ context.Context, key EdgeKey) ([]NamedProperty, error) {
	if err := key.Type.Validate(); err != nil {
		return nil, err
	}
	var out []NamedProperty
	err := tx.b.view("get edge properties", func(r *badgerReader) error {
		if err := r.requireOwner(edgeKey(key)); err != nil {
			return err
		}
		var err error
		out, err = r.properties(edgePropertyPrefix(key))
		return err
	})
	return out, err
}

func (tx *badgerTransaction) DeleteEdgeProperty(_ context.Context, key EdgeKey, name string) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	return tx.b.update("delete edge property", func(r *badgerReader) error {
		if err := r.requireOwner(edgeKey(key)); err != nil {
			return err
		}
		return r.txn.Delete(edgePropertyKey(key, name))
	})
}

func (tx *badgerTransaction) GetEdgeProperties(ctx context.Context, q EdgeQuery, name string) ([]EdgeProperty, error) {
	if err := ValidatePropertyName(name); err != nil {
		return nil, err
	}
	if err := ValidateEdgeQuery(q, tx.limits()); err != nil {
		return nil, err
	}
	var out []EdgeProperty
	err := tx.b.view("get edge properties", func(r *badgerReader) error {
		edges, err := newEvaluator(ctx, r, tx.limits()).edges(q, tx.limits().MaxResults)
		if err != nil {
			return err
		}
		out, err = getEdgeProperties(r, edges, name)
		return err
	})
	return out, err
}

func (tx *badgerTransaction) SetEdgeProperties(ctx context.Context, q EdgeQuery, name string, value json.RawMessage) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateEdgeQuery(q, tx.limits()); err != nil {
		return 0, err
	}
	canon, err := CanonicalValue(value, tx.limits().MaxValueSize)
	if err != nil {
		return 0, err
	}
	return tx.b.updateInChunks("set edge properties", func(r *badgerReader) ([]writeGroup, error) {
		edges, err := newEvaluator(ctx, r, tx.limits()).edges(q, tx.limits().MaxResults)
		if err != nil {
			return nil, err
		}
		groups := make([]writeGroup, 0, len(edges))
		for _, edge := range edges {
			groups = append(groups, writeGroup{{key: edgePropertyKey(edge.Key, name), value: canon}})
		}
		return groups, nil
	})
}

func (tx *badgerTransaction) DeleteEdgeProperties(ctx context.Context, q EdgeQuery, name string) (int, error) {
	if err := ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := ValidateEdgeQuery(q, tx.limits()); err != nil {
		return 0, err
	}
	return tx.b.updateInChunks("delete edge properties", func(r *badgerReader) ([]writeGroup, error) {
		edges, err := newEvaluator(ctx, r, tx.limits()).edges(q, tx.limits().MaxResults)
		if err != nil {
			return nil, err
		}
		var groups []writeGroup
		for _, edge := range edges {
			key := edgePropertyKey(edge.Key, name)
			ok, err := r.exists(key)
			if err != nil {
				return nil, err
			}
			if ok {
				groups = append(groups, writeGroup{deleteWrite(key)})
			}
		}
		return groups, nil
	})
}

// requireOwner fails with ErrOwnerNotFound unless key is present.
func (r *badgerReader) requireOwner(key []byte) error {
	ok, err := r.exists(key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOwnerNotFound
	}
	return nil
}
