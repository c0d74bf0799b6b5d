package storage

import (
	"fmt"

	"github.com/google/uuid"
)

// VertexQuery selects a sequence of vertices.
//
// Leaves:
//   - AllVertexQuery: every vertex in ascending id order
//   - SpecificVertexQuery: the given ids, in caller order
//   - TypeVertexQuery: vertices of one type in ascending id order
//
// Combinators:
//   - PipeVertexQuery: endpoints of the edges selected by an EdgeQuery
//   - LimitVertexQuery: the first n results of the inner query
//   - PropertyFilterVertexQuery: inner results whose property matches
//
// Queries are plain values; building or evaluating one never mutates a
// store.
type VertexQuery interface {
	vertexQuery()
}

// EdgeQuery selects a sequence of edges. It mirrors VertexQuery; edge
// ordering is ascending (outbound id, type, inbound id).
type EdgeQuery interface {
	edgeQuery()
}

// AllVertexQuery selects every vertex. After, when set, is an exclusive
// resume cursor.
type AllVertexQuery struct {
	After *uuid.UUID
}

// SpecificVertexQuery selects vertices by id. Missing ids are skipped and
// repeated ids are reported once, at their first position.
type SpecificVertexQuery struct {
	IDs []uuid.UUID
}

// TypeVertexQuery selects vertices of one type. After is an exclusive
// resume cursor within that type.
type TypeVertexQuery struct {
	Type  Type
	After *uuid.UUID
}

// PipeVertexQuery steps from edges to vertices: Outbound yields each edge's
// outbound endpoint, Inbound its inbound endpoint. Type optionally keeps
// only vertices of that type. Results are de-duplicated and returned in
// ascending id order.
type PipeVertexQuery struct {
	Inner     EdgeQuery
	Direction EdgeDirection
	Type      *Type
}

// LimitVertexQuery truncates the inner result to Limit entries.
type LimitVertexQuery struct {
	Inner VertexQuery
	Limit int
}

// PropertyFilterVertexQuery keeps inner results whose property Name
// satisfies Predicate. Vertices lacking the property never match.
type PropertyFilterVertexQuery struct {
	Inner     VertexQuery
	Name      string
	Predicate Predicate
}

func (AllVertexQuery) vertexQuery()            {}
func (SpecificVertexQuery) vertexQuery()       {}
func (TypeVertexQuery) vertexQuery()           {}
func (PipeVertexQuery) vertexQuery()           {}
func (LimitVertexQuery) vertexQuery()          {}
func (PropertyFilterVertexQuery) vertexQuery() {}

// AllEdgeQuery selects every edge. After is an exclusive resume cursor.
type AllEdgeQuery struct {
	After *EdgeKey
}

// SpecificEdgeQuery selects edges by key, in caller order.
type SpecificEdgeQuery struct {
	Keys []EdgeKey
}

// TypeEdgeQuery selects edges of one type. After is an exclusive resume
// cursor and must carry the same type to be meaningful.
type TypeEdgeQuery struct {
	Type  Type
	After *EdgeKey
}

// PipeEdgeQuery steps from vertices to their incident edges: Outbound
// follows edges leaving each vertex, Inbound edges entering it. Type
// optionally restricts the edge type. Results are de-duplicated and
// returned in ascending key order.
type PipeEdgeQuery struct {
	Inner     VertexQuery
	Direction EdgeDirection
	Type      *Type
}

// LimitEdgeQuery truncates the inner result to Limit entries.
type LimitEdgeQuery struct {
	Inner EdgeQuery
	Limit int
}

// PropertyFilterEdgeQuery keeps inner results whose property Name
// satisfies Predicate.
type PropertyFilterEdgeQuery struct {
	Inner     EdgeQuery
	Name      string
	Predicate Predicate
}

func (AllEdgeQuery) edgeQuery()            {}
func (SpecificEdgeQuery) edgeQuery()       {}
func (TypeEdgeQuery) edgeQuery()           {}
func (PipeEdgeQuery) edgeQuery()           {}
func (LimitEdgeQuery) edgeQuery()          {}
func (PropertyFilterEdgeQuery) edgeQuery() {}

// ============================================================================
// Constructors
// ============================================================================

// AllVertices selects every vertex.
func AllVertices() VertexQuery { return AllVertexQuery{} }

// AllVerticesAfter resumes an id-ordered scan after the given id.
func AllVerticesAfter(after uuid.UUID) VertexQuery { return AllVertexQuery{After: &after} }

// SpecificVertices selects vertices by id.
func SpecificVertices(ids ...uuid.UUID) VertexQuery { return SpecificVertexQuery{IDs: ids} }

// VerticesOfType selects the vertices of one type.
func VerticesOfType(t Type) VertexQuery { return TypeVertexQuery{Type: t} }

// VerticesOfTypeAfter resumes a by-type scan after the given id.
func VerticesOfTypeAfter(t Type, after uuid.UUID) VertexQuery {
	return TypeVertexQuery{Type: t, After: &after}
}

// PipeVertices selects the endpoints of the edges matched by inner.
func PipeVertices(inner EdgeQuery, dir EdgeDirection, t *Type) VertexQuery {
	return PipeVertexQuery{Inner: inner, Direction: dir, Type: t}
}

// LimitVertices caps the inner query.
func LimitVertices(inner VertexQuery, n int) VertexQuery {
	return LimitVertexQuery{Inner: inner, Limit: n}
}

// FilterVertices keeps vertices whose property name satisfies p.
func FilterVertices(inner VertexQuery, name string, p Predicate) VertexQuery {
	return PropertyFilterVertexQuery{Inner: inner, Name: name, Predicate: p}
}

// AllEdges selects every edge.
func AllEdges() EdgeQuery { return AllEdgeQuery{} }

// AllEdgesAfter resumes a key-ordered scan after the given key.
func AllEdgesAfter(after EdgeKey) EdgeQuery { return AllEdgeQuery{After: &after} }

// SpecificEdges selects edges by key.
func SpecificEdges(keys ...EdgeKey) EdgeQuery { return SpecificEdgeQuery{Keys: keys} }

// EdgesOfType selects the edges of one type.
func EdgesOfType(t Type) EdgeQuery { return TypeEdgeQuery{Type: t} }

// EdgesOfTypeAfter resumes a by-type scan after the given key.
func EdgesOfTypeAfter(t Type, after EdgeKey) EdgeQuery {
	return TypeEdgeQuery{Type: t, After: &after}
}

// PipeEdges selects the edges incident to the vertices matched by inner.
func PipeEdges(inner VertexQuery, dir EdgeDirection, t *Type) EdgeQuery {
	return PipeEdgeQuery{Inner: inner, Direction: dir, Type: t}
}

// LimitEdges caps the inner query.
func LimitEdges(inner EdgeQuery, n int) EdgeQuery {
	return LimitEdgeQuery{Inner: inner, Limit: n}
}

// FilterEdges keeps edges whose property name satisfies p.
func FilterEdges(inner EdgeQuery, name string, p Predicate) EdgeQuery {
	return PropertyFilterEdgeQuery{Inner: inner, Name: name, Predicate: p}
}

// TypePtr is a convenience for the optional type filters of pipes.
func TypePtr(t Type) *Type { return &t }

// ============================================================================
// Validation
// ============================================================================

// ValidateVertexQuery checks every type, property name, predicate and limit
// in the tree. Engines call it before touching storage.
func ValidateVertexQuery(q VertexQuery, limits Limits) error {
	switch q := q.(type) {
	case nil:
		return fmt.Errorf("%w: nil vertex query", ErrInvalidQuery)
	case AllVertexQuery, SpecificVertexQuery:
		return nil
	case TypeVertexQuery:
		return q.Type.Validate()
	case PipeVertexQuery:
		if err := validateDirection(q.Direction); err != nil {
			return err
		}
		if err := validateOptionalType(q.Type); err != nil {
			return err
		}
		return ValidateEdgeQuery(q.Inner, limits)
	case LimitVertexQuery:
		if err := limits.checkLimit(q.Limit); err != nil {
			return err
		}
		return ValidateVertexQuery(q.Inner, limits)
	case PropertyFilterVertexQuery:
		if err := validateFilter(q.Name, q.Predicate); err != nil {
			return err
		}
		return ValidateVertexQuery(q.Inner, limits)
	}
	return fmt.Errorf("%w: unsupported vertex query %T", ErrInvalidQuery, q)
}

// ValidateEdgeQuery is the EdgeQuery counterpart of ValidateVertexQuery.
func ValidateEdgeQuery(q EdgeQuery, limits Limits) error {
	switch q := q.(type) {
	case nil:
		return fmt.Errorf("%w: nil edge query", ErrInvalidQuery)
	case AllEdgeQuery:
		if q.After != nil {
			return q.After.Type.Validate()
		}
		return nil
	case SpecificEdgeQuery:
		for _, k := range q.Keys {
			if err := k.Type.Validate(); err != nil {
				return err
			}
		}
		return nil
	case TypeEdgeQuery:
		if err := q.Type.Validate(); err != nil {
			return err
		}
		if q.After != nil {
			return q.After.Type.Validate()
		}
		return nil
	case PipeEdgeQuery:
		if err := validateDirection(q.Direction); err != nil {
			return err
		}
		if err := validateOptionalType(q.Type); err != nil {
			return err
		}
		return ValidateVertexQuery(q.Inner, limits)
	case LimitEdgeQuery:
		if err := limits.checkLimit(q.Limit); err != nil {
			return err
		}
		return ValidateEdgeQuery(q.Inner, limits)
	case PropertyFilterEdgeQuery:
		if err := validateFilter(q.Name, q.Predicate); err != nil {
			return err
		}
		return ValidateEdgeQuery(q.Inner, limits)
	}
	return fmt.Errorf("%w: unsupported edge query %T", ErrInvalidQuery, q)
}

func validateDirection(d EdgeDirection) error {
	return d.Validate()
}

func validateOptionalType(t *Type) error {
	if t == nil {
		return nil
	}
	return t.Validate()
}

func validateFilter(name string, p Predicate) error {
	if err := ValidatePropertyName(name); err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: nil predicate", ErrInvalidQuery)
	}
	return p.validate()
}
