package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// graphReader is the primitive read surface a key-value engine exposes to
// the shared query evaluator. All scans return results in canonical order
// (ascending id, or ascending edge key) and stop after limit entries.
type graphReader interface {
	vertexType(id uuid.UUID) (Type, bool, error)
	scanVertices(t *Type, after *uuid.UUID, limit int) ([]Vertex, error)

	edgeTime(key EdgeKey) (time.Time, bool, error)
	scanEdges(t *Type, after *EdgeKey, limit int) ([]Edge, error)

	// incidentEdges returns the edges leaving (Outbound) or entering
	// (Inbound) a vertex, optionally of one type. Outbound results come in
	// ascending key order; inbound results in (type, outbound id) order.
	incidentEdges(id uuid.UUID, dir EdgeDirection, t *Type, limit int) ([]Edge, error)

	vertexProperty(id uuid.UUID, name string) (json.RawMessage, bool, error)
	edgeProperty(key EdgeKey, name string) (json.RawMessage, bool, error)
}

// evaluator walks a query tree against a graphReader.
//
// Every node receives the number of results its caller can use and never
// returns more. Leaves and id sets stop scanning at that bound. Pipes and
// property filters evaluate their inner query with the full result cap,
// since truncating before stepping or filtering would change the answer.
type evaluator struct {
	ctx    context.Context
	r      graphReader
	limits Limits
}

func newEvaluator(ctx context.Context, r graphReader, limits Limits) *evaluator {
	return &evaluator{ctx: ctx, r: r, limits: limits}
}

func (e *evaluator) vertices(q VertexQuery, limit int) ([]Vertex, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	switch q := q.(type) {
	case AllVertexQuery:
		return e.r.scanVertices(nil, q.After, limit)

	case TypeVertexQuery:
		t := q.Type
		return e.r.scanVertices(&t, q.After, limit)

	case SpecificVertexQuery:
		seen := make(map[uuid.UUID]struct{}, len(q.IDs))
		var out []Vertex
		for _, id := range q.IDs {
			if len(out) >= limit {
				break
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			t, ok, err := e.r.vertexType(id)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, Vertex{ID: id, Type: t})
			}
		}
		return out, nil

	case PipeVertexQuery:
		edges, err := e.edges(q.Inner, e.limits.MaxResults)
		if err != nil {
			return nil, err
		}
		ids := make(map[uuid.UUID]struct{}, len(edges))
		for _, edge := range edges {
			if q.Direction == Outbound {
				ids[edge.Key.OutboundID] = struct{}{}
			} else {
				ids[edge.Key.InboundID] = struct{}{}
			}
		}

		var out []Vertex
		for _, id := range sortedIDs(ids) {
			if len(out) >= limit {
				break
			}
			t, ok, err := e.r.vertexType(id)
			if err != nil {
				return nil, err
			}
			if !ok || (q.Type != nil && t != *q.Type) {
				continue
			}
			out = append(out, Vertex{ID: id, Type: t})
		}
		return out, nil

	case LimitVertexQuery:
		return e.vertices(q.Inner, min(limit, e.limits.Clamp(q.Limit)))

	case PropertyFilterVertexQuery:
		inner, err := e.vertices(q.Inner, e.limits.MaxResults)
		if err != nil {
			return nil, err
		}
		var out []Vertex
		for _, v := range inner {
			if len(out) >= limit {
				break
			}
			value, ok, err := e.r.vertexProperty(v.ID, q.Name)
			if err != nil {
				return nil, err
			}
			if ok && q.Predicate.Match(value) {
				out = append(out, v)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: unsupported vertex query %T", ErrInvalidQuery, q)
}

func (e *evaluator) edges(q EdgeQuery, limit int) ([]Edge, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	switch q := q.(type) {
	case AllEdgeQuery:
		return e.r.scanEdges(nil, q.After, limit)

	case TypeEdgeQuery:
		t := q.Type
		return e.r.scanEdges(&t, q.After, limit)

	case SpecificEdgeQuery:
		seen := make(map[EdgeKey]struct{}, len(q.Keys))
		var out []Edge
		for _, key := range q.Keys {
			if len(out) >= limit {
				break
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			ts, ok, err := e.r.edgeTime(key)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, Edge{Key: key, UpdatedAt: ts})
			}
		}
		return out, nil

	case PipeEdgeQuery:
		vertices, err := e.vertices(q.Inner, e.limits.MaxResults)
		if err != nil {
			return nil, err
		}
		return e.pipeEdges(vertices, q.Direction, q.Type, limit)

	case LimitEdgeQuery:
		return e.edges(q.Inner, min(limit, e.limits.Clamp(q.Limit)))

	case PropertyFilterEdgeQuery:
		inner, err := e.edges(q.Inner, e.limits.MaxResults)
		if err != nil {
			return nil, err
		}
		var out []Edge
		for _, edge := range inner {
			if len(out) >= limit {
				break
			}
			value, ok, err := e.r.edgeProperty(edge.Key, q.Name)
			if err != nil {
				return nil, err
			}
			if ok && q.Predicate.Match(value) {
				out = append(out, edge)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: unsupported edge query %T", ErrInvalidQuery, q)
}

// pipeEdges collects the edges incident to a vertex set in canonical key
// order. Outbound edges of distinct vertices never overlap, so walking the
// vertices in id order yields sorted output and can stop early. Inbound
// edges come back in (type, outbound id) order per vertex, which forces a
// full gather and sort.
func (e *evaluator) pipeEdges(vertices []Vertex, dir EdgeDirection, t *Type, limit int) ([]Edge, error) {
	ids := make(map[uuid.UUID]struct{}, len(vertices))
	for _, v := range vertices {
		ids[v.ID] = struct{}{}
	}

	var out []Edge
	for _, id := range sortedIDs(ids) {
		if err := e.ctx.Err(); err != nil {
			return nil, err
		}
		if dir == Outbound && len(out) >= limit {
			break
		}
		perVertex := limit
		if dir == Inbound {
			perVertex = e.limits.MaxResults
		}
		edges, err := e.r.incidentEdges(id, dir, t, perVertex)
		if err != nil {
			return nil, err
		}
		out = append(out, edges...)
	}

	if dir == Inbound {
		sortEdges(out)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ============================================================================
// Shared helpers for key-value engines
// ============================================================================

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return CompareIDs(ids[i], ids[j]) < 0 })
	return ids
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].Key.Compare(edges[j].Key) < 0 })
}

// getVertexProperties projects one property over a vertex result.
func getVertexProperties(r graphReader, vertices []Vertex, name string) ([]VertexProperty, error) {
	var out []VertexProperty
	for _, v := range vertices {
		value, ok, err := r.vertexProperty(v.ID, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, VertexProperty{ID: v.ID, Value: value})
		}
	}
	return out, nil
}

// getEdgeProperties projects one property over an edge result.
func getEdgeProperties(r graphReader, edges []Edge, name string) ([]EdgeProperty, error) {
	var out []EdgeProperty
	for _, edge := range edges {
		value, ok, err := r.edgeProperty(edge.Key, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, EdgeProperty{Key: edge.Key, Value: value})
		}
	}
	return out, nil
}
