package sqlstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/orneryd/vertexdb/pkg/storage"
)

// compiler turns a query tree into one nested SELECT.
//
// Vertex queries produce the columns (id, type, ord) and edge queries
// (id, outbound_id, type, inbound_id, updated_at, ord). ord carries the
// position of an explicit id or key list and is zero elsewhere, so every
// level sorts by (ord, natural key). Each level receives the number of rows
// its caller can use, mirroring the in-process evaluator: limits push down
// into leaves, while pipes and property filters run their inner query at
// the full result cap.
type compiler struct {
	d      dialect
	limits storage.Limits
	alias  int
	args   []any
}

func newCompiler(d dialect, limits storage.Limits) *compiler {
	return &compiler{d: d, limits: limits}
}

func (c *compiler) nextAlias(prefix string) string {
	c.alias++
	return fmt.Sprintf("%s%d", prefix, c.alias)
}

func (c *compiler) arg(values ...any) {
	c.args = append(c.args, values...)
}

func (c *compiler) vertices(q storage.VertexQuery, limit int) (string, error) {
	switch q := q.(type) {
	case storage.AllVertexQuery:
		return c.scanVertices(nil, q.After, limit), nil

	case storage.TypeVertexQuery:
		t := q.Type
		return c.scanVertices(&t, q.After, limit), nil

	case storage.SpecificVertexQuery:
		ids := dedupeIDs(q.IDs)
		if len(ids) == 0 {
			return "SELECT v.id, v.type, 0 AS ord FROM vertices v WHERE 1 = 0", nil
		}
		src, arg, err := c.d.idList(ids)
		if err != nil {
			return "", err
		}
		s := c.nextAlias("s")
		c.arg(arg)
		c.arg(limit)
		return fmt.Sprintf("SELECT v.id, v.type, %[1]s.ord FROM vertices v JOIN (%[2]s) %[1]s ON v.id = %[1]s.id "+
			"ORDER BY %[1]s.ord LIMIT ?", s, src), nil

	case storage.PipeVertexQuery:
		inner, err := c.edges(q.Inner, c.limits.MaxResults)
		if err != nil {
			return "", err
		}
		column := "outbound_id"
		if q.Direction == storage.Inbound {
			column = "inbound_id"
		}
		e := c.nextAlias("e")
		var sb strings.Builder
		fmt.Fprintf(&sb, "SELECT v.id, v.type, 0 AS ord FROM vertices v WHERE v.id IN (SELECT %[1]s.%[2]s FROM (%[3]s) %[1]s)",
			e, column, inner)
		if q.Type != nil {
			sb.WriteString(" AND v.type = ?")
			c.arg(string(*q.Type))
		}
		sb.WriteString(" ORDER BY v.id LIMIT ?")
		c.arg(limit)
		return sb.String(), nil

	case storage.LimitVertexQuery:
		return c.vertices(q.Inner, min(limit, c.limits.Clamp(q.Limit)))

	case storage.PropertyFilterVertexQuery:
		inner, err := c.vertices(q.Inner, c.limits.MaxResults)
		if err != nil {
			return "", err
		}
		pred, predArgs, err := c.d.predicate("p.value", q.Predicate)
		if err != nil {
			return "", err
		}
		f := c.nextAlias("f")
		c.arg(q.Name)
		c.arg(predArgs...)
		c.arg(limit)
		return fmt.Sprintf("SELECT %[1]s.id, %[1]s.type, %[1]s.ord FROM (%[2]s) %[1]s WHERE EXISTS ("+
			"SELECT 1 FROM vertex_properties p WHERE p.owner_id = %[1]s.id AND p.name = ? AND %[3]s) "+
			"ORDER BY %[1]s.ord, %[1]s.id LIMIT ?", f, inner, pred), nil
	}
	return "", fmt.Errorf("%w: unsupported vertex query %T", storage.ErrInvalidQuery, q)
}

func (c *compiler) scanVertices(t *storage.Type, after *uuid.UUID, limit int) string {
	var (
		sb    strings.Builder
		where []string
	)
	sb.WriteString("SELECT v.id, v.type, 0 AS ord FROM vertices v")
	if t != nil {
		where = append(where, "v.type = ?")
		c.arg(string(*t))
	}
	if after != nil {
		where = append(where, "v.id > "+c.d.idParam())
		c.arg(*after)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY v.id LIMIT ?")
	c.arg(limit)
	return sb.String()
}

const (
	edgeSelect = "SELECT e.id, e.outbound_id, e.type, e.inbound_id, e.updated_at, 0 AS ord FROM edges e"
	edgeOrder  = " ORDER BY e.outbound_id, e.type, e.inbound_id LIMIT ?"
)

func (c *compiler) edges(q storage.EdgeQuery, limit int) (string, error) {
	switch q := q.(type) {
	case storage.AllEdgeQuery:
		return c.scanEdges(nil, q.After, limit), nil

	case storage.TypeEdgeQuery:
		t := q.Type
		return c.scanEdges(&t, q.After, limit), nil

	case storage.SpecificEdgeQuery:
		keys := dedupeKeys(q.Keys)
		if len(keys) == 0 {
			return edgeSelect + " WHERE 1 = 0", nil
		}
		src, arg, err := c.d.keyList(keys)
		if err != nil {
			return "", err
		}
		s := c.nextAlias("s")
		c.arg(arg)
		c.arg(limit)
		return fmt.Sprintf("SELECT e.id, e.outbound_id, e.type, e.inbound_id, e.updated_at, %[1]s.ord "+
			"FROM edges e JOIN (%[2]s) %[1]s ON e.outbound_id = %[1]s.outbound_id "+
			"AND e.type = %[1]s.type AND e.inbound_id = %[1]s.inbound_id "+
			"ORDER BY %[1]s.ord LIMIT ?", s, src), nil

	case storage.PipeEdgeQuery:
		inner, err := c.vertices(q.Inner, c.limits.MaxResults)
		if err != nil {
			return "", err
		}
		column := "outbound_id"
		if q.Direction == storage.Inbound {
			column = "inbound_id"
		}
		v := c.nextAlias("v")
		var sb strings.Builder
		fmt.Fprintf(&sb, "%[1]s WHERE e.%[2]s IN (SELECT %[3]s.id FROM (%[4]s) %[3]s)", edgeSelect, column, v, inner)
		if q.Type != nil {
			sb.WriteString(" AND e.type = ?")
			c.arg(string(*q.Type))
		}
		sb.WriteString(edgeOrder)
		c.arg(limit)
		return sb.String(), nil

	case storage.LimitEdgeQuery:
		return c.edges(q.Inner, min(limit, c.limits.Clamp(q.Limit)))

	case storage.PropertyFilterEdgeQuery:
		inner, err := c.edges(q.Inner, c.limits.MaxResults)
		if err != nil {
			return "", err
		}
		pred, predArgs, err := c.d.predicate("p.value", q.Predicate)
		if err != nil {
			return "", err
		}
		f := c.nextAlias("f")
		c.arg(q.Name)
		c.arg(predArgs...)
		c.arg(limit)
		return fmt.Sprintf("SELECT %[1]s.id, %[1]s.outbound_id, %[1]s.type, %[1]s.inbound_id, %[1]s.updated_at, %[1]s.ord "+
			"FROM (%[2]s) %[1]s WHERE EXISTS ("+
			"SELECT 1 FROM edge_properties p WHERE p.edge_id = %[1]s.id AND p.name = ? AND %[3]s) "+
			"ORDER BY %[1]s.ord, %[1]s.outbound_id, %[1]s.type, %[1]s.inbound_id LIMIT ?", f, inner, pred), nil
	}
	return "", fmt.Errorf("%w: unsupported edge query %T", storage.ErrInvalidQuery, q)
}

func (c *compiler) scanEdges(t *storage.Type, after *storage.EdgeKey, limit int) string {
	var (
		sb    strings.Builder
		where []string
	)
	sb.WriteString(edgeSelect)
	if t != nil {
		where = append(where, "e.type = ?")
		c.arg(string(*t))
	}
	if after != nil {
		id := c.d.idParam()
		where = append(where, "(e.outbound_id, e.type, e.inbound_id) > ("+id+", ?, "+id+")")
		c.arg(after.OutboundID, string(after.Type), after.InboundID)
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(edgeOrder)
	c.arg(limit)
	return sb.String()
}

// vertexSelect wraps a compiled vertex query into its final, ordered form.
func vertexSelect(inner string) string {
	return "SELECT q.id, q.type FROM (" + inner + ") q ORDER BY q.ord, q.id"
}

// edgeResultSelect wraps a compiled edge query into its final, ordered form.
func edgeResultSelect(inner string) string {
	return "SELECT q.id, q.outbound_id, q.type, q.inbound_id, q.updated_at FROM (" + inner +
		") q ORDER BY q.ord, q.outbound_id, q.type, q.inbound_id"
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupeKeys(keys []storage.EdgeKey) []storage.EdgeKey {
	seen := make(map[storage.EdgeKey]struct{}, len(keys))
	out := make([]storage.EdgeKey, 0, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
