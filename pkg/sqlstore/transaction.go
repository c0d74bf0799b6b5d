package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/vertexdb/pkg/storage"
)

// transaction is the storage.Transaction of a SQL Datastore.
type transaction struct {
	ds *Datastore
}

// querier is the subset of *sql.Tx the helpers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (t *transaction) limits() storage.Limits { return t.ds.limits }

func (t *transaction) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, t.ds.dialect.rebind(query), args...)
}

func (t *transaction) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, t.ds.dialect.rebind(query), args...)
}

func (t *transaction) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, t.ds.dialect.rebind(query), args...)
}

func (t *transaction) id() string    { return t.ds.dialect.idParam() }
func (t *transaction) value() string { return t.ds.dialect.valueParam() }

// ============================================================================
// Vertices
// ============================================================================

func (t *transaction) CreateVertex(ctx context.Context, v storage.Vertex) error {
	if err := v.Type.Validate(); err != nil {
		return err
	}
	return t.ds.withTx(ctx, "create vertex", func(tx *sql.Tx) error {
		res, err := t.exec(ctx, tx,
			"INSERT INTO vertices (id, type) VALUES ("+t.id()+", ?) ON CONFLICT (id) DO NOTHING",
			v.ID, string(v.Type))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrAlreadyExists
		}
		return nil
	})
}

func (t *transaction) CreateVertexFromType(ctx context.Context, typ storage.Type) (uuid.UUID, error) {
	v := storage.NewVertex(typ)
	if err := t.CreateVertex(ctx, v); err != nil {
		return uuid.Nil, err
	}
	return v.ID, nil
}

func (t *transaction) GetVertices(ctx context.Context, q storage.VertexQuery) ([]storage.Vertex, error) {
	if err := storage.ValidateVertexQuery(q, t.limits()); err != nil {
		return nil, err
	}
	var out []storage.Vertex
	err := t.ds.withTx(ctx, "get vertices", func(tx *sql.Tx) error {
		var err error
		out, err = t.selectVertices(ctx, tx, q)
		return err
	})
	return out, err
}

func (t *transaction) selectVertices(ctx context.Context, tx querier, q storage.VertexQuery) ([]storage.Vertex, error) {
	c := newCompiler(t.ds.dialect, t.limits())
	inner, err := c.vertices(q, t.limits().MaxResults)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, tx, vertexSelect(inner), c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Vertex
	for rows.Next() {
		var (
			v   storage.Vertex
			typ string
		)
		if err := rows.Scan(&v.ID, &typ); err != nil {
			return nil, err
		}
		v.Type = storage.Type(typ)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (t *transaction) DeleteVertices(ctx context.Context, q storage.VertexQuery) (int, error) {
	if err := storage.ValidateVertexQuery(q, t.limits()); err != nil {
		return 0, err
	}
	var count int
	err := t.ds.withTx(ctx, "delete vertices", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.vertices(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		// Edges and properties go with the vertex through ON DELETE CASCADE.
		res, err := t.exec(ctx, tx, "DELETE FROM vertices WHERE id IN (SELECT d.id FROM ("+inner+") d)", c.args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		count = int(n)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (t *transaction) GetVertexCount(ctx context.Context) (uint64, error) {
	var count int64
	err := t.ds.withTx(ctx, "count vertices", func(tx *sql.Tx) error {
		return t.queryRow(ctx, tx, "SELECT COUNT(*) FROM vertices").Scan(&count)
	})
	return uint64(count), err
}

// ============================================================================
// Edges
// ============================================================================

func (t *transaction) CreateEdge(ctx context.Context, key storage.EdgeKey) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	return t.ds.withTx(ctx, "create edge", func(tx *sql.Tx) error {
		var n int
		err := t.queryRow(ctx, tx,
			"SELECT COUNT(*) FROM vertices WHERE id IN ("+t.id()+", "+t.id()+")",
			key.OutboundID, key.InboundID).Scan(&n)
		if err != nil {
			return err
		}
		want := 2
		if key.OutboundID == key.InboundID {
			want = 1
		}
		if n != want {
			return storage.ErrVertexNotFound
		}
		return t.upsertEdge(ctx, tx, key, t.ds.clock.Next())
	})
}

func (t *transaction) upsertEdge(ctx context.Context, tx querier, key storage.EdgeKey, ts int64) error {
	_, err := t.exec(ctx, tx,
		"INSERT INTO edges (outbound_id, type, inbound_id, updated_at) VALUES ("+t.id()+", ?, "+t.id()+", ?) "+
			"ON CONFLICT (outbound_id, type, inbound_id) DO UPDATE SET updated_at = excluded.updated_at",
		key.OutboundID, string(key.Type), key.InboundID, ts)
	return err
}

func (t *transaction) GetEdges(ctx context.Context, q storage.EdgeQuery) ([]storage.Edge, error) {
	if err := storage.ValidateEdgeQuery(q, t.limits()); err != nil {
		return nil, err
	}
	var out []storage.Edge
	err := t.ds.withTx(ctx, "get edges", func(tx *sql.Tx) error {
		rows, err := t.selectEdges(ctx, tx, q)
		if err != nil {
			return err
		}
		out = make([]storage.Edge, 0, len(rows))
		for _, row := range rows {
			out = append(out, row.edge())
		}
		return nil
	})
	return out, err
}

type edgeRow struct {
	id        int64
	key       storage.EdgeKey
	updatedAt int64
}

func (r edgeRow) edge() storage.Edge {
	return storage.Edge{Key: r.key, UpdatedAt: time.Unix(0, r.updatedAt)}
}

func (t *transaction) selectEdges(ctx context.Context, tx querier, q storage.EdgeQuery) ([]edgeRow, error) {
	c := newCompiler(t.ds.dialect, t.limits())
	inner, err := c.edges(q, t.limits().MaxResults)
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, tx, edgeResultSelect(inner), c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []edgeRow
	for rows.Next() {
		var (
			row edgeRow
			typ string
		)
		if err := rows.Scan(&row.id, &row.key.OutboundID, &typ, &row.key.InboundID, &row.updatedAt); err != nil {
			return nil, err
		}
		row.key.Type = storage.Type(typ)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *transaction) DeleteEdges(ctx context.Context, q storage.EdgeQuery) (int, error) {
	if err := storage.ValidateEdgeQuery(q, t.limits()); err != nil {
		return 0, err
	}
	var count int
	err := t.ds.withTx(ctx, "delete edges", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.edges(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		res, err := t.exec(ctx, tx, "DELETE FROM edges WHERE id IN (SELECT d.id FROM ("+inner+") d)", c.args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		count = int(n)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (t *transaction) GetEdgeCount(ctx context.Context, id uuid.UUID, typ *storage.Type, dir storage.EdgeDirection) (uint64, error) {
	if typ != nil {
		if err := typ.Validate(); err != nil {
			return 0, err
		}
	}
	if err := dir.Validate(); err != nil {
		return 0, err
	}
	column := "outbound_id"
	if dir == storage.Inbound {
		column = "inbound_id"
	}
	query := "SELECT COUNT(*) FROM edges WHERE " + column + " = " + t.id()
	args := []any{id}
	if typ != nil {
		query += " AND type = ?"
		args = append(args, string(*typ))
	}

	var count int64
	err := t.ds.withTx(ctx, "count edges", func(tx *sql.Tx) error {
		return t.queryRow(ctx, tx, query, args...).Scan(&count)
	})
	return uint64(count), err
}

// edgeID resolves the surrogate row id of an edge.
func (t *transaction) edgeID(ctx context.Context, tx querier, key storage.EdgeKey) (int64, error) {
	var id int64
	err := t.queryRow(ctx, tx,
		"SELECT id FROM edges WHERE outbound_id = "+t.id()+" AND type = ? AND inbound_id = "+t.id(),
		key.OutboundID, string(key.Type), key.InboundID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrOwnerNotFound
	}
	return id, err
}

func (t *transaction) requireVertex(ctx context.Context, tx querier, id uuid.UUID) error {
	var one int
	err := t.queryRow(ctx, tx, "SELECT 1 FROM vertices WHERE id = "+t.id(), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrOwnerNotFound
	}
	return err
}

// ============================================================================
// Vertex properties
// ============================================================================

func (t *transaction) SetVertexProperty(ctx context.Context, id uuid.UUID, name string, value json.RawMessage) error {
	if err := storage.ValidatePropertyName(name); err != nil {
		return err
	}
	canon, err := storage.CanonicalValue(value, t.limits().MaxValueSize)
	if err != nil {
		return err
	}
	return t.ds.withTx(ctx, "set vertex property", func(tx *sql.Tx) error {
		if err := t.requireVertex(ctx, tx, id); err != nil {
			return err
		}
		return t.upsertVertexProperty(ctx, tx, id, name, canon)
	})
}

func (t *transaction) upsertVertexProperty(ctx context.Context, tx querier, id uuid.UUID, name string, canon json.RawMessage) error {
	_, err := t.exec(ctx, tx,
		"INSERT INTO vertex_properties (owner_id, name, value) VALUES ("+t.id()+", ?, "+t.value()+") "+
			"ON CONFLICT (owner_id, name) DO UPDATE SET value = excluded.value",
		id, name, string(canon))
	return err
}

func (t *transaction) GetVertexProperty(ctx context.Context, id uuid.UUID, name string) (json.RawMessage, error) {
	if err := storage.ValidatePropertyName(name); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := t.ds.withTx(ctx, "get vertex property", func(tx *sql.Tx) error {
		if err := t.requireVertex(ctx, tx, id); err != nil {
			return err
		}
		var raw []byte
		err := t.queryRow(ctx, tx,
			"SELECT value FROM vertex_properties WHERE owner_id = "+t.id()+" AND name = ?", id, name).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = storage.NormalizeStoredValue(raw)
		return err
	})
	return value, err
}

func (t *transaction) GetAllVertexProperties(ctx context.Context, id uuid.UUID) ([]storage.NamedProperty, error) {
	var out []storage.NamedProperty
	err := t.ds.withTx(ctx, "get all vertex properties", func(tx *sql.Tx) error {
		if err := t.requireVertex(ctx, tx, id); err != nil {
			return err
		}
		var err error
		out, err = t.namedProperties(ctx, tx,
			"SELECT name, value FROM vertex_properties WHERE owner_id = "+t.id(), id)
		return err
	})
	return out, err
}

func (t *transaction) DeleteVertexProperty(ctx context.Context, id uuid.UUID, name string) error {
	if err := storage.ValidatePropertyName(name); err != nil {
		return err
	}
	return t.ds.withTx(ctx, "delete vertex property", func(tx *sql.Tx) error {
		if err := t.requireVertex(ctx, tx, id); err != nil {
			return err
		}
		_, err := t.exec(ctx, tx,
			"DELETE FROM vertex_properties WHERE owner_id = "+t.id()+" AND name = ?", id, name)
		return err
	})
}

func (t *transaction) GetVertexProperties(ctx context.Context, q storage.VertexQuery, name string) ([]storage.VertexProperty, error) {
	if err := storage.ValidatePropertyName(name); err != nil {
		return nil, err
	}
	if err := storage.ValidateVertexQuery(q, t.limits()); err != nil {
		return nil, err
	}
	var out []storage.VertexProperty
	err := t.ds.withTx(ctx, "get vertex properties", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.vertices(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		args := append(c.args, name)
		rows, err := t.query(ctx, tx,
			"SELECT q.id, p.value FROM ("+inner+") q JOIN vertex_properties p ON p.owner_id = q.id AND p.name = ? "+
				"ORDER BY q.ord, q.id", args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				prop storage.VertexProperty
				raw  []byte
			)
			if err := rows.Scan(&prop.ID, &raw); err != nil {
				return err
			}
			if prop.Value, err = storage.NormalizeStoredValue(raw); err != nil {
				return err
			}
			out = append(out, prop)
		}
		return rows.Err()
	})
	return out, err
}

func (t *transaction) SetVertexProperties(ctx context.Context, q storage.VertexQuery, name string, value json.RawMessage) (int, error) {
	if err := storage.ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := storage.ValidateVertexQuery(q, t.limits()); err != nil {
		return 0, err
	}
	canon, err := storage.CanonicalValue(value, t.limits().MaxValueSize)
	if err != nil {
		return 0, err
	}
	var count int
	err = t.ds.withTx(ctx, "set vertex properties", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.vertices(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		count, err = t.upsertByQuery(ctx, tx, inner, c.args,
			"INSERT INTO vertex_properties (owner_id, name, value) SELECT d.id, CAST(? AS TEXT), "+t.value()+" FROM ("+inner+") d WHERE true "+
				"ON CONFLICT (owner_id, name) DO UPDATE SET value = excluded.value",
			name, canon)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// upsertByQuery counts the owners the compiled query selects, then runs
// the INSERT ... SELECT upsert over them. Both statements see the same
// rows inside tx. Upsert row counts differ between drivers, so the count
// comes from the query itself.
func (t *transaction) upsertByQuery(ctx context.Context, tx querier, inner string, innerArgs []any, upsert, name string, canon json.RawMessage) (int, error) {
	var n int64
	if err := t.queryRow(ctx, tx, "SELECT COUNT(*) FROM ("+inner+") d", innerArgs...).Scan(&n); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	args := append([]any{name, string(canon)}, innerArgs...)
	if _, err := t.exec(ctx, tx, upsert, args...); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t *transaction) DeleteVertexProperties(ctx context.Context, q storage.VertexQuery, name string) (int, error) {
	if err := storage.ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := storage.ValidateVertexQuery(q, t.limits()); err != nil {
		return 0, err
	}
	var count int
	err := t.ds.withTx(ctx, "delete vertex properties", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.vertices(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		args := append([]any{name}, c.args...)
		res, err := t.exec(ctx, tx,
			"DELETE FROM vertex_properties WHERE name = ? AND owner_id IN (SELECT d.id FROM ("+inner+") d)", args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		count = int(n)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ============================================================================
// Edge properties
// ============================================================================

func (t *transaction) SetEdgeProperty(ctx context.Context, key storage.EdgeKey, name string, value json.RawMessage) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	if err := storage.ValidatePropertyName(name); err != nil {
		return err
	}
	canon, err := storage.CanonicalValue(value, t.limits().MaxValueSize)
	if err != nil {
		return err
	}
	return t.ds.withTx(ctx, "set edge property", func(tx *sql.Tx) error {
		edgeID, err := t.edgeID(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = t.exec(ctx, tx,
			"INSERT INTO edge_properties (edge_id, name, value) VALUES (?, ?, "+t.value()+") "+
				"ON CONFLICT (edge_id, name) DO UPDATE SET value = excluded.value",
			edgeID, name, string(canon))
		return err
	})
}

func (t *transaction) GetEdgeProperty(ctx context.Context, key storage.EdgeKey, name string) (json.RawMessage, error) {
	if err := key.Type.Validate(); err != nil {
		return nil, err
	}
	if err := storage.ValidatePropertyName(name); err != nil {
		return nil, err
	}
	var value json.RawMessage
	err := t.ds.withTx(ctx, "get edge property", func(tx *sql.Tx) error {
		edgeID, err := t.edgeID(ctx, tx, key)
		if err != nil {
			return err
		}
		var raw []byte
		err = t.queryRow(ctx, tx,
			"SELECT value FROM edge_properties WHERE edge_id = ? AND name = ?", edgeID, name).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = storage.NormalizeStoredValue(raw)
		return err
	})
	return value, err
}

func (t *transaction) GetAllEdgeProperties(ctx context.Context, key storage.EdgeKey) ([]storage.NamedProperty, error) {
	if err := key.Type.Validate(); err != nil {
		return nil, err
	}
	var out []storage.NamedProperty
	err := t.ds.withTx(ctx, "get all edge properties", func(tx *sql.Tx) error {
		edgeID, err := t.edgeID(ctx, tx, key)
		if err != nil {
			return err
		}
		out, err = t.namedProperties(ctx, tx, "SELECT name, value FROM edge_properties WHERE edge_id = ?", edgeID)
		return err
	})
	return out, err
}

func (t *transaction) DeleteEdgeProperty(ctx context.Context, key storage.EdgeKey, name string) error {
	if err := key.Type.Validate(); err != nil {
		return err
	}
	if err := storage.ValidatePropertyName(name); err != nil {
		return err
	}
	return t.ds.withTx(ctx, "delete edge property", func(tx *sql.Tx) error {
		edgeID, err := t.edgeID(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = t.exec(ctx, tx, "DELETE FROM edge_properties WHERE edge_id = ? AND name = ?", edgeID, name)
		return err
	})
}

func (t *transaction) GetEdgeProperties(ctx context.Context, q storage.EdgeQuery, name string) ([]storage.EdgeProperty, error) {
	if err := storage.ValidatePropertyName(name); err != nil {
		return nil, err
	}
	if err := storage.ValidateEdgeQuery(q, t.limits()); err != nil {
		return nil, err
	}
	var out []storage.EdgeProperty
	err := t.ds.withTx(ctx, "get edge properties", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.edges(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		args := append(c.args, name)
		rows, err := t.query(ctx, tx,
			"SELECT q.outbound_id, q.type, q.inbound_id, p.value FROM ("+inner+") q "+
				"JOIN edge_properties p ON p.edge_id = q.id AND p.name = ? "+
				"ORDER BY q.ord, q.outbound_id, q.type, q.inbound_id", args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				prop storage.EdgeProperty
				typ  string
				raw  []byte
			)
			if err := rows.Scan(&prop.Key.OutboundID, &typ, &prop.Key.InboundID, &raw); err != nil {
				return err
			}
			prop.Key.Type = storage.Type(typ)
			if prop.Value, err = storage.NormalizeStoredValue(raw); err != nil {
				return err
			}
			out = append(out, prop)
		}
		return rows.Err()
	})
	return out, err
}

func (t *transaction) SetEdgeProperties(ctx context.Context, q storage.EdgeQuery, name string, value json.RawMessage) (int, error) {
	if err := storage.ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := storage.ValidateEdgeQuery(q, t.limits()); err != nil {
		return 0, err
	}
	canon, err := storage.CanonicalValue(value, t.limits().MaxValueSize)
	if err != nil {
		return 0, err
	}
	var count int
	err = t.ds.withTx(ctx, "set edge properties", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.edges(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		count, err = t.upsertByQuery(ctx, tx, inner, c.args,
			"INSERT INTO edge_properties (edge_id, name, value) SELECT d.id, CAST(? AS TEXT), "+t.value()+" FROM ("+inner+") d WHERE true "+
				"ON CONFLICT (edge_id, name) DO UPDATE SET value = excluded.value",
			name, canon)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (t *transaction) DeleteEdgeProperties(ctx context.Context, q storage.EdgeQuery, name string) (int, error) {
	if err := storage.ValidatePropertyName(name); err != nil {
		return 0, err
	}
	if err := storage.ValidateEdgeQuery(q, t.limits()); err != nil {
		return 0, err
	}
	var count int
	err := t.ds.withTx(ctx, "delete edge properties", func(tx *sql.Tx) error {
		c := newCompiler(t.ds.dialect, t.limits())
		inner, err := c.edges(q, t.limits().MaxResults)
		if err != nil {
			return err
		}
		args := append([]any{name}, c.args...)
		res, err := t.exec(ctx, tx,
			"DELETE FROM edge_properties WHERE name = ? AND edge_id IN (SELECT d.id FROM ("+inner+") d)", args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		count = int(n)
		return err
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (t *transaction) namedProperties(ctx context.Context, tx querier, query string, args ...any) ([]storage.NamedProperty, error) {
	rows, err := t.query(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.NamedProperty
	for rows.Next() {
		var (
			prop storage.NamedProperty
			raw  []byte
		)
		if err := rows.Scan(&prop.Name, &raw); err != nil {
			return nil, err
		}
		if prop.Value, err = storage.NormalizeStoredValue(raw); err != nil {
			return nil, err
		}
		out = append(out, prop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Collations differ between engines; names sort bytewise everywhere.
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
