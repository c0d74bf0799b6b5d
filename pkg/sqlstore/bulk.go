package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/orneryd/vertexdb/pkg/storage"
)

// BulkInsert loads items in one database transaction with prepared
// statements. Duplicate vertices and properties overwrite, duplicate edges
// refresh their timestamp. Foreign keys still apply, so vertices must come
// before the edges and properties that reference them. An edge property
// whose edge is missing is skipped.
func (ds *Datastore) BulkInsert(ctx context.Context, items []storage.BulkInsertItem) error {
	prepared, err := storage.PrepareBulkItems(items, ds.limits)
	if err != nil {
		return err
	}
	if len(prepared) == 0 {
		return nil
	}

	t := &transaction{ds: ds}
	var vertices, edges, props int
	err = ds.withTx(ctx, "bulk insert", func(tx *sql.Tx) error {
		stmts, err := ds.prepareBulk(ctx, tx, t)
		if err != nil {
			return err
		}
		defer stmts.close()

		for _, item := range prepared {
			switch it := item.(type) {
			case storage.VertexItem:
				_, err = stmts.vertex.ExecContext(ctx, it.Vertex.ID, string(it.Vertex.Type))
				vertices++
			case storage.EdgeItem:
				_, err = stmts.edge.ExecContext(ctx, it.Key.OutboundID, string(it.Key.Type), it.Key.InboundID, ds.clock.Next())
				edges++
			case storage.VertexPropertyItem:
				_, err = stmts.vertexProp.ExecContext(ctx, it.ID, it.Name, string(it.Value))
				props++
			case storage.EdgePropertyItem:
				_, err = stmts.edgeProp.ExecContext(ctx, it.Name, string(it.Value),
					it.Key.OutboundID, string(it.Key.Type), it.Key.InboundID)
				props++
			}
			if err != nil {
				return fmt.Errorf("%T: %w", item, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	ds.logger.Info("bulk insert finished",
		zap.Int("vertices", vertices),
		zap.Int("edges", edges),
		zap.Int("properties", props))
	return nil
}

type bulkStatements struct {
	vertex, edge, vertexProp, edgeProp *sql.Stmt
}

func (s *bulkStatements) close() {
	for _, stmt := range []*sql.Stmt{s.vertex, s.edge, s.vertexProp, s.edgeProp} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

func (ds *Datastore) prepareBulk(ctx context.Context, tx *sql.Tx, t *transaction) (*bulkStatements, error) {
	id, value := t.id(), t.value()
	queries := []string{
		"INSERT INTO vertices (id, type) VALUES (" + id + ", ?) " +
			"ON CONFLICT (id) DO UPDATE SET type = excluded.type",
		"INSERT INTO edges (outbound_id, type, inbound_id, updated_at) VALUES (" + id + ", ?, " + id + ", ?) " +
			"ON CONFLICT (outbound_id, type, inbound_id) DO UPDATE SET updated_at = excluded.updated_at",
		"INSERT INTO vertex_properties (owner_id, name, value) VALUES (" + id + ", ?, " + value + ") " +
			"ON CONFLICT (owner_id, name) DO UPDATE SET value = excluded.value",
		// The WHERE clause also disambiguates ON CONFLICT for SQLite's parser.
		"INSERT INTO edge_properties (edge_id, name, value) SELECT e.id, ?, " + value + " FROM edges e " +
			"WHERE e.outbound_id = " + id + " AND e.type = ? AND e.inbound_id = " + id + " " +
			"ON CONFLICT (edge_id, name) DO UPDATE SET value = excluded.value",
	}

	stmts := &bulkStatements{}
	targets := []**sql.Stmt{&stmts.vertex, &stmts.edge, &stmts.vertexProp, &stmts.edgeProp}
	for i, q := range queries {
		stmt, err := tx.PrepareContext(ctx, ds.dialect.rebind(q))
		if err != nil {
			stmts.close()
			return nil, err
		}
		*targets[i] = stmt
	}
	return stmts, nil
}
