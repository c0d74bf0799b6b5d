package storage

import (
	"context"

	"go.uber.org/zap"
)

// BulkInsert loads items through a Badger WriteBatch.
//
// Nothing is read back while loading: endpoint and owner checks are
// skipped, a vertex loaded twice under different types leaves a stale type
// index entry, and a failure part-way leaves the already flushed prefix in
// place. Use it for initial loads into an empty store with no other
// writers.
func (b *BadgerDatastore) BulkInsert(ctx context.Context, items []BulkInsertItem) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	prepared, err := PrepareBulkItems(items, b.limits)
	if err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	var vertices, edges, props int
	for _, item := range prepared {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch it := item.(type) {
		case VertexItem:
			if err := wb.Set(vertexKey(it.Vertex.ID), []byte(it.Vertex.Type)); err != nil {
				return wrapIO("bulk insert", err)
			}
			if err := wb.Set(vertexTypeKey(it.Vertex.Type, it.Vertex.ID), []byte{}); err != nil {
				return wrapIO("bulk insert", err)
			}
			vertices++
		case EdgeItem:
			if err := wb.Set(edgeKey(it.Key), encodeTimestamp(b.clock.Next())); err != nil {
				return wrapIO("bulk insert", err)
			}
			if err := wb.Set(reverseEdgeKey(it.Key), []byte{}); err != nil {
				return wrapIO("bulk insert", err)
			}
			if err := wb.Set(edgeTypeKey(it.Key), []byte{}); err != nil {
				return wrapIO("bulk insert", err)
			}
			edges++
		case VertexPropertyItem:
			if err := wb.Set(vertexPropertyKey(it.ID, it.Name), it.Value); err != nil {
				return wrapIO("bulk insert", err)
			}
			props++
		case EdgePropertyItem:
			if err := wb.Set(edgePropertyKey(it.Key, it.Name), it.Value); err != nil {
				return wrapIO("bulk insert", err)
			}
			props++
		}
	}

	if err := wb.Flush(); err != nil {
		return wrapIO("bulk insert", err)
	}
	b.logger.Info("bulk insert finished",
		zap.Int("vertices", vertices),
		zap.Int("edges", edges),
		zap.Int("properties", props))
	return nil
}
