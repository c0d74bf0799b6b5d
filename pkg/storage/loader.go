package storage

// This file handles JSON-lines import and export, so graphs can move
// between engines (for example from an embedded store to PostgreSQL) and be
// backed up without engine-specific tooling.
//
// Format:
//
// One JSON object per line, vertices before the edges that reference them:
//
//	{"kind":"vertex","id":"0190…","type":"person","properties":{"name":"Alice"}}
//	{"kind":"edge","outbound_id":"0190…","type":"knows","inbound_id":"0190…","properties":{"since":2020}}
//
// Properties are optional. Blank lines are skipped.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

const (
	recordVertex = "vertex"
	recordEdge   = "edge"

	// DefaultLoadBatchSize is the number of items handed to BulkInsert at
	// once by LoadJSONLines.
	DefaultLoadBatchSize = 10_000
)

// GraphRecord is one line of a JSON-lines graph dump.
type GraphRecord struct {
	Kind       string                     `json:"kind"`
	ID         *uuid.UUID                 `json:"id,omitempty"`
	OutboundID *uuid.UUID                 `json:"outbound_id,omitempty"`
	InboundID  *uuid.UUID                 `json:"inbound_id,omitempty"`
	Type       Type                       `json:"type"`
	Properties map[string]json.RawMessage `json:"properties,omitempty"`
}

// LoadStats reports what a load or dump touched.
type LoadStats struct {
	Vertices   int
	Edges      int
	Properties int
}

// Items converts the record into bulk insert items.
func (rec GraphRecord) Items() ([]BulkInsertItem, error) {
	var items []BulkInsertItem
	switch rec.Kind {
	case recordVertex:
		if rec.ID == nil {
			return nil, fmt.Errorf("%w: vertex record without id", ErrInvalidValue)
		}
		items = append(items, VertexItem{Vertex: Vertex{ID: *rec.ID, Type: rec.Type}})
		for name, value := range rec.Properties {
			items = append(items, VertexPropertyItem{ID: *rec.ID, Name: name, Value: value})
		}
	case recordEdge:
		if rec.OutboundID == nil || rec.InboundID == nil {
			return nil, fmt.Errorf("%w: edge record without endpoints", ErrInvalidValue)
		}
		key := EdgeKey{OutboundID: *rec.OutboundID, Type: rec.Type, InboundID: *rec.InboundID}
		items = append(items, EdgeItem{Key: key})
		for name, value := range rec.Properties {
			items = append(items, EdgePropertyItem{Key: key, Name: name, Value: value})
		}
	default:
		return nil, fmt.Errorf("%w: unknown record kind %q", ErrInvalidValue, rec.Kind)
	}
	return items, nil
}

// LoadJSONLines streams a JSON-lines dump into ds through BulkInsert, in
// batches of batchSize items (DefaultLoadBatchSize when <= 0).
//
// The bulk path skips existence checks, so the input must list vertices
// before their edges and the target must not have other writers.
//
// Example:
//
//	f, _ := os.Open("graph.jsonl")
//	defer f.Close()
//	stats, err := storage.LoadJSONLines(ctx, ds, f, 0)
func LoadJSONLines(ctx context.Context, ds Datastore, r io.Reader, batchSize int) (LoadStats, error) {
	if batchSize <= 0 {
		batchSize = DefaultLoadBatchSize
	}

	scanner := bufio.NewScanner(r)
	// Increase buffer for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*DefaultMaxValueSize)

	var (
		stats LoadStats
		batch []BulkInsertItem
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ds.BulkInsert(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec GraphRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return stats, fmt.Errorf("line %d: %w: %v", line, ErrInvalidValue, err)
		}
		items, err := rec.Items()
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}

		if rec.Kind == recordVertex {
			stats.Vertices++
		} else {
			stats.Edges++
		}
		stats.Properties += len(rec.Properties)

		batch = append(batch, items...)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return stats, fmt.Errorf("line %d: %w", line, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scanning input: %w", err)
	}
	return stats, flush()
}

// DumpJSONLines writes every vertex and edge reachable through tx, with
// their properties, as JSON lines. It pages through the store with resume
// cursors, so dumps larger than the result cap are complete. Pages are at
// most pageSize entries (further clamped by the store's result cap).
func DumpJSONLines(ctx context.Context, tx Transaction, w io.Writer, pageSize int) (LoadStats, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	var stats LoadStats
	enc := json.NewEncoder(w)

	var after *uuid.UUID
	for {
		page, err := tx.GetVertices(ctx, LimitVertices(AllVertexQuery{After: after}, pageSize))
		if err != nil {
			return stats, err
		}
		for _, v := range page {
			props, err := tx.GetAllVertexProperties(ctx, v.ID)
			if err != nil {
				return stats, err
			}
			id := v.ID
			rec := GraphRecord{Kind: recordVertex, ID: &id, Type: v.Type, Properties: propertyMap(props)}
			if err := enc.Encode(rec); err != nil {
				return stats, fmt.Errorf("writing vertex: %w", err)
			}
			stats.Vertices++
			stats.Properties += len(props)
		}
		if len(page) == 0 {
			break
		}
		last := page[len(page)-1].ID
		after = &last
	}

	var afterEdge *EdgeKey
	for {
		page, err := tx.GetEdges(ctx, LimitEdges(AllEdgeQuery{After: afterEdge}, pageSize))
		if err != nil {
			return stats, err
		}
		for _, e := range page {
			props, err := tx.GetAllEdgeProperties(ctx, e.Key)
			if err != nil {
				return stats, err
			}
			out, in := e.Key.OutboundID, e.Key.InboundID
			rec := GraphRecord{
				Kind:       recordEdge,
				OutboundID: &out,
				Type:       e.Key.Type,
				InboundID:  &in,
				Properties: propertyMap(props),
			}
			if err := enc.Encode(rec); err != nil {
				return stats, fmt.Errorf("writing edge: %w", err)
			}
			stats.Edges++
			stats.Properties += len(props)
		}
		if len(page) == 0 {
			break
		}
		last := page[len(page)-1].Key
		afterEdge = &last
	}

	return stats, nil
}

func propertyMap(props []NamedProperty) map[string]json.RawMessage {
	if len(props) == 0 {
		return nil
	}
	m := make(map[string]json.RawMessage, len(props))
	for _, p := range props {
		m[p.Name] = p.Value
	}
	return m
}
