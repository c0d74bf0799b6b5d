// Package storage provides the graph data model, the query language and the
// storage engine implementations for VertexDB.
//
// The storage layer models a property graph: vertices carry a type label,
// edges are identified by the composite key (outbound id, type, inbound id),
// and both may carry named JSON properties. Callers select data through
// immutable query trees (VertexQuery / EdgeQuery) which every backend
// evaluates with identical ordering and capping rules.
//
// Design Principles:
//   - One Datastore contract, several interchangeable engines
//   - Validation before any I/O
//   - Each mutation is atomic on its own
//   - Deterministic result ordering across engines
//
// Example Usage:
//
//	ds, err := storage.NewBadgerDatastore(storage.BadgerOptions{InMemory: true})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ds.Close()
//
//	tx, _ := ds.Transaction()
//	alice, _ := tx.CreateVertexFromType(ctx, "person")
//	bob, _ := tx.CreateVertexFromType(ctx, "person")
//	_ = tx.CreateEdge(ctx, storage.EdgeKey{OutboundID: alice, Type: "knows", InboundID: bob})
//
//	// Everyone alice knows
//	friends, _ := tx.GetVertices(ctx, storage.PipeVertices(
//		storage.PipeEdges(storage.SpecificVertices(alice), storage.Outbound, nil),
//		storage.Inbound, nil))
package storage

import (
	"bytes"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// MaxTypeLength is the maximum length of a type label in bytes.
	MaxTypeLength = 255

	// MaxPropertyNameLength is the maximum length of a property name in bytes.
	MaxPropertyNameLength = 255
)

// Type is the label attached to every vertex and edge.
//
// Valid types are 1..255 bytes drawn from [A-Za-z0-9_-]. The restricted
// alphabet lets a type be embedded in binary keys followed by a 0x00
// terminator without any escaping.
type Type string

// NewType validates s and returns it as a Type.
func NewType(s string) (Type, error) {
	t := Type(s)
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks the length and alphabet of the type label.
func (t Type) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: empty type", ErrInvalidType)
	}
	if len(t) > MaxTypeLength {
		return fmt.Errorf("%w: type longer than %d bytes", ErrInvalidType, MaxTypeLength)
	}
	for i := 0; i < len(t); i++ {
		if !isTypeChar(t[i]) {
			return fmt.Errorf("%w: invalid character %q in %q", ErrInvalidType, t[i], string(t))
		}
	}
	return nil
}

func isTypeChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-':
		return true
	}
	return false
}

// ValidatePropertyName checks that name is non-empty, valid UTF-8, at most
// MaxPropertyNameLength bytes long and free of NUL bytes.
func ValidatePropertyName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPropertyName)
	}
	if len(name) > MaxPropertyNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidPropertyName, MaxPropertyNameLength)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidPropertyName)
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return fmt.Errorf("%w: name contains NUL", ErrInvalidPropertyName)
	}
	return nil
}

// NewID returns a fresh vertex identifier.
//
// Identifiers are version 7 UUIDs, so ids generated by one process sort
// roughly by creation time. Nothing relies on that: ordering is always the
// plain byte order of the 16 raw bytes.
func NewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// CompareIDs orders identifiers bytewise over their raw value.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Vertex is a typed graph node.
type Vertex struct {
	ID   uuid.UUID `json:"id"`
	Type Type      `json:"type"`
}

// NewVertex creates a vertex with a freshly generated id.
func NewVertex(t Type) Vertex {
	return Vertex{ID: NewID(), Type: t}
}

// EdgeKey identifies an edge. At most one edge exists per key.
type EdgeKey struct {
	OutboundID uuid.UUID `json:"outbound_id"`
	Type       Type      `json:"type"`
	InboundID  uuid.UUID `json:"inbound_id"`
}

// Reversed swaps the endpoints of the key.
func (k EdgeKey) Reversed() EdgeKey {
	return EdgeKey{OutboundID: k.InboundID, Type: k.Type, InboundID: k.OutboundID}
}

// Compare orders edge keys by (outbound id, type, inbound id).
func (k EdgeKey) Compare(o EdgeKey) int {
	if c := CompareIDs(k.OutboundID, o.OutboundID); c != 0 {
		return c
	}
	if k.Type != o.Type {
		if k.Type < o.Type {
			return -1
		}
		return 1
	}
	return CompareIDs(k.InboundID, o.InboundID)
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("(%s)-[%s]->(%s)", k.OutboundID, k.Type, k.InboundID)
}

// Edge is a directed, typed relationship between two vertices.
// UpdatedAt is refreshed every time the edge is (re)created.
type Edge struct {
	Key       EdgeKey   `json:"key"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EdgeDirection selects which endpoint of an edge a traversal follows.
type EdgeDirection int

const (
	// Outbound refers to edges leaving a vertex, or to an edge's source.
	Outbound EdgeDirection = iota
	// Inbound refers to edges entering a vertex, or to an edge's target.
	Inbound
)

func (d EdgeDirection) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	}
	return fmt.Sprintf("EdgeDirection(%d)", int(d))
}

// Validate rejects values other than Outbound and Inbound.
func (d EdgeDirection) Validate() error {
	if d != Outbound && d != Inbound {
		return fmt.Errorf("%w: %s", ErrInvalidQuery, d)
	}
	return nil
}

// ParseEdgeDirection parses "outbound" or "inbound".
func ParseEdgeDirection(s string) (EdgeDirection, error) {
	switch s {
	case "outbound", "out":
		return Outbound, nil
	case "inbound", "in":
		return Inbound, nil
	}
	return 0, fmt.Errorf("unknown edge direction %q", s)
}
