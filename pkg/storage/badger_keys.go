package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Key prefixes for BadgerDB storage organization.
// Each record kind lives in its own single-byte key-space.
const (
	prefixVertex         = byte(0x01) // vertex: id -> type
	prefixEdge           = byte(0x02) // edge: out + type + 0x00 + in -> update timestamp
	prefixReverseEdge    = byte(0x03) // reverse: in + type + 0x00 + out -> empty
	prefixVertexProperty = byte(0x04) // vprop: id + len16(name) + name -> JSON
	prefixEdgeProperty   = byte(0x05) // eprop: out + type + 0x00 + in + len16(name) + name -> JSON
	prefixVertexType     = byte(0x06) // vtype: type + 0x00 + id -> empty
	prefixEdgeType       = byte(0x07) // etype: type + 0x00 + out + in -> empty
)

const idLen = 16

// Types are drawn from [A-Za-z0-9_-], so a 0x00 terminator can never occur
// inside one and sorts below every allowed byte: "ab" < "abc" holds for the
// encoded form exactly as for the strings. That keeps edge keys in
// (outbound id, type, inbound id) order. Property names may contain any
// non-NUL UTF-8 and only need exact lookup, so they carry a 2-byte length.
const typeTerminator = byte(0x00)

// ============================================================================
// Vertices
// ============================================================================

func vertexKey(id uuid.UUID) []byte {
	key := make([]byte, 0, 1+idLen)
	key = append(key, prefixVertex)
	return append(key, id[:]...)
}

func parseVertexKey(key []byte) (uuid.UUID, error) {
	if len(key) != 1+idLen || key[0] != prefixVertex {
		return uuid.Nil, fmt.Errorf("malformed vertex key %x", key)
	}
	return uuid.FromBytes(key[1:])
}

// vertexTypeKey creates a key for the vertex type index.
// Format: prefix + type + 0x00 + id
func vertexTypeKey(t Type, id uuid.UUID) []byte {
	key := vertexTypePrefix(t)
	return append(key, id[:]...)
}

// vertexTypePrefix returns the prefix for scanning all vertices of a type.
func vertexTypePrefix(t Type) []byte {
	key := make([]byte, 0, 1+len(t)+1+idLen)
	key = append(key, prefixVertexType)
	key = append(key, t...)
	return append(key, typeTerminator)
}

func parseVertexTypeKey(key []byte, t Type) (uuid.UUID, error) {
	offset := 1 + len(t) + 1
	if len(key) != offset+idLen {
		return uuid.Nil, fmt.Errorf("malformed vertex type key %x", key)
	}
	return uuid.FromBytes(key[offset:])
}

// ============================================================================
// Edges
// ============================================================================

// appendEdgeBody appends first + type + 0x00 + second.
func appendEdgeBody(key []byte, first uuid.UUID, t Type, second uuid.UUID) []byte {
	key = append(key, first[:]...)
	key = append(key, t...)
	key = append(key, typeTerminator)
	return append(key, second[:]...)
}

// parseEdgeBody splits first + type + 0x00 + second starting at key[0] and
// returns the number of bytes consumed.
func parseEdgeBody(key []byte) (first uuid.UUID, t Type, second uuid.UUID, n int, err error) {
	if len(key) < idLen+2+idLen {
		return uuid.Nil, "", uuid.Nil, 0, fmt.Errorf("edge key too short: %x", key)
	}
	copy(first[:], key[:idLen])

	end := -1
	for i := idLen; i < len(key); i++ {
		if key[i] == typeTerminator {
			end = i
			break
		}
	}
	if end <= idLen || len(key) < end+1+idLen {
		return uuid.Nil, "", uuid.Nil, 0, fmt.Errorf("malformed edge key %x", key)
	}
	t = Type(key[idLen:end])
	copy(second[:], key[end+1:end+1+idLen])
	return first, t, second, end + 1 + idLen, nil
}

// edgeKey creates the primary key of an edge.
func edgeKey(k EdgeKey) []byte {
	key := make([]byte, 0, 1+idLen+len(k.Type)+1+idLen)
	key = append(key, prefixEdge)
	return appendEdgeBody(key, k.OutboundID, k.Type, k.InboundID)
}

func parseEdgeKey(key []byte) (EdgeKey, error) {
	if len(key) == 0 || key[0] != prefixEdge {
		return EdgeKey{}, fmt.Errorf("malformed edge key %x", key)
	}
	out, t, in, n, err := parseEdgeBody(key[1:])
	if err != nil {
		return EdgeKey{}, err
	}
	if 1+n != len(key) {
		return EdgeKey{}, fmt.Errorf("trailing bytes in edge key %x", key)
	}
	return EdgeKey{OutboundID: out, Type: t, InboundID: in}, nil
}

// outboundEdgePrefix returns the prefix for scanning the outbound edges of
// a vertex, optionally of one type.
func outboundEdgePrefix(id uuid.UUID, t *Type) []byte {
	return adjacencyPrefix(prefixEdge, id, t)
}

// reverseEdgeKey creates the reverse index entry of an edge.
// Format: prefix + in + type + 0x00 + out
func reverseEdgeKey(k EdgeKey) []byte {
	key := make([]byte, 0, 1+idLen+len(k.Type)+1+idLen)
	key = append(key, prefixReverseEdge)
	return appendEdgeBody(key, k.InboundID, k.Type, k.OutboundID)
}

func parseReverseEdgeKey(key []byte) (EdgeKey, error) {
	if len(key) == 0 || key[0] != prefixReverseEdge {
		return EdgeKey{}, fmt.Errorf("malformed reverse edge key %x", key)
	}
	in, t, out, n, err := parseEdgeBody(key[1:])
	if err != nil {
		return EdgeKey{}, err
	}
	if 1+n != len(key) {
		return EdgeKey{}, fmt.Errorf("trailing bytes in reverse edge key %x", key)
	}
	return EdgeKey{OutboundID: out, Type: t, InboundID: in}, nil
}

// inboundEdgePrefix returns the prefix for scanning the inbound edges of a
// vertex through the reverse index, optionally of one type.
func inboundEdgePrefix(id uuid.UUID, t *Type) []byte {
	return adjacencyPrefix(prefixReverseEdge, id, t)
}

func adjacencyPrefix(prefix byte, id uuid.UUID, t *Type) []byte {
	size := 1 + idLen
	if t != nil {
		size += len(*t) + 1
	}
	key := make([]byte, 0, size)
	key = append(key, prefix)
	key = append(key, id[:]...)
	if t != nil {
		key = append(key, *t...)
		key = append(key, typeTerminator)
	}
	return key
}

// edgeTypeKey creates a key for the edge type index.
// Format: prefix + type + 0x00 + out + in
func edgeTypeKey(k EdgeKey) []byte {
	key := edgeTypePrefix(k.Type)
	key = append(key, k.OutboundID[:]...)
	return append(key, k.InboundID[:]...)
}

// edgeTypePrefix returns the prefix for scanning all edges of a type.
func edgeTypePrefix(t Type) []byte {
	key := make([]byte, 0, 1+len(t)+1+2*idLen)
	key = append(key, prefixEdgeType)
	key = append(key, t...)
	return append(key, typeTerminator)
}

func parseEdgeTypeKey(key []byte, t Type) (EdgeKey, error) {
	offset := 1 + len(t) + 1
	if len(key) != offset+2*idLen {
		return EdgeKey{}, fmt.Errorf("malformed edge type key %x", key)
	}
	k := EdgeKey{Type: t}
	copy(k.OutboundID[:], key[offset:offset+idLen])
	copy(k.InboundID[:], key[offset+idLen:])
	return k, nil
}

func encodeTimestamp(ts int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	return buf
}

func decodeTimestamp(val []byte) (time.Time, error) {
	if len(val) != 8 {
		return time.Time{}, fmt.Errorf("malformed edge timestamp %x", val)
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(val))), nil
}

// ============================================================================
// Properties
// ============================================================================

func appendName(key []byte, name string) []byte {
	key = binary.BigEndian.AppendUint16(key, uint16(len(name)))
	return append(key, name...)
}

// parseName reads a length-prefixed name starting at key[offset].
func parseName(key []byte, offset int) (string, error) {
	if len(key) < offset+2 {
		return "", fmt.Errorf("property key too short: %x", key)
	}
	n := int(binary.BigEndian.Uint16(key[offset:]))
	if len(key) != offset+2+n {
		return "", fmt.Errorf("malformed property key %x", key)
	}
	return string(key[offset+2:]), nil
}

func vertexPropertyKey(id uuid.UUID, name string) []byte {
	return appendName(vertexPropertyPrefix(id), name)
}

// vertexPropertyPrefix returns the prefix for scanning all properties of a
// vertex.
func vertexPropertyPrefix(id uuid.UUID) []byte {
	key := make([]byte, 0, 1+idLen+2+32)
	key = append(key, prefixVertexProperty)
	return append(key, id[:]...)
}

func edgePropertyKey(k EdgeKey, name string) []byte {
	return appendName(edgePropertyPrefix(k), name)
}

// edgePropertyPrefix returns the prefix for scanning all properties of an
// edge.
func edgePropertyPrefix(k EdgeKey) []byte {
	key := make([]byte, 0, 1+idLen+len(k.Type)+1+idLen+2+32)
	key = append(key, prefixEdgeProperty)
	return appendEdgeBody(key, k.OutboundID, k.Type, k.InboundID)
}
