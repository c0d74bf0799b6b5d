package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/orneryd/vertexdb/pkg/convert"
)

// VertexProperty is a property value attached to one vertex.
type VertexProperty struct {
	ID    uuid.UUID       `json:"id"`
	Value json.RawMessage `json:"value"`
}

// EdgeProperty is a property value attached to one edge.
type EdgeProperty struct {
	Key   EdgeKey         `json:"key"`
	Value json.RawMessage `json:"value"`
}

// NamedProperty is one entry of an owner's property map.
type NamedProperty struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

// CanonicalValue validates a property value and returns its canonical
// encoding. It fails with ErrInvalidValue for malformed JSON and with
// ErrValueTooLarge when the canonical form exceeds maxSize bytes.
func CanonicalValue(value json.RawMessage, maxSize int) (json.RawMessage, error) {
	canon, err := convert.Canonicalize(value)
	if err != nil {
		if errors.Is(err, convert.ErrInvalidJSON) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return nil, err
	}
	if maxSize > 0 && len(canon) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrValueTooLarge, len(canon), maxSize)
	}
	return canon, nil
}

// NormalizeStoredValue re-canonicalizes a value read back from an engine
// that does not preserve the canonical bytes (for example PostgreSQL jsonb).
func NormalizeStoredValue(value []byte) (json.RawMessage, error) {
	canon, err := convert.Canonicalize(value)
	if err != nil {
		return nil, wrapIO("decode property", err)
	}
	return canon, nil
}
