package storage

import (
	"bytes"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeKeyEncoding(t *testing.T) {
	out := uuid.MustParse("01900000-0000-7000-8000-000000000001")
	in := uuid.MustParse("01900000-0000-7000-8000-000000000002")
	k := EdgeKey{OutboundID: out, Type: "knows", InboundID: in}

	t.Run("primary_round_trip", func(t *testing.T) {
		key := edgeKey(k)
		assert.Equal(t, prefixEdge, key[0])
		assert.Len(t, key, 1+idLen+len("knows")+1+idLen)

		got, err := parseEdgeKey(key)
		require.NoError(t, err)
		assert.Equal(t, k, got)
	})

	t.Run("reverse_round_trip", func(t *testing.T) {
		key := reverseEdgeKey(k)
		assert.Equal(t, prefixReverseEdge, key[0])
		assert.Equal(t, in[:], key[1:1+idLen], "reverse key starts with the inbound id")

		got, err := parseReverseEdgeKey(key)
		require.NoError(t, err)
		assert.Equal(t, k, got)
	})

	t.Run("type_index_round_trip", func(t *testing.T) {
		key := edgeTypeKey(k)
		assert.True(t, bytes.HasPrefix(key, edgeTypePrefix("knows")))
		got, err := parseEdgeTypeKey(key, "knows")
		require.NoError(t, err)
		assert.Equal(t, k, got)
	})

	t.Run("adjacency_prefixes", func(t *testing.T) {
		assert.True(t, bytes.HasPrefix(edgeKey(k), outboundEdgePrefix(out, nil)))
		assert.True(t, bytes.HasPrefix(edgeKey(k), outboundEdgePrefix(out, TypePtr("knows"))))
		assert.False(t, bytes.HasPrefix(edgeKey(k), outboundEdgePrefix(out, TypePtr("know"))), "type prefix is terminated")
		assert.True(t, bytes.HasPrefix(reverseEdgeKey(k), inboundEdgePrefix(in, TypePtr("knows"))))
		assert.False(t, bytes.HasPrefix(reverseEdgeKey(k), inboundEdgePrefix(out, nil)))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseEdgeKey([]byte{prefixEdge, 1, 2, 3})
		assert.Error(t, err)
		_, err = parseEdgeKey(append(edgeKey(k), 0xff))
		assert.Error(t, err)
		_, err = parseReverseEdgeKey(edgeKey(k))
		assert.Error(t, err)
		_, err = parseEdgeTypeKey(edgeTypePrefix("knows"), "knows")
		assert.Error(t, err)
	})
}

func TestEdgeKeyOrderMatchesCompare(t *testing.T) {
	ids := []uuid.UUID{
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("00000000-0000-0000-0000-0000000000ff"),
		uuid.MustParse("ff000000-0000-0000-0000-000000000000"),
	}
	types := []Type{"a", "ab", "a_b", "b", "B", "a-", "z9"}

	var keys []EdgeKey
	for _, out := range ids {
		for _, typ := range types {
			for _, in := range ids {
				keys = append(keys, EdgeKey{OutboundID: out, Type: typ, InboundID: in})
			}
		}
	}

	byCompare := append([]EdgeKey(nil), keys...)
	sort.Slice(byCompare, func(i, j int) bool { return byCompare[i].Compare(byCompare[j]) < 0 })

	byBytes := append([]EdgeKey(nil), keys...)
	sort.Slice(byBytes, func(i, j int) bool { return bytes.Compare(edgeKey(byBytes[i]), edgeKey(byBytes[j])) < 0 })

	assert.Equal(t, byCompare, byBytes)
}

func TestVertexKeyEncoding(t *testing.T) {
	id := NewID()

	got, err := parseVertexKey(vertexKey(id))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = parseVertexKey(vertexKey(id)[:10])
	assert.Error(t, err)

	key := vertexTypeKey("person", id)
	assert.True(t, bytes.HasPrefix(key, vertexTypePrefix("person")))
	assert.False(t, bytes.HasPrefix(vertexTypeKey("personality", id), vertexTypePrefix("person")))
	got, err = parseVertexTypeKey(key, "person")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestPropertyKeyEncoding(t *testing.T) {
	id := NewID()
	key := vertexPropertyKey(id, "name")
	prefix := vertexPropertyPrefix(id)
	require.True(t, bytes.HasPrefix(key, prefix))

	name, err := parseName(key, len(prefix))
	require.NoError(t, err)
	assert.Equal(t, "name", name)

	// Length prefixes keep names that prefix each other apart.
	assert.False(t, bytes.HasPrefix(vertexPropertyKey(id, "names"), key))

	ek := EdgeKey{OutboundID: id, Type: "t", InboundID: id}
	ekey := edgePropertyKey(ek, "weight")
	name, err = parseName(ekey, len(edgePropertyPrefix(ek)))
	require.NoError(t, err)
	assert.Equal(t, "weight", name)

	_, err = parseName(key[:len(key)-1], len(prefix))
	assert.Error(t, err)
}

func TestTimestampEncoding(t *testing.T) {
	ts := int64(1_700_000_000_123_456_789)
	got, err := decodeTimestamp(encodeTimestamp(ts))
	require.NoError(t, err)
	assert.Equal(t, ts, got.UnixNano())

	_, err = decodeTimestamp([]byte{1, 2})
	assert.Error(t, err)
}
