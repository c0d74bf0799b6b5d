package storage

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVertexQuery(t *testing.T) {
	limits := Limits{MaxResults: 10}.WithDefaults()
	strict := Limits{MaxResults: 10, StrictLimits: true}.WithDefaults()
	edges := AllEdges()

	tests := []struct {
		name   string
		q      VertexQuery
		limits Limits
		want   error
	}{
		{"all", AllVertices(), limits, nil},
		{"nil", nil, limits, ErrInvalidQuery},
		{"bad_type", VerticesOfType("no spaces"), limits, ErrInvalidType},
		{"pipe_bad_direction", PipeVertices(edges, EdgeDirection(3), nil), limits, ErrInvalidQuery},
		{"pipe_bad_type", PipeVertices(edges, Outbound, TypePtr("")), limits, ErrInvalidType},
		{"pipe_nil_inner", PipeVertexQuery{Direction: Inbound}, limits, ErrInvalidQuery},
		{"limit_above_cap_clamps", LimitVertices(AllVertices(), 1_000_000), limits, nil},
		{"limit_above_cap_strict", LimitVertices(AllVertices(), 11), strict, ErrLimitExceeded},
		{"limit_at_cap_strict", LimitVertices(AllVertices(), 10), strict, nil},
		{"negative_limit", LimitVertices(AllVertices(), -5), limits, ErrLimitExceeded},
		{"filter_bad_name", FilterVertices(AllVertices(), "", Exists()), limits, ErrInvalidPropertyName},
		{"filter_nil_predicate", FilterVertices(AllVertices(), "x", nil), limits, ErrInvalidQuery},
		{"filter_bad_equals", FilterVertices(AllVertices(), "x", Equals(json.RawMessage(`{`))), limits, ErrInvalidValue},
		{"nested_error", LimitVertices(PipeVertices(PipeEdges(VerticesOfType("a b"), Outbound, nil), Inbound, nil), 1), limits, ErrInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVertexQuery(tt.q, tt.limits)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateEdgeQuery(t *testing.T) {
	limits := DefaultLimits()
	id := NewID()

	assert.NoError(t, ValidateEdgeQuery(AllEdgesAfter(EdgeKey{OutboundID: id, Type: "t", InboundID: id}), limits))
	assert.ErrorIs(t, ValidateEdgeQuery(AllEdgesAfter(EdgeKey{OutboundID: id, InboundID: id}), limits), ErrInvalidType)
	assert.ErrorIs(t, ValidateEdgeQuery(SpecificEdges(EdgeKey{Type: "ok"}, EdgeKey{Type: "not ok"}), limits), ErrInvalidType)
	assert.ErrorIs(t, ValidateEdgeQuery(EdgesOfTypeAfter("t", EdgeKey{Type: "?"}), limits), ErrInvalidType)
	assert.ErrorIs(t, ValidateEdgeQuery(PipeEdges(nil, Outbound, nil), limits), ErrInvalidQuery)
	assert.ErrorIs(t, ValidateEdgeQuery(LimitEdges(AllEdges(), -1), limits), ErrLimitExceeded)
	assert.ErrorIs(t, ValidateEdgeQuery(FilterEdges(AllEdges(), "w", GreaterThan(nan())), limits), ErrInvalidValue)
	assert.ErrorIs(t, ValidateEdgeQuery(nil, limits), ErrInvalidQuery)
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}

func TestTypeValidation(t *testing.T) {
	for _, ok := range []string{"a", "person", "Has_Under-score", "0", strings.Repeat("z", MaxTypeLength)} {
		_, err := NewType(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "a b", "a.b", "a/b", "é", "a\x00", strings.Repeat("z", MaxTypeLength+1)} {
		_, err := NewType(bad)
		assert.ErrorIs(t, err, ErrInvalidType, bad)
	}
}

func TestPropertyNameValidation(t *testing.T) {
	for _, ok := range []string{"name", "with space", "ünïcode", "a.b/c", strings.Repeat("n", MaxPropertyNameLength)} {
		assert.NoError(t, ValidatePropertyName(ok), ok)
	}
	for _, bad := range []string{"", "nul\x00", "\xff\xfe", strings.Repeat("n", MaxPropertyNameLength+1)} {
		assert.ErrorIs(t, ValidatePropertyName(bad), ErrInvalidPropertyName, bad)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		pred  Predicate
		value string
		want  bool
	}{
		{"exists_null", Exists(), `null`, true},
		{"equals_same", Equals(json.RawMessage(`{"b":2.0,"a":1}`)), `{"a":1,"b":2}`, true},
		{"equals_different", Equals(json.RawMessage(`1`)), `"1"`, false},
		{"equals_invalid_operand", Equals(json.RawMessage(`{`)), `{}`, false},
		{"less_than", LessThan(2), `1.5`, true},
		{"less_than_equal_value", LessThan(2), `2`, false},
		{"less_or_equal", LessOrEqual(2), `2`, true},
		{"greater_than", GreaterThan(-1), `0`, true},
		{"greater_or_equal", GreaterOrEqual(1e10), `1e10`, true},
		{"compare_string_never", GreaterThan(0), `"5"`, false},
		{"compare_bool_never", GreaterThan(0), `true`, false},
		{"contains", Contains("ell"), `"hello"`, true},
		{"contains_missing", Contains("xyz"), `"hello"`, false},
		{"contains_number_never", Contains("1"), `12`, false},
		{"contains_escaped", Contains(`"q"`), `"say \"q\""`, true},
		{"contains_empty", Contains(""), `""`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pred.Match(json.RawMessage(tt.value)))
		})
	}
}

func TestLimits(t *testing.T) {
	l := Limits{}.WithDefaults()
	assert.Equal(t, DefaultMaxResults, l.MaxResults)
	assert.Equal(t, DefaultMaxValueSize, l.MaxValueSize)
	assert.Equal(t, DefaultMaxResults, l.Clamp(1_000_000))
	assert.Equal(t, 7, l.Clamp(7))
}

func TestCanonicalValue(t *testing.T) {
	v, err := CanonicalValue(json.RawMessage(` { "z" : [ 1.0 , "x" ] , "a" : {} } `), 100)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{},"z":[1,"x"]}`, string(v))

	_, err = CanonicalValue(json.RawMessage(`[1,2,3]`), 5)
	assert.ErrorIs(t, err, ErrValueTooLarge)

	_, err = CanonicalValue(json.RawMessage(``), 100)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.False(t, errors.Is(err, ErrStorageIO))
}

func TestEdgeKeyHelpers(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	k := EdgeKey{OutboundID: a, Type: "knows", InboundID: b}

	assert.Equal(t, EdgeKey{OutboundID: b, Type: "knows", InboundID: a}, k.Reversed())
	assert.Equal(t, 0, k.Compare(k))
	assert.Equal(t, -1, k.Compare(k.Reversed()))
	assert.Equal(t, -1, EdgeKey{OutboundID: a, Type: "a", InboundID: b}.Compare(k))
	assert.Contains(t, k.String(), "knows")

	dir, err := ParseEdgeDirection("in")
	require.NoError(t, err)
	assert.Equal(t, Inbound, dir)
	_, err = ParseEdgeDirection("sideways")
	assert.Error(t, err)
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	c := NewClock()
	fixed := c.now()
	c.now = func() time.Time { return fixed }

	prev := c.Next()
	for i := 0; i < 100; i++ {
		next := c.Next()
		require.Greater(t, next, prev)
		prev = next
	}
}
