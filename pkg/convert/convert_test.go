package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONNumber(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		ok       bool
	}{
		{"integer", `42`, 42, true},
		{"fraction", `3.14`, 3.14, true},
		{"negative", `-2.5`, -2.5, true},
		{"exponent", `1e3`, 1000, true},
		{"canonical large", `1.2345678901234567e+19`, 1.2345678901234567e+19, true},

		{"string of digits", `"12"`, 0, false},
		{"bool", `true`, 0, false},
		{"null", `null`, 0, false},
		{"object", `{"a":1}`, 0, false},
		{"empty", ``, 0, false},
		{"out of range", `1e999`, 0, false},
		{"not a number", `-x`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := JSONNumber([]byte(tt.input))
			assert.Equal(t, tt.ok, ok, "ok mismatch")
			if ok {
				assert.InDelta(t, tt.expected, got, 0.0001, "value mismatch")
			}
		})
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"compacts whitespace", ` { "a" : 1 } `, `{"a":1}`},
		{"sorts keys", `{"b":1,"a":2,"c":{"z":0,"y":1}}`, `{"a":2,"b":1,"c":{"y":1,"z":0}}`},
		{"integral float", `1.0`, `1`},
		{"exponent integer", `1e3`, `1000`},
		{"fraction", `2.50`, `2.5`},
		{"negative zero", `-0.0`, `0`},
		{"large integer", `12345678901234567890`, `1.2345678901234567e+19`},
		{"string keeps html", `"<b>"`, `"<b>"`},
		{"array", `[1, "x", null, false]`, `[1,"x",null,false]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}

	t.Run("idempotent", func(t *testing.T) {
		once, err := Canonicalize([]byte(`{"x":[1.5,{"b":true,"a":"é"}]}`))
		require.NoError(t, err)
		twice, err := Canonicalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	})

	for _, bad := range []string{``, `{`, `1 2`, `{"a":}`, `1e999`} {
		_, err := Canonicalize([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidJSON, "input %q", bad)
	}
}

func TestJSONScalars(t *testing.T) {
	f, ok := JSONNumber([]byte(`-4.5`))
	assert.True(t, ok)
	assert.Equal(t, -4.5, f)

	_, ok = JSONNumber([]byte(`"12"`))
	assert.False(t, ok, "strings are not numbers")

	s, ok := JSONString([]byte(`"hello world"`))
	assert.True(t, ok)
	assert.Equal(t, "hello world", s)

	_, ok = JSONString([]byte(`12`))
	assert.False(t, ok)

	assert.JSONEq(t, `{"a":1}`, string(MustCanonicalize(map[string]int{"a": 1})))
}

func BenchmarkCanonicalize(b *testing.B) {
	doc := []byte(`{"name":"Alice","age":30,"tags":["a","b"],"nested":{"z":1.0,"y":[1,2,3]}}`)
	for i := 0; i < b.N; i++ {
		_, _ = Canonicalize(doc)
	}
}
