// Package convert provides value conversion helpers for VertexDB.
//
// Property values are opaque JSON documents. This package turns them into
// their canonical byte form (so that equal documents compare equal byte for
// byte in every storage engine) and extracts the scalar views that query
// predicates need.
//
// Key Functions:
//   - Canonicalize: Normalize a JSON document
//   - JSONNumber / JSONString: Scalar views of a canonical document
//
// Example:
//
//	canon, err := convert.Canonicalize([]byte(`{"b": 1.0, "a": [true]}`))
//	// canon == `{"a":[true],"b":1}`
//
//	if f, ok := convert.JSONNumber(canon); ok {
//		// canon was a number
//	}
package convert

import (
	"encoding/json"
	"strconv"
)

// JSONNumber returns the numeric value of a JSON document that is a single
// number. Any other document (including a string holding digits) yields
// (0, false), as does a number outside the float64 range.
func JSONNumber(raw []byte) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// JSONString returns the decoded value of a JSON document that is a single
// string.
func JSONString(raw []byte) (string, bool) {
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
