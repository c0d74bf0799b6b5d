package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/orneryd/vertexdb/pkg/convert"
)

// Predicate tests a stored property value. Values handed to Match are
// always in canonical form.
//
// The set of predicates is closed: every engine knows how to evaluate (or
// translate) each of them.
type Predicate interface {
	Match(value json.RawMessage) bool
	validate() error
}

// ExistsPredicate matches any stored value.
type ExistsPredicate struct{}

// EqualsPredicate matches values equal to Value after canonicalization, so
// {"a":1,"b":2} equals {"b":2.0,"a":1}.
type EqualsPredicate struct {
	Value json.RawMessage
}

// CompareOp is a numeric comparison operator.
type CompareOp int

const (
	OpLessThan CompareOp = iota
	OpLessOrEqual
	OpGreaterThan
	OpGreaterOrEqual
)

// String returns the SQL spelling of the operator.
func (op CompareOp) String() string {
	switch op {
	case OpLessThan:
		return "<"
	case OpLessOrEqual:
		return "<="
	case OpGreaterThan:
		return ">"
	case OpGreaterOrEqual:
		return ">="
	}
	return fmt.Sprintf("CompareOp(%d)", int(op))
}

// ComparePredicate compares numeric values against Operand. Values that
// are not JSON numbers never match.
type ComparePredicate struct {
	Op      CompareOp
	Operand float64
}

// ContainsPredicate matches string values containing Substring. Values
// that are not JSON strings never match.
type ContainsPredicate struct {
	Substring string
}

// Exists matches owners that have the property at all.
func Exists() Predicate { return ExistsPredicate{} }

// Equals matches the given JSON document.
func Equals(value json.RawMessage) Predicate { return EqualsPredicate{Value: value} }

// LessThan matches numbers below x.
func LessThan(x float64) Predicate { return ComparePredicate{Op: OpLessThan, Operand: x} }

// LessOrEqual matches numbers at or below x.
func LessOrEqual(x float64) Predicate { return ComparePredicate{Op: OpLessOrEqual, Operand: x} }

// GreaterThan matches numbers above x.
func GreaterThan(x float64) Predicate { return ComparePredicate{Op: OpGreaterThan, Operand: x} }

// GreaterOrEqual matches numbers at or above x.
func GreaterOrEqual(x float64) Predicate { return ComparePredicate{Op: OpGreaterOrEqual, Operand: x} }

// Contains matches strings containing s.
func Contains(s string) Predicate { return ContainsPredicate{Substring: s} }

func (ExistsPredicate) Match(json.RawMessage) bool { return true }
func (ExistsPredicate) validate() error            { return nil }

func (p EqualsPredicate) Match(value json.RawMessage) bool {
	canon, err := convert.Canonicalize(p.Value)
	if err != nil {
		return false
	}
	return bytes.Equal(canon, value)
}

func (p EqualsPredicate) validate() error {
	if _, err := convert.Canonicalize(p.Value); err != nil {
		return fmt.Errorf("%w: equals operand: %v", ErrInvalidValue, err)
	}
	return nil
}

// Canonical returns the canonical encoding of the operand.
func (p EqualsPredicate) Canonical() (json.RawMessage, error) {
	canon, err := convert.Canonicalize(p.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: equals operand: %v", ErrInvalidValue, err)
	}
	return canon, nil
}

func (p ComparePredicate) Match(value json.RawMessage) bool {
	f, ok := convert.JSONNumber(value)
	if !ok {
		return false
	}
	switch p.Op {
	case OpLessThan:
		return f < p.Operand
	case OpLessOrEqual:
		return f <= p.Operand
	case OpGreaterThan:
		return f > p.Operand
	case OpGreaterOrEqual:
		return f >= p.Operand
	}
	return false
}

func (p ComparePredicate) validate() error {
	if p.Op < OpLessThan || p.Op > OpGreaterOrEqual {
		return fmt.Errorf("%w: unknown comparison %d", ErrInvalidQuery, int(p.Op))
	}
	if math.IsNaN(p.Operand) || math.IsInf(p.Operand, 0) {
		return fmt.Errorf("%w: comparison operand must be finite", ErrInvalidValue)
	}
	return nil
}

func (p ContainsPredicate) Match(value json.RawMessage) bool {
	s, ok := convert.JSONString(value)
	return ok && strings.Contains(s, p.Substring)
}

func (ContainsPredicate) validate() error { return nil }
