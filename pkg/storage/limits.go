package storage

import "fmt"

const (
	// DefaultMaxResults is the hard cap on the size of any query result.
	DefaultMaxResults = 100_000

	// DefaultMaxValueSize bounds the canonical size of one property value.
	DefaultMaxValueSize = 1 << 20
)

// Limits carries the result-size and value-size policy of a Datastore.
// Zero fields fall back to the defaults.
type Limits struct {
	// MaxResults caps every query result, including intermediate results of
	// nested queries.
	MaxResults int

	// MaxValueSize bounds the canonical JSON size of a property value.
	MaxValueSize int

	// StrictLimits rejects limit(n) with n above MaxResults instead of
	// clamping it.
	StrictLimits bool
}

// DefaultLimits returns the default policy.
func DefaultLimits() Limits {
	return Limits{MaxResults: DefaultMaxResults, MaxValueSize: DefaultMaxValueSize}
}

// WithDefaults fills zero fields.
func (l Limits) WithDefaults() Limits {
	if l.MaxResults <= 0 {
		l.MaxResults = DefaultMaxResults
	}
	if l.MaxValueSize <= 0 {
		l.MaxValueSize = DefaultMaxValueSize
	}
	return l
}

// Clamp returns the effective size of a limit(n) combinator.
func (l Limits) Clamp(n int) int {
	if n > l.MaxResults {
		return l.MaxResults
	}
	return n
}

func (l Limits) checkLimit(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrLimitExceeded, n)
	}
	if l.StrictLimits && n > l.MaxResults {
		return fmt.Errorf("%w: limit %d above cap %d", ErrLimitExceeded, n, l.MaxResults)
	}
	return nil
}
