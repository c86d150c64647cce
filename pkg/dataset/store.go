// Package dataset provides the reference table used for savings estimation.
//
// A Store is an ordered, immutable collection of reference rows. It is built
// once at process start (see Load) and then shared read-only by any number of
// concurrent estimators without locking.
package dataset

import (
	"fmt"
	"math"
)

// Row is a single reference measurement: the permeate TDS and permeate flow
// that were observed, and the savings that were recorded for them.
type Row struct {
	TDS          float64 `json:"tds"`
	Flow         float64 `json:"flow"`
	PowerSavings float64 `json:"power_savings"`
	CostSavings  float64 `json:"cost_savings"`
}

// Store holds the reference rows in their original order.
// A Store is never mutated after construction.
type Store struct {
	rows   []Row
	source string
}

// New creates a Store from rows. The slice is copied so later changes by the
// caller are not observed. source is a free-form description of where the
// rows came from and is only used for logging.
//
// Returns a Corrupt LoadError if rows is empty or if any field is NaN or Inf.
func New(rows []Row, source string) (*Store, error) {
	if len(rows) == 0 {
		return nil, &LoadError{Reason: Corrupt, Location: source, Err: fmt.Errorf("%w: dataset has no rows", ErrCorrupt)}
	}

	for i, r := range rows {
		if err := r.validate(); err != nil {
			return nil, &LoadError{Reason: Corrupt, Location: source, Err: fmt.Errorf("%w: row %d: %v", ErrCorrupt, i, err)}
		}
	}

	cp := make([]Row, len(rows))
	copy(cp, rows)

	return &Store{rows: cp, source: source}, nil
}

func (r Row) validate() error {
	fields := [...]struct {
		name  string
		value float64
	}{
		{"tds", r.TDS},
		{"flow", r.Flow},
		{"power_savings", r.PowerSavings},
		{"cost_savings", r.CostSavings},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%s must be finite, got %v", f.name, f.value)
		}
	}
	return nil
}

// Len returns the number of rows.
func (s *Store) Len() int {
	return len(s.rows)
}

// At returns the i-th row in load order. It panics if i is out of range.
func (s *Store) At(i int) Row {
	return s.rows[i]
}

// Rows returns a copy of all rows in load order.
func (s *Store) Rows() []Row {
	cp := make([]Row, len(s.rows))
	copy(cp, s.rows)
	return cp
}

// Source returns the location the store was loaded from.
func (s *Store) Source() string {
	return s.source
}
