// Package estimator predicts pressure-exchanger power savings and power cost
// savings for a reverse-osmosis operating point.
//
// The estimate blends two lookups over the reference dataset:
//  1. Nearest neighbor: the savings of the single closest reference row
//  2. k-NN smoothing: an inverse-distance weighted mean over the k closest rows
//
// The final value is alpha*nearest + (1-alpha)*smoothed for each output.
//
// Distance is plain Euclidean distance in the (TDS, flow) plane. The axes are
// not rescaled, so TDS differences dominate when its numeric range is larger;
// changing that would change which rows are selected.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/HatiCode/pxsavings/pkg/dataset"
)

// Epsilon is added to every distance before inverting it into a weight, so an
// exact match gets weight 1/Epsilon instead of dividing by zero.
const Epsilon = 1e-6

const (
	DefaultK     = 5
	DefaultAlpha = 0.6
)

var (
	// ErrInvalidInput is matched by errors for non-finite query values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidParams is matched by errors for out-of-range K or Alpha.
	ErrInvalidParams = errors.New("invalid estimator parameters")
)

// InvalidInputError reports the query field that was rejected.
type InvalidInputError struct {
	Field string
	Value float64
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s must be a finite number, got %v", e.Field, e.Value)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// Params are the tuning knobs of the hybrid estimate.
type Params struct {
	// K is the number of closest rows averaged by the smoothing step.
	// Fewer rows are used when the dataset is smaller than K.
	K int

	// Alpha is the weight of the nearest-neighbor value in the blend, in [0, 1].
	Alpha float64
}

// DefaultParams returns K=5, Alpha=0.6.
func DefaultParams() Params {
	return Params{K: DefaultK, Alpha: DefaultAlpha}
}

// Validate checks that K is positive and Alpha lies in [0, 1].
func (p Params) Validate() error {
	if p.K < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidParams, p.K)
	}
	if math.IsNaN(p.Alpha) || p.Alpha < 0 || p.Alpha > 1 {
		return fmt.Errorf("%w: alpha must be in [0, 1], got %v", ErrInvalidParams, p.Alpha)
	}
	return nil
}

// Savings is a pair of estimated outputs.
type Savings struct {
	PowerSavings float64 `json:"px_power_savings"`
	CostSavings  float64 `json:"power_cost_savings"`
}

// Result holds the blended estimate and the two values it was blended from.
type Result struct {
	Final    Savings `json:"final_prediction"`
	Nearest  Savings `json:"nearest_neighbor"`
	Smoothed Savings `json:"knn_smoothing"`
}

// Estimate computes the hybrid estimate for (tds, flow).
//
// It scans the whole store on every call and keeps no state, so it is safe to
// call concurrently with a shared store.
func Estimate(store *dataset.Store, tds, flow float64, p Params) (Result, error) {
	if err := checkQuery(tds, flow); err != nil {
		return Result{}, err
	}
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if store == nil || store.Len() == 0 {
		return Result{}, errors.New("estimator: empty dataset")
	}

	ranked := rank(store, tds, flow)
	nearest := savingsOf(store.At(argmin(ranked)))
	smoothed := smooth(store, ranked, p.K)

	return Result{
		Final:    blend(nearest, smoothed, p.Alpha),
		Nearest:  nearest,
		Smoothed: smoothed,
	}, nil
}

// Nearest returns the savings of the reference row closest to (tds, flow).
// Ties go to the row that appears first in the store.
func Nearest(store *dataset.Store, tds, flow float64) (Savings, error) {
	if err := checkQuery(tds, flow); err != nil {
		return Savings{}, err
	}
	if store == nil || store.Len() == 0 {
		return Savings{}, errors.New("estimator: empty dataset")
	}
	return savingsOf(store.At(argmin(rank(store, tds, flow)))), nil
}

// Smooth returns the inverse-distance weighted mean savings of the k rows
// closest to (tds, flow), or of all rows if the store holds fewer than k.
func Smooth(store *dataset.Store, tds, flow float64, k int) (Savings, error) {
	if err := checkQuery(tds, flow); err != nil {
		return Savings{}, err
	}
	if k < 1 {
		return Savings{}, fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidParams, k)
	}
	if store == nil || store.Len() == 0 {
		return Savings{}, errors.New("estimator: empty dataset")
	}
	return smooth(store, rank(store, tds, flow), k), nil
}

func checkQuery(tds, flow float64) error {
	if math.IsNaN(tds) || math.IsInf(tds, 0) {
		return &InvalidInputError{Field: "tds", Value: tds}
	}
	if math.IsNaN(flow) || math.IsInf(flow, 0) {
		return &InvalidInputError{Field: "flow", Value: flow}
	}
	return nil
}

// neighbor is a row index with its distance to the query.
type neighbor struct {
	index    int
	distance float64
}

// rank returns one neighbor per row, in store order.
func rank(store *dataset.Store, tds, flow float64) []neighbor {
	out := make([]neighbor, store.Len())
	for i := range out {
		r := store.At(i)
		out[i] = neighbor{index: i, distance: math.Hypot(r.TDS-tds, r.Flow-flow)}
	}
	return out
}

// argmin returns the store index of the first neighbor with minimal distance.
func argmin(ns []neighbor) int {
	best := 0
	for i := 1; i < len(ns); i++ {
		if ns[i].distance < ns[best].distance {
			best = i
		}
	}
	return ns[best].index
}

func smooth(store *dataset.Store, ranked []neighbor, k int) Savings {
	sorted := slices.Clone(ranked)
	slices.SortStableFunc(sorted, func(a, b neighbor) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		default:
			return 0
		}
	})
	if k < len(sorted) {
		sorted = sorted[:k]
	}

	var wsum, power, cost float64
	for _, n := range sorted {
		w := 1 / (n.distance + Epsilon)
		r := store.At(n.index)
		wsum += w
		power += w * r.PowerSavings
		cost += w * r.CostSavings
	}

	// Only reachable when every selected distance overflowed to +Inf.
	if wsum == 0 {
		return savingsOf(store.At(sorted[0].index))
	}

	return Savings{PowerSavings: power / wsum, CostSavings: cost / wsum}
}

func blend(nearest, smoothed Savings, alpha float64) Savings {
	return Savings{
		PowerSavings: alpha*nearest.PowerSavings + (1-alpha)*smoothed.PowerSavings,
		CostSavings:  alpha*nearest.CostSavings + (1-alpha)*smoothed.CostSavings,
	}
}

func savingsOf(r dataset.Row) Savings {
	return Savings{PowerSavings: r.PowerSavings, CostSavings: r.CostSavings}
}
