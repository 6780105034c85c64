package slice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"slicesim/internal/telemetry"
)

// ratioTolerance is how far the allocation ratios may sum away from one.
const ratioTolerance = 0.01

// ErrUnknownSlice is returned when a slice name is not served by the router.
var ErrUnknownSlice = errors.New("unknown slice")

// Ratios are the fixed traffic shares of each slice.
type Ratios struct {
	EMBB  float64 `yaml:"embb" json:"embb"`
	URLLC float64 `yaml:"urllc" json:"urllc"`
	MMTC  float64 `yaml:"mmtc" json:"mmtc"`
}

// DefaultRatios returns the 40/30/30 split.
func DefaultRatios() Ratios {
	return Ratios{EMBB: 0.4, URLLC: 0.3, MMTC: 0.3}
}

// Validate checks that ratios are non-negative and sum to one.
func (r Ratios) Validate() error {
	if r.EMBB < 0 || r.URLLC < 0 || r.MMTC < 0 {
		return fmt.Errorf("allocation ratios must be non-negative: %+v", r)
	}
	if sum := r.EMBB + r.URLLC + r.MMTC; math.Abs(sum-1) > ratioTolerance {
		return fmt.Errorf("allocation ratios sum to %.3f, want 1", sum)
	}
	return nil
}

// Allocation is the per-slice packet split of one tick.
type Allocation struct {
	EMBB  int64 `json:"embb"`
	URLLC int64 `json:"urllc"`
	MMTC  int64 `json:"mmtc"`
}

// Total returns the packets allocated across all slices.
func (a Allocation) Total() int64 { return a.EMBB + a.URLLC + a.MMTC }

// For returns the allocation of a named slice.
func (a Allocation) For(slice string) int64 {
	switch slice {
	case telemetry.SliceEMBB:
		return a.EMBB
	case telemetry.SliceURLLC:
		return a.URLLC
	case telemetry.SliceMMTC:
		return a.MMTC
	}
	return 0
}

// ProcessingError reports a slice model that failed mid tick.
type ProcessingError struct {
	Slice string
	Cause any
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("slice %s failed: %v", e.Slice, e.Cause)
}

// Router splits tick traffic across the slices and runs them in parallel.
// Models are stateless so one router serves every run.
type Router struct {
	ratios Ratios
	units  []*Unit
}

// NewRouter validates ratios and wraps each model in a health tracked Unit.
func NewRouter(ratios Ratios, models ...Model) (*Router, error) {
	if err := ratios.Validate(); err != nil {
		return nil, err
	}
	if len(models) == 0 {
		models = DefaultParams().Models()
	}
	r := &Router{ratios: ratios}
	for _, m := range models {
		r.units = append(r.units, NewUnit(m))
	}
	return r, nil
}

// Ratios returns the configured split.
func (r *Router) Ratios() Ratios { return r.ratios }

// Allocate splits volume by the ratios. URLLC and mMTC receive the floor of
// their share; eMBB absorbs the remainder so the split sums to volume.
func (r *Router) Allocate(volume int64) Allocation {
	if volume <= 0 {
		return Allocation{}
	}
	a := Allocation{
		URLLC: int64(math.Floor(float64(volume) * r.ratios.URLLC)),
		MMTC:  int64(math.Floor(float64(volume) * r.ratios.MMTC)),
	}
	if a.URLLC+a.MMTC > volume {
		a.MMTC = volume - a.URLLC
	}
	a.EMBB = volume - a.URLLC - a.MMTC
	return a
}

// Process runs every slice on its allocation concurrently and returns the
// metrics keyed by slice name. A panicking model yields a ProcessingError.
func (r *Router) Process(ctx context.Context, streams *Streams, a Allocation) (map[string]telemetry.SliceMetrics, error) {
	results := make([]telemetry.SliceMetrics, len(r.units))
	g, ctx := errgroup.WithContext(ctx)
	for i, u := range r.units {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = &ProcessingError{Slice: u.Name(), Cause: fmt.Sprintf("%v\n%s", rec, debug.Stack())}
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = u.Process(streams.For(u.Name()), a.For(u.Name()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]telemetry.SliceMetrics, len(results))
	for _, m := range results {
		out[m.Slice] = m
	}
	return out, nil
}

// Unit returns the health tracked unit for a slice.
func (r *Router) Unit(slice string) (*Unit, error) {
	for _, u := range r.units {
		if u.Name() == slice {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSlice, slice)
}

// Health reports every slice unit in routing order.
func (r *Router) Health() []Health {
	out := make([]Health, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u.Health())
	}
	return out
}
