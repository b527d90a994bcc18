package sim

import "errors"

var (
	// ErrDegenerateBounds is returned by Normalized when a reference has max == min.
	ErrDegenerateBounds = errors.New("reference bounds are degenerate (max == min)")
	// ErrReadOnly is returned by Set on a read-only reference. The simulator
	// reports it to callers as *ReadOnlyViolationError.
	ErrReadOnly = errors.New("reference is read-only")
)

// Reference is a named, bounded scalar cell. It is the unit of communication
// between simulation objects.
//
// Each Reference is created and owned by exactly one SimObject. Other objects
// hold the pointer as a non-owning handle obtained through the simulator's
// reference namespace. Min and max are advisory: neither Set nor Update clamps.
type Reference struct {
	value    float64
	min      float64
	max      float64
	readOnly bool
}

// NewReference creates a read-only reference. Read-only references can only be
// changed by their owner through Update.
func NewReference(value, min, max float64) *Reference {
	return &Reference{value: value, min: min, max: max, readOnly: true}
}

// NewWritableReference creates a reference that external callers may Set.
func NewWritableReference(value, min, max float64) *Reference {
	return &Reference{value: value, min: min, max: max}
}

// Get returns the raw value.
func (r *Reference) Get() float64 { return r.value }

// Normalized returns (value-min)/(max-min).
func (r *Reference) Normalized() (float64, error) {
	if r.max == r.min {
		return 0, ErrDegenerateBounds
	}
	return (r.value - r.min) / (r.max - r.min), nil
}

// Set is the caller-facing mutator. It fails with ErrReadOnly on a read-only
// reference and never clamps.
func (r *Reference) Set(v float64) error {
	if r.readOnly {
		return ErrReadOnly
	}
	r.value = v
	return nil
}

// Update stores v regardless of the read-only flag. Only the owning object
// calls Update, from CommitReferences.
func (r *Reference) Update(v float64) { r.value = v }

func (r *Reference) Min() float64 { return r.min }

func (r *Reference) Max() float64 { return r.max }

func (r *Reference) ReadOnly() bool { return r.readOnly }
