// Package objects implements the concrete simulation object kinds: valves,
// model-driven components, and the mixer composites built from them.
//
// Every kind comes in two halves: the sim.SimObject that steps, and an
// ObjectDefn (see defns.go) that describes how to build it. register.go makes
// every kind decodable from definition documents.
package objects

import (
	"math"

	"github.com/plant-twin/twinsim/sim"
)

// DefaultRampRate is the position change per tick, in percent, of a valve
// that does not configure one.
const DefaultRampRate = 20.0

// Valve is a ramping valve. It opens while both its OLS and CLS control
// signals are nonzero and closes otherwise, moving its Position by the ramp
// rate every tick, clamped to [0, 100].
type Valve struct {
	rate     float64
	position float64
	next     float64

	positionRef *sim.Reference
	ols         *sim.Reference
	cls         *sim.Reference
}

// NewValve creates a closed valve. A non-positive rate selects DefaultRampRate.
func NewValve(rate float64) *Valve {
	if rate <= 0 {
		rate = DefaultRampRate
	}
	return &Valve{
		rate:        rate,
		positionRef: sim.NewReference(0, 0, 100),
		ols:         sim.NewWritableReference(0, 0, 1),
		cls:         sim.NewWritableReference(0, 0, 1),
	}
}

// Step computes the next position from the current control signals.
func (v *Valve) Step() error {
	if v.ols.Get() != 0 && v.cls.Get() != 0 {
		v.next = math.Min(100, v.position+v.rate)
	} else {
		v.next = math.Max(0, v.position-v.rate)
	}
	return nil
}

// CommitReferences publishes the position computed by Step.
func (v *Valve) CommitReferences() {
	v.position = v.next
	v.positionRef.Update(v.position)
}

// ExposedReferences returns Position, OLS and CLS.
func (v *Valve) ExposedReferences() []sim.NamedReference {
	return []sim.NamedReference{
		{Name: "Position", Ref: v.positionRef},
		{Name: "OLS", Ref: v.ols},
		{Name: "CLS", Ref: v.cls},
	}
}

// ResolveExternalReferences accepts no external references.
func (v *Valve) ResolveExternalReferences(map[string]*sim.Reference) error { return nil }

// Position returns the committed position.
func (v *Valve) Position() float64 { return v.position }

// PositionRef returns the read-only position reference.
func (v *Valve) PositionRef() *sim.Reference { return v.positionRef }
