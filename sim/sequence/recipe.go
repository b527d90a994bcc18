// Package sequence drives a mixer through a repeating batch recipe using only
// its references: fill from the first inlet, mix, top up from the second
// inlet, mix, drain, and start over.
//
// The sequencer never touches simulation objects directly. It reads and writes
// dotted references through a Plant, which is either a server or a locally
// stepped Simulator.
package sequence

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Phase is one stage of the recipe.
type Phase int

const (
	PhaseFill1 Phase = iota
	PhaseMix1
	PhaseFill2
	PhaseMix2
	PhaseDrain
	PhaseRollover
)

func (p Phase) String() string {
	switch p {
	case PhaseFill1:
		return "fill1"
	case PhaseMix1:
		return "mix1"
	case PhaseFill2:
		return "fill2"
	case PhaseMix2:
		return "mix2"
	case PhaseDrain:
		return "drain"
	case PhaseRollover:
		return "rollover"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Recipe parameterizes the batch. Zero fields take the defaults below.
type Recipe struct {
	// Mixer is the object name whose references are driven.
	Mixer string

	FirstFill  float64 // level at which the first inlet closes
	SecondFill float64 // level at which the second inlet closes
	FirstMix   int     // ticks between the two fills
	SecondMix  int     // ticks between the second fill and draining
}

const (
	DefaultMixer      = "Mixer"
	DefaultFirstFill  = 600.0
	DefaultSecondFill = 980.0
	DefaultFirstMix   = 2
	DefaultSecondMix  = 14
)

func (r Recipe) withDefaults() Recipe {
	if r.Mixer == "" {
		r.Mixer = DefaultMixer
	}
	if r.FirstFill == 0 {
		r.FirstFill = DefaultFirstFill
	}
	if r.SecondFill == 0 {
		r.SecondFill = DefaultSecondFill
	}
	if r.FirstMix == 0 {
		r.FirstMix = DefaultFirstMix
	}
	if r.SecondMix == 0 {
		r.SecondMix = DefaultSecondMix
	}
	return r
}

// Validate checks the recipe after defaults are applied.
func (r Recipe) Validate() error {
	r = r.withDefaults()
	if r.FirstFill <= 0 {
		return fmt.Errorf("first fill level must be positive, got %v", r.FirstFill)
	}
	if r.SecondFill <= r.FirstFill {
		return fmt.Errorf("second fill level (%v) must exceed first fill level (%v)", r.SecondFill, r.FirstFill)
	}
	if r.FirstMix < 0 || r.SecondMix < 0 {
		return fmt.Errorf("mix durations must be non-negative, got %d and %d", r.FirstMix, r.SecondMix)
	}
	return nil
}

// Plant is the reference access the sequencer needs. *server.Server
// implements it; Local adapts a Simulator.
type Plant interface {
	GetReferences(ctx context.Context, names []string) (map[string]float64, error)
	SetReferences(ctx context.Context, mapping map[string]float64) error
}

// Sample is what the sequencer observed at one tick, before acting.
type Sample struct {
	Tick        int64
	Phase       Phase
	Level       float64
	Temperature float64
	Inlet1      float64
	Inlet2      float64
	Outlet      float64
}

// Sequencer is the recipe state machine. It is not safe for concurrent use.
type Sequencer struct {
	recipe Recipe
	phase  Phase
	mixed  int
	cycles int
	tick   int64

	level, temperature, inlet1, inlet2, outlet string

	reads []string
}

// New creates a sequencer at the start of the first fill.
func New(r Recipe) (*Sequencer, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r = r.withDefaults()
	s := &Sequencer{
		recipe:      r,
		level:       r.Mixer + ".Level",
		temperature: r.Mixer + ".Temperature",
		inlet1:      r.Mixer + ".Inlet1",
		inlet2:      r.Mixer + ".Inlet2",
		outlet:      r.Mixer + ".Outlet",
	}
	s.reads = []string{s.level, s.temperature, s.inlet1 + ".Position", s.inlet2 + ".Position", s.outlet + ".Position"}
	return s, nil
}

// Phase returns the current phase.
func (s *Sequencer) Phase() Phase { return s.phase }

// Cycles returns the number of completed batches.
func (s *Sequencer) Cycles() int { return s.cycles }

// Recipe returns the recipe with defaults applied.
func (s *Sequencer) Recipe() Recipe { return s.recipe }

// valve returns the assignments that open or close a valve.
func valve(prefix string, open bool) map[string]float64 {
	v := 0.0
	if open {
		v = 1
	}
	return map[string]float64{prefix + ".OLS": v, prefix + ".CLS": v}
}

// Advance reads the mixer, applies the recipe for the current phase and
// returns what it observed. The caller steps the simulation between calls.
func (s *Sequencer) Advance(ctx context.Context, plant Plant) (Sample, error) {
	values, err := plant.GetReferences(ctx, s.reads)
	if err != nil {
		return Sample{}, fmt.Errorf("reading mixer %s: %w", s.recipe.Mixer, err)
	}
	sample := Sample{
		Tick:        s.tick,
		Phase:       s.phase,
		Level:       values[s.level],
		Temperature: values[s.temperature],
		Inlet1:      values[s.inlet1+".Position"],
		Inlet2:      values[s.inlet2+".Position"],
		Outlet:      values[s.outlet+".Position"],
	}
	s.tick++

	var writes map[string]float64
	switch s.phase {
	case PhaseFill1:
		if sample.Level < s.recipe.FirstFill && sample.Outlet == 0 {
			writes = valve(s.inlet1, true)
		} else if sample.Level >= s.recipe.FirstFill {
			writes = valve(s.inlet1, false)
			s.next(PhaseMix1)
		}
	case PhaseMix1:
		s.mix(s.recipe.FirstMix, PhaseFill2)
	case PhaseFill2:
		if sample.Level < s.recipe.SecondFill && sample.Inlet1 == 0 {
			writes = valve(s.inlet2, true)
		} else if sample.Level >= s.recipe.SecondFill {
			writes = valve(s.inlet2, false)
			s.next(PhaseMix2)
		}
	case PhaseMix2:
		s.mix(s.recipe.SecondMix, PhaseDrain)
	case PhaseDrain:
		if sample.Level > 0 && sample.Inlet2 == 0 {
			writes = valve(s.outlet, true)
		} else if sample.Level == 0 {
			writes = valve(s.outlet, false)
			s.next(PhaseRollover)
		}
	case PhaseRollover:
		s.cycles++
		logrus.Infof("[tick %07d] batch %d complete", sample.Tick, s.cycles)
		s.next(PhaseFill1)
	}

	if writes != nil {
		if err := plant.SetReferences(ctx, writes); err != nil {
			return sample, fmt.Errorf("driving mixer %s: %w", s.recipe.Mixer, err)
		}
	}
	return sample, nil
}

func (s *Sequencer) mix(ticks int, then Phase) {
	s.mixed++
	if s.mixed >= ticks {
		s.next(then)
	}
}

func (s *Sequencer) next(p Phase) {
	logrus.Debugf("[tick %07d] %s -> %s", s.tick-1, s.phase, p)
	s.phase = p
	s.mixed = 0
}
