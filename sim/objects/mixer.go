package objects

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/plant-twin/twinsim/sim"
)

// DefaultNoise scales the temperature noise added every tick.
const DefaultNoise = 0.01

// MixerConfig configures the mixer composites.
type MixerConfig struct {
	LevelModel       *sim.Model
	TemperatureModel *sim.Model
	RampRate         float64
	Noise            float64
	RNG              *rand.Rand
}

// Mixer is a tank with two inlet valves, an outlet valve, and level and
// temperature models reading the valves and each other.
type Mixer struct {
	inlet1      *Valve
	inlet2      *Valve
	outlet      *Valve
	level       *ModeledComponent
	temperature *ModeledComponent
}

// NewMixer builds a self-contained mixer.
func NewMixer(cfg MixerConfig) (*Mixer, error) {
	m := &Mixer{
		inlet1: NewValve(cfg.RampRate),
		inlet2: NewValve(cfg.RampRate),
		outlet: NewValve(cfg.RampRate),
	}
	levelRef := NewLevelReference()
	level, err := NewMixerLevelModel(cfg.LevelModel, levelRef,
		m.inlet1.PositionRef(), m.inlet2.PositionRef(), m.outlet.PositionRef())
	if err != nil {
		return nil, fmt.Errorf("level model: %w", err)
	}
	temperature, err := NewMixerTemperatureModel(cfg.TemperatureModel, NewTemperatureReference(), levelRef,
		m.inlet1.PositionRef(), m.inlet2.PositionRef(), m.outlet.PositionRef(), cfg.RNG, cfg.Noise)
	if err != nil {
		return nil, fmt.Errorf("temperature model: %w", err)
	}
	m.level, m.temperature = level, temperature
	return m, nil
}

func (m *Mixer) children() []sim.SimObject {
	return []sim.SimObject{m.inlet1, m.inlet2, m.outlet, m.level, m.temperature}
}

// Step steps every valve, then both models.
func (m *Mixer) Step() error {
	return stepAll(m.children())
}

// CommitReferences commits every child.
func (m *Mixer) CommitReferences() {
	for _, c := range m.children() {
		c.CommitReferences()
	}
}

// ExposedReferences returns Level, Temperature and the Inlet1, Inlet2 and
// Outlet valve references.
func (m *Mixer) ExposedReferences() []sim.NamedReference {
	refs := append(m.level.ExposedReferences(), m.temperature.ExposedReferences()...)
	refs = append(refs, sim.Prefixed("Inlet1", m.inlet1.ExposedReferences())...)
	refs = append(refs, sim.Prefixed("Inlet2", m.inlet2.ExposedReferences())...)
	return append(refs, sim.Prefixed("Outlet", m.outlet.ExposedReferences())...)
}

// ResolveExternalReferences accepts no external references.
func (m *Mixer) ResolveExternalReferences(map[string]*sim.Reference) error { return nil }

// ChainedMixer is a mixer fed by two references owned elsewhere, typically
// the outlet positions of upstream mixers. It owns only its outlet valve.
type ChainedMixer struct {
	outlet      *Valve
	level       *ModeledComponent
	temperature *ModeledComponent
	wired       bool
}

// External reference names of ChainedMixer.
const (
	ExternalInlet1 = "in1"
	ExternalInlet2 = "in2"
)

// NewChainedMixer builds a chained mixer. It cannot step until
// ResolveExternalReferences has bound both inlets.
func NewChainedMixer(cfg MixerConfig) (*ChainedMixer, error) {
	m := &ChainedMixer{outlet: NewValve(cfg.RampRate)}
	levelRef := NewLevelReference()
	level, err := NewMixerLevelModel(cfg.LevelModel, levelRef, nil, nil, m.outlet.PositionRef())
	if err != nil {
		return nil, fmt.Errorf("level model: %w", err)
	}
	temperature, err := NewMixerTemperatureModel(cfg.TemperatureModel, NewTemperatureReference(), levelRef,
		nil, nil, m.outlet.PositionRef(), cfg.RNG, cfg.Noise)
	if err != nil {
		return nil, fmt.Errorf("temperature model: %w", err)
	}
	m.level, m.temperature = level, temperature
	return m, nil
}

// Step steps the outlet valve, then both models.
func (m *ChainedMixer) Step() error {
	if !m.wired {
		return sim.ErrNotWired
	}
	return stepAll([]sim.SimObject{m.outlet, m.level, m.temperature})
}

// CommitReferences commits every child.
func (m *ChainedMixer) CommitReferences() {
	m.outlet.CommitReferences()
	m.level.CommitReferences()
	m.temperature.CommitReferences()
}

// ExposedReferences returns Level, Temperature and the Outlet valve
// references. The inlets belong to their owners and are not re-exported.
func (m *ChainedMixer) ExposedReferences() []sim.NamedReference {
	refs := append(m.level.ExposedReferences(), m.temperature.ExposedReferences()...)
	return append(refs, sim.Prefixed("Outlet", m.outlet.ExposedReferences())...)
}

// ResolveExternalReferences binds in1 and in2 to both models.
func (m *ChainedMixer) ResolveExternalReferences(refs map[string]*sim.Reference) error {
	in1, ok1 := refs[ExternalInlet1]
	in2, ok2 := refs[ExternalInlet2]
	if !ok1 || !ok2 || in1 == nil || in2 == nil {
		return fmt.Errorf("chained mixer: %w: need %q and %q", sim.ErrMissingExternalReference, ExternalInlet1, ExternalInlet2)
	}
	m.level.BindInputs(in1, in2, m.outlet.PositionRef())
	m.temperature.BindInputs(in1, in2, m.outlet.PositionRef())
	m.wired = true
	return nil
}

func stepAll(objects []sim.SimObject) error {
	var errs []error
	for _, o := range objects {
		if err := o.Step(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
