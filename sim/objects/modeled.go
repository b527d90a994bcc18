package objects

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/plant-twin/twinsim/sim"
)

var (
	// ErrNoModel is returned when a modeled component is built without a model.
	ErrNoModel = errors.New("no model")

	// ErrModelInputs is returned when a model's input count does not match the
	// component's inputs.
	ErrModelInputs = errors.New("model input count mismatch")
)

// timeWindow is the sliding input window a predictor sees. Each row is
// [timeFraction, input1, ..., inputN], oldest first. Time fractions start at
// 0 and step by 1/length so the newest row is always (length-1)/length.
type timeWindow struct {
	length int
	rows   [][]float64
}

// newTimeWindow builds a window from initial input series, one per input,
// each holding length samples. A nil series is all zeros.
func newTimeWindow(length int, initial [][]float64) (*timeWindow, error) {
	if length < 1 {
		return nil, fmt.Errorf("window length must be >= 1, got %d", length)
	}
	rows := make([][]float64, length)
	for i := range rows {
		row := make([]float64, len(initial)+1)
		row[0] = float64(i) / float64(length)
		for j, series := range initial {
			if series == nil {
				continue
			}
			if len(series) != length {
				return nil, fmt.Errorf("initial series %d has %d samples, want %d", j, len(series), length)
			}
			row[j+1] = series[i]
		}
		rows[i] = row
	}
	return &timeWindow{length: length, rows: rows}, nil
}

// push drops the oldest row, shifts the remaining time fractions down, and
// appends inputs as the newest row.
func (w *timeWindow) push(inputs []float64) {
	rows := w.rows[1:]
	if len(rows) > 0 {
		t0 := rows[0][0]
		for _, row := range rows {
			row[0] -= t0
		}
	}
	row := make([]float64, len(inputs)+1)
	row[0] = float64(w.length-1) / float64(w.length)
	copy(row[1:], inputs)
	w.rows = append(rows, row)
}

// snapshot returns a copy of the rows.
func (w *timeWindow) snapshot() [][]float64 {
	out := make([][]float64, len(w.rows))
	for i, row := range w.rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// postFunc maps a raw prediction and the currently committed output value to
// the next output value.
type postFunc func(prediction []float64, current float64) float64

// ModeledComponent drives one output reference from a predictor. Every tick it
// appends the normalized values of its inputs to its window, asks the model
// for the next output and commits the post-processed result.
//
// Inputs are handles to references owned elsewhere (or to the component's own
// output for feedback). Inputs left nil at construction are bound later,
// either by the owning composite or through named external references.
type ModeledComponent struct {
	model  *sim.Model
	name   string
	output *sim.Reference
	inputs []*sim.Reference
	slots  map[string]int
	window *timeWindow
	post   postFunc
	next   float64
}

func newModeledComponent(model *sim.Model, name string, output *sim.Reference, inputs []*sim.Reference, initial [][]float64, post postFunc) (*ModeledComponent, error) {
	if model == nil || model.Predictor == nil {
		return nil, ErrNoModel
	}
	if model.Inputs != len(inputs) {
		return nil, fmt.Errorf("model %q takes %d inputs, %s has %d: %w", model.ID, model.Inputs, name, len(inputs), ErrModelInputs)
	}
	if initial == nil {
		initial = make([][]float64, len(inputs))
	}
	if len(initial) != len(inputs) {
		return nil, fmt.Errorf("model %q: %d initial series for %d inputs", model.ID, len(initial), len(inputs))
	}
	w, err := newTimeWindow(model.Window, initial)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", model.ID, err)
	}
	return &ModeledComponent{
		model:  model,
		name:   name,
		output: output,
		inputs: inputs,
		window: w,
		post:   post,
		next:   output.Get(),
	}, nil
}

// NewModeledComponent builds a generic modeled sensor. The prediction's first
// element, clamped to [0, 1], is scaled into the output reference's bounds.
func NewModeledComponent(model *sim.Model, name string, output *sim.Reference, inputs []*sim.Reference) (*ModeledComponent, error) {
	lo, hi := output.Min(), output.Max()
	return newModeledComponent(model, name, output, inputs, nil, func(pred []float64, _ float64) float64 {
		return lo + clamp01(pred[0])*(hi-lo)
	})
}

// Step advances the window and computes the next output.
func (m *ModeledComponent) Step() error {
	row := make([]float64, len(m.inputs))
	for i, ref := range m.inputs {
		if ref == nil {
			return fmt.Errorf("%s input %d: %w", m.name, i, sim.ErrNotWired)
		}
		v, err := ref.Normalized()
		if err != nil {
			return fmt.Errorf("%s input %d: %w", m.name, i, err)
		}
		row[i] = v
	}
	m.window.push(row)
	pred, err := m.model.Predictor.Predict(m.window.snapshot())
	if err != nil {
		return fmt.Errorf("%s: model %q: %w", m.name, m.model.ID, err)
	}
	if len(pred) == 0 {
		return fmt.Errorf("%s: model %q returned no output", m.name, m.model.ID)
	}
	m.next = m.post(pred, m.output.Get())
	return nil
}

// CommitReferences publishes the output computed by Step.
func (m *ModeledComponent) CommitReferences() {
	m.output.Update(m.next)
}

// ExposedReferences returns the output reference under the component's name.
func (m *ModeledComponent) ExposedReferences() []sim.NamedReference {
	return []sim.NamedReference{{Name: m.name, Ref: m.output}}
}

// ResolveExternalReferences binds every named input slot. Components built
// without named slots accept an empty map.
func (m *ModeledComponent) ResolveExternalReferences(refs map[string]*sim.Reference) error {
	for name, i := range m.slots {
		ref, ok := refs[name]
		if !ok || ref == nil {
			return fmt.Errorf("%s: %w: %q", m.name, sim.ErrMissingExternalReference, name)
		}
		m.inputs[i] = ref
	}
	return nil
}

// nameInputs exposes inputs 0..len(names)-1 as named external references.
func (m *ModeledComponent) nameInputs(names ...string) *ModeledComponent {
	m.slots = make(map[string]int, len(names))
	for i, name := range names {
		m.slots[name] = i
	}
	return m
}

// Output returns the committed output value.
func (m *ModeledComponent) Output() float64 { return m.output.Get() }

// bind replaces input i.
func (m *ModeledComponent) bind(i int, ref *sim.Reference) { m.inputs[i] = ref }

// === Mixer models ===

const (
	levelMax      = 1000.0
	levelSnap     = 20.0
	temperatureLo = 120.0
	temperatureHi = 165.0
)

// NewLevelReference returns the read-only level reference of a mixer tank.
func NewLevelReference() *sim.Reference { return sim.NewReference(0, 0, levelMax) }

// NewTemperatureReference returns the read-only temperature reference of a
// mixer tank.
func NewTemperatureReference() *sim.Reference {
	return sim.NewReference(temperatureLo+1, temperatureLo, temperatureHi)
}

// NewMixerLevelModel predicts tank level from the two inlet positions, the
// outlet position and the level itself. The level holds while no valve is
// fully open; otherwise it follows the prediction scaled to [0, 1000] and
// snaps to 0 below 20. Nil inputs may be bound later via BindInputs.
func NewMixerLevelModel(model *sim.Model, level, inlet1, inlet2, outlet *sim.Reference) (*ModeledComponent, error) {
	inputs := []*sim.Reference{inlet1, inlet2, outlet, level}
	var m *ModeledComponent
	post := func(pred []float64, current float64) float64 {
		if !anyFullyOpen(m.inputs[:3]) {
			return current
		}
		v := clamp01(pred[0]) * levelMax
		if v < levelSnap {
			return 0
		}
		return v
	}
	m, err := newModeledComponent(model, "Level", level, inputs, nil, post)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewMixerTemperatureModel predicts tank temperature from the valve
// positions, the level and the temperature itself, adds noise drawn from rng
// scaled by noise, and maps the result into [120, 165]. The temperature
// column of the initial window is seeded with small noise.
func NewMixerTemperatureModel(model *sim.Model, temperature, level, inlet1, inlet2, outlet *sim.Reference, rng *rand.Rand, noise float64) (*ModeledComponent, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	if model.Window < 1 {
		return nil, fmt.Errorf("model %q: window length must be >= 1, got %d", model.ID, model.Window)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	inputs := []*sim.Reference{inlet1, inlet2, outlet, level, temperature}
	initial := make([][]float64, len(inputs))
	seed := make([]float64, model.Window)
	for i := range seed {
		seed[i] = rng.Float64() / 100
	}
	initial[len(inputs)-1] = seed

	post := func(pred []float64, _ float64) float64 {
		v := math.Max(0, pred[0]) + noise*rng.Float64()
		return math.Min(v, 1)*(temperatureHi-temperatureLo) + temperatureLo
	}
	return newModeledComponent(model, "Temperature", temperature, inputs, initial, post)
}

// BindInputs sets the valve position inputs of a mixer model built with nil
// handles.
func (m *ModeledComponent) BindInputs(inlet1, inlet2, outlet *sim.Reference) {
	m.bind(0, inlet1)
	m.bind(1, inlet2)
	m.bind(2, outlet)
}

func anyFullyOpen(positions []*sim.Reference) bool {
	for _, p := range positions {
		if p != nil && p.Get() == 100 {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
