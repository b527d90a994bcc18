package objects

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plant-twin/twinsim/sim"
)

// recordingPredictor returns a fixed output and keeps every window it saw.
type recordingPredictor struct {
	out     []float64
	err     error
	windows [][][]float64
}

func (p *recordingPredictor) Predict(window [][]float64) ([]float64, error) {
	p.windows = append(p.windows, window)
	return p.out, p.err
}

// staticModels serves the same model for every id.
type staticModels struct {
	model *sim.Model
}

func (s staticModels) LoadModel(id string) (*sim.Model, error) {
	m := *s.model
	m.ID = id
	return &m, nil
}

func TestTimeWindow_InitialFractions(t *testing.T) {
	w, err := newTimeWindow(4, [][]float64{{1, 2, 3, 4}, nil})
	require.NoError(t, err)

	assert.Equal(t, [][]float64{
		{0, 1, 0},
		{0.25, 2, 0},
		{0.5, 3, 0},
		{0.75, 4, 0},
	}, w.snapshot())
}

func TestTimeWindow_PushShiftsTime(t *testing.T) {
	w, err := newTimeWindow(4, nil)
	require.NoError(t, err)

	w.push(nil)
	w.push(nil)

	rows := w.snapshot()
	require.Len(t, rows, 4)
	for i, row := range rows {
		assert.InDelta(t, float64(i)*0.25, row[0], 1e-12, "row %d", i)
	}
}

func TestTimeWindow_RejectsBadSeries(t *testing.T) {
	_, err := newTimeWindow(3, [][]float64{{1, 2}})
	assert.Error(t, err)
	_, err = newTimeWindow(0, nil)
	assert.Error(t, err)
}

func TestModeledComponent_StepReadsNormalizedInputs(t *testing.T) {
	// GIVEN a sensor over one writable input in [0, 10] currently at 5
	p := &recordingPredictor{out: []float64{0.25}}
	model := &sim.Model{ID: "m", Window: 2, Inputs: 1, Predictor: p}
	input := sim.NewWritableReference(5, 0, 10)
	output := sim.NewReference(0, 0, 100)
	m, err := NewModeledComponent(model, "Value", output, []*sim.Reference{input})
	require.NoError(t, err)

	// WHEN it steps
	require.NoError(t, m.Step())

	// THEN the predictor saw the shifted window with the normalized input appended
	require.Len(t, p.windows, 1)
	assert.Equal(t, [][]float64{{0, 0}, {0.5, 0.5}}, p.windows[0])
	assert.Equal(t, 0.0, m.Output(), "output changes only on commit")

	// WHEN it commits
	m.CommitReferences()

	// THEN the prediction is scaled into the output bounds
	assert.Equal(t, 25.0, m.Output())
}

func TestModeledComponent_UnwiredInputFails(t *testing.T) {
	model := &sim.Model{ID: "m", Window: 2, Inputs: 1, Predictor: &recordingPredictor{out: []float64{0}}}
	m, err := NewModeledComponent(model, "Value", sim.NewReference(0, 0, 1), []*sim.Reference{nil})
	require.NoError(t, err)
	m.nameInputs("src")

	err = m.Step()
	assert.ErrorIs(t, err, sim.ErrNotWired)

	err = m.ResolveExternalReferences(map[string]*sim.Reference{})
	assert.ErrorIs(t, err, sim.ErrMissingExternalReference)

	require.NoError(t, m.ResolveExternalReferences(map[string]*sim.Reference{"src": sim.NewReference(1, 0, 2)}))
	assert.NoError(t, m.Step())
}

func TestModeledComponent_PredictorErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	model := &sim.Model{ID: "m", Window: 1, Predictor: &recordingPredictor{err: boom}}
	m, err := NewModeledComponent(model, "Value", sim.NewReference(0, 0, 1), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Step(), boom)
}

func TestModeledComponent_DegenerateInputBounds(t *testing.T) {
	model := &sim.Model{ID: "m", Window: 1, Inputs: 1, Predictor: &recordingPredictor{out: []float64{0}}}
	m, err := NewModeledComponent(model, "Value", sim.NewReference(0, 0, 1), []*sim.Reference{sim.NewReference(3, 3, 3)})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Step(), sim.ErrDegenerateBounds)
}

func TestNewModeledComponent_RequiresModel(t *testing.T) {
	_, err := NewModeledComponent(nil, "Value", sim.NewReference(0, 0, 1), nil)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestNewModeledComponent_RejectsInputCountMismatch(t *testing.T) {
	model := &sim.Model{ID: "m", Window: 1, Inputs: 2, Predictor: &recordingPredictor{out: []float64{0}}}

	_, err := NewModeledComponent(model, "Value", sim.NewReference(0, 0, 1), []*sim.Reference{sim.NewReference(0, 0, 1)})

	assert.ErrorIs(t, err, ErrModelInputs)
}

func TestMixerLevelModel_HoldsUntilAValveIsFullyOpen(t *testing.T) {
	p := &recordingPredictor{out: []float64{0.5}}
	model := &sim.Model{ID: "level", Window: 3, Inputs: 4, Predictor: p}
	in1 := sim.NewReference(80, 0, 100)
	in2 := sim.NewReference(0, 0, 100)
	out := sim.NewReference(0, 0, 100)
	level := NewLevelReference()
	m, err := NewMixerLevelModel(model, level, in1, in2, out)
	require.NoError(t, err)

	require.NoError(t, m.Step())
	m.CommitReferences()
	assert.Equal(t, 0.0, level.Get(), "no valve fully open")

	in1.Update(100)
	require.NoError(t, m.Step())
	m.CommitReferences()
	assert.Equal(t, 500.0, level.Get())
}

func TestMixerLevelModel_SnapsSmallLevelsToZero(t *testing.T) {
	model := &sim.Model{ID: "level", Window: 1, Inputs: 4, Predictor: &recordingPredictor{out: []float64{0.015}}}
	level := NewLevelReference()
	m, err := NewMixerLevelModel(model, level, sim.NewReference(0, 0, 100), sim.NewReference(0, 0, 100), sim.NewReference(100, 0, 100))
	require.NoError(t, err)

	require.NoError(t, m.Step())
	m.CommitReferences()

	assert.Equal(t, 0.0, level.Get())
}

func TestMixerTemperatureModel_StaysInRange(t *testing.T) {
	tests := []struct {
		name string
		pred float64
	}{
		{"negative", -3},
		{"inside", 0.5},
		{"above", 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &sim.Model{ID: "temp", Window: 4, Inputs: 5, Predictor: &recordingPredictor{out: []float64{tt.pred}}}
			temp := NewTemperatureReference()
			zero := sim.NewReference(0, 0, 100)
			m, err := NewMixerTemperatureModel(model, temp, NewLevelReference(), zero, zero, zero, rand.New(rand.NewSource(7)), DefaultNoise)
			require.NoError(t, err)

			for i := 0; i < 5; i++ {
				require.NoError(t, m.Step())
				m.CommitReferences()
				assert.GreaterOrEqual(t, temp.Get(), 120.0)
				assert.LessOrEqual(t, temp.Get(), 165.0)
			}
		})
	}
}

func TestMixerTemperatureModel_SeedsTemperatureColumn(t *testing.T) {
	p := &recordingPredictor{out: []float64{0}}
	model := &sim.Model{ID: "temp", Window: 4, Inputs: 5, Predictor: p}
	zero := sim.NewReference(0, 0, 100)
	m, err := NewMixerTemperatureModel(model, NewTemperatureReference(), NewLevelReference(), zero, zero, zero, rand.New(rand.NewSource(7)), 0)
	require.NoError(t, err)

	require.NoError(t, m.Step())

	window := p.windows[0]
	for _, row := range window[:3] {
		assert.Greater(t, row[5], 0.0)
		assert.Less(t, row[5], 0.01)
	}
}
