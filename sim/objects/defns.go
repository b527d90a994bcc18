package objects

import (
	"errors"
	"fmt"

	"github.com/plant-twin/twinsim/sim"
	"github.com/plant-twin/twinsim/sim/defn"
)

// Kind names.
const (
	KindValve                 = "valve"
	KindMixer                 = "mixer"
	KindChainedMixer          = "chained_mixer"
	KindMixerLevelModel       = "mixer_level_model"
	KindMixerTemperatureModel = "mixer_temperature_model"
	KindModeledSensor         = "modeled_sensor"
)

// Default model ids, served by the builtin predictor registry.
const (
	DefaultLevelModel       = "mixer-level-linear"
	DefaultTemperatureModel = "mixer-temp-linear"
)

// ErrNoModelSource is returned when a model-driven object is created without
// a model source.
var ErrNoModelSource = errors.New("no model source")

func loadModel(env defn.Env, id string) (*sim.Model, error) {
	if env.Models == nil {
		return nil, ErrNoModelSource
	}
	m, err := env.Models.LoadModel(id)
	if err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}
	return m, nil
}

// === valve ===

// ValveParams configures a Valve.
type ValveParams struct {
	RampRate float64 `yaml:"ramp_rate"`
}

// ValveDefn builds a Valve.
type ValveDefn struct {
	defn.RefBinding
	params ValveParams
}

// NewValveDefn returns a valve definition. A non-positive ramp rate selects
// DefaultRampRate.
func NewValveDefn(p ValveParams) *ValveDefn {
	if p.RampRate <= 0 {
		p.RampRate = DefaultRampRate
	}
	return &ValveDefn{params: p}
}

func (d *ValveDefn) Kind() string { return KindValve }

func (d *ValveDefn) Params() defn.Params {
	return defn.Params{"ramp_rate": d.params.RampRate}
}

func (d *ValveDefn) ExternalReferences() []defn.ExternalReference { return nil }

func (d *ValveDefn) CreateSimObject(defn.Env) (sim.SimObject, error) {
	return NewValve(d.params.RampRate), nil
}

// === mixer ===

// MixerParams configures Mixer and ChainedMixer.
type MixerParams struct {
	LevelModel       string  `yaml:"level_model"`
	TemperatureModel string  `yaml:"temperature_model"`
	RampRate         float64 `yaml:"ramp_rate"`
	Noise            float64 `yaml:"noise"`
}

func (p MixerParams) withDefaults() MixerParams {
	if p.LevelModel == "" {
		p.LevelModel = DefaultLevelModel
	}
	if p.TemperatureModel == "" {
		p.TemperatureModel = DefaultTemperatureModel
	}
	if p.RampRate <= 0 {
		p.RampRate = DefaultRampRate
	}
	if p.Noise < 0 {
		p.Noise = 0
	}
	return p
}

func (p MixerParams) export() defn.Params {
	return defn.Params{
		"level_model":       p.LevelModel,
		"temperature_model": p.TemperatureModel,
		"ramp_rate":         p.RampRate,
		"noise":             p.Noise,
	}
}

func (p MixerParams) config(env defn.Env) (MixerConfig, error) {
	level, err := loadModel(env, p.LevelModel)
	if err != nil {
		return MixerConfig{}, err
	}
	temperature, err := loadModel(env, p.TemperatureModel)
	if err != nil {
		return MixerConfig{}, err
	}
	return MixerConfig{
		LevelModel:       level,
		TemperatureModel: temperature,
		RampRate:         p.RampRate,
		Noise:            p.Noise,
		RNG:              env.RNG,
	}, nil
}

// MixerDefn builds a Mixer.
type MixerDefn struct {
	defn.RefBinding
	params MixerParams
}

// NewMixerDefn returns a mixer definition. Empty model ids select the builtin
// models. Noise is taken as given; DefaultNoise is applied by document
// decoding when the key is absent.
func NewMixerDefn(p MixerParams) *MixerDefn {
	return &MixerDefn{params: p.withDefaults()}
}

func (d *MixerDefn) Kind() string { return KindMixer }

func (d *MixerDefn) Params() defn.Params { return d.params.export() }

func (d *MixerDefn) ExternalReferences() []defn.ExternalReference { return nil }

func (d *MixerDefn) CreateSimObject(env defn.Env) (sim.SimObject, error) {
	cfg, err := d.params.config(env)
	if err != nil {
		return nil, err
	}
	return NewMixer(cfg)
}

// === chained mixer ===

var chainedMixerExternals = []defn.ExternalReference{
	{Name: ExternalInlet1, Description: "first inlet position", Required: true},
	{Name: ExternalInlet2, Description: "second inlet position", Required: true},
}

// ChainedMixerDefn builds a ChainedMixer.
type ChainedMixerDefn struct {
	defn.RefBinding
	params MixerParams
}

// NewChainedMixerDefn returns a chained mixer definition. refs must map in1
// and in2.
func NewChainedMixerDefn(p MixerParams, refs map[string]string) (*ChainedMixerDefn, error) {
	b, err := defn.NewRefBinding(KindChainedMixer, refs, chainedMixerExternals)
	if err != nil {
		return nil, err
	}
	return &ChainedMixerDefn{RefBinding: b, params: p.withDefaults()}, nil
}

func (d *ChainedMixerDefn) Kind() string { return KindChainedMixer }

func (d *ChainedMixerDefn) Params() defn.Params { return d.params.export() }

func (d *ChainedMixerDefn) ExternalReferences() []defn.ExternalReference {
	return append([]defn.ExternalReference(nil), chainedMixerExternals...)
}

func (d *ChainedMixerDefn) CreateSimObject(env defn.Env) (sim.SimObject, error) {
	cfg, err := d.params.config(env)
	if err != nil {
		return nil, err
	}
	return NewChainedMixer(cfg)
}

// === standalone mixer models ===

// ModelParams names the model of a standalone model object.
type ModelParams struct {
	Model string  `yaml:"model"`
	Noise float64 `yaml:"noise,omitempty"`
}

var levelModelExternals = []defn.ExternalReference{
	{Name: "inlet1", Description: "first inlet position", Required: true},
	{Name: "inlet2", Description: "second inlet position", Required: true},
	{Name: "outlet", Description: "outlet position", Required: true},
}

var temperatureModelExternals = append(append([]defn.ExternalReference(nil), levelModelExternals...),
	defn.ExternalReference{Name: "level", Description: "tank level", Required: true})

// MixerLevelModelDefn builds a standalone level model reading valves owned by
// other objects.
type MixerLevelModelDefn struct {
	defn.RefBinding
	params ModelParams
}

// NewMixerLevelModelDefn returns a level model definition.
func NewMixerLevelModelDefn(p ModelParams, refs map[string]string) (*MixerLevelModelDefn, error) {
	if p.Model == "" {
		p.Model = DefaultLevelModel
	}
	b, err := defn.NewRefBinding(KindMixerLevelModel, refs, levelModelExternals)
	if err != nil {
		return nil, err
	}
	return &MixerLevelModelDefn{RefBinding: b, params: ModelParams{Model: p.Model}}, nil
}

func (d *MixerLevelModelDefn) Kind() string { return KindMixerLevelModel }

func (d *MixerLevelModelDefn) Params() defn.Params { return defn.Params{"model": d.params.Model} }

func (d *MixerLevelModelDefn) ExternalReferences() []defn.ExternalReference {
	return append([]defn.ExternalReference(nil), levelModelExternals...)
}

func (d *MixerLevelModelDefn) CreateSimObject(env defn.Env) (sim.SimObject, error) {
	model, err := loadModel(env, d.params.Model)
	if err != nil {
		return nil, err
	}
	m, err := NewMixerLevelModel(model, NewLevelReference(), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return m.nameInputs("inlet1", "inlet2", "outlet"), nil
}

// MixerTemperatureModelDefn builds a standalone temperature model.
type MixerTemperatureModelDefn struct {
	defn.RefBinding
	params ModelParams
}

// NewMixerTemperatureModelDefn returns a temperature model definition.
func NewMixerTemperatureModelDefn(p ModelParams, refs map[string]string) (*MixerTemperatureModelDefn, error) {
	if p.Model == "" {
		p.Model = DefaultTemperatureModel
	}
	if p.Noise < 0 {
		p.Noise = 0
	}
	b, err := defn.NewRefBinding(KindMixerTemperatureModel, refs, temperatureModelExternals)
	if err != nil {
		return nil, err
	}
	return &MixerTemperatureModelDefn{RefBinding: b, params: p}, nil
}

func (d *MixerTemperatureModelDefn) Kind() string { return KindMixerTemperatureModel }

func (d *MixerTemperatureModelDefn) Params() defn.Params {
	return defn.Params{"model": d.params.Model, "noise": d.params.Noise}
}

func (d *MixerTemperatureModelDefn) ExternalReferences() []defn.ExternalReference {
	return append([]defn.ExternalReference(nil), temperatureModelExternals...)
}

func (d *MixerTemperatureModelDefn) CreateSimObject(env defn.Env) (sim.SimObject, error) {
	model, err := loadModel(env, d.params.Model)
	if err != nil {
		return nil, err
	}
	m, err := NewMixerTemperatureModel(model, NewTemperatureReference(), nil, nil, nil, nil, env.RNG, d.params.Noise)
	if err != nil {
		return nil, err
	}
	return m.nameInputs("inlet1", "inlet2", "outlet", "level"), nil
}

// === modeled sensor ===

// SensorParams configures a generic modeled sensor. Inputs name the external
// references feeding the model, in column order; with Feedback the sensor's
// own output is appended as the last column.
type SensorParams struct {
	Model    string   `yaml:"model"`
	Inputs   []string `yaml:"inputs"`
	Output   string   `yaml:"output"`
	Min      float64  `yaml:"min"`
	Max      float64  `yaml:"max"`
	Feedback bool     `yaml:"feedback"`
}

// ModeledSensorDefn builds a generic ModeledComponent.
type ModeledSensorDefn struct {
	defn.RefBinding
	params SensorParams
}

// NewModeledSensorDefn returns a modeled sensor definition.
func NewModeledSensorDefn(p SensorParams, refs map[string]string) (*ModeledSensorDefn, error) {
	if p.Model == "" {
		return nil, fmt.Errorf("%s: model is required", KindModeledSensor)
	}
	if len(p.Inputs) == 0 && !p.Feedback {
		return nil, fmt.Errorf("%s: at least one input is required", KindModeledSensor)
	}
	if p.Output == "" {
		p.Output = "Value"
	}
	if p.Max <= p.Min {
		return nil, fmt.Errorf("%s: max (%g) must exceed min (%g)", KindModeledSensor, p.Max, p.Min)
	}
	seen := make(map[string]bool, len(p.Inputs))
	for _, in := range p.Inputs {
		if in == "" || seen[in] {
			return nil, fmt.Errorf("%s: input names must be unique and non-empty, got %q", KindModeledSensor, in)
		}
		seen[in] = true
	}
	p.Inputs = append([]string(nil), p.Inputs...)
	d := &ModeledSensorDefn{params: p}
	b, err := defn.NewRefBinding(KindModeledSensor, refs, d.ExternalReferences())
	if err != nil {
		return nil, err
	}
	d.RefBinding = b
	return d, nil
}

func (d *ModeledSensorDefn) Kind() string { return KindModeledSensor }

func (d *ModeledSensorDefn) Params() defn.Params {
	inputs := make([]any, len(d.params.Inputs))
	for i, in := range d.params.Inputs {
		inputs[i] = in
	}
	return defn.Params{
		"model":    d.params.Model,
		"inputs":   inputs,
		"output":   d.params.Output,
		"min":      d.params.Min,
		"max":      d.params.Max,
		"feedback": d.params.Feedback,
	}
}

func (d *ModeledSensorDefn) ExternalReferences() []defn.ExternalReference {
	out := make([]defn.ExternalReference, len(d.params.Inputs))
	for i, in := range d.params.Inputs {
		out[i] = defn.ExternalReference{Name: in, Description: fmt.Sprintf("model input column %d", i+1), Required: true}
	}
	return out
}

func (d *ModeledSensorDefn) CreateSimObject(env defn.Env) (sim.SimObject, error) {
	model, err := loadModel(env, d.params.Model)
	if err != nil {
		return nil, err
	}
	output := sim.NewReference(d.params.Min, d.params.Min, d.params.Max)
	inputs := make([]*sim.Reference, len(d.params.Inputs))
	if d.params.Feedback {
		inputs = append(inputs, output)
	}
	m, err := NewModeledComponent(model, d.params.Output, output, inputs)
	if err != nil {
		return nil, err
	}
	return m.nameInputs(d.params.Inputs...), nil
}
