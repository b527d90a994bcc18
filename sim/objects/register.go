package objects

import (
	"github.com/plant-twin/twinsim/sim/defn"
)

func init() {
	defn.RegisterKind(KindValve, decodeValve)
	defn.RegisterKind(KindMixer, decodeMixer)
	defn.RegisterKind(KindChainedMixer, decodeChainedMixer)
	defn.RegisterKind(KindMixerLevelModel, decodeLevelModel)
	defn.RegisterKind(KindMixerTemperatureModel, decodeTemperatureModel)
	defn.RegisterKind(KindModeledSensor, decodeModeledSensor)
}

func decodeValve(params map[string]any, refs map[string]string) (defn.ObjectDefn, error) {
	var p ValveParams
	if err := defn.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	d := NewValveDefn(p)
	if err := defn.CheckRefMap(KindValve, refs, nil); err != nil {
		return nil, err
	}
	return d, nil
}

// mixerDocument distinguishes an absent noise key from an explicit zero.
type mixerDocument struct {
	LevelModel       string   `yaml:"level_model"`
	TemperatureModel string   `yaml:"temperature_model"`
	RampRate         float64  `yaml:"ramp_rate"`
	Noise            *float64 `yaml:"noise"`
}

func (m mixerDocument) params() MixerParams {
	p := MixerParams{
		LevelModel:       m.LevelModel,
		TemperatureModel: m.TemperatureModel,
		RampRate:         m.RampRate,
		Noise:            DefaultNoise,
	}
	if m.Noise != nil {
		p.Noise = *m.Noise
	}
	return p
}

func decodeMixer(params map[string]any, refs map[string]string) (defn.ObjectDefn, error) {
	var doc mixerDocument
	if err := defn.DecodeParams(params, &doc); err != nil {
		return nil, err
	}
	if err := defn.CheckRefMap(KindMixer, refs, nil); err != nil {
		return nil, err
	}
	return NewMixerDefn(doc.params()), nil
}

func decodeChainedMixer(params map[string]any, refs map[string]string) (defn.ObjectDefn, error) {
	var doc mixerDocument
	if err := defn.DecodeParams(params, &doc); err != nil {
		return nil, err
	}
	return NewChainedMixerDefn(doc.params(), refs)
}

func decodeLevelModel(params map[string]any, refs map[string]string) (defn.ObjectDefn, error) {
	var doc struct {
		Model string `yaml:"model"`
	}
	if err := defn.DecodeParams(params, &doc); err != nil {
		return nil, err
	}
	return NewMixerLevelModelDefn(ModelParams{Model: doc.Model}, refs)
}

func decodeTemperatureModel(params map[string]any, refs map[string]string) (defn.ObjectDefn, error) {
	var doc struct {
		Model string   `yaml:"model"`
		Noise *float64 `yaml:"noise"`
	}
	if err := defn.DecodeParams(params, &doc); err != nil {
		return nil, err
	}
	p := ModelParams{Model: doc.Model, Noise: DefaultNoise}
	if doc.Noise != nil {
		p.Noise = *doc.Noise
	}
	return NewMixerTemperatureModelDefn(p, refs)
}

func decodeModeledSensor(params map[string]any, refs map[string]string) (defn.ObjectDefn, error) {
	var p SensorParams
	if err := defn.DecodeParams(params, &p); err != nil {
		return nil, err
	}
	return NewModeledSensorDefn(p, refs)
}
