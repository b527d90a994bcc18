package predictor

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/plant-twin/twinsim/sim"
)

//go:embed models.yaml
var builtinModels []byte

// Registry is the YAML model registry. It implements sim.ModelSource.
type Registry struct {
	Version string      `yaml:"version"`
	Models  []ModelSpec `yaml:"models"`
}

// ModelSpec describes one registered model.
type ModelSpec struct {
	ID          string    `yaml:"id"`
	Type        string    `yaml:"type"`
	Window      int       `yaml:"window"`
	Inputs      int       `yaml:"inputs"` // input columns, excluding the time column
	Bias        float64   `yaml:"bias,omitempty"`
	Weights     []float64 `yaml:"weights,omitempty"`      // linear: inputs+1 entries, time first
	MeanWeights []float64 `yaml:"mean_weights,omitempty"` // linear: optional, inputs+1 entries
	Column      int       `yaml:"column,omitempty"`       // persistence: echoed column
}

// validModelTypes is the set of recognized model types.
var validModelTypes = map[string]bool{"linear": true, "persistence": true}

// LoadRegistry reads and parses a YAML model registry file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&reg); err != nil {
		return nil, fmt.Errorf("parsing model registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Builtin returns the registry embedded in the binary. It holds the default
// mixer level and temperature models.
func Builtin() *Registry {
	reg, err := ParseRegistry(builtinModels)
	if err != nil {
		panic(fmt.Sprintf("builtin model registry is invalid: %v", err))
	}
	return reg
}

// Validate checks ids, types and coefficient shapes.
func (r *Registry) Validate() error {
	seen := make(map[string]bool, len(r.Models))
	for i, m := range r.Models {
		prefix := fmt.Sprintf("models[%d]", i)
		if m.ID == "" {
			return fmt.Errorf("%s: id is required", prefix)
		}
		if seen[m.ID] {
			return fmt.Errorf("%s: duplicate model id %q", prefix, m.ID)
		}
		seen[m.ID] = true
		if !validModelTypes[m.Type] {
			return fmt.Errorf("%s: unknown model type %q; valid: linear, persistence", prefix, m.Type)
		}
		if m.Window < 1 {
			return fmt.Errorf("%s: window must be >= 1, got %d", prefix, m.Window)
		}
		if m.Inputs < 1 {
			return fmt.Errorf("%s: inputs must be >= 1, got %d", prefix, m.Inputs)
		}
		switch m.Type {
		case "linear":
			if len(m.Weights) != m.Inputs+1 {
				return fmt.Errorf("%s: linear model needs %d weights (time + inputs), got %d", prefix, m.Inputs+1, len(m.Weights))
			}
			if len(m.MeanWeights) != 0 && len(m.MeanWeights) != m.Inputs+1 {
				return fmt.Errorf("%s: mean_weights needs %d entries, got %d", prefix, m.Inputs+1, len(m.MeanWeights))
			}
		case "persistence":
			if m.Column < 0 || m.Column > m.Inputs {
				return fmt.Errorf("%s: column must be in [0, %d], got %d", prefix, m.Inputs, m.Column)
			}
		}
	}
	return nil
}

// Merge returns a registry holding r's models followed by other's; other's
// entries replace r's entries with the same id.
func (r *Registry) Merge(other *Registry) *Registry {
	out := &Registry{Version: r.Version}
	index := make(map[string]int)
	for _, m := range r.Models {
		index[m.ID] = len(out.Models)
		out.Models = append(out.Models, m)
	}
	for _, m := range other.Models {
		if i, ok := index[m.ID]; ok {
			logrus.Infof("model %q overridden by registry version %q", m.ID, other.Version)
			out.Models[i] = m
			continue
		}
		index[m.ID] = len(out.Models)
		out.Models = append(out.Models, m)
	}
	return out
}

// LoadModel implements sim.ModelSource.
func (r *Registry) LoadModel(id string) (*sim.Model, error) {
	for _, m := range r.Models {
		if m.ID != id {
			continue
		}
		var p sim.Predictor
		switch m.Type {
		case "linear":
			p = &Linear{Bias: m.Bias, Weights: m.Weights, MeanWeights: m.MeanWeights}
		case "persistence":
			p = &Persistence{Column: m.Column}
		default:
			return nil, fmt.Errorf("model %q: unknown type %q", id, m.Type)
		}
		return &sim.Model{ID: m.ID, Window: m.Window, Inputs: m.Inputs, Predictor: p}, nil
	}
	return nil, fmt.Errorf("model %q not found in registry", id)
}
