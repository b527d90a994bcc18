// Package predictor provides the model registry and the predictor
// implementations behind the sim.Predictor contract.
//
// Models are described in a YAML registry (see models.yaml for the built-in
// mixer models) and looked up by id. Training lives outside this repository;
// a registry entry only carries what inference needs: window length, input
// count and coefficients.
package predictor

import (
	"fmt"
)

// Linear predicts bias + Σ weights[j]·last[j] + Σ meanWeights[j]·mean[j],
// where last is the newest window row and mean is the column-wise mean of the
// window. Column 0 is the time fraction.
type Linear struct {
	Bias        float64
	Weights     []float64
	MeanWeights []float64
}

// Predict implements sim.Predictor.
func (l *Linear) Predict(window [][]float64) ([]float64, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("linear predictor: empty window")
	}
	width := len(l.Weights)
	last := window[len(window)-1]
	if len(last) != width {
		return nil, fmt.Errorf("linear predictor: row has %d columns, want %d", len(last), width)
	}
	out := l.Bias
	for j, w := range l.Weights {
		out += w * last[j]
	}
	if len(l.MeanWeights) > 0 {
		for j, w := range l.MeanWeights {
			var sum float64
			for _, row := range window {
				if len(row) != width {
					return nil, fmt.Errorf("linear predictor: row has %d columns, want %d", len(row), width)
				}
				sum += row[j]
			}
			out += w * sum / float64(len(window))
		}
	}
	return []float64{out}, nil
}

// Persistence echoes one column of the newest row. It is the baseline
// forecaster: "the next value equals the current one".
type Persistence struct {
	Column int
}

// Predict implements sim.Predictor.
func (p *Persistence) Predict(window [][]float64) ([]float64, error) {
	if len(window) == 0 {
		return nil, fmt.Errorf("persistence predictor: empty window")
	}
	last := window[len(window)-1]
	if p.Column < 0 || p.Column >= len(last) {
		return nil, fmt.Errorf("persistence predictor: column %d out of range for %d columns", p.Column, len(last))
	}
	return []float64{last[p.Column]}, nil
}
