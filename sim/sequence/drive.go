package sequence

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/plant-twin/twinsim/sim"
)

// Local adapts a Simulator stepped on the caller's goroutine to Plant.
type Local struct {
	Sim *sim.Simulator
}

// GetReferences implements Plant.
func (l Local) GetReferences(_ context.Context, names []string) (map[string]float64, error) {
	return l.Sim.GetReferences(names)
}

// SetReferences implements Plant.
func (l Local) SetReferences(_ context.Context, mapping map[string]float64) error {
	return l.Sim.SetReferences(mapping)
}

// RunLocal advances the recipe and steps simulator once per tick, as fast as
// possible. Step errors are logged and do not end the run.
func RunLocal(ctx context.Context, seq *Sequencer, simulator *sim.Simulator, ticks int) ([]Sample, error) {
	plant := Local{Sim: simulator}
	samples := make([]Sample, 0, ticks)
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		sample, err := seq.Advance(ctx, plant)
		if err != nil {
			return samples, err
		}
		samples = append(samples, sample)
		if err := simulator.Step(); err != nil {
			logrus.Warnf("[tick %07d] step: %v", simulator.Tick(), err)
		}
	}
	return samples, nil
}

// Drive advances the recipe against a plant that steps on its own, once per
// interval, until ctx ends or ticks samples were taken (ticks <= 0 runs until
// ctx ends). Each sample is passed to observe when it is non-nil.
func Drive(ctx context.Context, seq *Sequencer, plant Plant, interval time.Duration, ticks int, observe func(Sample)) error {
	if interval <= 0 {
		return fmt.Errorf("drive interval must be positive, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; ticks <= 0 || n < ticks; n++ {
		sample, err := seq.Advance(ctx, plant)
		if err != nil {
			return err
		}
		if observe != nil {
			observe(sample)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// csvHeader names the columns written by WriteCSV.
var csvHeader = []string{"tick", "phase", "level", "temperature", "inlet1", "inlet2", "outlet"}

// WriteCSV writes samples as CSV with a header row.
func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			strconv.FormatInt(s.Tick, 10),
			s.Phase.String(),
			formatValue(s.Level),
			formatValue(s.Temperature),
			formatValue(s.Inlet1),
			formatValue(s.Inlet2),
			formatValue(s.Outlet),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatValue(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
