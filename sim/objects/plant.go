package objects

import (
	"fmt"

	"github.com/plant-twin/twinsim/sim/defn"
)

// MixingPlant returns a definition of n independent mixers named Mixer100,
// Mixer200, and so on, plus a chained mixer fed by the outlets of the first
// two when n >= 2.
func MixingPlant(n int) (*defn.SimulationDefn, error) {
	if n < 1 {
		return nil, fmt.Errorf("mixing plant needs at least one mixer, got %d", n)
	}
	objects := make([]defn.NamedObject, 0, n+1)
	for i := 1; i <= n; i++ {
		objects = append(objects, defn.NamedObject{
			Name: fmt.Sprintf("Mixer%d00", i),
			Defn: NewMixerDefn(MixerParams{Noise: DefaultNoise}),
		})
	}
	if n >= 2 {
		chained, err := NewChainedMixerDefn(MixerParams{Noise: DefaultNoise}, map[string]string{
			ExternalInlet1: "Mixer100.Outlet.Position",
			ExternalInlet2: "Mixer200.Outlet.Position",
		})
		if err != nil {
			return nil, err
		}
		objects = append(objects, defn.NamedObject{Name: "Downstream", Defn: chained})
	}
	return defn.New(objects...)
}
