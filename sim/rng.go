package sim

import (
	"hash/fnv"
	"math/rand"
)

// NoiseSource hands out one seeded noise stream per simulation object. Two
// simulations built from the same definition with the same seed draw identical
// noise, and adding an object never perturbs the streams of the others.
//
// Not safe for concurrent use; a simulation is built on one goroutine.
type NoiseSource struct {
	seed    int64
	streams map[string]*rand.Rand
}

// NewNoiseSource creates a NoiseSource rooted at seed.
func NewNoiseSource(seed int64) *NoiseSource {
	return &NoiseSource{seed: seed, streams: make(map[string]*rand.Rand)}
}

// ForObject returns the stream for the named object. Repeated calls with the
// same name return the same *rand.Rand.
func (n *NoiseSource) ForObject(name string) *rand.Rand {
	if rng, ok := n.streams[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(streamSeed(n.seed, name)))
	n.streams[name] = rng
	return rng
}

// Seed returns the root seed.
func (n *NoiseSource) Seed() int64 { return n.seed }

// streamSeed derives a stream seed as seed XOR fnv1a64("object/" + name).
func streamSeed(seed int64, name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("object/" + name))
	return seed ^ int64(h.Sum64())
}
