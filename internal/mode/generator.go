package mode

import (
	"math/rand/v2"

	"github.com/affectd/affectd/pkg/emotion"
)

// spikePeriod controls how often the generator emits a single-label spike
// instead of a diffuse random vector. Spikes make mode switches and conflict
// displays easy to eyeball in a frontend.
const spikePeriod = 4

// spikeMass is the probability mass placed on the spiked label; the
// remainder is spread evenly over the other labels.
const spikeMass = 0.85

// Generator produces synthetic emotion vectors for demo and development use.
// Every vector is a valid probability distribution over the canonical label
// set. Not safe for concurrent use; the owning [Controller] serialises
// access.
type Generator struct {
	rng   *rand.Rand
	ticks int
}

// NewGenerator creates a Generator seeded from seed, so test runs are
// reproducible.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns the next synthetic vector: mostly diffuse random
// distributions, with a single-label spike every few calls.
func (g *Generator) Next() emotion.Vector {
	g.ticks++
	if g.ticks%spikePeriod == 0 {
		return g.spike()
	}
	return g.diffuse()
}

// diffuse draws one uniform sample per label and normalizes the result.
func (g *Generator) diffuse() emotion.Vector {
	var v emotion.Vector
	sum := 0.0
	for i := range v {
		// Offset keeps every entry strictly positive so normalization
		// cannot divide by zero.
		v[i] = 0.05 + g.rng.Float64()
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}

// spike places most of the mass on one randomly chosen label.
func (g *Generator) spike() emotion.Vector {
	var v emotion.Vector
	idx := g.rng.IntN(emotion.NumLabels)
	rest := (1 - spikeMass) / float64(emotion.NumLabels-1)
	for i := range v {
		v[i] = rest
	}
	v[idx] = spikeMass
	return v
}
