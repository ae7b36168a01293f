package datagen

import "math/rand/v2"

// DuplicatePolicy is a Bernoulli trial with a fixed probability. It draws from
// its own random source, independent of the generator, and is not safe for
// concurrent use.
type DuplicatePolicy struct {
	p   float64
	rnd *rand.Rand
}

// NewDuplicatePolicy clamps p to [0, 1]. A nil rnd gets a freshly seeded source.
func NewDuplicatePolicy(p float64, rnd *rand.Rand) *DuplicatePolicy {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &DuplicatePolicy{p: p, rnd: rnd}
}

// Probability returns the configured duplicate probability.
func (d *DuplicatePolicy) Probability() float64 {
	return d.p
}

// ShouldDuplicate reports whether the current sale is delivered twice.
func (d *DuplicatePolicy) ShouldDuplicate() bool {
	return d.rnd.Float64() < d.p
}
