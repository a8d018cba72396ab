package sim

import (
	"fmt"
	"math/rand/v2"
)

// IDGenerator hands out object identities of the form <role>_<random>_<counter>.
// The counter alone guarantees uniqueness within a run; the random component is
// drawn from the seeded ids subsystem so two runs with the same seed agree.
type IDGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewIDGenerator creates a generator drawing from rng.
func NewIDGenerator(rng *rand.Rand) *IDGenerator {
	return &IDGenerator{rng: rng}
}

// Next returns a fresh id for an object of the given role.
func (g *IDGenerator) Next(role Role) string {
	g.counter++
	return fmt.Sprintf("%s_%09d_%d", role, g.rng.IntN(1_000_000_000), g.counter)
}

// Counter returns how many ids have been issued.
func (g *IDGenerator) Counter() uint64 { return g.counter }

// SetCounter restores the issued-id counter after a snapshot load.
func (g *IDGenerator) SetCounter(n uint64) { g.counter = n }
