package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical configuration
// MUST produce identical object ids, sampling decisions and metric rows.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemIDs feeds the random component of object identities.
	SubsystemIDs = "ids"

	// SubsystemMetrics drives metric sampling decisions.
	SubsystemMetrics = "metrics"

	// SubsystemDomain is the default stream for domain code (population builders,
	// stochastic behavior inside Simulate).
	SubsystemDomain = "domain"
)

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula: each subsystem is a PCG source seeded with
// (masterSeed XOR fnv1a64(name), fnv1a64(name)).
//
// Unlike math/rand sources, PCG state can be captured with MarshalBinary, which is
// how snapshots make a resumed run continue the same random sequence.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	sources    map[string]*rand.PCG
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		sources:    make(map[string]*rand.PCG),
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	src := p.newSource(name)
	rng := rand.New(src)
	p.sources[name] = src
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// Subsystems returns the names of every subsystem drawn from so far, sorted.
func (p *PartitionedRNG) Subsystems() []string {
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State captures the generator state of every subsystem created so far.
func (p *PartitionedRNG) State() (map[string][]byte, error) {
	out := make(map[string][]byte, len(p.sources))
	for name, src := range p.sources {
		b, err := src.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal rng subsystem %q: %w", name, err)
		}
		out[name] = b
	}
	return out, nil
}

// Restore replaces the state of the named subsystems. Subsystems absent from states
// keep (or will get) their freshly derived seed. Cached *rand.Rand handles stay valid.
func (p *PartitionedRNG) Restore(states map[string][]byte) error {
	for name, b := range states {
		src, ok := p.sources[name]
		if !ok {
			src = p.newSource(name)
			p.sources[name] = src
			p.subsystems[name] = rand.New(src)
		}
		if err := src.UnmarshalBinary(b); err != nil {
			return fmt.Errorf("restore rng subsystem %q: %w", name, err)
		}
	}
	return nil
}

func (p *PartitionedRNG) newSource(name string) *rand.PCG {
	h := fnv1a64(name)
	return rand.NewPCG(uint64(int64(p.key)^h), uint64(h))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
