package slice

import (
	"hash/fnv"
	"math/rand"
)

// PartitionedRNG hands out one deterministically seeded *rand.Rand per
// subsystem, so slices draw from independent streams of one master seed.
//
// Derived seed: masterSeed XOR fnv1a64(subsystem).
//
// Not safe for concurrent use; callers take every stream they need up front.
type PartitionedRNG struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a master seed.
func NewPartitionedRNG(seed int64) *PartitionedRNG {
	return &PartitionedRNG{seed: seed, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the cached RNG for name, creating it on first use.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.subsystems[name] = rng
	return rng
}

// Seed returns the master seed.
func (p *PartitionedRNG) Seed() int64 { return p.seed }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// Streams holds the per-slice RNGs of one run. Each stream is only touched by
// the goroutine processing its slice.
type Streams struct {
	bySlice map[string]*rand.Rand
}

// NewStreams derives one stream per slice name from seed.
func NewStreams(seed int64, slices ...string) *Streams {
	p := NewPartitionedRNG(seed)
	s := &Streams{bySlice: make(map[string]*rand.Rand, len(slices))}
	for _, name := range slices {
		s.bySlice[name] = p.ForSubsystem(name)
	}
	return s
}

// For returns the stream of a slice. Unknown slices get a fresh stream seeded
// from the slice name so callers never receive nil.
func (s *Streams) For(slice string) *rand.Rand {
	if rng, ok := s.bySlice[slice]; ok {
		return rng
	}
	return rand.New(rand.NewSource(fnv1a64(slice)))
}
