// Package rng provides seeded uniform streams and the speed distributions
// sampled from them.
package rng

import (
	"fmt"
	"math/rand/v2"
)

// Source draws uniform values in [min, max).
type Source interface {
	Uniform(min, max float64) float64
}

// Stream is a reproducible Source. Its position can be saved and restored.
type Stream struct {
	pcg *rand.PCG
	r   *rand.Rand
}

func NewStream(seed, stream uint64) *Stream {
	pcg := rand.NewPCG(seed, stream)
	return &Stream{pcg: pcg, r: rand.New(pcg)}
}

func (s *Stream) Uniform(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + s.r.Float64()*(max-min)
}

func (s *Stream) MarshalBinary() ([]byte, error) { return s.pcg.MarshalBinary() }

func (s *Stream) UnmarshalBinary(b []byte) error {
	if err := s.pcg.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("rng stream: %w", err)
	}
	return nil
}

// Seeder hands out independent numbered streams for one run seed.
type Seeder struct {
	Seed uint64
}

func (s Seeder) Stream(n int64) *Stream {
	return NewStream(s.Seed, uint64(n))
}
