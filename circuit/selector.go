package circuit

import (
	"math/rand"
	"sync"

	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

// Selector picks the circuit of the next job.
type Selector struct {
	store *Store

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSelector(store *Store, rng *rand.Rand) *Selector {
	return &Selector{store: store, rng: rng}
}

// Choose returns the circuit of a pending queued job, or a benchmark circuit if there is none.
func (s *Selector) Choose(job *shared.QueuedJob) (*shared.Circuit, error) {
	if job != nil && job.Circuit != nil {
		return job.Circuit, nil
	}
	return s.Benchmark()
}

// Benchmark draws a circuit with probability proportional to its benchmark weight.
// Zero weights are never drawn unless every weight is zero, then the draw is uniform.
// Sliced circuits are run through slice jobs and never benchmarked directly.
func (s *Selector) Benchmark() (*shared.Circuit, error) {
	var candidates []*shared.Circuit
	total := 0.0
	for _, c := range s.store.All() {
		if c.Kind == shared.KindSliced {
			continue
		}
		candidates = append(candidates, c)
		total += c.BenchmarkWeight
	}
	if len(candidates) == 0 {
		return nil, types.ErrNoCircuits
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if total <= 0 {
		return candidates[s.rng.Intn(len(candidates))], nil
	}
	r := s.rng.Float64() * total
	var last *shared.Circuit
	for _, c := range candidates {
		if c.BenchmarkWeight <= 0 {
			continue
		}
		last = c
		r -= c.BenchmarkWeight
		if r < 0 {
			return c, nil
		}
	}
	return last, nil
}

// Inputs synthesizes benchmark inputs using the selector's random source.
func (s *Selector) Inputs(c *shared.Circuit) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return GenerateInputs(c, s.rng)
}
