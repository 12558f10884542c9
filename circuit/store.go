package circuit

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

const (
	DefaultTimeout    = 60 * time.Second
	defaultInputWidth = 8
)

type fileCircuit struct {
	ID              string  `toml:"id"`
	Name            string  `toml:"name"`
	Kind            string  `toml:"kind"`
	ProofSystem     string  `toml:"proof_system"`
	TimeoutSeconds  float64 `toml:"timeout_seconds"`
	BenchmarkWeight float64 `toml:"benchmark_weight"`
	ComputeUnits    int     `toml:"compute_units"`
	InputWidth      int     `toml:"input_width"`
	InputRows       int     `toml:"input_rows"`
	Slices          int     `toml:"slices"`
	NetUID          uint16  `toml:"netuid"`
}

type registryFile struct {
	Circuits []fileCircuit `toml:"circuit"`
}

// Store is the registry of circuits known to a node.
type Store struct {
	mu       sync.RWMutex
	circuits map[string]*shared.Circuit
	order    []string
}

func NewStore(circuits ...*shared.Circuit) (*Store, error) {
	s := &Store{circuits: make(map[string]*shared.Circuit)}
	for _, c := range circuits {
		if err := s.Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadFile reads a TOML registry with one [[circuit]] table per circuit.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("reading circuits file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Store, error) {
	var f registryFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding circuits: %w", err)
	}
	s := &Store{circuits: make(map[string]*shared.Circuit)}
	for _, fc := range f.Circuits {
		c := &shared.Circuit{
			ID:              fc.ID,
			Name:            fc.Name,
			Kind:            shared.CircuitKind(fc.Kind),
			ProofSystem:     fc.ProofSystem,
			Timeout:         time.Duration(fc.TimeoutSeconds * float64(time.Second)),
			BenchmarkWeight: fc.BenchmarkWeight,
			ComputeUnits:    fc.ComputeUnits,
			InputWidth:      fc.InputWidth,
			InputRows:       fc.InputRows,
			Slices:          fc.Slices,
			NetUID:          fc.NetUID,
		}
		if err := s.Add(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add validates a circuit, fills in defaults and registers it.
func (s *Store) Add(c *shared.Circuit) error {
	if c.ID == "" {
		return fmt.Errorf("circuit %q: missing id", c.Name)
	}
	switch c.Kind {
	case "":
		c.Kind = shared.KindProofOfComputation
	case shared.KindProofOfComputation, shared.KindProofOfWeights:
	case shared.KindSliced:
		if c.Slices < 1 {
			return fmt.Errorf("circuit %s: sliced circuit needs at least one slice", c.ID)
		}
	default:
		return fmt.Errorf("circuit %s: unknown kind %q", c.ID, c.Kind)
	}
	if c.BenchmarkWeight < 0 {
		return fmt.Errorf("circuit %s: negative benchmark weight", c.ID)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.InputWidth <= 0 {
		c.InputWidth = defaultInputWidth
	}
	if c.InputRows <= 0 {
		c.InputRows = 1
	}
	if c.Name == "" {
		c.Name = c.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.circuits[c.ID]; ok {
		return fmt.Errorf("circuit %s: registered twice", c.ID)
	}
	s.circuits[c.ID] = c
	s.order = append(s.order, c.ID)
	return nil
}

func (s *Store) Get(id string) (*shared.Circuit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.circuits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCircuitNotFound, id)
	}
	return c, nil
}

// All returns the circuits in registration order.
func (s *Store) All() []*shared.Circuit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*shared.Circuit, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.circuits[id])
	}
	return out
}

func (s *Store) OfKind(kind shared.CircuitKind) []*shared.Circuit {
	var out []*shared.Circuit
	for _, c := range s.All() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Capacities maps circuit ids to the compute units granted to them.
func (s *Store) Capacities() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.circuits))
	for id, c := range s.circuits {
		out[id] = c.ComputeUnits
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.circuits)
}
