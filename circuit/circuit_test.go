package circuit_test

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

const registry = `
[[circuit]]
id = "a"
name = "model_a"
proof_system = "circom"
timeout_seconds = 12.5
benchmark_weight = 3
compute_units = 40
input_width = 4

[[circuit]]
id = "b"
kind = "proof_of_weights"
benchmark_weight = 1

[[circuit]]
id = "s"
kind = "sliced"
slices = 3
`

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "circuits.toml")
	require.NoError(t, os.WriteFile(path, []byte(registry), 0o600))

	store, err := circuit.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 3, store.Len())

	a, err := store.Get("a")
	require.NoError(t, err)
	require.Equal(t, 12500*time.Millisecond, a.Timeout)
	require.Equal(t, shared.KindProofOfComputation, a.Kind)
	require.Equal(t, 4, a.InputWidth)

	b, err := store.Get("b")
	require.NoError(t, err)
	require.Equal(t, circuit.DefaultTimeout, b.Timeout)
	require.Equal(t, "b", b.Name)

	require.Len(t, store.OfKind(shared.KindSliced), 1)
	require.Equal(t, map[string]int{"a": 40, "b": 0, "s": 0}, store.Capacities())

	_, err = store.Get("missing")
	require.ErrorIs(t, err, types.ErrCircuitNotFound)
}

func TestParseRejectsInvalidRegistries(t *testing.T) {
	t.Parallel()
	for name, doc := range map[string]string{
		"missing id":      "[[circuit]]\nname = \"x\"\n",
		"duplicate":       "[[circuit]]\nid = \"x\"\n[[circuit]]\nid = \"x\"\n",
		"unknown kind":    "[[circuit]]\nid = \"x\"\nkind = \"quantum\"\n",
		"negative weight": "[[circuit]]\nid = \"x\"\nbenchmark_weight = -1\n",
		"sliced no count": "[[circuit]]\nid = \"x\"\nkind = \"sliced\"\n",
		"unknown field":   "[[circuit]]\nid = \"x\"\ncolour = \"red\"\n",
	} {
		doc := doc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := circuit.Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestSelectorWeights(t *testing.T) {
	t.Parallel()
	a := &shared.Circuit{ID: "A", BenchmarkWeight: 3}
	b := &shared.Circuit{ID: "B", BenchmarkWeight: 1}
	store, err := circuit.NewStore(a, b)
	require.NoError(t, err)
	sel := circuit.NewSelector(store, rand.New(rand.NewSource(42)))

	counts := map[string]int{}
	for i := 0; i < 10000; i++ {
		c, err := sel.Benchmark()
		require.NoError(t, err)
		counts[c.ID]++
	}
	ratio := float64(counts["A"]) / float64(counts["B"])
	require.InDelta(t, 3.0, ratio, 0.3)
}

func TestSelectorZeroWeights(t *testing.T) {
	t.Parallel()
	t.Run("zero weight never chosen", func(t *testing.T) {
		t.Parallel()
		store, err := circuit.NewStore(
			&shared.Circuit{ID: "zero"},
			&shared.Circuit{ID: "one", BenchmarkWeight: 1},
		)
		require.NoError(t, err)
		sel := circuit.NewSelector(store, rand.New(rand.NewSource(1)))
		for i := 0; i < 1000; i++ {
			c, err := sel.Benchmark()
			require.NoError(t, err)
			require.Equal(t, "one", c.ID)
		}
	})
	t.Run("all zero is uniform", func(t *testing.T) {
		t.Parallel()
		store, err := circuit.NewStore(&shared.Circuit{ID: "x"}, &shared.Circuit{ID: "y"})
		require.NoError(t, err)
		sel := circuit.NewSelector(store, rand.New(rand.NewSource(1)))
		seen := map[string]int{}
		for i := 0; i < 1000; i++ {
			c, err := sel.Benchmark()
			require.NoError(t, err)
			seen[c.ID]++
		}
		require.InDelta(t, 500, seen["x"], 100)
		require.InDelta(t, 500, seen["y"], 100)
	})
	t.Run("empty store", func(t *testing.T) {
		t.Parallel()
		store, err := circuit.NewStore(&shared.Circuit{ID: "s", Kind: shared.KindSliced, Slices: 2})
		require.NoError(t, err)
		_, err = circuit.NewSelector(store, rand.New(rand.NewSource(1))).Benchmark()
		require.ErrorIs(t, err, types.ErrNoCircuits)
	})
}

func TestQueuedJobTakesPriority(t *testing.T) {
	t.Parallel()
	store, err := circuit.NewStore(&shared.Circuit{ID: "bench", BenchmarkWeight: 1})
	require.NoError(t, err)
	sel := circuit.NewSelector(store, rand.New(rand.NewSource(1)))

	queued := &shared.Circuit{ID: "real"}
	c, err := sel.Choose(&shared.QueuedJob{Circuit: queued})
	require.NoError(t, err)
	require.Same(t, queued, c)

	c, err = sel.Choose(nil)
	require.NoError(t, err)
	require.Equal(t, "bench", c.ID)
}

func TestGenerateInputs(t *testing.T) {
	t.Parallel()
	raw, err := circuit.GenerateInputs(&shared.Circuit{InputRows: 2, InputWidth: 3}, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	var in circuit.BenchmarkInput
	require.NoError(t, json.Unmarshal(raw, &in))
	require.Len(t, in.InputData, 2)
	require.Len(t, in.InputData[0], 3)
}
