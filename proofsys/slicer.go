package proofsys

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

// Slicer decomposes a benchmark input into a chain of stages.
// Each stage feeds its output to the next one, like the layers of a model.
type Slicer struct{}

var _ types.Slicer = Slicer{}

func (Slicer) Decompose(ctx context.Context, c *shared.Circuit, inputPath, runDir string) ([]types.SliceFiles, error) {
	data, err := os.ReadFile(inputPath) //#nosec G304
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	var current circuit.BenchmarkInput
	if err := json.Unmarshal(data, &current); err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}
	n := c.Slices
	if n < 1 {
		n = 1
	}

	files := make([]types.SliceFiles, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := stage(current, i)
		dir := filepath.Join(runDir, fmt.Sprintf("slice_%d", i))
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating slice dir: %w", err)
		}
		f := types.SliceFiles{
			Index:      i,
			InputPath:  filepath.Join(dir, "input.json"),
			OutputPath: filepath.Join(dir, "output.json"),
		}
		if err := writeJSON(f.InputPath, current); err != nil {
			return nil, err
		}
		if err := writeJSON(f.OutputPath, next); err != nil {
			return nil, err
		}
		files = append(files, f)
		current = next
	}
	return files, nil
}

func stage(in circuit.BenchmarkInput, index int) circuit.BenchmarkInput {
	out := circuit.BenchmarkInput{InputData: make([][]float64, len(in.InputData))}
	for r, row := range in.InputData {
		next := make([]float64, len(row))
		for j, v := range row {
			next[j] = v*0.5 + float64(index+1)
		}
		out.InputData[r] = next
	}
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
