package circuit

import (
	"encoding/json"
	"math/rand"

	"github.com/proofmesh/proofmesh/shared"
)

// BenchmarkInput is the synthetic input of a benchmark job.
type BenchmarkInput struct {
	InputData [][]float64 `json:"input_data"`
}

// GenerateInputs synthesizes a random benchmark input shaped after the circuit.
func GenerateInputs(c *shared.Circuit, rng *rand.Rand) (json.RawMessage, error) {
	rows := c.InputRows
	if rows <= 0 {
		rows = 1
	}
	width := c.InputWidth
	if width <= 0 {
		width = defaultInputWidth
	}
	in := BenchmarkInput{InputData: make([][]float64, rows)}
	for i := range in.InputData {
		row := make([]float64, width)
		for j := range row {
			row[j] = rng.Float64()
		}
		in.InputData[i] = row
	}
	return json.Marshal(in)
}
