package proofsys_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proofmesh/proofmesh/circuit"
	"github.com/proofmesh/proofmesh/proofsys"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

func TestDigestProveVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := &shared.Circuit{ID: "model"}
	p := proofsys.NewDigest()

	proof, err := p.Prove(ctx, types.ProveJob{Circuit: c, Inputs: json.RawMessage(`{"b":2,"a":1}`)})
	require.NoError(t, err)

	ok, err := p.Verify(ctx, types.VerifyJob{
		Circuit:       c,
		Artifact:      proof.Artifact,
		Inputs:        json.RawMessage(`{"a":1,"b":2}`),
		PublicSignals: proof.PublicSignals,
	})
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("other inputs", func(t *testing.T) {
		ok, err := p.Verify(ctx, types.VerifyJob{Circuit: c, Artifact: proof.Artifact, Inputs: json.RawMessage(`{"a":2}`)})
		require.NoError(t, err)
		require.False(t, ok)
	})
	t.Run("other circuit", func(t *testing.T) {
		ok, err := p.Verify(ctx, types.VerifyJob{
			Circuit:  &shared.Circuit{ID: "other"},
			Artifact: proof.Artifact,
			Inputs:   json.RawMessage(`{"a":1,"b":2}`),
		})
		require.NoError(t, err)
		require.False(t, ok)
	})
	t.Run("tampered signals", func(t *testing.T) {
		ok, err := p.Verify(ctx, types.VerifyJob{
			Circuit:       c,
			Artifact:      proof.Artifact,
			Inputs:        json.RawMessage(`{"a":1,"b":2}`),
			PublicSignals: json.RawMessage(`["00"]`),
		})
		require.NoError(t, err)
		require.False(t, ok)
	})
	t.Run("garbage artifact", func(t *testing.T) {
		ok, err := p.Verify(ctx, types.VerifyJob{Circuit: c, Artifact: json.RawMessage(`nope`), Inputs: json.RawMessage(`{}`)})
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestDigestDelayHonorsContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := proofsys.NewDigest(proofsys.WithDelay(time.Hour))
	_, err := p.Prove(ctx, types.ProveJob{Circuit: &shared.Circuit{ID: "model"}, Inputs: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSlicer(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	input := filepath.Join(dir, "input.json")
	require.NoError(t, os.WriteFile(input, []byte(`{"input_data":[[2,4]]}`), 0o600))

	c := &shared.Circuit{ID: "sliced", Kind: shared.KindSliced, Slices: 3}
	files, err := proofsys.Slicer{}.Decompose(context.Background(), c, input, dir)
	require.NoError(t, err)
	require.Len(t, files, 3)

	for i, f := range files {
		require.Equal(t, i, f.Index)
		require.FileExists(t, f.InputPath)
		require.FileExists(t, f.OutputPath)
		if i > 0 {
			prevOut, err := os.ReadFile(files[i-1].OutputPath)
			require.NoError(t, err)
			in, err := os.ReadFile(f.InputPath)
			require.NoError(t, err)
			require.JSONEq(t, string(prevOut), string(in))
		}
	}

	out, err := os.ReadFile(files[0].OutputPath)
	require.NoError(t, err)
	var decoded circuit.BenchmarkInput
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, [][]float64{{2, 3}}, decoded.InputData)

	t.Run("slices verify with the digest system", func(t *testing.T) {
		p := proofsys.NewDigest()
		in, err := os.ReadFile(files[1].InputPath)
		require.NoError(t, err)
		out, err := os.ReadFile(files[1].OutputPath)
		require.NoError(t, err)
		proof, err := p.Prove(context.Background(), types.ProveJob{Circuit: c, Inputs: in, Outputs: out})
		require.NoError(t, err)
		ok, err := p.Verify(context.Background(), types.VerifyJob{Circuit: c, Artifact: proof.Artifact, Inputs: in, Outputs: out})
		require.NoError(t, err)
		require.True(t, ok)
	})
}
