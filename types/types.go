package types

import (
	"context"
	"encoding/json"
	"time"

	"github.com/proofmesh/proofmesh/shared"
)

//go:generate mockgen -package mocks -destination mocks/ledger.go . Ledger

// Ledger is the view of the distributed ledger the network relies on.
// Stake and permit facts are read from the members of a Snapshot.
type Ledger interface {
	CurrentBlock(ctx context.Context) (uint64, error)
	// BlockHash is the randomness beacon of the given height.
	BlockHash(ctx context.Context, height uint64) ([]byte, error)
	Snapshot(ctx context.Context) (*shared.Snapshot, error)
	// ReadCommitment returns ErrCommitmentAbsent if nothing was committed under key.
	ReadCommitment(ctx context.Context, identity, key string) ([]byte, error)
	WriteCommitment(ctx context.Context, identity, key string, value []byte) error
}

// ProveJob is one proving task handed to a proof system.
type ProveJob struct {
	Circuit *shared.Circuit
	Inputs  json.RawMessage
	// Outputs and Slice are set for slice jobs only.
	Outputs json.RawMessage
	Slice   *shared.SliceRef
}

type Proof struct {
	Artifact      json.RawMessage
	PublicSignals json.RawMessage
	Duration      time.Duration
}

// VerifyJob checks an artifact against the inputs known to the verifier.
type VerifyJob struct {
	Circuit       *shared.Circuit
	Artifact      json.RawMessage
	Inputs        json.RawMessage
	Outputs       json.RawMessage
	PublicSignals json.RawMessage
}

//go:generate mockgen -package mocks -destination mocks/proof_system.go . ProofSystem

type ProofSystem interface {
	Prove(ctx context.Context, job ProveJob) (*Proof, error)
	Verify(ctx context.Context, job VerifyJob) (bool, error)
}

// SliceFiles are the working files of one slice produced by a Slicer.
type SliceFiles struct {
	Index      int
	InputPath  string
	OutputPath string
}

//go:generate mockgen -package mocks -destination mocks/slicer.go . Slicer

// Slicer decomposes one benchmark input of a circuit into slices written below runDir.
type Slicer interface {
	Decompose(ctx context.Context, circuit *shared.Circuit, inputPath, runDir string) ([]SliceFiles, error)
}
