// Package proofsys holds the development proof system and slicer used by devnets and tests.
// Artifacts are hash commitments over the job, which lets a network run end to end
// without an external proving backend.
package proofsys

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/tidwall/gjson"

	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

var ErrMissingCircuit = errors.New("job has no circuit")

type artifact struct {
	Commitment string `json:"commitment"`
	Circuit    string `json:"circuit"`
}

// Digest proves a job by committing to its circuit, inputs and outputs.
type Digest struct {
	delay time.Duration
}

type newDigestOptionFunc func(*Digest)

// WithDelay simulates proving work.
func WithDelay(d time.Duration) newDigestOptionFunc {
	return func(p *Digest) {
		p.delay = d
	}
}

func NewDigest(opts ...newDigestOptionFunc) *Digest {
	p := &Digest{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ types.ProofSystem = (*Digest)(nil)

func (p *Digest) Prove(ctx context.Context, job types.ProveJob) (*types.Proof, error) {
	started := time.Now()
	if job.Circuit == nil {
		return nil, ErrMissingCircuit
	}
	commitment, err := commit(job.Circuit.ID, job.Inputs, job.Outputs)
	if err != nil {
		return nil, err
	}
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	a, err := json.Marshal(artifact{Commitment: commitment, Circuit: job.Circuit.ID})
	if err != nil {
		return nil, err
	}
	signals, err := json.Marshal([]string{commitment})
	if err != nil {
		return nil, err
	}
	return &types.Proof{Artifact: a, PublicSignals: signals, Duration: time.Since(started)}, nil
}

// Verify recomputes the commitment from the verifier's own view of the job.
// When public signals are supplied, the first one must carry the same commitment.
func (p *Digest) Verify(_ context.Context, job types.VerifyJob) (bool, error) {
	if job.Circuit == nil {
		return false, ErrMissingCircuit
	}
	expected, err := commit(job.Circuit.ID, job.Inputs, job.Outputs)
	if err != nil {
		return false, err
	}
	if !gjson.ValidBytes(job.Artifact) {
		return false, nil
	}
	if gjson.GetBytes(job.Artifact, "commitment").String() != expected {
		return false, nil
	}
	if len(job.PublicSignals) > 0 && gjson.GetBytes(job.PublicSignals, "0").String() != expected {
		return false, nil
	}
	return true, nil
}

func commit(circuitID string, inputs, outputs json.RawMessage) (string, error) {
	hasher := sha256.New()
	hasher.Write([]byte(circuitID))
	for _, part := range []json.RawMessage{inputs, outputs} {
		hasher.Write([]byte{0})
		if len(part) == 0 {
			continue
		}
		canonical, err := shared.CanonicalJSON(part)
		if err != nil {
			return "", fmt.Errorf("canonicalizing job: %w", err)
		}
		hasher.Write(canonical)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
