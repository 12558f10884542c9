package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

// CompetitionKey is the ledger commitment key of a worker's competition circuit.
const CompetitionKey = "competition"

const competitionOnlyMessage = "Competition only mode enabled"

// emptyInput reports whether a JSON value carries no data.
func emptyInput(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	return false
}

func (s *Server) handleQuery(ctx context.Context, body []byte) (reply, error) {
	if s.cfg.CompetitionOnly {
		return reject(http.StatusUnprocessableEntity, competitionOnlyMessage), nil
	}
	var q shared.QueryProof
	if err := json.Unmarshal(body, &q); err != nil {
		return reject(http.StatusUnprocessableEntity, "Malformed request"), nil
	}
	if emptyInput(q.QueryInput) {
		return reject(http.StatusUnprocessableEntity, "Empty query input"), nil
	}
	c, err := s.circuits.Get(q.ModelID)
	if errors.Is(err, types.ErrCircuitNotFound) {
		return reject(http.StatusUnprocessableEntity, fmt.Sprintf("'%s' Circuit not found", q.ModelID)), nil
	}
	if err != nil {
		return reply{}, err
	}

	started := time.Now()
	proof, err := s.prove(ctx, types.ProveJob{Circuit: c, Inputs: q.QueryInput})
	if err != nil {
		return reply{}, fmt.Errorf("proving %s: %w", c.ID, err)
	}
	s.logTiming(ctx, c, started, proof.Duration)
	return ok(shared.ProofResult{Proof: proof.Artifact, PublicSignals: proof.PublicSignals}), nil
}

func (s *Server) handleProofOfWeights(ctx context.Context, body []byte) (reply, error) {
	if s.cfg.CompetitionOnly {
		return reject(http.StatusUnprocessableEntity, competitionOnlyMessage), nil
	}
	var q shared.ProofOfWeights
	if err := json.Unmarshal(body, &q); err != nil {
		return reject(http.StatusUnprocessableEntity, "Malformed request"), nil
	}
	if emptyInput(q.Inputs) {
		return reject(http.StatusUnprocessableEntity, "Empty input for proof of weights"), nil
	}
	c, err := s.circuits.Get(q.VerificationKeyHash)
	if errors.Is(err, types.ErrCircuitNotFound) {
		return reject(http.StatusUnprocessableEntity, "Circuit not found"), nil
	}
	if err != nil {
		return reply{}, err
	}

	started := time.Now()
	proof, err := s.prove(ctx, types.ProveJob{Circuit: c, Inputs: q.Inputs})
	if err != nil {
		return reply{}, fmt.Errorf("proving %s: %w", c.ID, err)
	}
	s.logTiming(ctx, c, started, proof.Duration)
	return ok(shared.ProofResult{Inputs: q.Inputs, Proof: proof.Artifact, PublicSignals: proof.PublicSignals}), nil
}

// handleSlice answers with a result document even when proving fails, so the validator can record the slice.
func (s *Server) handleSlice(ctx context.Context, body []byte) (reply, error) {
	if s.cfg.CompetitionOnly {
		return reject(http.StatusUnprocessableEntity, competitionOnlyMessage), nil
	}
	var q shared.SliceProof
	if err := json.Unmarshal(body, &q); err != nil {
		return reject(http.StatusUnprocessableEntity, "Malformed request"), nil
	}
	index, err := strconv.Atoi(q.SliceNum)
	if err != nil || emptyInput(q.Inputs) {
		return reject(http.StatusUnprocessableEntity, "Invalid slice request"), nil
	}
	result := shared.SliceProofResult{CircuitID: q.Circuit, SliceNum: q.SliceNum}
	c, err := s.circuits.Get(q.Circuit)
	if err != nil {
		result.Error = err.Error()
		return ok(result), nil
	}

	logging.FromContext(ctx).Info("proving slice", zap.String("run", q.RunUID), zap.Int("slice", index))
	proof, err := s.prove(ctx, types.ProveJob{
		Circuit: c,
		Inputs:  q.Inputs,
		Outputs: q.Outputs,
		Slice:   &shared.SliceRef{RunID: q.RunUID, Index: index},
	})
	if err != nil {
		logging.FromContext(ctx).Warn("slice proof failed", zap.Error(err))
		result.Error = err.Error()
		return ok(result), nil
	}
	result.Success = true
	result.Proof = proof.Artifact
	result.ProofGenerationTime = proof.Duration.Seconds()
	return ok(result), nil
}

func (s *Server) handleCapacities(context.Context, []byte) (reply, error) {
	return ok(shared.CapacityQuery{Capacities: s.circuits.Capacities()}), nil
}

// handleCompetition reports the local competition commitment if it matches the one on the ledger.
func (s *Server) handleCompetition(ctx context.Context, body []byte) (reply, error) {
	var q shared.CompetitionQuery
	if err := json.Unmarshal(body, &q); err != nil {
		return reject(http.StatusUnprocessableEntity, "Malformed request"), nil
	}
	res := shared.CompetitionQuery{ID: q.ID, Hash: q.Hash, FileName: q.FileName}
	unavailable := func(msg string) (reply, error) {
		res.Error = msg
		return reply{status: http.StatusServiceUnavailable, body: res}, nil
	}

	local, err := s.localCommitment()
	if err != nil {
		logging.FromContext(ctx).Error("reading local commitment", zap.Error(err))
	}
	if len(local) == 0 {
		return unavailable("No valid circuit commitment available")
	}
	onChain, err := s.ledger.ReadCommitment(ctx, s.identity, CompetitionKey)
	switch {
	case errors.Is(err, types.ErrCommitmentAbsent):
	case err != nil:
		return reply{}, fmt.Errorf("reading ledger commitment: %w", err)
	}
	if !bytes.Equal(local, onChain) {
		logging.FromContext(ctx).Error("commitment mismatch", zap.ByteString("local", local), zap.ByteString("ledger", onChain))
		return unavailable("Hash mismatch between local and chain commitment")
	}

	commitment, err := json.Marshal(map[string]string{"vk_hash": string(local)})
	if err != nil {
		return reply{}, err
	}
	res.Commitment = string(commitment)
	return ok(res), nil
}

func (s *Server) localCommitment() ([]byte, error) {
	if s.cfg.CommitmentFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.cfg.CommitmentFile) //#nosec G304
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(data), nil
}

func (s *Server) logTiming(ctx context.Context, c *shared.Circuit, started time.Time, proofTime time.Duration) {
	total := time.Since(started)
	logger := logging.FromContext(ctx)
	logger.Info("proof completed",
		zap.String("circuit", c.ID),
		zap.Duration("total", total),
		zap.Duration("proof", proofTime),
		zap.Duration("overhead", total-proofTime),
	)
	if total > c.Timeout {
		logger.Warn("response time exceeds circuit timeout, hardware is not keeping up",
			zap.String("circuit", c.ID),
			zap.Duration("timeout", c.Timeout),
		)
	}
}
