// Package verifier turns dispatch results into verified miner responses.
package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/dispatcher"
	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/shared"
	"github.com/proofmesh/proofmesh/types"
)

var (
	outcomesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proofmesh",
		Subsystem: "verifier",
		Name:      "outcomes_total",
		Help:      "Number of processed responses by job type and outcome",
	}, []string{"type", "outcome"})

	verifyTimeMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proofmesh",
		Subsystem: "verifier",
		Name:      "verification_duration_seconds",
		Help:      "Time spent verifying proofs",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)

//go:generate mockgen -package mocks -destination mocks/runs.go . RunTracker

// RunTracker verifies slice proofs and detects completed runs.
type RunTracker interface {
	VerifySlice(ctx context.Context, runID string, index int, artifact json.RawMessage) (bool, error)
	CheckCompletion(ctx context.Context, runID string, remove bool) ([]byte, bool, error)
}

type Verifier struct {
	proofs types.ProofSystem
	runs   RunTracker
}

func New(proofs types.ProofSystem, runs RunTracker) *Verifier {
	return &Verifier{proofs: proofs, runs: runs}
}

// Process parses and verifies one dispatch result. It never returns nil.
// A failed dispatch leaves the outcome unset; a response that was parsed but did not verify is Failed.
func (v *Verifier) Process(ctx context.Context, res dispatcher.Result) *shared.MinerResponse {
	resp := shared.NewMinerResponse(res.Request)
	logger := logging.FromContext(ctx).With(zap.Object("request", res.Request))

	if res.Err != nil {
		resp.Err = res.Err
		outcomesMetric.WithLabelValues(resp.Type.String(), resp.Outcome.String()).Inc()
		return resp
	}
	if err := Parse(resp, res.Body); err != nil {
		resp.Err = err
		resp.Outcome = shared.Failed
		outcomesMetric.WithLabelValues(resp.Type.String(), resp.Outcome.String()).Inc()
		logger.Debug("malformed response", zap.Error(err))
		return resp
	}

	started := time.Now()
	var err error
	if resp.Slice != nil {
		err = v.verifySlice(ctx, resp)
	} else {
		err = v.verify(ctx, resp)
	}
	resp.VerificationTime = time.Since(started)
	verifyTimeMetric.Observe(resp.VerificationTime.Seconds())

	resp.Err = err
	resp.Outcome = shared.OutcomeOf(err == nil)
	outcomesMetric.WithLabelValues(resp.Type.String(), resp.Outcome.String()).Inc()
	if err != nil {
		logger.Debug("response did not verify", zap.Error(err))
	}
	return resp
}

func (v *Verifier) verify(ctx context.Context, resp *shared.MinerResponse) error {
	if len(resp.Artifact) == 0 {
		return types.ErrEmptyProof
	}
	if len(resp.PublicSignals) == 0 {
		return types.ErrMissingPublicSignals
	}
	ok, err := v.proofs.Verify(ctx, types.VerifyJob{
		Circuit:       resp.Circuit,
		Artifact:      resp.Artifact,
		Inputs:        resp.Inputs,
		PublicSignals: resp.PublicSignals,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrVerificationFailed, err)
	}
	if !ok {
		return types.ErrVerificationFailed
	}
	return nil
}

// verifySlice rejects an empty artifact before the run sees it, so the slice can still be retried.
func (v *Verifier) verifySlice(ctx context.Context, resp *shared.MinerResponse) error {
	if len(resp.Artifact) == 0 {
		return types.ErrEmptyProof
	}
	ok, err := v.runs.VerifySlice(ctx, resp.Slice.RunID, resp.Slice.Index, resp.Artifact)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrVerificationFailed
	}
	root, done, err := v.runs.CheckCompletion(ctx, resp.Slice.RunID, true)
	if err != nil {
		logging.FromContext(ctx).Warn("checking run completion", zap.String("run", resp.Slice.RunID), zap.Error(err))
	}
	if done {
		resp.RunDigest = root
	}
	return nil
}
