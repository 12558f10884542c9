package shared

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultProofSize is reported when a worker returns no measurable artifact.
const DefaultProofSize = 5000

// MinerResponse is the normalized result of one completed Request.
type MinerResponse struct {
	Worker  WorkerInfo
	Type    JobType
	Circuit *Circuit
	Outcome Outcome
	// Artifact is the proof as returned, normalized to a JSON value.
	Artifact         json.RawMessage
	PublicSignals    json.RawMessage
	ProofSize        int
	ResponseTime     time.Duration
	VerificationTime time.Duration
	OriginHash       string
	GuardHash        string
	Slice            *SliceRef
	// RunDigest is set on the slice response that completed its run.
	RunDigest []byte
	Inputs    json.RawMessage
	Raw       []byte
	Persist   bool
	// Err records why the response did not verify, nil when it did.
	Err error
}

// NewMinerResponse carries the pass-through identifiers of a request into a response.
func NewMinerResponse(req *Request) *MinerResponse {
	return &MinerResponse{
		Worker:       req.Worker,
		Type:         req.Type,
		Circuit:      req.Circuit,
		ResponseTime: req.Latency,
		OriginHash:   req.OriginHash,
		GuardHash:    req.GuardHash,
		Slice:        req.Slice,
		Inputs:       req.Inputs,
		Persist:      req.Persist,
	}
}

func (r *MinerResponse) Verified() bool {
	return r.Outcome == Passed
}

func (r *MinerResponse) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("worker", r.Worker.Identity)
	enc.AddString("type", r.Type.String())
	if r.Circuit != nil {
		enc.AddString("circuit", r.Circuit.ID)
	}
	enc.AddString("outcome", r.Outcome.String())
	enc.AddDuration("response_time", r.ResponseTime)
	enc.AddDuration("verification_time", r.VerificationTime)
	enc.AddInt("proof_size", r.ProofSize)
	if r.Slice != nil {
		enc.AddString("run", r.Slice.RunID)
		enc.AddInt("slice", r.Slice.Index)
	}
	if r.Err != nil {
		enc.AddString("error", r.Err.Error())
	}
	return nil
}
