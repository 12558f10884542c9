package shared

import (
	"encoding/json"
	"time"

	"go.uber.org/zap/zapcore"
)

// JobType tags what a Request carries.
type JobType uint8

const (
	JobBenchmark JobType = iota
	JobRealWorld
	JobSlice
)

func (t JobType) String() string {
	switch t {
	case JobBenchmark:
		return "benchmark"
	case JobRealWorld:
		return "real_world"
	case JobSlice:
		return "slice"
	default:
		return "unknown"
	}
}

// CircuitKind is the class of workload a circuit implements.
type CircuitKind string

const (
	KindProofOfComputation CircuitKind = "proof_of_computation"
	KindProofOfWeights     CircuitKind = "proof_of_weights"
	KindSliced             CircuitKind = "sliced"
)

// Circuit is a registered computational workload.
type Circuit struct {
	ID              string
	Name            string
	Kind            CircuitKind
	ProofSystem     string
	Timeout         time.Duration
	BenchmarkWeight float64
	ComputeUnits    int
	InputWidth      int
	InputRows       int
	Slices          int
	NetUID          uint16
}

func (c *Circuit) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", c.ID)
	enc.AddString("name", c.Name)
	enc.AddString("kind", string(c.Kind))
	enc.AddString("proof_system", c.ProofSystem)
	enc.AddDuration("timeout", c.Timeout)
	enc.AddFloat64("weight", c.BenchmarkWeight)
	return nil
}

// WorkerInfo identifies the network endpoint of a worker.
type WorkerInfo struct {
	UID      uint16
	Address  string
	Identity string
	Owner    string
}

func (w WorkerInfo) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint16("uid", w.UID)
	enc.AddString("address", w.Address)
	enc.AddString("identity", w.Identity)
	return nil
}

// SliceRef locates one slice of a run.
type SliceRef struct {
	RunID string
	Index int
}

// QueuedJob is a real-world or slice job waiting for a worker.
type QueuedJob struct {
	Circuit  *Circuit
	Inputs   json.RawMessage
	Outputs  json.RawMessage
	Type     JobType
	Slice    *SliceRef
	Attempts int
	// Retry marks a job re-enqueued on purpose after a failed dispatch.
	Retry bool
}

// JobResult is what the originator of a real-world job is told.
type JobResult struct {
	Success       bool            `json:"success"`
	Error         string          `json:"error,omitempty"`
	Worker        string          `json:"worker,omitempty"`
	Proof         json.RawMessage `json:"proof,omitempty"`
	PublicSignals json.RawMessage `json:"public_signals,omitempty"`
}

// Hash is the deduplication key of the job.
func (q *QueuedJob) Hash() (string, error) {
	return ContentHash(q.Inputs)
}

// Request is one job dispatched to one worker.
type Request struct {
	Worker  WorkerInfo
	Type    JobType
	Circuit *Circuit
	Route   string
	Payload []byte
	// Inputs are the validator-side inputs the response is verified against.
	Inputs json.RawMessage
	Slice  *SliceRef
	Queued *QueuedJob
	// OriginHash links the request to an external originator, empty for generated jobs.
	OriginHash string
	GuardHash  string
	Persist    bool
	Latency    time.Duration
}

func (r *Request) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("route", r.Route)
	enc.AddString("type", r.Type.String())
	enc.AddString("worker", r.Worker.Identity)
	if r.Circuit != nil {
		enc.AddString("circuit", r.Circuit.ID)
	}
	if r.Slice != nil {
		enc.AddString("run", r.Slice.RunID)
		enc.AddInt("slice", r.Slice.Index)
	}
	if r.GuardHash != "" {
		enc.AddString("hash", r.GuardHash)
	}
	return nil
}

// Outcome is a tri-state verification result.
type Outcome uint8

const (
	Unset Outcome = iota
	Passed
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	default:
		return "unset"
	}
}

// OutcomeOf converts a boolean verdict.
func OutcomeOf(ok bool) Outcome {
	if ok {
		return Passed
	}
	return Failed
}
