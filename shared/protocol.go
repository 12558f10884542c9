package shared

import (
	"encoding/json"
)

// Route names served by workers. One route per message kind.
const (
	RouteQueryProof     = "query-zk-proof"
	RouteProofOfWeights = "proof-of-weights"
	RouteSliceProof     = "dsperse-proof-generation"
	RouteCapacities     = "capacities"
	RouteCompetition    = "competition"
)

// Routes lists every route in a stable order.
var Routes = []string{
	RouteQueryProof,
	RouteProofOfWeights,
	RouteSliceProof,
	RouteCapacities,
	RouteCompetition,
}

// RouteFor returns the route a job of the given type on the given circuit is sent to.
func RouteFor(t JobType, c *Circuit) string {
	switch {
	case t == JobSlice || c.Kind == KindSliced:
		return RouteSliceProof
	case c.Kind == KindProofOfWeights:
		return RouteProofOfWeights
	default:
		return RouteQueryProof
	}
}

// QueryProof asks a worker to prove a circuit over the given input.
type QueryProof struct {
	ModelID     string          `json:"model_id"`
	QueryInput  json.RawMessage `json:"query_input"`
	QueryOutput string          `json:"query_output"`
	// RequestType tells the worker whether inputs are to be used verbatim.
	RequestType string `json:"request_type,omitempty"`
}

// ProofOfWeights asks a worker to prove a weights circuit.
type ProofOfWeights struct {
	SubnetUID           uint16          `json:"subnet_uid"`
	VerificationKeyHash string          `json:"verification_key_hash"`
	ProofSystem         string          `json:"proof_system"`
	Inputs              json.RawMessage `json:"inputs"`
	Proof               string          `json:"proof"`
	PublicSignals       string          `json:"public_signals"`
	RequestType         string          `json:"request_type,omitempty"`
}

// SliceProof asks a worker to prove one slice of a run.
type SliceProof struct {
	Circuit  string          `json:"circuit"`
	Inputs   json.RawMessage `json:"inputs"`
	Outputs  json.RawMessage `json:"outputs"`
	SliceNum string          `json:"slice_num"`
	RunUID   string          `json:"run_uid"`
}

// SliceProofResult is a worker's answer to SliceProof.
type SliceProofResult struct {
	CircuitID           string          `json:"circuit_id"`
	SliceNum            string          `json:"slice_num"`
	Success             bool            `json:"success"`
	ProofGenerationTime float64         `json:"proof_generation_time"`
	Proof               json.RawMessage `json:"proof,omitempty"`
	Error               string          `json:"error,omitempty"`
}

// ProofResult is a worker's answer to QueryProof and ProofOfWeights.
type ProofResult struct {
	Inputs        json.RawMessage `json:"inputs,omitempty"`
	Proof         json.RawMessage `json:"proof"`
	PublicSignals json.RawMessage `json:"public_signals"`
}

// CapacityQuery asks a worker for the compute units it grants to each circuit.
type CapacityQuery struct {
	Capacities map[string]int `json:"capacities"`
}

// CompetitionQuery asks a worker about its competition circuit.
type CompetitionQuery struct {
	ID          int    `json:"id"`
	Hash        string `json:"hash"`
	FileName    string `json:"file_name"`
	FileContent string `json:"file_content,omitempty"`
	Commitment  string `json:"commitment,omitempty"`
	Error       string `json:"error,omitempty"`
}
